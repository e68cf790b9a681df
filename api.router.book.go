package main

import (
	"github.com/julienschmidt/httprouter"
)

// SetupBookRoutes injects the book related api endpoints. The best rated
// listing lives under /api/books/bestrating and is dispatched by GetOneBook.
func (api *APIHandler) SetupBookRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.GET("/", m.public(api.Index))
	router.GET("/status", m.public(api.Status))
	router.GET("/images/:name", m.public(api.ServeImage))

	router.GET("/api/books", m.public(api.GetAllBooks))
	router.POST("/api/books", m.public(api.AuthMiddleware(api.CreateBook)))
	router.GET("/api/books/:id", m.public(api.GetOneBook))
	router.PUT("/api/books/:id", m.public(api.AuthMiddleware(api.UpdateBook)))
	router.DELETE("/api/books/:id", m.public(api.AuthMiddleware(api.DeleteOneBook)))
	router.POST("/api/books/:id/rating", m.public(api.AuthMiddleware(api.RateBook)))
	return router
}

// SetupAuthRoutes injects the account related api endpoints.
func (api *APIHandler) SetupAuthRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.POST("/api/auth/signup", m.public(api.Signup))
	router.POST("/api/auth/login", m.public(api.Login))
	router.GET("/api/auth/profile", m.public(api.AuthMiddleware(api.GetProfile)))
	router.PUT("/api/auth/profile", m.public(api.AuthMiddleware(api.UpdateProfile)))
	return router
}
