package main

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuthHandlers ensures an account can be created, logged in and used.
func TestAuthHandlers(t *testing.T) {
	ta := newTestAPI(t)
	creds := map[string]string{"email": "Jane@Example.com", "password": "s3cret"}

	code, m := ta.doJSON(t, http.MethodPost, "/api/auth/signup", "", creds)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Account created successfully.", m["message"])
	userID, _ := dataOf(t, m)["userId"].(string)
	require.True(t, strings.HasPrefix(userID, UserIDPrefix+":"))

	t.Run("signup twice", func(t *testing.T) {
		code, m := ta.doJSON(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "jane@example.com", "password": "x"})
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, ErrEmailTaken.Error(), m["message"])
	})

	t.Run("signup without password", func(t *testing.T) {
		code, _ := ta.doJSON(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "john@example.com"})
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("login with wrong password", func(t *testing.T) {
		code, m := ta.doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jane@example.com", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.Equal(t, ErrInvalidCredentials.Error(), m["message"])
	})

	t.Run("login with unknown email", func(t *testing.T) {
		code, _ := ta.doJSON(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "s3cret"})
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	code, m = ta.doJSON(t, http.MethodPost, "/api/auth/login", "", creds)
	require.Equal(t, http.StatusOK, code)
	session := dataOf(t, m)
	assert.Equal(t, userID, session["userId"])
	assert.Equal(t, float64(3600), session["expiresIn"])
	token, _ := session["token"].(string)
	require.NotEmpty(t, token)

	t.Run("profile", func(t *testing.T) {
		code, m := ta.doJSON(t, http.MethodGet, "/api/auth/profile", token, nil)
		require.Equal(t, http.StatusOK, code)
		profile := dataOf(t, m)
		assert.Equal(t, userID, profile["userId"])
		assert.Equal(t, "jane@example.com", profile["email"])
		_, hasHash := profile["passwordHash"]
		assert.False(t, hasHash)
	})

	t.Run("profile without token", func(t *testing.T) {
		code, _ := ta.doJSON(t, http.MethodGet, "/api/auth/profile", "", nil)
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("profile image", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, newTestPNG(t, 32, 32), "image/png")
		code, m := ta.do(t, http.MethodPut, "/api/auth/profile", token, body, contentType)
		require.Equal(t, http.StatusOK, code)
		profile := dataOf(t, m)
		ref, _ := profile["profileImage"].(string)
		require.NotEmpty(t, ref)
		assert.Equal(t, "http://localhost:8080/images/"+ref, profile["profileImageUrl"])
	})

	t.Run("profile without image", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, nil, "")
		code, _ := ta.do(t, http.MethodPut, "/api/auth/profile", token, body, contentType)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("created book belongs to the account", func(t *testing.T) {
		code, m := ta.doJSON(t, http.MethodPost, "/api/books", token, BookFields{Title: "Dune", Author: "Herbert"})
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, userID, dataOf(t, m)["userId"])
	})
}
