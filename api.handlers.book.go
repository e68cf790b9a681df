package main

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	// bestRatedPath is served by GetOneBook since the router can't hold a
	// static segment next to the :id wildcard.
	bestRatedPath      = "bestrating"
	maxJSONBodySize    = 1 << 20
	multipartMemory    = 1 << 20
	multipartAllowance = 1 << 20
)

var errMalformedBody = errors.New("request body is malformed")

// BookView is the representation of a book sent to clients.
type BookView struct {
	Book
	ImageURL string `json:"imageUrl,omitempty"`
}

func (api *APIHandler) bookView(b Book) BookView {
	v := BookView{Book: b}
	if b.ImageRef != "" {
		v.ImageURL = api.imageURL(b.ImageRef)
	}
	return v
}

func (api *APIHandler) bookViews(books []Book) []BookView {
	views := make([]BookView, 0, len(books))
	for _, b := range books {
		views = append(views, api.bookView(b))
	}
	return views
}

func (api *APIHandler) imageURL(ref string) string {
	return api.config.Server.PublicURL + "/images/" + ref
}

// uploadRequest is the decoded payload of a create or update call. The
// cleanup must always be called once the request is processed.
type uploadRequest struct {
	fields  BookFields
	image   *ImageUpload
	cleanup func()
}

// DecodeUploadRequest accepts either a json body or a multipart form made of a
// `book` json field (or plain title/author/year/genre fields) and an optional
// `image` file.
func (api *APIHandler) DecodeUploadRequest(w http.ResponseWriter, r *http.Request) (*uploadRequest, error) {
	req := &uploadRequest{cleanup: func() {}}
	mediatype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediatype != "multipart/form-data" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize)).Decode(&req.fields)
		if err != nil && !errors.Is(err, io.EOF) {
			return req, decodeError(err)
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, api.config.Images.MaxUploadSize+multipartAllowance)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return req, decodeError(err)
	}
	form := r.MultipartForm
	req.cleanup = func() {
		if err := form.RemoveAll(); err != nil {
			api.GetLoggerFromContext(r.Context()).Warn("failed to remove multipart files", zap.Error(err))
		}
	}

	if raw := r.FormValue("book"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.fields); err != nil {
			return req, decodeError(err)
		}
	} else {
		req.fields.Title = r.FormValue("title")
		req.fields.Author = r.FormValue("author")
		req.fields.Genre = r.FormValue("genre")
		if year := strings.TrimSpace(r.FormValue("year")); year != "" {
			y, err := strconv.Atoi(year)
			if err != nil {
				return req, &ValidationError{Fields: []error{errors.New("year must be a number")}}
			}
			req.fields.Year = y
		}
	}

	upload, file, err := formImage(r)
	if err != nil {
		return req, err
	}
	if file != nil {
		cleanup := req.cleanup
		req.cleanup = func() {
			file.Close()
			cleanup()
		}
	}
	req.image = upload
	return req, nil
}

// formImage extracts the optional `image` file of a parsed multipart form.
func formImage(r *http.Request) (*ImageUpload, multipart.File, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, decodeError(err)
	}
	return &ImageUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        file,
	}, file, nil
}

// decodeError converts body reading failures into client errors.
func decodeError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return ErrPayloadTooLarge
	}
	return &ValidationError{Fields: []error{errMalformedBody}}
}

// CreateBook godoc
// @Summary      Create a book
// @Tags         books
// @Accept       json,mpfd
// @Produce      json
// @Security     BearerAuth
// @Success      201  {object}  APIResponse
// @Failure      400,401,413,415  {object}  APIError
// @Router       /api/books [post]
func (api *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := api.DecodeUploadRequest(w, r)
	defer req.cleanup()
	if err != nil {
		api.sendError(w, r, err, "failed to create the book")
		return
	}

	userID := GetValueFromContext(r.Context(), ContextUserID)
	book, err := api.bookService.Create(r.Context(), userID, CreateBookInput{Fields: req.fields, Image: req.image})
	if err != nil {
		api.sendError(w, r, err, "failed to create the book", zap.String("user.id", userID))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to create book", zap.String("book.id", book.ID))
	api.sendResponse(w, r, http.StatusCreated, "Book created successfully.", nil, api.bookView(book))
}

// GetAllBooks godoc
// @Summary      List all books
// @Tags         books
// @Produce      json
// @Success      200  {object}  APIResponse
// @Router       /api/books [get]
func (api *APIHandler) GetAllBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	books, err := api.bookService.GetAll(r.Context())
	if err != nil {
		api.sendError(w, r, err, "failed to get all books")
		return
	}
	total := len(books)
	api.sendResponse(w, r, http.StatusOK, "All books fetched successfully.", &total, api.bookViews(books))
}

// GetBestRatedBooks godoc
// @Summary      List the best rated books
// @Tags         books
// @Produce      json
// @Success      200  {object}  APIResponse
// @Router       /api/books/bestrating [get]
func (api *APIHandler) GetBestRatedBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	books, err := api.bookService.GetBestRated(r.Context(), DefaultBestRatedLimit)
	if err != nil {
		api.sendError(w, r, err, "failed to get best rated books")
		return
	}
	total := len(books)
	api.sendResponse(w, r, http.StatusOK, "Best rated books fetched successfully.", &total, api.bookViews(books))
}

// validBookID writes a bad request response when the id is malformed.
func (api *APIHandler) validBookID(w http.ResponseWriter, r *http.Request, id string) bool {
	if api.idsHandler.IsValid(id, BookIDPrefix) {
		return true
	}
	api.GetLoggerFromContext(r.Context()).Info("book id provided is not valid", zap.String("book.id", id))
	requestID := GetValueFromContext(r.Context(), ContextRequestID)
	errResp := NewAPIError(requestID, http.StatusBadRequest, "book id provided is not valid", EmptyData)
	if err := WriteErrorResponse(r.Context(), w, errResp); err != nil {
		api.GetLoggerFromContext(r.Context()).Error("failed to send error response", zap.Error(err))
	}
	return false
}

// GetOneBook godoc
// @Summary      Get a book
// @Tags         books
// @Produce      json
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  APIResponse
// @Failure      400,404  {object}  APIError
// @Router       /api/books/{id} [get]
func (api *APIHandler) GetOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if id == bestRatedPath {
		api.GetBestRatedBooks(w, r, ps)
		return
	}
	if !api.validBookID(w, r, id) {
		return
	}
	book, err := api.bookService.GetOne(r.Context(), id)
	if err != nil {
		api.sendError(w, r, err, "failed to get the book", zap.String("book.id", id))
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Book fetched successfully.", nil, api.bookView(book))
}

// UpdateBook godoc
// @Summary      Update a book owned by the caller
// @Tags         books
// @Accept       json,mpfd
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  APIResponse
// @Failure      400,401,403,404,413,415  {object}  APIError
// @Router       /api/books/{id} [put]
func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !api.validBookID(w, r, id) {
		return
	}
	req, err := api.DecodeUploadRequest(w, r)
	defer req.cleanup()
	if err != nil {
		api.sendError(w, r, err, "failed to update the book", zap.String("book.id", id))
		return
	}

	userID := GetValueFromContext(r.Context(), ContextUserID)
	book, err := api.bookService.Update(r.Context(), id, userID, UpdateBookInput{Fields: req.fields, Image: req.image})
	if err != nil {
		api.sendError(w, r, err, "failed to update the book", zap.String("book.id", id), zap.String("user.id", userID))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to update book", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Book updated successfully.", nil, api.bookView(book))
}

// DeleteOneBook godoc
// @Summary      Delete a book owned by the caller
// @Tags         books
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Book ID"
// @Success      200  {object}  APIResponse
// @Failure      400,401,403,404  {object}  APIError
// @Router       /api/books/{id} [delete]
func (api *APIHandler) DeleteOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !api.validBookID(w, r, id) {
		return
	}
	userID := GetValueFromContext(r.Context(), ContextUserID)
	book, err := api.bookService.Delete(r.Context(), id, userID)
	if err != nil {
		api.sendError(w, r, err, "failed to delete the book", zap.String("book.id", id), zap.String("user.id", userID))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to delete book", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Book deleted successfully.", nil, api.bookView(book))
}

type ratingRequest struct {
	Rating *float64 `json:"rating"`
	Grade  *float64 `json:"grade"`
}

// DecodeRatingRequest reads the grade from `rating` or `grade`. Non
// integer values are invalid grades.
func DecodeRatingRequest(w http.ResponseWriter, r *http.Request) (int, error) {
	var req ratingRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize)).Decode(&req)
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typeErr):
		return 0, ErrInvalidGrade
	case err != nil && !errors.Is(err, io.EOF):
		return 0, decodeError(err)
	}

	value := req.Rating
	if value == nil {
		value = req.Grade
	}
	if value == nil {
		return 0, &ValidationError{Fields: []error{missingFieldError("rating")}}
	}
	if *value != math.Trunc(*value) || *value < MinGrade || *value > MaxGrade {
		return 0, ErrInvalidGrade
	}
	return int(*value), nil
}

// RateBook godoc
// @Summary      Rate a book once
// @Tags         books
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Book ID"
// @Success      201  {object}  APIResponse
// @Failure      400,401,404,409  {object}  APIError
// @Router       /api/books/{id}/rating [post]
func (api *APIHandler) RateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !api.validBookID(w, r, id) {
		return
	}
	grade, err := DecodeRatingRequest(w, r)
	if err != nil {
		api.sendError(w, r, err, "failed to rate the book", zap.String("book.id", id))
		return
	}

	userID := GetValueFromContext(r.Context(), ContextUserID)
	book, err := api.ratingService.SubmitRating(r.Context(), id, userID, grade)
	if err != nil {
		api.sendError(w, r, err, "failed to rate the book", zap.String("book.id", id), zap.String("user.id", userID))
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to rate book", zap.String("book.id", id), zap.Int("grade", grade))
	api.sendResponse(w, r, http.StatusCreated, "Book rated successfully.", nil, api.bookView(book))
}
