package main

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Grade bounds accepted by the rating aggregator.
const (
	MinGrade = 0
	MaxGrade = 5
)

// DefaultBestRatedLimit is the number of books returned by the best rating listing.
const DefaultBestRatedLimit = 3

var (
	errNegativeYear = errors.New("year must not be negative")
	errEmptyUpdate  = errors.New("at least one field or an image is required")
)

// Book represents a book entity.
type Book struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"userId"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Year          int       `json:"year,omitempty"`
	Genre         string    `json:"genre,omitempty"`
	ImageRef      string    `json:"imageRef,omitempty"`
	Ratings       []Rating  `json:"ratings"`
	AverageRating float64   `json:"averageRating"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Rating is a single grade given by a user to a book.
type Rating struct {
	UserID string `json:"userId"`
	Grade  int    `json:"grade"`
}

// BookFields holds the user editable attributes of a book.
type BookFields struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Year   int    `json:"year"`
	Genre  string `json:"genre"`
}

// CreateBookInput is built once by the transport layer. Image is nil
// when the request did not carry any file.
type CreateBookInput struct {
	Fields BookFields
	Image  *ImageUpload
}

// UpdateBookInput carries the changes requested on an existing book.
// Empty fields keep the current values.
type UpdateBookInput struct {
	Fields BookFields
	Image  *ImageUpload
}

// BookMutator applies changes to a book inside a storage write. Returning
// an error aborts the write and leaves the stored record untouched.
type BookMutator func(book *Book) error

// BookStorage defines possible operations on book entity.
type BookStorage interface {
	Add(ctx context.Context, id string, book Book) error
	GetOne(ctx context.Context, id string) (Book, error)
	Delete(ctx context.Context, id string, check BookMutator) (Book, error)
	Update(ctx context.Context, id string, mutate BookMutator) (Book, error)
	GetAll(ctx context.Context) ([]Book, error)
	GetBestRated(ctx context.Context, limit int) ([]Book, error)
	Close() error
}

// Normalize returns a copy of the fields with surrounding spaces removed.
func (f BookFields) Normalize() BookFields {
	return BookFields{
		Title:  strings.TrimSpace(f.Title),
		Author: strings.TrimSpace(f.Author),
		Year:   f.Year,
		Genre:  strings.TrimSpace(f.Genre),
	}
}

// Validate checks the fields required to create a book.
func (f BookFields) Validate() error {
	var errs []error
	if len(f.Title) == 0 {
		errs = append(errs, missingFieldError("title"))
	}
	if len(f.Author) == 0 {
		errs = append(errs, missingFieldError("author"))
	}
	if f.Year < 0 {
		errs = append(errs, errNegativeYear)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateUpdate checks the fields sent to modify a book. Empty fields are
// allowed since they keep the stored values, but the request must change
// at least one thing.
func (f BookFields) ValidateUpdate(hasImage bool) error {
	if f.Year < 0 {
		return &ValidationError{Fields: []error{errNegativeYear}}
	}
	if f == (BookFields{}) && !hasImage {
		return &ValidationError{Fields: []error{errEmptyUpdate}}
	}
	return nil
}

// IsOwnedBy reports whether userID created the book.
func (b *Book) IsOwnedBy(userID string) bool {
	return userID != "" && b.OwnerID == userID
}

// Apply merges the non-empty fields into the book.
func (b *Book) Apply(f BookFields) {
	if f.Title != "" {
		b.Title = f.Title
	}
	if f.Author != "" {
		b.Author = f.Author
	}
	if f.Year != 0 {
		b.Year = f.Year
	}
	if f.Genre != "" {
		b.Genre = f.Genre
	}
}

// HasRated reports whether userID already has a rating on the book.
func (b *Book) HasRated(userID string) bool {
	for _, r := range b.Ratings {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddRating appends the grade of userID and recomputes the average from
// the full list of ratings. The book is left unchanged on error.
func (b *Book) AddRating(userID string, grade int) error {
	if err := ValidateGrade(grade); err != nil {
		return err
	}
	if b.HasRated(userID) {
		return ErrDuplicateRating
	}
	b.Ratings = append(b.Ratings, Rating{UserID: userID, Grade: grade})
	b.AverageRating = AverageGrade(b.Ratings)
	return nil
}

// ValidateGrade ensures the grade is within the allowed bounds.
func ValidateGrade(grade int) error {
	if grade < MinGrade || grade > MaxGrade {
		return ErrInvalidGrade
	}
	return nil
}

// AverageGrade returns the arithmetic mean of all grades or 0 when empty.
func AverageGrade(ratings []Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Grade
	}
	return float64(sum) / float64(len(ratings))
}
