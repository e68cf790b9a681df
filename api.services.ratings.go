package main

import (
	"context"

	"go.uber.org/zap"
)

type RatingServiceProvider interface {
	SubmitRating(ctx context.Context, bookID, userID string, grade int) (Book, error)
}

type RatingService struct {
	logger  *zap.Logger
	clock   Clocker
	storage BookStorage
	metrics *Metrics
}

func NewRatingService(logger *zap.Logger, clock Clocker, storage BookStorage, metrics *Metrics) RatingServiceProvider {
	return &RatingService{
		logger:  logger,
		clock:   clock,
		storage: storage,
		metrics: metrics,
	}
}

// SubmitRating records the grade of userID on the book. The duplicate check
// and the average computation happen inside the storage conditional write,
// so two concurrent submissions of the same user can't both succeed.
// Owners are allowed to rate their own books.
func (rs *RatingService) SubmitRating(ctx context.Context, bookID, userID string, grade int) (Book, error) {
	if err := ValidateGrade(grade); err != nil {
		rs.metrics.observeRating(err)
		return Book{}, err
	}
	if userID == "" {
		return Book{}, ErrUnauthenticated
	}

	now := rs.clock.Now()
	book, err := rs.storage.Update(ctx, bookID, func(b *Book) error {
		if err := b.AddRating(userID, grade); err != nil {
			return err
		}
		b.UpdatedAt = now
		return nil
	})
	rs.metrics.observeRating(err)
	if err != nil {
		return Book{}, err
	}
	rs.logger.Debug("rating recorded",
		zap.String("book.id", bookID),
		zap.String("user.id", userID),
		zap.Float64("book.average", book.AverageRating),
	)
	return book, nil
}
