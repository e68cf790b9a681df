package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBookStorageContract checks the behaviors every book storage must share.
//
//nolint:funlen
func runBookStorageContract(t *testing.T, store BookStorage) {
	ctx := context.Background()
	base := time.Date(2023, 7, 2, 0, 0, 0, 0, time.UTC)
	newBook := func(id string, offset time.Duration) Book {
		return Book{
			ID:        id,
			OwnerID:   "u:owner",
			Title:     "Title " + id,
			Author:    "Author",
			Ratings:   []Rating{},
			CreatedAt: base.Add(offset),
			UpdatedAt: base.Add(offset),
		}
	}

	t.Run("Add and Get Book", func(t *testing.T) {
		book := newBook("b:1", 0)
		require.NoError(t, store.Add(ctx, book.ID, book))
		got, err := store.GetOne(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, book.Title, got.Title)
		assert.Equal(t, book.OwnerID, got.OwnerID)
		assert.True(t, book.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("Get NonExistent Book", func(t *testing.T) {
		book, err := store.GetOne(ctx, "b:missing")
		assert.ErrorIs(t, err, ErrBookNotFound)
		assert.Equal(t, Book{}, book)
	})

	t.Run("Update Applies Mutator", func(t *testing.T) {
		updated, err := store.Update(ctx, "b:1", func(b *Book) error {
			b.Genre = "SF"
			return b.AddRating("u:a", 4)
		})
		require.NoError(t, err)
		assert.Equal(t, "SF", updated.Genre)
		assert.Equal(t, 4.0, updated.AverageRating)

		got, err := store.GetOne(ctx, "b:1")
		require.NoError(t, err)
		assert.Equal(t, "SF", got.Genre)
		assert.Len(t, got.Ratings, 1)
	})

	t.Run("Update Aborted By Mutator", func(t *testing.T) {
		_, err := store.Update(ctx, "b:1", func(b *Book) error {
			b.Title = "should not be saved"
			return ErrForbidden
		})
		assert.ErrorIs(t, err, ErrForbidden)
		got, err := store.GetOne(ctx, "b:1")
		require.NoError(t, err)
		assert.Equal(t, "Title b:1", got.Title)
	})

	t.Run("Update NonExistent Book", func(t *testing.T) {
		_, err := store.Update(ctx, "b:missing", func(b *Book) error { return nil })
		assert.ErrorIs(t, err, ErrBookNotFound)
	})

	t.Run("Get All Books In Creation Order", func(t *testing.T) {
		require.NoError(t, store.Add(ctx, "b:3", newBook("b:3", 2*time.Second)))
		require.NoError(t, store.Add(ctx, "b:2", newBook("b:2", time.Second)))
		books, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, books, 3)
		assert.Equal(t, "b:1", books[0].ID)
		assert.Equal(t, "b:2", books[1].ID)
		assert.Equal(t, "b:3", books[2].ID)
	})

	t.Run("Get Best Rated", func(t *testing.T) {
		_, err := store.Update(ctx, "b:3", func(b *Book) error { return b.AddRating("u:a", 5) })
		require.NoError(t, err)
		_, err = store.Update(ctx, "b:2", func(b *Book) error { return b.AddRating("u:a", 4) })
		require.NoError(t, err)

		books, err := store.GetBestRated(ctx, 3)
		require.NoError(t, err)
		require.Len(t, books, 3)
		assert.Equal(t, "b:3", books[0].ID)
		// b:1 and b:2 share the same average, creation order breaks the tie.
		assert.Equal(t, "b:1", books[1].ID)
		assert.Equal(t, "b:2", books[2].ID)

		books, err = store.GetBestRated(ctx, 1)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "b:3", books[0].ID)
	})

	t.Run("Concurrent Ratings Of The Same User", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "b:2", func(b *Book) error { return b.AddRating("u:racer", 3) })
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				if !errors.Is(err, ErrDuplicateRating) && !errors.Is(err, ErrStoreConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, succeeded)

		got, err := store.GetOne(ctx, "b:2")
		require.NoError(t, err)
		count := 0
		for _, r := range got.Ratings {
			if r.UserID == "u:racer" {
				count++
			}
		}
		assert.Equal(t, 1, count)
		assert.Equal(t, 3.5, got.AverageRating)
	})

	t.Run("Delete Rejected By Check", func(t *testing.T) {
		_, err := store.Delete(ctx, "b:1", func(b *Book) error { return ErrForbidden })
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = store.GetOne(ctx, "b:1")
		assert.NoError(t, err)
	})

	t.Run("Delete Existent Book", func(t *testing.T) {
		deleted, err := store.Delete(ctx, "b:1", nil)
		require.NoError(t, err)
		assert.Equal(t, "b:1", deleted.ID)
		_, err = store.GetOne(ctx, "b:1")
		assert.ErrorIs(t, err, ErrBookNotFound)

		books, err := store.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, books, 2)
		best, err := store.GetBestRated(ctx, 3)
		require.NoError(t, err)
		assert.Len(t, best, 2)
	})

	t.Run("Delete NonExistent Book", func(t *testing.T) {
		_, err := store.Delete(ctx, "b:1", nil)
		assert.ErrorIs(t, err, ErrBookNotFound)
	})
}

// runUserStorageContract checks the behaviors every user storage must share.
func runUserStorageContract(t *testing.T, store UserStorage) {
	ctx := context.Background()
	user := User{
		ID:           "u:1",
		Email:        "jane@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Date(2023, 7, 2, 0, 0, 0, 0, time.UTC),
	}

	t.Run("Add and Get User", func(t *testing.T) {
		require.NoError(t, store.Add(ctx, user))
		got, err := store.GetOne(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, got.Email)
		assert.Equal(t, "hash", got.PasswordHash)

		got, err = store.GetByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("Add Duplicate Email", func(t *testing.T) {
		other := user
		other.ID = "u:2"
		assert.ErrorIs(t, store.Add(ctx, other), ErrEmailTaken)
		_, err := store.GetOne(ctx, "u:2")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("Get NonExistent User", func(t *testing.T) {
		_, err := store.GetOne(ctx, "u:missing")
		assert.ErrorIs(t, err, ErrUserNotFound)
		_, err = store.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("Update Keeps Identity", func(t *testing.T) {
		updated, err := store.Update(ctx, user.ID, func(u *User) error {
			u.ProfileImage = "avatar.jpg"
			u.Email = "changed@example.com"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "avatar.jpg", updated.ProfileImage)
		assert.Equal(t, user.Email, updated.Email)

		got, err := store.GetOne(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "avatar.jpg", got.ProfileImage)
		assert.Equal(t, "hash", got.PasswordHash)
	})

	t.Run("Update NonExistent User", func(t *testing.T) {
		_, err := store.Update(ctx, "u:missing", func(u *User) error { return nil })
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}
