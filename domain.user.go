package main

import (
	"context"
	"strings"
	"time"
)

// User represents a registered account. The password hash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// storedUser is the persisted form of User, it keeps the password hash.
type storedUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (u User) toStored() storedUser {
	return storedUser(u)
}

func (s storedUser) toUser() User {
	return User(s)
}

// UserMutator applies changes to a user inside a storage write.
type UserMutator func(user *User) error

// UserStorage defines possible operations on user entity.
type UserStorage interface {
	Add(ctx context.Context, user User) error
	GetOne(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Update(ctx context.Context, id string, mutate UserMutator) (User, error)
}

// NormalizeEmail trims and lowercases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
