package main

import (
	"context"
	"encoding/json"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

var _ UserStorage = (*boltUserStorage)(nil) // ensure boltUserStorage implements UserStorage.

type boltUserStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// NewBoltUserStorage provides an instance of bolt-based user storage.
// It shares the database handle with the book storage.
func NewBoltUserStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) UserStorage {
	return &boltUserStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Add saves the user and its email index entry in the same transaction.
func (us *boltUserStorage) Add(_ context.Context, user User) error {
	userBytes, err := json.Marshal(user.toStored())
	if err != nil {
		return err
	}
	return us.client.Update(func(tx *bolt.Tx) error {
		emails := tx.Bucket([]byte(EmailsBucketName))
		if emails.Get([]byte(user.Email)) != nil {
			return ErrEmailTaken
		}
		if err := emails.Put([]byte(user.Email), []byte(user.ID)); err != nil {
			return err
		}
		return tx.Bucket([]byte(us.config.UsersBucketName)).Put([]byte(user.ID), userBytes)
	})
}

func (us *boltUserStorage) read(tx *bolt.Tx, id string) (User, error) {
	var stored storedUser
	result := tx.Bucket([]byte(us.config.UsersBucketName)).Get([]byte(id))
	if result == nil {
		return User{}, ErrUserNotFound
	}
	if err := json.Unmarshal(result, &stored); err != nil {
		return User{}, err
	}
	return stored.toUser(), nil
}

// GetOne retrieves a user record based on its ID.
func (us *boltUserStorage) GetOne(_ context.Context, id string) (User, error) {
	var user User
	err := us.client.View(func(tx *bolt.Tx) error {
		var err error
		user, err = us.read(tx, id)
		return err
	})
	return user, err
}

// GetByEmail retrieves a user record through the email index.
func (us *boltUserStorage) GetByEmail(_ context.Context, email string) (User, error) {
	var user User
	err := us.client.View(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(EmailsBucketName)).Get([]byte(email))
		if id == nil {
			return ErrUserNotFound
		}
		var err error
		user, err = us.read(tx, string(id))
		return err
	})
	return user, err
}

// Update applies mutate to the user inside a single read-write transaction.
func (us *boltUserStorage) Update(_ context.Context, id string, mutate UserMutator) (User, error) {
	var updated User
	err := us.client.Update(func(tx *bolt.Tx) error {
		user, err := us.read(tx, id)
		if err != nil {
			return err
		}
		email := user.Email
		if err = mutate(&user); err != nil {
			return err
		}
		user.ID, user.Email = id, email
		userBytes, err := json.Marshal(user.toStored())
		if err != nil {
			return err
		}
		if err = tx.Bucket([]byte(us.config.UsersBucketName)).Put([]byte(id), userBytes); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}
