package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys layout of the user records.
const (
	KeyUserPrefix string = "user:"
	HUsersEmail   string = "users:email"
)

var _ UserStorage = (*redisUserStorage)(nil) // ensure redisUserStorage implements UserStorage.

type redisUserStorage struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisUserStorage provides an instance of redis-based user storage.
func NewRedisUserStorage(logger *zap.Logger, client *redis.Client) UserStorage {
	return &redisUserStorage{
		logger: logger,
		client: client,
	}
}

func userKey(id string) string {
	return KeyUserPrefix + id
}

// Add reserves the email then saves the user record. The reservation
// is released if the record could not be saved.
func (rs *redisUserStorage) Add(ctx context.Context, user User) error {
	userBytes, err := json.Marshal(user.toStored())
	if err != nil {
		return err
	}
	reserved, err := rs.client.HSetNX(ctx, HUsersEmail, user.Email, user.ID).Result()
	if err != nil {
		return err
	}
	if !reserved {
		return ErrEmailTaken
	}
	if err = rs.client.Set(ctx, userKey(user.ID), userBytes, 0).Err(); err != nil {
		if derr := rs.client.HDel(context.WithoutCancel(ctx), HUsersEmail, user.Email).Err(); derr != nil {
			rs.logger.Error("redis: failed to release email", zap.String("user.id", user.ID), zap.Error(derr))
		}
		return err
	}
	return nil
}

// GetOne retrieves a user record based on its ID.
func (rs *redisUserStorage) GetOne(ctx context.Context, id string) (User, error) {
	return readUser(ctx, rs.client, id)
}

func readUser(ctx context.Context, c getter, id string) (User, error) {
	var stored storedUser
	userJSONString, err := c.Get(ctx, userKey(id)).Result()
	if err == redis.Nil {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	if err = json.Unmarshal([]byte(userJSONString), &stored); err != nil {
		return User{}, err
	}
	return stored.toUser(), nil
}

// GetByEmail retrieves a user record through the email index.
func (rs *redisUserStorage) GetByEmail(ctx context.Context, email string) (User, error) {
	id, err := rs.client.HGet(ctx, HUsersEmail, email).Result()
	if err == redis.Nil {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return rs.GetOne(ctx, id)
}

// Update applies mutate to the user under optimistic locking. Email and id
// are not allowed to change.
func (rs *redisUserStorage) Update(ctx context.Context, id string, mutate UserMutator) (User, error) {
	var updated User
	txf := func(tx *redis.Tx) error {
		user, err := readUser(ctx, tx, id)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey(id), userBytes, 0)
			return nil
		})
		if err == nil {
			updated = user
		}
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := rs.client.Watch(ctx, txf, userKey(id))
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return User{}, err
		}
	}
	return User{}, ErrStoreConflict
}
