package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis keys layout of the book records.
const (
	KeyBookPrefix string = "book:"
	ZBooksCreated string = "books:created"
	ZBooksRating  string = "books:rating"
)

// maxWatchRetries bounds how many times a conditional write is replayed
// when the watched record changed between the read and the commit.
const maxWatchRetries = 5

var _ BookStorage = (*redisBookStorage)(nil) // ensure redisBookStorage implements BookStorage.

type redisBookStorage struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisBookStorage provides an instance of redis-based book storage.
func NewRedisBookStorage(logger *zap.Logger, client *redis.Client) BookStorage {
	return &redisBookStorage{
		logger: logger,
		client: client,
	}
}

// GetRedisClient provides a ready to use redis client.
func GetRedisClient(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", config.Redis.Host, config.Redis.Port),
		DialTimeout:  config.Redis.DialTimeout,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
		PoolSize:     config.Redis.PoolSize,
		PoolTimeout:  config.Redis.PoolTimeout,
		Password:     config.Redis.Password,
		Username:     config.Redis.Username,
		DB:           config.Redis.DatabaseIndex,
	})

	// test connection.
	if pong, err := client.Ping(context.Background()).Result(); pong != "PONG" || err != nil {
		return client, fmt.Errorf("test connection failed: %v", err)
	}
	return client, nil
}

func bookKey(id string) string {
	return KeyBookPrefix + id
}

// Close closes the shared redis client.
func (rs *redisBookStorage) Close() error {
	return rs.client.Close()
}

// Add inserts a new book record and indexes it by creation time and rating.
func (rs *redisBookStorage) Add(ctx context.Context, id string, book Book) error {
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return err
	}
	_, err = rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, bookKey(id), bookBytes, 0)
		pipe.ZAdd(ctx, ZBooksCreated, redis.Z{Score: float64(book.CreatedAt.UnixMicro()), Member: id})
		pipe.ZAdd(ctx, ZBooksRating, redis.Z{Score: book.AverageRating, Member: id})
		return nil
	})
	return err
}

// GetOne retrieves a book record based on its ID.
func (rs *redisBookStorage) GetOne(ctx context.Context, id string) (Book, error) {
	return readBook(ctx, rs.client, id)
}

// getter is satisfied by both the client and a watching transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readBook loads a book through the client or inside a watching transaction.
func readBook(ctx context.Context, c getter, id string) (Book, error) {
	var book Book
	bookJSONString, err := c.Get(ctx, bookKey(id)).Result()
	if err == redis.Nil {
		return book, ErrBookNotFound
	}
	if err != nil {
		return book, err
	}
	err = json.Unmarshal([]byte(bookJSONString), &book)
	return book, err
}

// watch runs txf under optimistic locking of the book key and replays it
// when a concurrent writer touched the key before the commit.
func (rs *redisBookStorage) watch(ctx context.Context, id string, txf func(tx *redis.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := rs.client.Watch(ctx, txf, bookKey(id))
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			rs.logger.Debug("redis: book changed during write, retrying", zap.String("book.id", id), zap.Int("attempt", i+1))
			continue
		}
		return err
	}
	return ErrStoreConflict
}

// Update reads the book, applies mutate then writes the result only if
// nobody else changed the record in between. The rating index follows.
func (rs *redisBookStorage) Update(ctx context.Context, id string, mutate BookMutator) (Book, error) {
	var updated Book
	txf := func(tx *redis.Tx) error {
		book, err := readBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if err = mutate(&book); err != nil {
			return err
		}
		bookBytes, err := json.Marshal(book)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, bookKey(id), bookBytes, 0)
			pipe.ZAdd(ctx, ZBooksRating, redis.Z{Score: book.AverageRating, Member: id})
			return nil
		})
		if err == nil {
			updated = book
		}
		return err
	}

	if err := rs.watch(ctx, id, txf); err != nil {
		return Book{}, err
	}
	return updated, nil
}

// Delete removes a book record and its index entries. The check runs
// against the current record and can abort the removal.
func (rs *redisBookStorage) Delete(ctx context.Context, id string, check BookMutator) (Book, error) {
	var deleted Book
	txf := func(tx *redis.Tx) error {
		book, err := readBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err = check(&book); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, bookKey(id))
			pipe.ZRem(ctx, ZBooksCreated, id)
			pipe.ZRem(ctx, ZBooksRating, id)
			return nil
		})
		if err == nil {
			deleted = book
		}
		return err
	}

	if err := rs.watch(ctx, id, txf); err != nil {
		return Book{}, err
	}
	return deleted, nil
}

// GetAll retrieves all books in creation order.
func (rs *redisBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	ids, err := rs.client.ZRange(ctx, ZBooksCreated, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return rs.loadBooks(ctx, ids)
}

// GetBestRated retrieves up to limit books with the highest average.
// Books sharing the same average keep their creation order.
func (rs *redisBookStorage) GetBestRated(ctx context.Context, limit int) ([]Book, error) {
	if limit <= 0 {
		return []Book{}, nil
	}
	created, err := rs.client.ZRange(ctx, ZBooksCreated, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ratings, err := rs.client.ZRangeWithScores(ctx, ZBooksRating, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(created))
	for i, id := range created {
		position[id] = i
	}

	ranked := make([]redis.Z, 0, len(ratings))
	for _, z := range ratings {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		if _, found := position[id]; !found {
			continue
		}
		ranked = append(ranked, z)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return position[ranked[i].Member.(string)] < position[ranked[j].Member.(string)]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	ids := make([]string, 0, len(ranked))
	for _, z := range ranked {
		ids = append(ids, z.Member.(string))
	}
	return rs.loadBooks(ctx, ids)
}

// loadBooks fetches books in the given ids order. Ids whose record vanished
// in the meantime are skipped.
func (rs *redisBookStorage) loadBooks(ctx context.Context, ids []string) ([]Book, error) {
	books := []Book{}
	if len(ids) == 0 {
		return books, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, bookKey(id))
	}
	values, err := rs.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		bookJSONString, ok := v.(string)
		if !ok {
			rs.logger.Warn("redis: indexed book without record", zap.String("book.id", ids[i]))
			continue
		}
		var book Book
		if err = json.Unmarshal([]byte(bookJSONString), &book); err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}
