package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

// EmailsBucketName holds the email to user id index.
const EmailsBucketName = "emails"

var _ BookStorage = (*boltBookStorage)(nil) // ensure boltBookStorage implements BookStorage.

// boltBook is the stored form of a book. Seq comes from the bucket
// sequence and keeps the insertion order of records created in the
// same instant.
type boltBook struct {
	Book
	Seq uint64 `json:"seq"`
}

type boltBookStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// GetBoltDBClient setup the database and its buckets then provides a ready to use client.
func GetBoltDBClient(config *Config) (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(config.BoltDB.FilePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create the database folder, %v", err)
	}
	db, err := bolt.Open(config.BoltDB.FilePath, 0o600, &bolt.Options{Timeout: config.BoltDB.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database, %v", err)
	}
	buckets := []string{config.BoltDB.BucketName, config.BoltDB.UsersBucketName, EmailsBucketName}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range buckets {
			if _, errB := tx.CreateBucketIfNotExists([]byte(name)); errB != nil {
				return fmt.Errorf("failed to create %s bucket: %v", name, errB)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up buckets: %v", err)
	}
	return db, nil
}

// NewBoltBookStorage provides an instance of bolt-based book storage.
func NewBoltBookStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) BookStorage {
	return &boltBookStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Close shuts down the bolt-based book storage.
func (bs *boltBookStorage) Close() error {
	return bs.client.Close()
}

// Add inserts a new book record into boltdb store.
func (bs *boltBookStorage) Add(_ context.Context, id string, book Book) error {
	return bs.client.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bs.config.BucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		bookBytes, err := json.Marshal(boltBook{Book: book, Seq: seq})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), bookBytes)
	})
}

// GetOne retrieves a book record based on its ID from boltdb store.
func (bs *boltBookStorage) GetOne(_ context.Context, id string) (Book, error) {
	var book Book
	err := bs.client.View(func(tx *bolt.Tx) error {
		stored, err := bs.read(tx, id)
		book = stored.Book
		return err
	})
	return book, err
}

func (bs *boltBookStorage) read(tx *bolt.Tx, id string) (boltBook, error) {
	var stored boltBook
	result := tx.Bucket([]byte(bs.config.BucketName)).Get([]byte(id))
	if result == nil {
		return stored, ErrBookNotFound
	}
	err := json.Unmarshal(result, &stored)
	return stored, err
}

// Update applies mutate to the stored book inside a single read-write
// transaction. Any error from mutate rolls the transaction back.
func (bs *boltBookStorage) Update(_ context.Context, id string, mutate BookMutator) (Book, error) {
	var updated Book
	err := bs.client.Update(func(tx *bolt.Tx) error {
		stored, err := bs.read(tx, id)
		if err != nil {
			return err
		}
		if err = mutate(&stored.Book); err != nil {
			return err
		}
		bookBytes, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err = tx.Bucket([]byte(bs.config.BucketName)).Put([]byte(id), bookBytes); err != nil {
			return err
		}
		updated = stored.Book
		return nil
	})
	if err != nil {
		return Book{}, err
	}
	return updated, nil
}

// Delete removes a book record based on its ID from boltdb store once check accepted it.
func (bs *boltBookStorage) Delete(_ context.Context, id string, check BookMutator) (Book, error) {
	var deleted Book
	err := bs.client.Update(func(tx *bolt.Tx) error {
		stored, err := bs.read(tx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err = check(&stored.Book); err != nil {
				return err
			}
		}
		if err = tx.Bucket([]byte(bs.config.BucketName)).Delete([]byte(id)); err != nil {
			return err
		}
		deleted = stored.Book
		return nil
	})
	if err != nil {
		return Book{}, err
	}
	return deleted, nil
}

// GetAll retrieves a list of all books stored in the bolt database in creation order.
func (bs *boltBookStorage) GetAll(_ context.Context) ([]Book, error) {
	records := []boltBook{}
	err := bs.client.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bs.config.BucketName)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var stored boltBook
			if err := json.Unmarshal(v, &stored); err != nil {
				return err
			}
			records = append(records, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Seq != records[j].Seq {
			return records[i].Seq < records[j].Seq
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	books := make([]Book, 0, len(records))
	for _, stored := range records {
		books = append(books, stored.Book)
	}
	return books, nil
}

// GetBestRated retrieves up to limit books ordered by average rating.
func (bs *boltBookStorage) GetBestRated(ctx context.Context, limit int) ([]Book, error) {
	if limit <= 0 {
		return []Book{}, nil
	}
	books, err := bs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(books, func(i, j int) bool {
		return books[i].AverageRating > books[j].AverageRating
	})
	if len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}
