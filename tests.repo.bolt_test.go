package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestBoltDB opens a bolt database in a temporary folder with all the
// buckets created. It is closed when the test ends.
func newTestBoltDB(t *testing.T) (*bolt.DB, *BoltDBConfig) {
	t.Helper()
	testConfig := &Config{
		BoltDB: BoltDBConfig{
			FilePath:        filepath.Join(t.TempDir(), "data", "test.bolt.db"),
			Timeout:         5 * time.Second,
			BucketName:      "test.books",
			UsersBucketName: "test.users",
		},
	}
	client, err := GetBoltDBClient(testConfig)
	require.NoError(t, err, "failed in creating a test bolt store")
	t.Cleanup(func() { client.Close() })
	return client, &testConfig.BoltDB
}

// TestBoltBookStorage runs the storage contract against boltdb.
func TestBoltBookStorage(t *testing.T) {
	client, config := newTestBoltDB(t)
	runBookStorageContract(t, NewBoltBookStorage(zap.NewNop(), config, client))
}

// TestBoltUserStorage runs the user storage contract against boltdb.
func TestBoltUserStorage(t *testing.T) {
	client, config := newTestBoltDB(t)
	runUserStorageContract(t, NewBoltUserStorage(zap.NewNop(), config, client))
}

// Ensure bolt store can insert a new book.
func TestBoltStore_AddBook(t *testing.T) {
	client, config := newTestBoltDB(t)
	bs := NewBoltBookStorage(zap.NewNop(), config, client)
	testBookID := "b:0"

	// Create a new book.
	b := Book{ID: testBookID, Title: "Bolt test book title"}
	err := bs.Add(context.TODO(), testBookID, b)
	assert.NoError(t, err)

	// Verify book can be retrieved.
	book, err := bs.GetOne(context.TODO(), testBookID)
	assert.NoError(t, err)
	assert.Equal(t, testBookID, book.ID)
	assert.Equal(t, "Bolt test book title", book.Title)
}

// Ensure the email index and the users live in their own buckets.
func TestBoltStore_UserBuckets(t *testing.T) {
	client, config := newTestBoltDB(t)
	us := NewBoltUserStorage(zap.NewNop(), config, client)
	require.NoError(t, us.Add(context.TODO(), User{ID: "u:1", Email: "jane@example.com", PasswordHash: "hash"}))

	err := client.View(func(tx *bolt.Tx) error {
		assert.Equal(t, "u:1", string(tx.Bucket([]byte(EmailsBucketName)).Get([]byte("jane@example.com"))))
		assert.NotNil(t, tx.Bucket([]byte(config.UsersBucketName)).Get([]byte("u:1")))
		assert.Nil(t, tx.Bucket([]byte(config.BucketName)).Get([]byte("u:1")))
		return nil
	})
	assert.NoError(t, err)
}

// TestBoltStore_SameInstantKeepsInsertionOrder ensures books created at the
// same time are listed and ranked in the order they were added.
func TestBoltStore_SameInstantKeepsInsertionOrder(t *testing.T) {
	client, config := newTestBoltDB(t)
	bs := NewBoltBookStorage(zap.NewNop(), config, client)
	ctx := context.Background()
	createdAt := NewMockClocker().Now()

	// ids are added in reverse of their key order.
	ids := []string{"b:c", "b:b", "b:a"}
	for _, id := range ids {
		require.NoError(t, bs.Add(ctx, id, Book{ID: id, Title: id, CreatedAt: createdAt}))
	}

	books, err := bs.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, books, 3)
	for i, id := range ids {
		assert.Equal(t, id, books[i].ID)
	}

	// an update must not lose the insertion position.
	_, err = bs.Update(ctx, "b:c", func(b *Book) error {
		b.Title = "updated"
		return nil
	})
	require.NoError(t, err)

	best, err := bs.GetBestRated(ctx, 2)
	require.NoError(t, err)
	require.Len(t, best, 2)
	assert.Equal(t, "b:c", best[0].ID)
	assert.Equal(t, "updated", best[0].Title)
	assert.Equal(t, "b:b", best[1].ID)
}
