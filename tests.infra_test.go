package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMemoryQueue ensures the in-process queue is bounded and filters queue ids.
func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)
	require.NoError(t, q.Push(ctx, "other", "x.jpg"))
	require.NoError(t, q.Push(ctx, ImageCleanupQueue, "a.jpg"))
	assert.ErrorIs(t, q.Push(ctx, ImageCleanupQueue, "b.jpg"), ErrQueueFull)

	qid, ref, err := q.Pop(ctx, ImageCleanupQueue)
	require.NoError(t, err)
	assert.Equal(t, ImageCleanupQueue, qid)
	assert.Equal(t, "a.jpg", ref)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = q.Pop(canceled, ImageCleanupQueue)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, q.Push(canceled, ImageCleanupQueue, "c.jpg"), context.Canceled)
}

// TestRedisQueue ensures references are popped in push order.
func TestRedisQueue(t *testing.T) {
	client, mr := newTestRedisClient(t)
	ctx := context.Background()
	q := NewRedisQueue(client)

	require.NoError(t, q.Push(ctx, ImageCleanupQueue, "a.jpg"))
	require.NoError(t, q.Push(ctx, ImageCleanupQueue, "b.jpg"))
	items, err := mr.List(ImageCleanupQueue)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, items)

	qid, ref, err := q.Pop(ctx, "other", ImageCleanupQueue)
	require.NoError(t, err)
	assert.Equal(t, ImageCleanupQueue, qid)
	assert.Equal(t, "a.jpg", ref)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = q.Pop(canceled, ImageCleanupQueue)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestImageCleanupConsumer ensures queued images are removed and the
// consumer stops with its context.
func TestImageCleanupConsumer(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "images")
	images, err := NewFileImageStore(zap.NewNop(), &ImagesConfig{
		Folder:        folder,
		MaxUploadSize: testMaxUpload,
		MaxDimension:  100,
		Quality:       80,
	}, NewIDsHandler().Name)
	require.NoError(t, err)
	stored, err := images.Ingest(context.Background(), &ImageUpload{
		ContentType: "image/png",
		Data:        bytes.NewReader(newTestPNG(t, 20, 20)),
	})
	require.NoError(t, err)
	path := filepath.Join(folder, stored.Ref)
	require.FileExists(t, path)

	q := NewMemoryQueue(8)
	consumer := NewImageCleanupConsumer(zap.NewNop(), q, images, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(ctx, ImageCleanupQueue)
	}()

	// an invalid reference only produces a log.
	require.NoError(t, q.Push(ctx, ImageCleanupQueue, "../escape.jpg"))
	require.NoError(t, q.Push(ctx, ImageCleanupQueue, stored.Ref))
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

// TestImageJanitorQueueFull ensures a full queue falls back to a direct removal.
func TestImageJanitorQueueFull(t *testing.T) {
	images := &MockImageHandler{}
	j := NewImageJanitor(zap.NewNop(), images, NewMemoryQueue(1), ImageCleanupQueue, nil)
	j.Schedule(context.Background(), "")
	j.Schedule(context.Background(), "a.jpg")
	j.Schedule(context.Background(), "b.jpg")
	assert.Equal(t, []string{"b.jpg"}, images.RemovedRefs())
}
