package main

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ImageCleanupQueue is the default queue id of orphaned image references.
const ImageCleanupQueue = "images.cleanup"

// popPollInterval bounds each blocking pop so the caller context is honored.
const popPollInterval = time.Second

// ErrQueueFull is returned by the in-memory queue when it can't take more items.
var ErrQueueFull = errors.New("queue is full")

var (
	_ Queuer = (*redisQueue)(nil)  // ensure redisQueue implements Queuer.
	_ Queuer = (*memoryQueue)(nil) // ensure memoryQueue implements Queuer.
)

// Queuer describes a queue of image references.
type Queuer interface {
	Push(ctx context.Context, qid string, ref string) error
	Pop(ctx context.Context, qids ...string) (string, string, error)
}

// redisQueue represents a redis list based queue which implements the Queuer interface.
type redisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) Queuer {
	return &redisQueue{client: client}
}

// Push enqueues a reference onto the queue identified by qid.
func (q *redisQueue) Push(ctx context.Context, qid string, ref string) error {
	return q.client.RPush(ctx, qid, ref).Err()
}

// Pop blocks until a reference is available on one of the queues
// or the context is done. It returns the queue id and the reference.
func (q *redisQueue) Pop(ctx context.Context, qids ...string) (string, string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		infos, err := q.client.BLPop(ctx, popPollInterval, qids...).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", "", err
		}
		return infos[0], infos[1], nil
	}
}

type queueItem struct {
	qid string
	ref string
}

// memoryQueue is an in-process queue used when redis is not the storage.
// Its content does not survive a restart.
type memoryQueue struct {
	items chan queueItem
}

func NewMemoryQueue(capacity int) Queuer {
	return &memoryQueue{items: make(chan queueItem, capacity)}
}

// Push enqueues without blocking and fails when the buffer is full.
func (q *memoryQueue) Push(ctx context.Context, qid string, ref string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.items <- queueItem{qid: qid, ref: ref}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop waits for the next item. Items pushed on queues not listed in qids are dropped.
func (q *memoryQueue) Pop(ctx context.Context, qids ...string) (string, string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case item := <-q.items:
			for _, qid := range qids {
				if qid == item.qid {
					return item.qid, item.ref, nil
				}
			}
		}
	}
}
