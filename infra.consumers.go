package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Consumer drains one or more queues until its context is done.
type Consumer interface {
	Consume(ctx context.Context, qids ...string) error
}

// imageCleanupConsumer removes the images that lost their owner record.
// Each reference gets a single attempt, failures are only logged.
type imageCleanupConsumer struct {
	logger  *zap.Logger
	queue   Queuer
	images  ImageHandler
	metrics *Metrics
}

func NewImageCleanupConsumer(logger *zap.Logger, q Queuer, images ImageHandler, metrics *Metrics) Consumer {
	return &imageCleanupConsumer{
		logger:  logger.With(zap.String("component", "image.cleanup")),
		queue:   q,
		images:  images,
		metrics: metrics,
	}
}

func (ic *imageCleanupConsumer) Consume(ctx context.Context, qids ...string) error {
	ic.logger.Info("consumer: started", zap.Strings("queues", qids))
	for {
		qid, ref, ok := ic.next(ctx, qids)
		if !ok {
			ic.logger.Info("consumer: context is done: exit", zap.String("reason", context.Cause(ctx).Error()))
			return nil
		}
		if qid == "" {
			continue
		}
		ic.reclaim(ctx, qid, ref)
	}
}

// next blocks until a reference is available. It returns false once
// ctx is done and an empty qid after a transient pop failure.
func (ic *imageCleanupConsumer) next(ctx context.Context, qids []string) (string, string, bool) {
	qid, ref, err := ic.queue.Pop(ctx, qids...)
	if err == nil {
		return qid, ref, true
	}
	if ctx.Err() != nil {
		return "", "", false
	}

	ic.logger.Error("consumer: error on queue pop call", zap.Error(err))
	timer := time.NewTimer(popPollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", "", false
	case <-timer.C:
		return "", "", true
	}
}

func (ic *imageCleanupConsumer) reclaim(ctx context.Context, qid, ref string) {
	err := ic.images.Remove(ctx, ref)
	ic.metrics.observeReclaim(err)
	if err != nil {
		ic.logger.Error("consumer: failed to remove image", zap.String("qid", qid), zap.String("image.ref", ref), zap.Error(err))
		return
	}
	ic.logger.Debug("consumer: image removed", zap.String("qid", qid), zap.String("image.ref", ref))
}
