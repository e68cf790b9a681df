package main

import (
	"context"

	"go.uber.org/zap"
)

type BookServiceProvider interface {
	Create(ctx context.Context, ownerID string, in CreateBookInput) (Book, error)
	GetOne(ctx context.Context, id string) (Book, error)
	GetAll(ctx context.Context) ([]Book, error)
	GetBestRated(ctx context.Context, limit int) ([]Book, error)
	Update(ctx context.Context, id, requesterID string, in UpdateBookInput) (Book, error)
	Delete(ctx context.Context, id, requesterID string) (Book, error)
}

// ImageJanitor takes care of the images a write made useless. Images
// replaced by a committed write go through the cleanup queue. Images
// produced for a write that failed are removed right away.
type ImageJanitor struct {
	logger  *zap.Logger
	images  ImageHandler
	queue   Queuer
	qid     string
	metrics *Metrics
}

func NewImageJanitor(logger *zap.Logger, images ImageHandler, queue Queuer, qid string, metrics *Metrics) *ImageJanitor {
	return &ImageJanitor{logger: logger, images: images, queue: queue, qid: qid, metrics: metrics}
}

// Ingest stores the upload and records the outcome.
func (j *ImageJanitor) Ingest(ctx context.Context, upload *ImageUpload) (string, error) {
	stored, err := j.images.Ingest(ctx, upload)
	j.metrics.observeIngest(err)
	if err != nil {
		return "", err
	}
	j.logger.Debug("image ingested", zap.String("image.ref", stored.Ref), zap.Int64("image.size", stored.Size))
	return stored.Ref, nil
}

// Schedule enqueues the removal of an image no longer referenced by a
// committed record. If the queue refuses it, a direct removal is tried.
func (j *ImageJanitor) Schedule(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	err := j.queue.Push(ctx, j.qid, ref)
	if err == nil {
		return
	}
	j.logger.Error("service: failed to push image to queue", zap.String("qid", j.qid), zap.String("image.ref", ref), zap.Error(err))
	j.Discard(ctx, ref)
}

// Discard removes an image immediately. Failures are logged only.
func (j *ImageJanitor) Discard(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	err := j.images.Remove(context.WithoutCancel(ctx), ref)
	j.metrics.observeReclaim(err)
	if err != nil {
		j.logger.Error("service: failed to remove image", zap.String("image.ref", ref), zap.Error(err))
	}
}

type BookService struct {
	logger     *zap.Logger
	clock      Clocker
	idsHandler UIDHandler
	storage    BookStorage
	janitor    *ImageJanitor
}

func NewBookService(logger *zap.Logger, clock Clocker, idsHandler UIDHandler, storage BookStorage, janitor *ImageJanitor) BookServiceProvider {
	return &BookService{
		logger:     logger,
		clock:      clock,
		idsHandler: idsHandler,
		storage:    storage,
		janitor:    janitor,
	}
}

// Create validates the fields, stores the optional cover then saves the
// book. The cover is removed if the book could not be saved.
func (bs *BookService) Create(ctx context.Context, ownerID string, in CreateBookInput) (Book, error) {
	if ownerID == "" {
		return Book{}, ErrUnauthenticated
	}
	fields := in.Fields.Normalize()
	if err := fields.Validate(); err != nil {
		return Book{}, err
	}

	var ref string
	if in.Image != nil {
		var err error
		if ref, err = bs.janitor.Ingest(ctx, in.Image); err != nil {
			return Book{}, err
		}
	}

	now := bs.clock.Now()
	book := Book{
		ID:            bs.idsHandler.Generate(BookIDPrefix),
		OwnerID:       ownerID,
		Title:         fields.Title,
		Author:        fields.Author,
		Year:          fields.Year,
		Genre:         fields.Genre,
		ImageRef:      ref,
		Ratings:       []Rating{},
		AverageRating: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := bs.storage.Add(ctx, book.ID, book); err != nil {
		bs.janitor.Discard(ctx, ref)
		return Book{}, err
	}
	return book, nil
}

func (bs *BookService) GetOne(ctx context.Context, id string) (Book, error) {
	return bs.storage.GetOne(ctx, id)
}

func (bs *BookService) GetAll(ctx context.Context) ([]Book, error) {
	return bs.storage.GetAll(ctx)
}

func (bs *BookService) GetBestRated(ctx context.Context, limit int) ([]Book, error) {
	if limit <= 0 {
		limit = DefaultBestRatedLimit
	}
	return bs.storage.GetBestRated(ctx, limit)
}

// Update changes the editable fields and optionally the cover of a book
// owned by requesterID. Ownership is checked before any upload is stored
// and again inside the write. The previous cover is released only once
// the new record is committed.
func (bs *BookService) Update(ctx context.Context, id, requesterID string, in UpdateBookInput) (Book, error) {
	if requesterID == "" {
		return Book{}, ErrUnauthenticated
	}
	current, err := bs.storage.GetOne(ctx, id)
	if err != nil {
		return Book{}, err
	}
	if !current.IsOwnedBy(requesterID) {
		return Book{}, ErrForbidden
	}

	fields := in.Fields.Normalize()
	if err = fields.ValidateUpdate(in.Image != nil); err != nil {
		return Book{}, err
	}

	var ref string
	if in.Image != nil {
		if ref, err = bs.janitor.Ingest(ctx, in.Image); err != nil {
			return Book{}, err
		}
	}

	var previous string
	now := bs.clock.Now()
	updated, err := bs.storage.Update(ctx, id, func(b *Book) error {
		if !b.IsOwnedBy(requesterID) {
			return ErrForbidden
		}
		b.Apply(fields)
		previous = ""
		if ref != "" {
			previous = b.ImageRef
			b.ImageRef = ref
		}
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		bs.janitor.Discard(ctx, ref)
		return Book{}, err
	}

	if previous != ref {
		bs.janitor.Schedule(ctx, previous)
	}
	return updated, nil
}

// Delete removes a book owned by requesterID then releases its cover.
func (bs *BookService) Delete(ctx context.Context, id, requesterID string) (Book, error) {
	if requesterID == "" {
		return Book{}, ErrUnauthenticated
	}
	deleted, err := bs.storage.Delete(ctx, id, func(b *Book) error {
		if !b.IsOwnedBy(requesterID) {
			return ErrForbidden
		}
		return nil
	})
	if err != nil {
		return Book{}, err
	}
	bs.janitor.Schedule(ctx, deleted.ImageRef)
	return deleted, nil
}
