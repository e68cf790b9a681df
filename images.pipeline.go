package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	// registers the webp decoder used by imaging.Decode.
	_ "golang.org/x/image/webp"
)

const (
	canonicalImageExt = ".jpg"

	// DefaultMaxImagePixels caps width*height of an accepted upload.
	DefaultMaxImagePixels int64 = 40_000_000
)

var _ ImageHandler = (*fileImageStore)(nil) // ensure fileImageStore implements ImageHandler.

// ImageUpload is a raw file received from a client. ContentType is the
// type declared by the client and is checked again against the content.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// StoredImage describes a canonical image saved under the images folder.
type StoredImage struct {
	Ref  string
	Size int64
}

// ImageHandler turns uploads into canonical stored images and manages their files.
type ImageHandler interface {
	Ingest(ctx context.Context, upload *ImageUpload) (StoredImage, error)
	Remove(ctx context.Context, ref string) error
	Open(ref string) (*os.File, error)
}

type fileImageStore struct {
	logger *zap.Logger
	config *ImagesConfig
	name   NameGenerator
}

// NewFileImageStore makes sure the images folder exists and provides
// a file-based image handler.
func NewFileImageStore(logger *zap.Logger, config *ImagesConfig, name NameGenerator) (ImageHandler, error) {
	if err := os.MkdirAll(config.Folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images folder: %w", err)
	}
	return &fileImageStore{
		logger: logger,
		config: config,
		name:   name,
	}, nil
}

// Ingest validates the upload then re-encodes it as a bounded jpeg. The raw
// bytes are spooled to a temporary file which never outlives the call. The
// canonical file only shows up under its final name once fully written.
func (fs *fileImageStore) Ingest(ctx context.Context, upload *ImageUpload) (StoredImage, error) {
	var stored StoredImage
	if upload == nil || upload.Data == nil {
		return stored, ErrUnsupportedMediaType
	}
	if !IsImageMediaType(upload.ContentType) {
		return stored, ErrUnsupportedMediaType
	}

	raw, err := os.CreateTemp("", "brap-upload-*")
	if err != nil {
		return stored, fmt.Errorf("images: failed to create spool file: %w", err)
	}
	defer func() {
		raw.Close()
		if rerr := os.Remove(raw.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			fs.logger.Warn("images: failed to remove spool file", zap.String("file", raw.Name()), zap.Error(rerr))
		}
	}()

	n, err := io.Copy(raw, io.LimitReader(upload.Data, fs.config.MaxUploadSize+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return stored, ErrPayloadTooLarge
		}
		return stored, fmt.Errorf("images: failed to spool upload: %w", err)
	}
	if n > fs.config.MaxUploadSize {
		return stored, ErrPayloadTooLarge
	}

	if err = ctx.Err(); err != nil {
		return stored, err
	}

	if _, err = raw.Seek(0, io.SeekStart); err != nil {
		return stored, err
	}
	mtype, err := mimetype.DetectReader(raw)
	if err != nil {
		return stored, fmt.Errorf("images: failed to sniff upload: %w", err)
	}
	if !strings.HasPrefix(mtype.String(), "image/") {
		return stored, ErrUnsupportedMediaType
	}

	if _, err = raw.Seek(0, io.SeekStart); err != nil {
		return stored, err
	}
	header, _, err := image.DecodeConfig(raw)
	if err != nil {
		fs.logger.Debug("images: unreadable image header", zap.String("mime", mtype.String()), zap.Error(err))
		return stored, ErrUnsupportedMediaType
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > fs.maxPixels() {
		fs.logger.Debug("images: too many pixels", zap.Int("width", header.Width), zap.Int("height", header.Height))
		return stored, ErrPayloadTooLarge
	}

	if _, err = raw.Seek(0, io.SeekStart); err != nil {
		return stored, err
	}
	img, err := imaging.Decode(raw, imaging.AutoOrientation(true))
	if err != nil {
		fs.logger.Debug("images: undecodable upload", zap.String("mime", mtype.String()), zap.Error(err))
		return stored, ErrUnsupportedMediaType
	}
	img = imaging.Fit(img, fs.config.MaxDimension, fs.config.MaxDimension, imaging.Lanczos)

	if err = ctx.Err(); err != nil {
		return stored, err
	}

	out, err := os.CreateTemp(fs.config.Folder, ".canonical-*")
	if err != nil {
		return stored, fmt.Errorf("images: failed to create output file: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		out.Close()
		if rerr := os.Remove(out.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			fs.logger.Warn("images: failed to remove partial output", zap.String("file", out.Name()), zap.Error(rerr))
		}
	}()

	if err = imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(fs.config.Quality)); err != nil {
		return stored, fmt.Errorf("images: failed to encode: %w", err)
	}
	if err = out.Sync(); err != nil {
		return stored, err
	}
	info, err := out.Stat()
	if err != nil {
		return stored, err
	}
	if err = out.Close(); err != nil {
		return stored, err
	}

	ref := fs.name() + canonicalImageExt
	if err = os.Rename(out.Name(), filepath.Join(fs.config.Folder, ref)); err != nil {
		return stored, fmt.Errorf("images: failed to publish %s: %w", ref, err)
	}
	committed = true

	stored.Ref = ref
	stored.Size = info.Size()
	return stored, nil
}

// maxPixels bounds the decoded size of an upload, whatever its compressed size.
func (fs *fileImageStore) maxPixels() int64 {
	if fs.config.MaxPixels <= 0 {
		return DefaultMaxImagePixels
	}
	return fs.config.MaxPixels
}

// Remove deletes a stored image. A missing file counts as removed.
func (fs *fileImageStore) Remove(_ context.Context, ref string) error {
	if err := ValidateImageRef(ref); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(fs.config.Folder, ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Open provides a readable handle on a stored image.
func (fs *fileImageStore) Open(ref string) (*os.File, error) {
	if err := ValidateImageRef(ref); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(fs.config.Folder, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrImageNotFound
	}
	return f, err
}

// ValidateImageRef rejects anything that is not a plain file name.
func ValidateImageRef(ref string) error {
	if ref == "" ||
		strings.HasPrefix(ref, ".") ||
		strings.ContainsAny(ref, `/\`) ||
		strings.Contains(ref, "..") {
		return ErrInvalidImageRef
	}
	return nil
}

// IsImageMediaType reports whether a declared content type is an image one.
func IsImageMediaType(contentType string) bool {
	mediatype, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediatype, "image/")
}
