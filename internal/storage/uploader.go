// Package storage uploads and deletes public assets such as video thumbnails.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFile is returned for uploads without data or a name.
var ErrInvalidFile = errors.New("invalid file")

// File is an object to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Asset identifies an uploaded object. Key is what Delete takes; URL is public.
type Asset struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Uploader stores public assets. Delete of a missing key succeeds.
type Uploader interface {
	Upload(ctx context.Context, file File) (*Asset, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and configures an Uploader.
type Config struct {
	Provider      string
	Token         string
	BaseURL       string
	Bucket        string
	Region        string
	Prefix        string
	PublicBaseURL string
	Dir           string
}

// New creates the uploader named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Uploader, error) {
	switch cfg.Provider {
	case "uploadthing":
		return NewUploadThing(cfg.Token, cfg.BaseURL)
	case "gcs":
		return NewGCSUploader(ctx, cfg.Bucket, cfg.Prefix, cfg.PublicBaseURL)
	case "s3":
		return NewS3Uploader(ctx, cfg.Bucket, cfg.Region, cfg.Prefix, cfg.PublicBaseURL)
	case "fs":
		return NewFSUploader(cfg.Dir, cfg.Prefix, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// ObjectKey returns prefix/<uuid><ext of name>.
func ObjectKey(prefix, name string) string {
	key := uuid.NewString() + strings.ToLower(path.Ext(name))
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// joinURL appends an object key to a base URL.
func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func validate(file File) error {
	if len(file.Data) == 0 {
		return fmt.Errorf("%w: no data", ErrInvalidFile)
	}
	if file.Name == "" {
		return fmt.Errorf("%w: no name", ErrInvalidFile)
	}
	return nil
}
