package storage

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSUploader stores assets in a Google Cloud Storage bucket.
type GCSUploader struct {
	client    *storage.Client
	bucket    string
	prefix    string
	publicURL string
}

// NewGCSUploader uses application default credentials. Without publicBaseURL, URLs
// point at storage.googleapis.com.
func NewGCSUploader(ctx context.Context, bucket, prefix, publicBaseURL string) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: prefix, publicURL: publicBaseURL}, nil
}

func (g *GCSUploader) Upload(ctx context.Context, file File) (*Asset, error) {
	if err := validate(file); err != nil {
		return nil, err
	}

	key := ObjectKey(g.prefix, file.Name)
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = file.ContentType

	if _, err := writer.Write(file.Data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write gs://%s/%s: %w", g.bucket, key, err)
	}
	// Close finalizes the object; the upload is not durable before it returns.
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize gs://%s/%s: %w", g.bucket, key, err)
	}
	return &Asset{Key: key, URL: joinURL(g.publicURL, key)}, nil
}

func (g *GCSUploader) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", g.bucket, key, err)
	}
	return nil
}

// Close releases the client.
func (g *GCSUploader) Close() error {
	return g.client.Close()
}
