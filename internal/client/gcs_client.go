package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/carzbazzar/api/internal/config"
)

// GCSClient implements ObjectStorage for Google Cloud Storage
type GCSClient struct {
	client *storage.Client
	bucket string
}

// NewGCSClient creates a GCS client. Without a credentials file it falls back
// to Application Default Credentials.
func NewGCSClient(ctx context.Context, cfg *config.GCSConfig) (*GCSClient, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCS bucket not configured")
	}

	var (
		c   *storage.Client
		err error
	)
	if cfg.CredentialsFile != "" {
		c, err = storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	} else {
		c, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSClient{client: c, bucket: cfg.Bucket}, nil
}

// Put streams the body to the object writer; the writer reports progress per chunk.
func (c *GCSClient) Put(ctx context.Context, in PutInput) (string, error) {
	obj := c.client.Bucket(c.bucket).Object(in.Key)

	w := obj.NewWriter(ctx)
	w.ContentType = in.ContentType
	if in.OnProgress != nil {
		w.ProgressFunc = func(n int64) {
			in.OnProgress(n, in.Size)
		}
	}

	if _, err := in.Body.Seek(0, io.SeekStart); err != nil {
		_ = w.Close()
		return "", err
	}
	if _, err := io.Copy(w, in.Body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}

	attrs := w.Attrs()
	if attrs != nil && in.Size > 0 && attrs.Size != in.Size {
		return "", fmt.Errorf("verify size mismatch: local=%d remote=%d", in.Size, attrs.Size)
	}

	return c.GetPublicURL(in.Key), nil
}

// Delete removes an object; a missing object is not an error.
func (c *GCSClient) Delete(ctx context.Context, key string) error {
	err := c.client.Bucket(c.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// GetPublicURL returns the public URL for a key
func (c *GCSClient) GetPublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucket, key)
}

// Close releases the underlying client
func (c *GCSClient) Close() error {
	return c.client.Close()
}
