// Package blob defines the content store used by graph backends that keep
// node metadata and file bytes apart (badger, postgres).
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/fruitsalade/pathstore/internal/blob/local"
	s3backend "github.com/fruitsalade/pathstore/internal/blob/s3"
	"github.com/fruitsalade/pathstore/internal/config"
)

// Backend stores opaque objects by key.
type Backend interface {
	// GetObject opens the object at key.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// PutObject writes body to key and returns the number of bytes stored.
	// size is the content length, or -1 if unknown.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) (int64, error)

	// DeleteObject removes the object. Missing objects are not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	Close() error
}

var (
	_ Backend = (*local.Backend)(nil)
	_ Backend = (*s3backend.Backend)(nil)
)

// Open creates the blob backend selected by cfg.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.BlobBackend {
	case config.BlobLocal:
		return local.New(local.Config{RootPath: cfg.LocalBlobPath, CreateDirs: true})
	case config.BlobS3:
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.BlobBackend)
	}
}
