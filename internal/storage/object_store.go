package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore is bound to a single bucket, mirroring how the deployment
// configures one bucket for input images and (optionally) one for outputs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	DownloadObject(ctx context.Context, key, filename string) error

	ListObjects(ctx context.Context, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, prefix string) error

	// ObjectURL returns the public URL for a stored object, or a local path
	// for filesystem-backed stores.
	ObjectURL(key string) string
}
