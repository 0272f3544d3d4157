package content

import (
	"context"
	"io"

	"github.com/femtoserve/femtoserve/internal/storage"
)

// Blob binds a StorageRef to the backend that serves its kind.
type Blob struct {
	ref     StorageRef
	backend storage.Backend
}

// Ref returns the storage reference backing the blob.
func (b *Blob) Ref() StorageRef { return b.ref }

// Read opens the blob. A nil range reads the full body.
func (b *Blob) Read(ctx context.Context, rng *storage.ByteRange) (io.ReadCloser, error) {
	return b.backend.GetObject(ctx, b.ref.Bucket, b.ref.Filepath, rng)
}

// Stat returns the blob's size and etag.
func (b *Blob) Stat(ctx context.Context) (storage.ObjectInfo, error) {
	return b.backend.StatObject(ctx, b.ref.Bucket, b.ref.Filepath)
}

// Write uploads body, replacing any existing object at the reference's key.
func (b *Blob) Write(ctx context.Context, body io.Reader, size int64) error {
	return b.backend.PutObject(ctx, b.ref.Bucket, b.ref.Filepath, body, size)
}
