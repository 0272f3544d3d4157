// Package storage defines the Backend interface for blob storage and a
// registry that resolves a storage reference's backend kind to an instance.
package storage

import (
	"context"
	"io"

	"github.com/femtoserve/femtoserve/internal/storage/object"
)

// ByteRange is an inclusive byte span [Start, End] of an object.
type ByteRange = object.Range

// ObjectInfo is the result of a stat call.
type ObjectInfo = object.Info

// Backend is the interface for blob storage backends.
// Implementations handle raw object I/O (MinIO, S3, local filesystem).
// Item records are handled separately by a content.Repository.
type Backend interface {
	// GetObject opens an object for reading. A nil range returns the full body,
	// otherwise exactly the bytes of the range. Cancelling ctx aborts the read.
	GetObject(ctx context.Context, bucket, key string, rng *ByteRange) (io.ReadCloser, error)

	// StatObject returns the object's size and etag.
	StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// PutObject uploads or overwrites the object at key. size may be -1 if unknown.
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error

	// Type returns the backend kind ("minio", "s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
