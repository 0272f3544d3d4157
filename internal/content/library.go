// Package content models stored items and resolves their references to
// other items and to blob storage.
package content

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/femtoserve/femtoserve/internal/storage"
)

// Library loads and creates items on top of a Repository, and binds their
// storage references to backends from a storage.Registry.
type Library struct {
	repo        Repository
	blobs       *storage.Registry
	thumbBucket string
	now         func() time.Time
}

// Option configures a Library.
type Option func(*Library)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(l *Library) { l.now = now }
}

// NewLibrary creates a Library. Thumbnails are written to thumbBucket on
// the registry's default backend.
func NewLibrary(repo Repository, blobs *storage.Registry, thumbBucket string, opts ...Option) *Library {
	l := &Library{
		repo:        repo,
		blobs:       blobs,
		thumbBucket: thumbBucket,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches an item by id.
func (l *Library) Load(ctx context.Context, id string) (*Item, error) {
	rec, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Item{rec: rec, lib: l}, nil
}

// Create persists a new record and returns it as an item. A missing id or
// creation time is filled in.
func (l *Library) Create(ctx context.Context, rec *Record) (*Item, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}
	if err := l.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}
	return &Item{rec: rec, lib: l}, nil
}

// Blob binds ref to its backend. Unknown kinds yield an error wrapping
// storage.ErrUnsupportedBackend.
func (l *Library) Blob(ref StorageRef) (*Blob, error) {
	backend, err := l.blobs.Lookup(ref.Kind)
	if err != nil {
		return nil, err
	}
	return &Blob{ref: ref, backend: backend}, nil
}

// NewStorageRef allocates a reference for a fresh object in folder on the
// default backend.
func (l *Library) NewStorageRef(bucket, folder string) StorageRef {
	filename := uuid.NewString()
	return StorageRef{
		ID:       uuid.NewString(),
		Kind:     l.blobs.DefaultKind(),
		Bucket:   bucket,
		Folder:   folder,
		Filename: filename,
		Filepath: path.Join(folder, filename),
	}
}

// Now returns the library clock's current time.
func (l *Library) Now() time.Time {
	return l.now()
}
