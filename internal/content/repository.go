package content

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("item not found")

	// ErrThumbAlreadySet is returned when linking a thumbnail to an item
	// that already has one. Thumb references are immutable once set.
	ErrThumbAlreadySet = errors.New("thumbnail already set")
)

// Repository persists item records. Implementations must make
// IncrementViews a single atomic update in the store and LinkThumb a
// conditional update that only succeeds while no thumb is linked.
type Repository interface {
	Get(ctx context.Context, id string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	Save(ctx context.Context, rec *Record) error
	IncrementViews(ctx context.Context, id string) error
	LinkThumb(ctx context.Context, id, thumbID string) error
}
