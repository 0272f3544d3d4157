// Package memory is an in-process content.Repository for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/femtoserve/femtoserve/internal/content"
)

// Repository keeps records in a map. Records are copied on the way in and
// out so callers never share state with the store.
type Repository struct {
	mu      sync.Mutex
	records map[string]content.Record
}

// New creates an empty Repository.
func New() *Repository {
	return &Repository{records: make(map[string]content.Record)}
}

func (r *Repository) Get(_ context.Context, id string) (*content.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, content.ErrNotFound)
	}
	return &rec, nil
}

func (r *Repository) Create(_ context.Context, rec *content.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("item %s already exists", rec.ID)
	}
	r.records[rec.ID] = *rec
	return nil
}

// Save overwrites the stored record. The view counter and thumb link are
// kept from the store since they only change through IncrementViews and
// LinkThumb, and a stale writer cannot clear Deleted.
func (r *Repository) Save(_ context.Context, rec *content.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[rec.ID]
	if !ok {
		return fmt.Errorf("save %s: %w", rec.ID, content.ErrNotFound)
	}
	next := *rec
	next.Metadata.Views = cur.Metadata.Views
	next.Deleted = next.Deleted || cur.Deleted
	if cur.References.Thumb != "" {
		next.References.Thumb = cur.References.Thumb
	}
	r.records[rec.ID] = next
	return nil
}

func (r *Repository) IncrementViews(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("increment views %s: %w", id, content.ErrNotFound)
	}
	rec.Metadata.Views++
	r.records[id] = rec
	return nil
}

func (r *Repository) LinkThumb(_ context.Context, id, thumbID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("link thumb %s: %w", id, content.ErrNotFound)
	}
	if rec.References.Thumb != "" {
		return content.ErrThumbAlreadySet
	}
	rec.References.Thumb = thumbID
	r.records[id] = rec
	return nil
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// CountDeleted returns the number of records flagged deleted.
func (r *Repository) CountDeleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Deleted {
			n++
		}
	}
	return n
}
