// Package variant dispatches items to type-specific serving and thumbnail
// behaviour.
package variant

import (
	"context"
	"net/http"

	"github.com/femtoserve/femtoserve/internal/content"
)

// Variant is the behaviour shared by every content type.
type Variant interface {
	// Name is the filetype tag stored on items of this variant.
	Name() string

	// Detect classifies an upload from its first bytes and sniffed mime.
	Detect(sample []byte, mime string) (string, bool)

	// Match reports whether a stored filetype tag belongs to this variant.
	Match(filetype string) bool

	Serve(w http.ResponseWriter, r *http.Request, item *content.Item) error
	Raw(w http.ResponseWriter, r *http.Request, item *content.Item) error
	Thumb(w http.ResponseWriter, r *http.Request, item *content.Item) error

	// GenerateThumb returns the item's thumbnail, creating it on first use.
	GenerateThumb(ctx context.Context, item *content.Item) (*content.Item, error)

	// Delete marks the item deleted, its thumbnail first.
	Delete(ctx context.Context, item *content.Item) error
}

// Registry resolves items to variants. The fallback matches anything the
// registered variants do not.
type Registry struct {
	variants []Variant
	fallback Variant
}

// NewRegistry creates a Registry that tries variants in order before
// falling back.
func NewRegistry(fallback Variant, variants ...Variant) *Registry {
	return &Registry{variants: variants, fallback: fallback}
}

// Resolve returns the first variant whose Match accepts the item's filetype.
func (r *Registry) Resolve(item *content.Item) Variant {
	ft := item.Filetype()
	for _, v := range r.variants {
		if v.Match(ft) {
			return v
		}
	}
	return r.fallback
}

// Detect returns the filetype tag for a new upload.
func (r *Registry) Detect(sample []byte, mime string) string {
	for _, v := range r.variants {
		if name, ok := v.Detect(sample, mime); ok {
			return name
		}
	}
	return r.fallback.Name()
}

// Fallback returns the catch-all variant.
func (r *Registry) Fallback() Variant {
	return r.fallback
}
