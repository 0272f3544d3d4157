package storage

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/logging"
)

// ErrUnsupportedBackend is returned when a storage reference names a backend
// kind that has no registered implementation.
var ErrUnsupportedBackend = errors.New("unsupported storage backend")

// Registry resolves backend kinds to Backend instances.
type Registry struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	defaultKind string
}

// NewRegistry creates an empty Registry. defaultKind names the backend used
// for newly written blobs.
func NewRegistry(defaultKind string) *Registry {
	return &Registry{
		backends:    make(map[string]Backend),
		defaultKind: defaultKind,
	}
}

// Register adds a backend under its Type(). A previously registered backend
// of the same kind is closed and replaced.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.backends[b.Type()]; ok && old != b {
		old.Close()
	}
	r.backends[b.Type()] = b
	logging.Info("storage backend registered", zap.String("kind", b.Type()))
}

// Lookup returns the backend for kind.
func (r *Registry) Lookup(kind string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, kind)
	}
	return b, nil
}

// DefaultKind returns the kind used for new blobs.
func (r *Registry) DefaultKind() string {
	return r.defaultKind
}

// Close closes all backend connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, b := range r.backends {
		if err := b.Close(); err != nil {
			logging.Warn("storage backend close failed", zap.String("kind", kind), zap.Error(err))
		}
	}
	return nil
}
