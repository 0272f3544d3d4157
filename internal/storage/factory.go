package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/femtoserve/femtoserve/internal/storage/local"
	"github.com/femtoserve/femtoserve/internal/storage/minio"
	s3backend "github.com/femtoserve/femtoserve/internal/storage/s3"
)

// Backend kinds.
const (
	KindMinio = "minio"
	KindS3    = "s3"
	KindLocal = "local"
)

// NewBackendFromConfig creates a Backend from a backend kind and JSON config.
func NewBackendFromConfig(ctx context.Context, kind string, config json.RawMessage) (Backend, error) {
	switch kind {
	case KindMinio:
		return minio.NewFromJSON(ctx, config)
	case KindS3:
		return s3backend.NewBackendFromJSON(ctx, config)
	case KindLocal:
		return local.NewFromJSON(config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, kind)
	}
}
