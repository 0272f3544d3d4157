package thumbnail

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/content"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/metrics"
)

// RenderFunc produces thumbnail PNG bytes for an item.
type RenderFunc func(ctx context.Context, item *content.Item) ([]byte, error)

// Service makes sure every item gets at most one thumbnail.
type Service struct {
	cache *Cache[*content.Item]
}

// NewService creates a Service remembering up to cacheSize thumbnails.
func NewService(cacheSize int) (*Service, error) {
	cache, err := NewCache[*content.Item](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{cache: cache}, nil
}

// Ensure returns item's thumbnail, rendering it with render if none is
// linked yet. Concurrent calls for the same item share one render.
func (s *Service) Ensure(ctx context.Context, variant string, item *content.Item, render RenderFunc) (*content.Item, error) {
	if item.HasThumb() {
		metrics.RecordThumbCache("hit")
		return item.Thumb(ctx)
	}
	return s.cache.Get(ctx, item.ID(), func(ctx context.Context) (*content.Item, error) {
		return generate(ctx, variant, item, render)
	})
}

// Invalidate forgets the remembered thumbnail for an item id.
func (s *Service) Invalidate(id string) {
	s.cache.Invalidate(id)
}

func generate(ctx context.Context, variant string, item *content.Item, render RenderFunc) (*content.Item, error) {
	log := logging.WithContext(ctx).With(zap.String("item", item.ID()), zap.String("variant", variant))

	// The memo is bounded, so a thumb may already be linked by an earlier
	// render whose result was evicted.
	fresh, err := item.Reload(ctx)
	if err != nil {
		return nil, err
	}
	if fresh.HasThumb() {
		return fresh.Thumb(ctx)
	}

	log.Info("generating thumbnail")
	start := time.Now()

	png, err := render(ctx, fresh)
	if err != nil {
		metrics.RecordThumbGeneration(variant, "error", time.Since(start))
		return nil, err
	}

	thumb, err := fresh.SetThumb(ctx, png)
	if errors.Is(err, content.ErrThumbAlreadySet) {
		// Another process linked one first; serve theirs.
		metrics.RecordThumbGeneration(variant, "raced", time.Since(start))
		if fresh, err = item.Reload(ctx); err != nil {
			return nil, err
		}
		return fresh.Thumb(ctx)
	}
	if err != nil {
		metrics.RecordThumbGeneration(variant, "error", time.Since(start))
		return nil, err
	}

	metrics.RecordThumbGeneration(variant, "success", time.Since(start))
	log.Debug("thumbnail stored", zap.String("thumb", thumb.ID()), zap.Duration("took", time.Since(start)))
	return thumb, nil
}
