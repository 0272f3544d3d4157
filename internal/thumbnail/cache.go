// Package thumbnail renders item thumbnails and coalesces concurrent
// generation per item.
package thumbnail

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/femtoserve/femtoserve/internal/metrics"
)

// Cache runs at most one call of fn per key at a time. Every caller that
// arrives while a call is in flight receives that call's result or error.
// Successful results are remembered until Invalidate; errors are not, so
// the next caller after a failure retries.
type Cache[V any] struct {
	group singleflight.Group
	memo  *lru.Cache[string, V]
}

// NewCache creates a Cache remembering up to size results.
func NewCache[V any](size int) (*Cache[V], error) {
	memo, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("thumbnail memo: %w", err)
	}
	return &Cache[V]{memo: memo}, nil
}

// Get returns the remembered value for key, or runs fn to produce it.
// fn runs with a context that is not cancelled when ctx is, so one
// caller hanging up cannot fail the others; a cancelled caller stops
// waiting and gets ctx.Err().
func (c *Cache[V]) Get(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	if v, ok := c.memo.Get(key); ok {
		metrics.RecordThumbCache("hit")
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fn(detached)
		if err != nil {
			return v, err
		}
		c.memo.Add(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RecordThumbCache("shared")
		} else {
			metrics.RecordThumbCache("miss")
		}
		v, _ := res.Val.(V)
		return v, res.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Invalidate drops the remembered value for key. An in-flight call is left
// to finish but later callers start a new one.
func (c *Cache[V]) Invalidate(key string) {
	c.memo.Remove(key)
	c.group.Forget(key)
}

// Len returns the number of remembered values.
func (c *Cache[V]) Len() int {
	return c.memo.Len()
}
