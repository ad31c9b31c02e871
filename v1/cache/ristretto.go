package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache implements Cache using dgraph-io/ristretto.
type RistrettoCache[T any] struct {
	c    *ristretto.Cache
	cost func(T) int64
}

// RistrettoOption configures a RistrettoCache.
type RistrettoOption[T any] func(*ristrettoConfig[T])

type ristrettoConfig[T any] struct {
	cfg  ristretto.Config
	cost func(T) int64
}

// WithRistretto replaces the ristretto configuration. A nil cfg keeps the
// defaults.
func WithRistretto[T any](cfg *ristretto.Config) RistrettoOption[T] {
	return func(c *ristrettoConfig[T]) {
		if cfg != nil {
			c.cfg = *cfg
		}
	}
}

// WithCost sets how much of MaxCost an entry consumes. The default is 1.
func WithCost[T any](fn func(T) int64) RistrettoOption[T] {
	return func(c *ristrettoConfig[T]) {
		c.cost = fn
	}
}

// NewRistretto returns a Cache backed by ristretto.
func NewRistretto[T any](opts ...RistrettoOption[T]) (*RistrettoCache[T], error) {
	rc := ristrettoConfig[T]{
		cfg: ristretto.Config{
			NumCounters: 1e4,
			MaxCost:     1e4,
			BufferItems: 64,
		},
	}
	for _, opt := range opts {
		opt(&rc)
	}
	c, err := ristretto.NewCache(&rc.cfg)
	if err != nil {
		return nil, err
	}
	return &RistrettoCache[T]{c: c, cost: rc.cost}, nil
}

// Get implements Cache.Get.
func (r *RistrettoCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, ok := v.(T)
	return val, ok, nil
}

// Set implements Cache.Set.
func (r *RistrettoCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cost := int64(1)
	if r.cost != nil {
		if c := r.cost(value); c > 0 {
			cost = c
		}
	}
	r.c.SetWithTTL(key, value, cost, ttl)
	r.c.Wait()
	return nil
}

// Invalidate implements Cache.Invalidate.
func (r *RistrettoCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(key)
	r.c.Wait()
	return nil
}

// Close releases resources held by the cache.
func (r *RistrettoCache[T]) Close() {
	r.c.Close()
}
