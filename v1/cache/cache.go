package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-chainlock/v1/cache")

// Cache defines the operations of a TTL cache.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves the value for key. The boolean reports whether the key
	// was found and not expired.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores value for key. A non-positive ttl never expires.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// Invalidate removes key.
	Invalidate(ctx context.Context, key string) error
}

// InMemoryCache is an LRU bounded map with TTL support.
type InMemoryCache[T any] struct {
	mu            sync.RWMutex
	items         map[string]item[T]
	order         *list.List
	hits          atomic.Uint64
	misses        atomic.Uint64
	sweepInterval time.Duration
	maxEntries    int
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	hitCounter      prometheus.Counter
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	traceEnabled    bool
}

type item[T any] struct {
	value     T
	expiresAt time.Time
	element   *list.Element
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption[T any] func(*InMemoryCache[T])

// WithSweepInterval sets the interval at which expired items are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval[T any](d time.Duration) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.sweepInterval = d
	}
}

// WithMaxEntries bounds the cache; the least recently used entry is evicted
// first. A non-positive value means unbounded.
func WithMaxEntries[T any](n int) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.maxEntries = n
	}
}

// WithMetrics registers hit, miss and eviction counters on reg. name is used
// as the metric prefix, e.g. "chainlock_price_cache".
func WithMetrics[T any](reg prometheus.Registerer, name string) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_hits_total",
			Help: "Total number of cache hits",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_misses_total",
			Help: "Total number of cache misses",
		})
		c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: name + "_evictions_total",
			Help: "Total number of cache evictions",
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.evictionCounter)
	}
}

// WithTracing enables OpenTelemetry spans for Get and Set.
func WithTracing[T any]() InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.traceEnabled = true
	}
}

const defaultSweepInterval = time.Minute

// NewInMemory returns an InMemoryCache. Unless disabled with
// WithSweepInterval, a background goroutine drops expired items every minute;
// call Close to stop it.
func NewInMemory[T any](opts ...InMemoryOption[T]) *InMemoryCache[T] {
	ctx, cancel := context.WithCancel(context.Background())
	c := &InMemoryCache[T]{
		items:         make(map[string]item[T]),
		order:         list.New(),
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}
	return c
}

func (c *InMemoryCache[T]) span(ctx context.Context, name string) (context.Context, trace.Span) {
	if !c.traceEnabled {
		return ctx, nil
	}
	return tracer.Start(ctx, name)
}

func inc(counter prometheus.Counter) {
	if counter != nil {
		counter.Inc()
	}
}

// Get implements Cache.Get.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	ctx, span := c.span(ctx, "cache.Get")
	if span != nil {
		defer span.End()
	}
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	c.mu.Lock()
	it, ok := c.items[key]
	expired := ok && !it.expiresAt.IsZero() && time.Now().After(it.expiresAt)
	if expired {
		c.order.Remove(it.element)
		delete(c.items, key)
	} else if ok {
		c.order.MoveToFront(it.element)
	}
	c.mu.Unlock()

	if !ok || expired {
		c.misses.Add(1)
		inc(c.missCounter)
		if expired {
			inc(c.evictionCounter)
		}
		if span != nil {
			span.SetAttributes(attribute.String("chainlock.cache.result", "miss"))
		}
		return zero, false, nil
	}
	c.hits.Add(1)
	inc(c.hitCounter)
	if span != nil {
		span.SetAttributes(attribute.String("chainlock.cache.result", "hit"))
	}
	return it.value, true, nil
}

// Set implements Cache.Set.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	ctx, span := c.span(ctx, "cache.Set")
	if span != nil {
		defer span.End()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		it.value = value
		it.expiresAt = exp
		c.items[key] = it
		c.order.MoveToFront(it.element)
		return nil
	}
	elem := c.order.PushFront(key)
	c.items[key] = item[T]{value: value, expiresAt: exp, element: elem}
	if c.maxEntries > 0 && len(c.items) > c.maxEntries {
		if tail := c.order.Back(); tail != nil {
			c.order.Remove(tail)
			delete(c.items, tail.Value.(string))
			inc(c.evictionCounter)
		}
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (c *InMemoryCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.order.Remove(it.element)
		delete(c.items, key)
	}
	return nil
}

// sweeper samples the map and drops expired items, repeating while more
// than a quarter of the sample was expired.
func (c *InMemoryCache[T]) sweeper() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)

	for {
		select {
		case <-ticker.C:
			for {
				expired, checked := 0, 0
				now := time.Now()
				c.mu.Lock()
				for k, it := range c.items {
					checked++
					if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
						c.order.Remove(it.element)
						delete(c.items, k)
						inc(c.evictionCounter)
						expired++
					}
					if checked >= sampleSize {
						break
					}
				}
				c.mu.Unlock()
				if float64(expired) < float64(sampleSize)*evictionRatio {
					break
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops the sweeper and empties the cache.
func (c *InMemoryCache[T]) Close() {
	c.cancel()
	c.wg.Wait()
	c.mu.Lock()
	c.items = make(map[string]item[T])
	c.order.Init()
	c.mu.Unlock()
}

// Stats reports basic cache usage.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Metrics returns the current usage counters.
func (c *InMemoryCache[T]) Metrics() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}
