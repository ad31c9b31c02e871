package syncbus

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
)

const redisBusTimeout = 5 * time.Second

var tracer = otel.Tracer("github.com/mirkobrombin/go-chainlock/v1/syncbus")

type redisSubscription struct {
	pubsub *redis.PubSub
	chans  map[chan struct{}]struct{}
}

// RedisBus implements Bus on top of Redis pub/sub so that release events
// reach every process sharing the Redis server.
type RedisBus struct {
	client *redis.Client

	mu        sync.Mutex
	subs      map[string]*redisSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, subs: make(map[string]*redisSubscription)}
}

func mapRedisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case stdErrors.Is(err, context.DeadlineExceeded):
		return chainerrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return chainerrors.ErrConnectionClosed
	}
	return err
}

// Publish implements Bus.Publish. Each event carries a random id so that
// duplicate deliveries are distinguishable in Redis monitoring.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "RedisBus.Publish", trace.WithAttributes(attribute.String("chainlock.bus.key", key)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, key, uuid.NewString()).Err(); err != nil {
		span.RecordError(err)
		return mapRedisErr(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The Redis subscription is confirmed
// before returning, so events published afterwards are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapRedisErr(err)
	}
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if sub, ok := b.subs[key]; ok {
		sub.chans[ch] = struct{}{}
		b.mu.Unlock()
	} else {
		b.mu.Unlock()
		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		ps := b.client.Subscribe(cctx, key)
		_, err := ps.Receive(cctx)
		cancel()
		if err != nil {
			_ = ps.Close()
			return nil, mapRedisErr(err)
		}
		b.mu.Lock()
		if sub, ok := b.subs[key]; ok {
			// Lost a race with another subscriber for the same key.
			sub.chans[ch] = struct{}{}
			b.mu.Unlock()
			_ = ps.Close()
		} else {
			sub = &redisSubscription{pubsub: ps, chans: map[chan struct{}]struct{}{ch: {}}}
			b.subs[key] = sub
			b.mu.Unlock()
			go b.dispatch(key, sub)
		}
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(key string, sub *redisSubscription) {
	for range sub.pubsub.Channel() {
		b.mu.Lock()
		chans := make([]chan struct{}, 0, len(sub.chans))
		for ch := range sub.chans {
			chans = append(chans, ch)
		}
		deliver(chans, &b.delivered)
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		b.mu.Unlock()
		return nil
	}
	if _, ok := sub.chans[ch]; !ok {
		b.mu.Unlock()
		return nil
	}
	delete(sub.chans, ch)
	close(ch)
	if len(sub.chans) > 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, key)
	b.mu.Unlock()

	cctx, cancel := context.WithTimeout(context.Background(), redisBusTimeout)
	defer cancel()
	_ = sub.pubsub.Unsubscribe(cctx, key)
	return mapRedisErr(sub.pubsub.Close())
}

// Close drops every subscription and closes their channels.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*redisSubscription)
	for _, sub := range subs {
		for ch := range sub.chans {
			close(ch)
		}
		sub.chans = map[chan struct{}]struct{}{}
	}
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.pubsub.Close()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
