package syncbus

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
)

const natsFlushTimeout = 5 * time.Second

type natsSubscription struct {
	sub   *nats.Subscription
	chans map[chan struct{}]struct{}
}

// NATSBus implements Bus using a NATS connection. Keys are used verbatim as
// subjects.
type NATSBus struct {
	conn      *nats.Conn
	mu        sync.Mutex
	subs      map[string]*natsSubscription
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, subs: make(map[string]*natsSubscription)}
}

func mapNATSErr(err error) error {
	if stdErrors.Is(err, nats.ErrConnectionClosed) {
		return chainerrors.ErrConnectionClosed
	}
	if stdErrors.Is(err, nats.ErrTimeout) || stdErrors.Is(err, context.DeadlineExceeded) {
		return chainerrors.ErrTimeout
	}
	return err
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return mapNATSErr(err)
	}
	if err := b.conn.Publish(key, nil); err != nil {
		return mapNATSErr(err)
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The interest is flushed to the server
// before returning.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	sub := b.subs[key]
	if sub == nil {
		sub = &natsSubscription{chans: make(map[chan struct{}]struct{})}
		ns, err := b.conn.Subscribe(key, func(_ *nats.Msg) {
			b.mu.Lock()
			chans := make([]chan struct{}, 0, len(sub.chans))
			for c := range sub.chans {
				chans = append(chans, c)
			}
			deliver(chans, &b.delivered)
			b.mu.Unlock()
		})
		if err != nil {
			b.mu.Unlock()
			return nil, mapNATSErr(err)
		}
		sub.sub = ns
		b.subs[key] = sub
	}
	sub.chans[ch] = struct{}{}
	b.mu.Unlock()

	if err := b.conn.FlushTimeout(natsFlushTimeout); err != nil {
		_ = b.Unsubscribe(context.Background(), key, ch)
		return nil, mapNATSErr(err)
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
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
	if err := sub.sub.Unsubscribe(); err != nil && !stdErrors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
