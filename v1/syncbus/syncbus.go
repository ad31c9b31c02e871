// Package syncbus provides the keyed pub/sub used to broadcast chain lock
// releases. Events carry no payload: a receive on a subscription channel only
// means "the topic fired at least once since you last looked".
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is a keyed, payload-free broadcast.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (chan struct{}, error)
	Unsubscribe(ctx context.Context, key string, ch chan struct{}) error
}

// Metrics counts published events and deliveries to subscribers.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// deliver performs a non-blocking send to every channel. A subscriber whose
// buffer is already full has a wakeup pending and loses nothing.
func deliver(chans []chan struct{}, delivered *atomic.Uint64) {
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			delivered.Add(1)
		default:
		}
	}
}

// InMemoryBus is a process local Bus.
type InMemoryBus struct {
	mu        sync.Mutex
	subs      map[string]map[chan struct{}]struct{}
	published atomic.Uint64
	delivered atomic.Uint64
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	chans := make([]chan struct{}, 0, len(b.subs[key]))
	for ch := range b.subs[key] {
		chans = append(chans, ch)
	}
	// Sends happen under the lock so Unsubscribe can't close a channel
	// mid-delivery.
	b.published.Add(1)
	deliver(chans, &b.delivered)
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx is done.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe. It closes ch. Unknown channels are
// ignored.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[key]
	if _, ok := set[ch]; !ok {
		return nil
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, key)
	}
	return nil
}

// Subscribers reports how many channels listen on key.
func (b *InMemoryBus) Subscribers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

// Metrics returns the published and delivered counts.
func (b *InMemoryBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
