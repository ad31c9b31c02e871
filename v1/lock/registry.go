package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-chainlock/v1/asset"
	"github.com/mirkobrombin/go-chainlock/v1/metrics"
	"github.com/mirkobrombin/go-chainlock/v1/network"
	"github.com/mirkobrombin/go-chainlock/v1/syncbus"
	"github.com/mirkobrombin/go-chainlock/v1/wait"
)

const (
	defaultPollMin = 100 * time.Millisecond
	defaultPollMax = 500 * time.Millisecond
)

// Registry hands out chain locks. Each Registry owns its table and bus, so
// independent registries never see each other's keys unless they share a
// backend on purpose.
type Registry struct {
	resolver asset.Resolver
	table    Table
	bus      syncbus.Bus
	logger   *slog.Logger
	metrics  bool
	pollMin  time.Duration
	pollMax  time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithTable sets the backing table. The default is a MemoryTable.
func WithTable(t Table) Option {
	return func(r *Registry) {
		r.table = t
	}
}

// WithBus sets the bus used for release events. The default is an
// in-memory bus.
func WithBus(b syncbus.Bus) Option {
	return func(r *Registry) {
		r.bus = b
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics registers the lock collectors on reg and enables them.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		metrics.RegisterLockMetrics(reg)
		r.metrics = true
	}
}

// WithDefaultPollInterval sets the poll bounds Acquire uses when the call
// passes no WithPollInterval.
func WithDefaultPollInterval(min, max time.Duration) Option {
	return func(r *Registry) {
		r.pollMin = min
		r.pollMax = max
	}
}

// New returns a Registry resolving asset symbols through resolver. A nil
// resolver means asset.Default().
func New(resolver asset.Resolver, opts ...Option) *Registry {
	if resolver == nil {
		resolver = asset.Default()
	}
	r := &Registry{resolver: resolver, pollMin: defaultPollMin, pollMax: defaultPollMax}
	for _, opt := range opts {
		opt(r)
	}
	if r.table == nil {
		r.table = NewMemoryTable()
	}
	if r.bus == nil {
		r.bus = syncbus.NewInMemoryBus()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// KeyFor resolves symbol to its chain and returns the lock key.
func (r *Registry) KeyFor(net network.Network, walletID, symbol string) (Key, error) {
	a, err := r.resolver.Lookup(symbol)
	if err != nil {
		return Key{}, err
	}
	return Key{Network: net, WalletID: walletID, Chain: a.Chain}, nil
}

// TryAcquire attempts to lock the chain of symbol for walletID on net. It
// never waits. Contention is reported as Success=false; an error only comes
// from the asset lookup or the table backend.
func (r *Registry) TryAcquire(ctx context.Context, net network.Network, walletID, symbol string) (Result, error) {
	k, err := r.KeyFor(net, walletID, symbol)
	if err != nil {
		return Result{}, err
	}
	return r.tryKey(ctx, k.String())
}

// TryAcquireChain is TryAcquire for callers that already know the chain.
func (r *Registry) TryAcquireChain(ctx context.Context, net network.Network, walletID string, chain network.Chain) (Result, error) {
	return r.tryKey(ctx, Key{Network: net, WalletID: walletID, Chain: chain}.String())
}

func (r *Registry) tryKey(ctx context.Context, key string) (Result, error) {
	ok, err := r.table.TrySet(ctx, key)
	if err != nil {
		r.count(metrics.ResultError)
		return Result{Key: key}, err
	}
	if !ok {
		r.count(metrics.ResultContended)
		r.logger.Debug("chainlock: key busy", "key", key)
		return Result{Key: key, Success: false}, nil
	}
	r.count(metrics.ResultAcquired)
	if r.metrics {
		metrics.HeldGauge.Inc()
	}
	return Result{Key: key, Success: true}, nil
}

func (r *Registry) count(result string) {
	if r.metrics {
		metrics.AcquireCounter.WithLabelValues(result).Inc()
	}
}

// Release clears key and announces it on the bus. Releasing a key that is not
// held still announces. A failed announcement is logged, not returned: the
// key is free either way and pollers will find it.
func (r *Registry) Release(ctx context.Context, key string) error {
	was, err := r.table.Clear(ctx, key)
	if err != nil {
		return err
	}
	if r.metrics {
		metrics.ReleaseCounter.Inc()
		if was {
			metrics.HeldGauge.Dec()
		}
	}
	if err := r.bus.Publish(ctx, ReleaseTopic(key)); err != nil {
		r.logger.Warn("chainlock: release event not published", "key", key, "error", err)
	}
	return nil
}

// Held reports whether key is currently held.
func (r *Registry) Held(ctx context.Context, key string) (bool, error) {
	return r.table.Held(ctx, key)
}

// Subscribe registers for release events of key. The subscription ends when
// ctx is done or Unsubscribe is called.
func (r *Registry) Subscribe(ctx context.Context, key string) (chan struct{}, error) {
	return r.bus.Subscribe(ctx, ReleaseTopic(key))
}

// Unsubscribe cancels a subscription obtained from Subscribe.
func (r *Registry) Unsubscribe(ctx context.Context, key string, ch chan struct{}) error {
	return r.bus.Unsubscribe(ctx, ReleaseTopic(key), ch)
}

// WaitRelease blocks until the next release of key or until ctx is done.
func (r *Registry) WaitRelease(ctx context.Context, key string) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := r.Subscribe(subCtx, key)
	if err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type acquireOptions struct {
	pollMin time.Duration
	pollMax time.Duration
}

// AcquireOption configures Acquire.
type AcquireOption func(*acquireOptions)

// WithPollInterval bounds the random pause between attempts when no release
// event arrives.
func WithPollInterval(min, max time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.pollMin = min
		o.pollMax = max
	}
}

// Acquire retries TryAcquire until it succeeds or ctx is done. Between
// attempts it waits for a release event or a random poll interval, whichever
// comes first. Waiters race each other; there is no ordering among them.
func (r *Registry) Acquire(ctx context.Context, net network.Network, walletID, symbol string, opts ...AcquireOption) (Result, error) {
	o := acquireOptions{pollMin: r.pollMin, pollMax: r.pollMax}
	for _, opt := range opts {
		opt(&o)
	}
	k, err := r.KeyFor(net, walletID, symbol)
	if err != nil {
		return Result{}, err
	}
	key := k.String()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	released, err := r.Subscribe(subCtx, key)
	if err != nil {
		return Result{Key: key}, err
	}

	for {
		res, err := r.tryKey(ctx, key)
		if err != nil || res.Success {
			return res, err
		}
		pause, stop := context.WithTimeout(ctx, wait.Between(o.pollMin, o.pollMax))
		select {
		case _, ok := <-released:
			if !ok {
				// bus went away; keep polling
				released = nil
			}
		case <-pause.Done():
		}
		stop()
		if err := ctx.Err(); err != nil {
			return Result{Key: key}, err
		}
	}
}
