// Package presets assembles ready to use lock registries and price clients
// for common deployments.
package presets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-chainlock/v1/cache"
	"github.com/mirkobrombin/go-chainlock/v1/config"
	"github.com/mirkobrombin/go-chainlock/v1/lock"
	"github.com/mirkobrombin/go-chainlock/v1/price"
	"github.com/mirkobrombin/go-chainlock/v1/syncbus"
)

const defaultBreakerThreshold = 5

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func (o RedisOptions) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

// Stack is a lock registry and price client sharing one set of backends.
type Stack struct {
	Locks  *lock.Registry
	Prices *price.Client
	Logger *slog.Logger

	closers []func() error
}

func (s *Stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// memoryPrices returns a price client caching in memory for ttl.
func (s *Stack) memoryPrices(ttl time.Duration, opts ...price.Option) *price.Client {
	pc := cache.NewInMemory[price.Rates]()
	s.onClose(func() error { pc.Close(); return nil })
	return price.NewClient(append(opts, price.WithCache(pc, ttl))...)
}

// Close releases the backends in reverse order of creation.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// NewStandalone runs entirely in memory with no external dependencies. Locks
// are only visible inside this process.
func NewStandalone() *Stack {
	s := &Stack{Locks: lock.New(nil), Logger: slog.Default()}
	s.Prices = s.memoryPrices(config.Default().Price.CacheTTL.Duration)
	return s
}

// NewRedis keeps the lock table in Redis and publishes release events over
// Redis pub/sub, so every process pointing at the same server shares locks.
func NewRedis(opts RedisOptions) *Stack {
	client := opts.client()
	bus := syncbus.NewRedisBus(client)
	s := &Stack{Logger: slog.Default()}
	s.onClose(client.Close)
	s.onClose(bus.Close)
	s.Locks = lock.New(nil,
		lock.WithTable(lock.NewRedisTable(client)),
		lock.WithBus(syncbus.NewCircuitBreaker(bus, defaultBreakerThreshold, config.Default().Bus.BreakerTimeout.Duration)),
	)
	s.Prices = s.memoryPrices(config.Default().Price.CacheTTL.Duration)
	return s
}

// NewNATS publishes release events over conn. A nil table keeps locks in
// memory, which suits a single lock owner with remote observers.
func NewNATS(conn *nats.Conn, table lock.Table) *Stack {
	if table == nil {
		table = lock.NewMemoryTable()
	}
	s := &Stack{Logger: slog.Default()}
	s.Locks = lock.New(nil,
		lock.WithTable(table),
		lock.WithBus(syncbus.NewCircuitBreaker(syncbus.NewNATSBus(conn), defaultBreakerThreshold, config.Default().Bus.BreakerTimeout.Duration)),
	)
	s.Prices = s.memoryPrices(config.Default().Price.CacheTTL.Duration)
	return s
}

// FromConfig builds a Stack from cfg. Connections are opened eagerly so
// misconfiguration surfaces here rather than on the first lock. A non-nil reg
// receives the lock and price collectors.
func FromConfig(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	s := &Stack{Logger: logger}

	lockOpts := []lock.Option{
		lock.WithLogger(logger),
		lock.WithDefaultPollInterval(cfg.Lock.PollMin.Duration, cfg.Lock.PollMax.Duration),
	}

	var lockClient *redis.Client
	if cfg.Lock.Backend == config.BackendRedis {
		lockClient = RedisOptions(cfg.Lock.Redis).client()
		s.onClose(lockClient.Close)
		if err := lockClient.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("presets: lock redis: %w", err)
		}
		lockOpts = append(lockOpts, lock.WithTable(lock.NewRedisTable(lockClient, lock.WithKeyPrefix(cfg.Lock.KeyPrefix))))
	}

	bus, err := s.bus(ctx, cfg, lockClient)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if bus != nil {
		lockOpts = append(lockOpts, lock.WithBus(syncbus.NewCircuitBreaker(bus, cfg.Bus.BreakerThreshold, cfg.Bus.BreakerTimeout.Duration)))
	}
	if reg != nil {
		lockOpts = append(lockOpts, lock.WithMetrics(reg))
	}
	s.Locks = lock.New(nil, lockOpts...)

	priceOpts := []price.Option{
		price.WithBaseURL(cfg.Price.BaseURL),
		price.WithHTTPClient(&http.Client{Timeout: cfg.Price.Timeout.Duration}),
		price.WithLogger(logger),
	}
	if reg != nil {
		priceOpts = append(priceOpts, price.WithMetrics(reg))
	}
	switch cfg.Price.Cache {
	case config.BackendMemory:
		s.Prices = s.memoryPrices(cfg.Price.CacheTTL.Duration, priceOpts...)
		return s, nil
	case config.BackendRistretto:
		rc, err := cache.NewRistretto[price.Rates](cache.WithCost(price.RatesCost))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("presets: price cache: %w", err)
		}
		s.onClose(func() error { rc.Close(); return nil })
		priceOpts = append(priceOpts, price.WithCache(rc, cfg.Price.CacheTTL.Duration))
	}
	s.Prices = price.NewClient(priceOpts...)
	return s, nil
}

// bus returns the remote bus selected by cfg, or nil for the in-memory one.
func (s *Stack) bus(ctx context.Context, cfg config.Config, lockClient *redis.Client) (syncbus.Bus, error) {
	switch cfg.Bus.Backend {
	case config.BackendRedis:
		client := lockClient
		if r := cfg.BusRedis(); client == nil || r != cfg.Lock.Redis {
			client = RedisOptions(r).client()
			s.onClose(client.Close)
			if err := client.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("presets: bus redis: %w", err)
			}
		}
		b := syncbus.NewRedisBus(client)
		s.onClose(b.Close)
		return b, nil
	case config.BackendNATS:
		conn, err := nats.Connect(cfg.Bus.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("presets: nats: %w", err)
		}
		s.onClose(func() error { conn.Close(); return nil })
		return syncbus.NewNATSBus(conn), nil
	case config.BackendKafka:
		kcfg := sarama.NewConfig()
		kcfg.ClientID = "chainlock"
		b, err := syncbus.NewKafkaBus(cfg.Bus.KafkaBrokers, kcfg)
		if err != nil {
			return nil, fmt.Errorf("presets: kafka: %w", err)
		}
		s.onClose(func() error { b.Close(); return nil })
		return b, nil
	}
	return nil, nil
}
