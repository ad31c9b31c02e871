package presets

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-chainlock/v1/config"
	"github.com/mirkobrombin/go-chainlock/v1/lock"
	"github.com/mirkobrombin/go-chainlock/v1/network"
)

func TestNewStandalone(t *testing.T) {
	s := NewStandalone()
	defer s.Close()
	ctx := context.Background()

	res, err := s.Locks.TryAcquire(ctx, network.Mainnet, "w1", "BTC")
	if err != nil || !res.Success {
		t.Fatalf("acquire: %+v %v", res, err)
	}
	if res, _ := s.Locks.TryAcquire(ctx, network.Mainnet, "w1", "BTC"); res.Success {
		t.Fatal("second acquire must fail")
	}
	if err := s.Locks.Release(ctx, res.Key); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestNewRedisSharesLocksAcrossStacks(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	a := NewRedis(RedisOptions{Addr: mr.Addr()})
	defer a.Close()
	b := NewRedis(RedisOptions{Addr: mr.Addr()})
	defer b.Close()
	ctx := context.Background()

	res, err := a.Locks.TryAcquire(ctx, network.Testnet, "w1", "ETH")
	if err != nil || !res.Success {
		t.Fatalf("acquire: %+v %v", res, err)
	}
	if res, err := b.Locks.TryAcquire(ctx, network.Testnet, "w1", "DAI"); err != nil || res.Success {
		t.Fatalf("ethereum lock should be held by the other stack: %+v %v", res, err)
	}

	ch, err := b.Locks.Subscribe(ctx, res.Key)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := a.Locks.Release(ctx, res.Key); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("release event not delivered across stacks")
	}
	if res, _ := b.Locks.TryAcquire(ctx, network.Testnet, "w1", "ETH"); !res.Success {
		t.Fatal("lock should be free after release")
	}
}

func TestNewNATS(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()
	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	table := lock.NewMemoryTable()
	s := NewNATS(conn, table)
	ctx := context.Background()
	res, err := s.Locks.TryAcquire(ctx, network.Mainnet, "w1", "RBTC")
	if err != nil || !res.Success {
		t.Fatalf("acquire: %+v %v", res, err)
	}
	if table.Len() != 1 {
		t.Fatalf("expected the supplied table to hold the lock, got %d", table.Len())
	}
	ch, err := s.Locks.Subscribe(ctx, res.Key)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Locks.Release(ctx, res.Key); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("release event not delivered over nats")
	}
}

func TestFromConfigDefault(t *testing.T) {
	s, err := FromConfig(context.Background(), config.Default(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	defer s.Close()
	if s.Locks == nil || s.Prices == nil || s.Logger == nil {
		t.Fatal("stack not fully assembled")
	}
}

func TestFromConfigRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	cfg := config.Default()
	cfg.Lock.Backend = config.BackendRedis
	cfg.Lock.KeyPrefix = "test:"
	cfg.Lock.Redis.Addr = mr.Addr()
	cfg.Bus.Backend = config.BackendRedis
	cfg.Price.Cache = config.BackendRistretto

	s, err := FromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	defer s.Close()

	res, err := s.Locks.TryAcquire(context.Background(), network.Mainnet, "w9", "BTC")
	if err != nil || !res.Success {
		t.Fatalf("acquire: %+v %v", res, err)
	}
	if !mr.Exists("test:" + res.Key) {
		t.Fatalf("expected key %q in redis, have %v", "test:"+res.Key, mr.Keys())
	}
}

func TestFromConfigUnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Lock.Backend = config.BackendRedis
	cfg.Lock.Redis.Addr = addr
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := FromConfig(ctx, cfg, nil); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestFromConfigInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Backend = "carrier-pigeon"
	if _, err := FromConfig(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected validation error")
	}
}
