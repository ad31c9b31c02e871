package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mirkobrombin/go-chainlock/v1/asset"
	chainerrors "github.com/mirkobrombin/go-chainlock/v1/errors"
	"github.com/mirkobrombin/go-chainlock/v1/metrics"
	"github.com/mirkobrombin/go-chainlock/v1/network"
	"github.com/mirkobrombin/go-chainlock/v1/syncbus"
)

func TestTryAcquireReleaseScenario(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	res, err := r.TryAcquire(ctx, network.Mainnet, "wallet1", "BTC")
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if res != (Result{Key: "mainnet-wallet1-bitcoin", Success: true}) {
		t.Fatalf("unexpected result %+v", res)
	}
	res, err = r.TryAcquire(ctx, network.Mainnet, "wallet1", "BTC")
	if err != nil || res.Success {
		t.Fatalf("expected contention, got %+v err %v", res, err)
	}
	if res.Key != "mainnet-wallet1-bitcoin" {
		t.Fatalf("contended result should carry the key, got %q", res.Key)
	}
	if err := r.Release(ctx, "mainnet-wallet1-bitcoin"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = r.TryAcquire(ctx, network.Mainnet, "wallet1", "BTC")
	if err != nil || !res.Success {
		t.Fatalf("expected re-acquire after release, got %+v err %v", res, err)
	}
}

func TestAssetsOnSameChainShareLock(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	if res, _ := r.TryAcquire(ctx, network.Mainnet, "w", "ETH"); !res.Success {
		t.Fatal("expected ETH acquire")
	}
	res, err := r.TryAcquire(ctx, network.Mainnet, "w", "DAI")
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if res.Success {
		t.Fatal("DAI lives on ethereum and must contend with ETH")
	}
}

func TestReleaseNeverAcquiredIsNoop(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	if err := r.Release(ctx, "testnet-ghost-near"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err := r.TryAcquire(ctx, network.Testnet, "ghost", "NEAR")
	if err != nil || !res.Success {
		t.Fatalf("expected acquire, got %+v err %v", res, err)
	}
}

func TestDistinctTriplesDoNotContend(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	cases := []struct {
		net    network.Network
		wallet string
		symbol string
	}{
		{network.Mainnet, "w1", "BTC"},
		{network.Testnet, "w1", "BTC"},
		{network.Mainnet, "w2", "BTC"},
		{network.Mainnet, "w1", "ETH"},
	}
	for _, c := range cases {
		res, err := r.TryAcquire(ctx, c.net, c.wallet, c.symbol)
		if err != nil || !res.Success {
			t.Fatalf("%+v: expected success, got %+v err %v", c, res, err)
		}
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, b := New(nil), New(nil)
	if res, _ := a.TryAcquire(ctx, network.Mainnet, "w", "BTC"); !res.Success {
		t.Fatal("a: expected success")
	}
	if res, _ := b.TryAcquire(ctx, network.Mainnet, "w", "BTC"); !res.Success {
		t.Fatal("b: expected success on its own table")
	}
}

func TestTryAcquireUnknownAsset(t *testing.T) {
	table := NewMemoryTable()
	r := New(nil, WithTable(table))
	_, err := r.TryAcquire(context.Background(), network.Mainnet, "w", "DOGE")
	if !errors.Is(err, chainerrors.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if table.Len() != 0 {
		t.Fatal("unknown asset must not touch the table")
	}
}

func TestTryAcquireChain(t *testing.T) {
	r := New(asset.NewRegistry())
	res, err := r.TryAcquireChain(context.Background(), network.Testnet, "w", network.RSK)
	if err != nil || !res.Success || res.Key != "testnet-w-rsk" {
		t.Fatalf("unexpected %+v err %v", res, err)
	}
}

func TestConcurrentTryAcquireSingleWinner(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")
			if err != nil {
				t.Errorf("try acquire: %v", err)
				return
			}
			if res.Success {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Fatalf("expected exactly one winner, got %d", n)
	}
}

func TestReleaseNotifiesSubscriber(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	r := New(nil, WithBus(bus))
	ctx := context.Background()
	res, _ := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")

	ch, err := r.Subscribe(ctx, res.Key)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	other, _ := r.Subscribe(ctx, "mainnet-w-ethereum")

	if err := r.Release(ctx, res.Key); err != nil {
		t.Fatalf("release: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for release event")
	}
	select {
	case <-other:
		t.Fatal("release event leaked to another key")
	default:
	}

	if err := r.Unsubscribe(ctx, res.Key, ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if n := bus.Subscribers(ReleaseTopic(res.Key)); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestWaitRelease(t *testing.T) {
	bus := syncbus.NewInMemoryBus()
	r := New(nil, WithBus(bus))
	ctx := context.Background()
	res, _ := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")

	done := make(chan error, 1)
	go func() { done <- r.WaitRelease(ctx, res.Key) }()

	for i := 0; i < 100 && bus.Subscribers(ReleaseTopic(res.Key)) == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	_ = r.Release(ctx, res.Key)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitRelease did not return")
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := r.WaitRelease(cctx, res.Key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	first, _ := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Release(ctx, first.Key)
	}()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	// Poll interval far above the release delay: success must come from the event.
	res, err := r.Acquire(cctx, network.Mainnet, "w", "BTC", WithPollInterval(time.Minute, time.Minute))
	if err != nil || !res.Success {
		t.Fatalf("acquire: %+v err %v", res, err)
	}
}

func TestAcquireFallsBackToPolling(t *testing.T) {
	table := NewMemoryTable()
	r := New(nil, WithTable(table))
	ctx := context.Background()
	first, _ := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")

	go func() {
		time.Sleep(20 * time.Millisecond)
		// Clear behind the registry's back: no release event is sent.
		_, _ = table.Clear(ctx, first.Key)
	}()

	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := r.Acquire(cctx, network.Mainnet, "w", "BTC", WithPollInterval(5*time.Millisecond, 10*time.Millisecond))
	if err != nil || !res.Success {
		t.Fatalf("acquire: %+v err %v", res, err)
	}
}

func TestAcquireTimeout(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	_, _ = r.TryAcquire(ctx, network.Mainnet, "w", "BTC")

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := r.Acquire(cctx, network.Mainnet, "w", "BTC", WithPollInterval(time.Millisecond, 2*time.Millisecond))
	if err == nil || res.Success {
		t.Fatalf("expected timeout, got %+v err %v", res, err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("acquire did not respect context timeout")
	}
}

func TestAcquireOneWinnerPerRelease(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var holders atomic.Int32
	var maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Acquire(ctx, network.Mainnet, "w", "ETH", WithPollInterval(time.Millisecond, 5*time.Millisecond))
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			holders.Add(-1)
			_ = r.Release(ctx, res.Key)
		}()
	}
	wg.Wait()
	if m := maxHolders.Load(); m != 1 {
		t.Fatalf("expected at most one concurrent holder, saw %d", m)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(nil, WithMetrics(reg))
	ctx := context.Background()

	acquired := testutil.ToFloat64(metrics.AcquireCounter.WithLabelValues(metrics.ResultAcquired))
	contended := testutil.ToFloat64(metrics.AcquireCounter.WithLabelValues(metrics.ResultContended))
	released := testutil.ToFloat64(metrics.ReleaseCounter)
	held := testutil.ToFloat64(metrics.HeldGauge)

	res, _ := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")
	_, _ = r.TryAcquire(ctx, network.Mainnet, "w", "BTC")
	if got := testutil.ToFloat64(metrics.HeldGauge); got != held+1 {
		t.Fatalf("held gauge: want %v got %v", held+1, got)
	}
	_ = r.Release(ctx, res.Key)
	_ = r.Release(ctx, res.Key)

	if got := testutil.ToFloat64(metrics.AcquireCounter.WithLabelValues(metrics.ResultAcquired)); got != acquired+1 {
		t.Fatalf("acquired: want %v got %v", acquired+1, got)
	}
	if got := testutil.ToFloat64(metrics.AcquireCounter.WithLabelValues(metrics.ResultContended)); got != contended+1 {
		t.Fatalf("contended: want %v got %v", contended+1, got)
	}
	if got := testutil.ToFloat64(metrics.ReleaseCounter); got != released+2 {
		t.Fatalf("released: want %v got %v", released+2, got)
	}
	if got := testutil.ToFloat64(metrics.HeldGauge); got != held {
		t.Fatalf("held gauge after release: want %v got %v", held, got)
	}
}

type failingBus struct{ *syncbus.InMemoryBus }

func (failingBus) Publish(context.Context, string) error { return errors.New("bus down") }

func TestReleaseSurvivesBusFailure(t *testing.T) {
	r := New(nil, WithBus(failingBus{syncbus.NewInMemoryBus()}))
	ctx := context.Background()
	res, _ := r.TryAcquire(ctx, network.Mainnet, "w", "BTC")
	if err := r.Release(ctx, res.Key); err != nil {
		t.Fatalf("release should not fail on bus error: %v", err)
	}
	if held, _ := r.Held(ctx, res.Key); held {
		t.Fatal("key still held")
	}
}
