package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-chainlock/v1/balance"
	"github.com/mirkobrombin/go-chainlock/v1/config"
	"github.com/mirkobrombin/go-chainlock/v1/ledger"
	"github.com/mirkobrombin/go-chainlock/v1/lock"
	"github.com/mirkobrombin/go-chainlock/v1/metrics"
	"github.com/mirkobrombin/go-chainlock/v1/network"
	"github.com/mirkobrombin/go-chainlock/v1/presets"
	"github.com/mirkobrombin/go-chainlock/v1/wait"
)

var (
	configPath  = flag.String("config", "", "Path to a TOML config file")
	metricsAddr = flag.String("metrics", "", "Expose Prometheus metrics on this address")
	traceStdout = flag.Bool("trace", false, "Export spans to stdout")
	currency    = flag.String("currency", "usd", "Quote currency for prices")
	netName     = flag.String("network", "mainnet", "Network for demo and serve")
	workers     = flag.Int("c", 8, "Concurrent workers for demo")
	rounds      = flag.Int("n", 5, "Acquisitions per worker for demo")
	listenAddr  = flag.String("listen", ":8080", "Listen address for serve")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: chainlock [flags] <command> [args]

commands:
  prices SYMBOL...     print prices for the given assets
  demo WALLET SYMBOL   contend for one chain lock from -c workers
  serve                serve release events over SSE and websocket
  networks             print the chain table
  ledger               print the hardware wallet options
  rsk-balance ADDR...  sum mainnet RSK balances of the given addresses

flags:
`)
	flag.PrintDefaults()
}

var errUsage = errors.New("usage")

func main() {
	flag.Usage = usage
	flag.Parse()
	if err := run(); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run() error {
	if flag.NArg() == 0 {
		return errUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *traceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	reg := metrics.NewRegistry()
	stack, err := presets.FromConfig(ctx, cfg, reg)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer stack.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if *metricsAddr != "" {
		go func() {
			log.Printf("metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	args := flag.Args()
	switch args[0] {
	case "prices":
		return runPrices(ctx, stack, args[1:])
	case "demo":
		return runDemo(ctx, stack, args[1:])
	case "serve":
		return runServe(ctx, stack, mux)
	case "networks":
		runNetworks()
		return nil
	case "ledger":
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"iframe":  ledger.BridgeIframeName,
			"options": ledger.Options,
			"bitcoin": ledger.BitcoinOptions,
		})
	case "rsk-balance":
		return runRSKBalance(ctx, args[1:])
	}
	return errUsage
}

func runPrices(ctx context.Context, stack *presets.Stack, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("prices: no symbols")
	}
	prices, err := stack.Prices.GetPrices(ctx, symbols, *currency)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		p, ok := prices[s]
		if !ok {
			fmt.Printf("%-8s n/a\n", s)
			continue
		}
		fmt.Printf("%-8s %f %s\n", s, p, strings.ToUpper(*currency))
	}
	return nil
}

func runDemo(ctx context.Context, stack *presets.Stack, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("demo: want WALLET SYMBOL")
	}
	net, err := network.ParseNetwork(*netName)
	if err != nil {
		return err
	}
	walletID, symbol := args[0], args[1]
	log.Printf("demo: %d workers x %d rounds on %s/%s/%s", *workers, *rounds, net, walletID, symbol)

	var acquired, overlap atomic.Int64
	var inside atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < *rounds; j++ {
				res, err := stack.Locks.Acquire(ctx, net, walletID, symbol)
				if err != nil {
					log.Printf("worker %d: %v", id, err)
					return
				}
				if inside.Add(1) > 1 {
					overlap.Add(1)
				}
				acquired.Add(1)
				_ = wait.Random(ctx, 5*time.Millisecond, 20*time.Millisecond)
				inside.Add(-1)
				if err := stack.Locks.Release(ctx, res.Key); err != nil {
					log.Printf("worker %d: release: %v", id, err)
				}
			}
		}(i)
	}
	wg.Wait()
	log.Printf("demo: %d acquisitions in %v, %d overlaps", acquired.Load(), time.Since(start), overlap.Load())
	if overlap.Load() > 0 {
		return fmt.Errorf("demo: lock held by more than one worker")
	}
	return nil
}

func runServe(ctx context.Context, stack *presets.Stack, mux *http.ServeMux) error {
	net, err := network.ParseNetwork(*netName)
	if err != nil {
		return err
	}
	mux.Handle("/events", lock.ReleaseSSEHandler(stack.Locks))
	mux.Handle("/ws", lock.ReleaseWebSocketHandler(stack.Locks))
	mux.HandleFunc("/acquire", func(w http.ResponseWriter, r *http.Request) {
		res, err := stack.Locks.TryAcquire(r.Context(), net, r.URL.Query().Get("wallet"), r.URL.Query().Get("asset"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/release", func(w http.ResponseWriter, r *http.Request) {
		if err := stack.Locks.Release(r.Context(), r.URL.Query().Get("key")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("serving on %s", *listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runNetworks() {
	for _, c := range network.Chains() {
		nets := make([]string, 0, 2)
		for n := range network.ChainNetworks[c] {
			nets = append(nets, string(n))
		}
		sort.Strings(nets)
		for _, n := range nets {
			p := network.ChainNetworks[c][network.Network(n)]
			id := "-"
			if p.ChainID != nil {
				id = p.ChainID.String()
			}
			fmt.Printf("%-10s %-8s %-6s %s\n", c, n, id, p.RPCURL)
		}
	}
}

func runRSKBalance(ctx context.Context, addrs []string) error {
	if len(addrs) == 0 {
		return fmt.Errorf("rsk-balance: no addresses")
	}
	client, err := balance.DialRSK(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	total, err := balance.LegacyRSK(ctx, client, balance.Accounts{
		"cli": {network.Mainnet: {{Chain: network.RSK, Addresses: addrs}}},
	})
	if err != nil {
		return err
	}
	fmt.Println(total.String())
	return nil
}
