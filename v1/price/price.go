// Package price fetches asset prices from the CoinGecko simple price API and
// keys them by wallet asset symbol.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-chainlock/v1/asset"
	"github.com/mirkobrombin/go-chainlock/v1/cache"
	"github.com/mirkobrombin/go-chainlock/v1/metrics"
)

// DefaultBaseURL is the public CoinGecko API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

const defaultTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/mirkobrombin/go-chainlock/v1/price")

// Rates maps a CoinGecko id to its price per upper-case currency code.
type Rates map[string]map[string]float64

// RatesCost is the number of quotes in r, for cache.WithCost.
func RatesCost(r Rates) int64 {
	var n int64
	for _, cur := range r {
		n += int64(len(cur))
	}
	return n
}

// HTTPError is returned when the price API answers with a non 2xx status.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return "price: upstream returned " + e.Status
}

// Client queries the price index.
type Client struct {
	baseURL  string
	http     *http.Client
	catalog  asset.Resolver
	cache    cache.Cache[Rates]
	cacheTTL time.Duration
	logger   *slog.Logger
	metrics  bool
	group    singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithCatalog sets the asset catalog. The default is asset.Default().
func WithCatalog(cat asset.Resolver) Option {
	return func(c *Client) {
		c.catalog = cat
	}
}

// WithCache keeps upstream responses in cache for ttl.
func WithCache(rc cache.Cache[Rates], ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = rc
		c.cacheTTL = ttl
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics registers the price collectors on reg and enables them.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) {
		metrics.RegisterPriceMetrics(reg)
		c.metrics = true
	}
}

// NewClient returns a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		catalog: asset.Default(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPrices returns the price of every symbol in the to currency. Symbols
// without a CoinGecko id borrow the price of their matching asset. Symbols for
// which no price is known are left out of the result.
func (c *Client) GetPrices(ctx context.Context, symbols []string, to string) (map[string]float64, error) {
	cur := strings.ToUpper(to)
	assets := make([]asset.Asset, 0, len(symbols))
	idSet := make(map[string]struct{})
	for _, s := range symbols {
		a, err := c.catalog.Lookup(s)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
		if a.CoinGeckoID != "" {
			idSet[a.CoinGeckoID] = struct{}{}
			continue
		}
		if a.MatchingAsset != "" {
			m, err := c.catalog.Lookup(a.MatchingAsset)
			if err == nil && m.CoinGeckoID != "" {
				idSet[m.CoinGeckoID] = struct{}{}
			}
		}
	}

	out := make(map[string]float64, len(assets))
	if len(idSet) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rates, err := c.rates(ctx, ids, strings.ToLower(to))
	if err != nil {
		return nil, err
	}

	for _, a := range assets {
		r, ok := rates[a.CoinGeckoID]
		if !ok && a.MatchingAsset != "" {
			if m, err := c.catalog.Lookup(a.MatchingAsset); err == nil {
				r, ok = rates[m.CoinGeckoID]
			}
		}
		if !ok {
			continue
		}
		if p, ok := r[cur]; ok {
			out[a.Symbol] = p
		}
	}
	return out, nil
}

func (c *Client) rates(ctx context.Context, ids []string, to string) (Rates, error) {
	key := strings.Join(ids, ",") + "|" + to
	if c.cache != nil {
		r, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("price: cache get failed", "key", key, "error", err)
		} else if ok {
			c.count(metrics.ResultHit)
			return r, nil
		}
	}

	// The shared fetch outlives any single caller; the HTTP client timeout
	// bounds it instead.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		r, err := c.fetch(fetchCtx, ids, to)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if err := c.cache.Set(fetchCtx, key, r, c.cacheTTL); err != nil {
				c.logger.Warn("price: cache set failed", "key", key, "error", err)
			}
		}
		return r, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			c.count(metrics.ResultError)
			return nil, res.Err
		}
		c.count(metrics.ResultFetched)
		return res.Val.(Rates), nil
	case <-ctx.Done():
		c.count(metrics.ResultError)
		return nil, ctx.Err()
	}
}

func (c *Client) fetch(ctx context.Context, ids []string, to string) (Rates, error) {
	ctx, span := tracer.Start(ctx, "price.Client.fetch", trace.WithAttributes(
		attribute.StringSlice("chainlock.price.ids", ids),
		attribute.String("chainlock.price.currency", to),
	))
	defer span.End()

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("price: fetching", "ids", ids, "currency", to)
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("price: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		span.RecordError(err)
		return nil, err
	}

	var raw map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("price: decode response: %w", err)
	}
	rates := make(Rates, len(raw))
	for id, byCur := range raw {
		up := make(map[string]float64, len(byCur))
		for k, v := range byCur {
			up[strings.ToUpper(k)] = v
		}
		rates[id] = up
	}
	return rates, nil
}

func (c *Client) count(result string) {
	if c.metrics {
		metrics.PriceRequestCounter.WithLabelValues(result).Inc()
	}
}
