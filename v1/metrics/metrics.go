package metrics

import "github.com/prometheus/client_golang/prometheus"

// Result labels used by the counters below.
const (
	ResultAcquired  = "acquired"
	ResultContended = "contended"
	ResultError     = "error"
	ResultHit       = "hit"
	ResultFetched   = "fetched"
)

var (
	// AcquireCounter counts TryAcquire calls by outcome.
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainlock_acquire_total",
		Help: "Total number of chain lock acquisition attempts",
	}, []string{"result"})
	// ReleaseCounter counts releases, including releases of keys never held.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainlock_release_total",
		Help: "Total number of chain lock releases",
	})
	// HeldGauge reports the number of keys currently held through this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainlock_held",
		Help: "Current number of held chain locks",
	})
	// PriceRequestCounter counts price lookups by outcome.
	PriceRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainlock_price_requests_total",
		Help: "Total number of price lookups",
	}, []string{"result"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers the chain lock collectors on reg.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, ReleaseCounter, HeldGauge)
}

// RegisterPriceMetrics registers the price collectors on reg.
func RegisterPriceMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PriceRequestCounter)
}
