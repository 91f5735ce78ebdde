package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search results used as the "result" label of SearchCounter.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultNotFound = "not_found"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// Metrics holds the service level collectors. Cache internals are exported
// by the cache itself via cache.WithMetrics.
type Metrics struct {
	// SearchCounter tracks lookups by result.
	SearchCounter *prometheus.CounterVec
	// UpstreamLatency observes the duration of upstream fetches.
	UpstreamLatency prometheus.Histogram
	// ClearCounter tracks manual cache clears.
	ClearCounter prometheus.Counter
	// WatcherGauge reports the number of connected event stream clients.
	WatcherGauge prometheus.Gauge
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		SearchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warp_search_total",
			Help: "Total number of searches by result",
		}, []string{"result"}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warp_upstream_fetch_seconds",
			Help:    "Latency of upstream fetches",
			Buckets: prometheus.DefBuckets,
		}),
		ClearCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warp_cache_clear_total",
			Help: "Total number of manual cache clears",
		}),
		WatcherGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warp_watchers",
			Help: "Current number of connected event stream clients",
		}),
	}
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Register registers the collectors on the provided registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.SearchCounter, m.UpstreamLatency, m.ClearCounter, m.WatcherGauge)
}
