package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the request core's collectors.
type Metrics struct {
	Requests           *prometheus.CounterVec
	RemoteCalls        *prometheus.CounterVec
	RemoteCallDuration prometheus.Histogram
	RateDelays         prometheus.Counter
	QuotaUsed          prometheus.Gauge
	CacheEntries       prometheus.Gauge
}

// New registers collectors on reg. A nil reg yields unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "killer_requests_total",
				Help: "Requests handled, by terminal state",
			},
			[]string{"state"},
		),
		RemoteCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "killer_remote_calls_total",
				Help: "Remote AI calls made, by outcome",
			},
			[]string{"outcome"},
		),
		RemoteCallDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "killer_remote_call_duration_seconds",
				Help:    "Remote AI call duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 8), // 100ms to ~13s
			},
		),
		RateDelays: f.NewCounter(
			prometheus.CounterOpts{
				Name: "killer_rate_limit_delays_total",
				Help: "Requests delayed by the per-minute limiter",
			},
		),
		QuotaUsed: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "killer_quota_used",
				Help: "Remote calls charged against today's quota",
			},
		),
		CacheEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "killer_cache_entries",
				Help: "Entries in the response cache",
			},
		),
	}
}
