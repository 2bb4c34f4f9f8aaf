// Package metrics holds the process-wide Prometheus collectors for provider
// latency/rate-limits, detector runs, signal emission, and broker errors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	ProviderLatency = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradepilot",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of market-data provider HTTP calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"provider", "operation"},
	)

	ProviderRateLimitRemaining = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradepilot",
			Subsystem: "provider",
			Name:      "rate_limit_remaining",
			Help:      "Remaining requests in the provider's current rate-limit window.",
		},
		[]string{"provider"},
	)

	DetectorDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradepilot",
			Subsystem: "signal_generator",
			Name:      "detector_duration_seconds",
			Help:      "Duration of one detector evaluation tick.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"detector"},
	)

	SignalsEmitted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepilot",
			Subsystem: "signal_generator",
			Name:      "signals_emitted_total",
			Help:      "Total signals published, by signal type.",
		},
		[]string{"signal_type"},
	)

	SignalPublishFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepilot",
			Subsystem: "signal_generator",
			Name:      "publish_failures_total",
			Help:      "Total signal publish failures, by signal type.",
		},
		[]string{"signal_type"},
	)

	BrokerAPIErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepilot",
			Subsystem: "broker",
			Name:      "api_errors_total",
			Help:      "Total broker API errors, by broker and operation.",
		},
		[]string{"broker", "operation"},
	)

	ExecutionsByStatus = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradepilot",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Total executions transitioned into each terminal/interim status.",
		},
		[]string{"status"},
	)
)

// Handler exposes the registry over HTTP for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
