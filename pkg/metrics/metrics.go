// Package metrics holds the process-wide Prometheus collectors. They
// register on the default registry and are served by the API's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoundsTotal counts finished generation rounds by outcome.
	RoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_rounds_total",
		Help: "Generation rounds finished, labeled by outcome.",
	}, []string{"outcome"})

	// RoundDuration observes how long one full round takes, from prompt
	// assembly through persistence.
	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loom_round_duration_seconds",
		Help:    "Duration of one generation round.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ProviderErrors counts provider failures by provider name and
	// normalized error code.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_provider_errors_total",
		Help: "Provider call failures by provider and error code.",
	}, []string{"provider", "code"})

	// RoundRetries counts transient round failures that entered the
	// backoff ladder.
	RoundRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_round_retries_total",
		Help: "Rounds retried after a retryable provider failure.",
	})

	// WebsocketClients tracks currently connected event subscribers.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_websocket_clients",
		Help: "Currently connected websocket clients.",
	})

	// EventsDropped counts events discarded because a subscriber queue
	// was full and the oldest entry was evicted.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_events_dropped_total",
		Help: "Events dropped from full subscriber queues.",
	})
)
