// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mengla_cache_lookups_total",
			Help: "Cache lookups by the query coordinator, by result",
		},
		[]string{"result"}, // hit | miss
	)

	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mengla_dispatches_total",
			Help: "Collection requests dispatched to the external platform, by outcome",
		},
		[]string{"outcome"},
	)

	ThrottleWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mengla_throttle_wait_seconds",
			Help:    "Time dispatches spent waiting for the request throttle",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mengla_webhook_deliveries_total",
			Help: "Webhook deliveries received, by whether a local waiter was woken",
		},
		[]string{"result"}, // waiter | no_waiter | rejected
	)

	PendingExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mengla_pending_executions",
			Help: "Executions this process is currently waiting on",
		},
	)
)
