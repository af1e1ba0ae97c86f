package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stars_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stars_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DatabaseConnectionsGauge tracks DB pool state (open, idle, in_use)
	DatabaseConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stars_database_connections",
			Help: "Database connection pool state",
		},
		[]string{"state"},
	)

	// WebhookDeliveriesTotal counts inbound webhook deliveries by provider and outcome
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stars_webhook_deliveries_total",
			Help: "Total number of inbound webhook deliveries",
		},
		[]string{"provider", "outcome"},
	)

	// StarsCreditedTotal counts stars credited to user balances
	StarsCreditedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stars_credited_total",
			Help: "Total stars credited, by chain",
		},
		[]string{"chain"},
	)

	// ReconcileJobsTotal counts job queue outcomes
	ReconcileJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stars_reconcile_jobs_total",
			Help: "Total reconcile jobs by terminal status",
		},
		[]string{"kind", "status"},
	)

	// DLQDepthGauge tracks the current dead letter queue depth
	DLQDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stars_reconcile_dlq_depth",
			Help: "Number of reconcile jobs currently in the DLQ",
		},
	)
)
