package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CandidateQueries = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "candidate_queries_total", Help: "Total candidate match queries served"})
	CandidatesFound  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "candidates_per_query", Help: "Candidates returned per match query", Buckets: []float64{0, 1, 2, 5, 10}})
	StaleDemotions   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "stale_demotions_total", Help: "Drivers demoted to inactive by lazy staleness checks"})
	LocationUpdates  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_updates_total", Help: "Driver location reports applied"})

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "order_transitions_total", Help: "Order state transitions by outcome"},
		[]string{"transition"},
	)
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notify_failures_total", Help: "Messaging gateway deliveries that failed after a committed transition"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
