// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartform"

var (
	// AuthFailures counts rejected magic links and sessions by internal
	// reason. Clients only ever see a single generic failure.
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_failures_total",
		Help:      "Rejected magic links and sessions by flow and reason.",
	}, []string{"flow", "reason"})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Sessions created from redeemed magic links or refreshes.",
	})

	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Usage limit checks by outcome.",
	}, []string{"outcome"})

	GenerationTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_tokens_total",
		Help:      "Tokens consumed by text generation calls.",
	}, []string{"endpoint"})

	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_failures_total",
		Help:      "Failed text generation calls.",
	}, []string{"endpoint"})

	ProgressSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "progress_saves_total",
		Help:      "Form progress checkpoints written.",
	})

	Submissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Completed form submissions.",
	})

	TokensPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_purged_total",
		Help:      "Expired tokens removed by the purge job.",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
