// Package metrics defines custom Prometheus metrics for bleepsweep.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// candidateBuckets are exponential buckets for per-sweep candidate counts.
var candidateBuckets = []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepsweep_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepsweep_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Sweep metrics.
var (
	// SweepsTotal counts sweeps by mode and outcome (preview, deleted,
	// aborted, cancelled, error).
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepsweep_sweeps_total",
			Help: "Sweeps by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// SweepDuration observes end-to-end sweep latency in seconds.
	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepsweep_sweep_duration_seconds",
			Help:    "Sweep latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"mode"},
	)

	// Candidates observes the filtered candidate count of each sweep.
	Candidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepsweep_candidates",
			Help:    "Deletion candidates per sweep after filtering",
			Buckets: candidateBuckets,
		},
		[]string{"mode"},
	)

	// ObjectsRemovedTotal counts objects confirmed removed, by bucket.
	ObjectsRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepsweep_objects_removed_total",
			Help: "Objects confirmed removed",
		},
		[]string{"bucket"},
	)

	// DeleteFailuresTotal counts objects whose delete chunk failed, by bucket.
	DeleteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepsweep_delete_failures_total",
			Help: "Objects left in place by failed delete chunks",
		},
		[]string{"bucket"},
	)

	// ListPagesTotal counts listing pages fetched, by bucket.
	ListPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepsweep_list_pages_total",
			Help: "Object listing pages fetched",
		},
		[]string{"bucket"},
	)

	// UnrecognizedRefsTotal counts reference values the parser could not classify.
	UnrecognizedRefsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bleepsweep_unrecognized_refs_total",
			Help: "Reference values with an unrecognized shape",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			SweepsTotal,
			SweepDuration,
			Candidates,
			ObjectsRemovedTotal,
			DeleteFailuresTotal,
			ListPagesTotal,
			UnrecognizedRefsTotal,
		)
		// Initialize SweepsTotal so it appears in /metrics output even
		// before any sweep has run.
		SweepsTotal.WithLabelValues("orphan", "preview")
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. Unknown paths collapse to
// "/other" to keep label cardinality bounded.
func NormalizePath(path string) string {
	switch path {
	case "/health":
		return "/health"
	case "/purge", "/purge/":
		return "/purge"
	case "/docs", "/docs/":
		return "/docs"
	case "/metrics":
		return "/metrics"
	case "/", "":
		return "/"
	}

	// Stoplight Elements assets and OpenAPI document variants.
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/openapi") {
		return "/openapi"
	}
	if strings.HasPrefix(path, "/schemas/") {
		return "/schemas"
	}
	return "/other"
}
