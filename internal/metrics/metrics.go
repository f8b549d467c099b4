// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// View outcomes.
const (
	OutcomeServed             = "served"
	OutcomeUnavailable        = "unavailable"
	OutcomePassphraseRequired = "passphrase_required"
	OutcomeError              = "error"
)

var (
	// PastesCreated counts successful submissions.
	PastesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limitpaste_pastes_created_total",
		Help: "no. of pastes created",
	})
	// PasteViews counts view attempts, labelled by outcome.
	PasteViews = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "limitpaste_paste_views_total",
			Help: "no. of view attempts by outcome",
		},
		[]string{"outcome"},
	)
	// StoreErrors counts unexpected engine failures per store operation.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "limitpaste_store_errors_total",
			Help: "no. of storage failures by operation",
		},
		[]string{"op"},
	)
	// RequestDuration observes HTTP latency by route pattern.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "limitpaste_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
