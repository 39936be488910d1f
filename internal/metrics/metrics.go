// Package metrics provides Prometheus instrumentation for the anonchat
// engine: queue and pairing gauges, counters for matches, reports, bans and
// rematch outcomes, and a histogram for time spent waiting in the queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth tracks the current number of users waiting for a match.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anonchat_queue_depth",
		Help: "Current number of users in the waiting queue",
	})

	// ActivePairs tracks the current number of active pairings.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anonchat_active_pairs",
		Help: "Current number of active pairings",
	})

	// MatchesTotal counts pairings created, labeled by origin:
	// "queue" or "rematch".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_matches_total",
		Help: "Total pairings created",
	}, []string{"origin"})

	// MessagesTotal counts relayed messages, labeled "relayed", "blocked"
	// or "vaulted".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_messages_total",
		Help: "Total messages processed by the relay",
	}, []string{"type"})

	// ReportsTotal counts accepted abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_reports_total",
		Help: "Total abuse reports accepted",
	})

	// BansTotal counts applied bans, labeled "auto" or "admin".
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_bans_total",
		Help: "Total bans applied",
	}, []string{"kind"})

	// RematchTotal counts rematch outcomes: "immediate", "accepted",
	// "declined", "expired".
	RematchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_rematch_total",
		Help: "Total rematch handshake outcomes",
	}, []string{"outcome"})

	// GrantsTotal counts entitlement grants by SKU.
	GrantsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_grants_total",
		Help: "Total entitlement grants",
	}, []string{"sku"})

	// NotifyFailures counts failed best-effort notification sends.
	NotifyFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anonchat_notify_failures_total",
		Help: "Total failed notification deliveries",
	})

	// QueueWaitSeconds records time from enqueue to pairing.
	QueueWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anonchat_queue_wait_seconds",
		Help:    "Time spent in the waiting queue before pairing",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	// RateLimited counts operations rejected by the per-family limiter.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anonchat_rate_limited_total",
		Help: "Total operations rejected by the rate limiter",
	}, []string{"family"})
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		ActivePairs,
		MatchesTotal,
		MessagesTotal,
		ReportsTotal,
		BansTotal,
		RematchTotal,
		GrantsTotal,
		NotifyFailures,
		QueueWaitSeconds,
		RateLimited,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
