// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "content_runs"

var (
	// StageReports counts ingested stage reports by reported status.
	StageReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_reports_total",
			Help:      "Stage reports ingested, by reported stage status.",
		},
		[]string{"status"},
	)

	// RunTransitions counts run status changes by new status.
	RunTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_transitions_total",
			Help:      "Run status transitions, by new status.",
		},
		[]string{"status"},
	)

	// RelayPublishFailures counts realtime broadcasts that failed and were swallowed.
	RelayPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_failures_total",
			Help:      "Realtime publish attempts that failed.",
		},
	)

	// PollerPolls counts external engine polls by result.
	PollerPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_polls_total",
			Help:      "External execution polls, by result.",
		},
		[]string{"result"},
	)

	// ActivePollers is the number of running execution pollers.
	ActivePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_pollers",
			Help:      "Execution pollers currently running.",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
