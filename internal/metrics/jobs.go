package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopcast",
		Subsystem: "jobs",
		Name:      "started_total",
		Help:      "Stream jobs launched, by trigger and output mode",
	}, []string{"trigger", "mode"})

	jobsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopcast",
		Subsystem: "jobs",
		Name:      "ended_total",
		Help:      "Stream jobs that reached a terminal state",
	}, []string{"state"})

	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loopcast",
		Subsystem: "jobs",
		Name:      "active",
		Help:      "Stream jobs currently running",
	})

	jobOutputLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loopcast",
		Subsystem: "jobs",
		Name:      "output_lines_total",
		Help:      "Encoder output lines forwarded to job sinks",
	})

	autoStartDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopcast",
		Subsystem: "autostart",
		Name:      "decisions_total",
		Help:      "Auto-start checks by outcome",
	}, []string{"outcome"})
)

// Trigger values for JobStarted.
const (
	TriggerManual    = "manual"
	TriggerAutoStart = "autostart"
)

// JobStarted records a launch attempt that reached Running.
func JobStarted(trigger string, vertical bool) {
	mode := "landscape"
	if vertical {
		mode = "shorts"
	}
	jobsStarted.WithLabelValues(trigger, mode).Inc()
	jobsActive.Inc()
}

// JobEnded records a terminal state. wasRunning is false for jobs that
// never left Pending, which were not counted as active.
func JobEnded(state string, wasRunning bool) {
	jobsEnded.WithLabelValues(state).Inc()
	if wasRunning {
		jobsActive.Dec()
	}
}

// JobOutputLine counts one forwarded output line.
func JobOutputLine() {
	jobOutputLines.Inc()
}

// AutoStartDecision counts one auto-start check outcome.
func AutoStartDecision(outcome string) {
	autoStartDecisions.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
