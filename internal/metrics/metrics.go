// Package metrics exposes Prometheus collectors for the incident workflow.
// All collectors are registered with the default registry on init and are
// safe for concurrent use.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Events counts inbound webhook events by classification
	// (message, card_action, ignored, dropped, failed).
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_events_total",
			Help: "Inbound chat events by classification.",
		},
		[]string{"kind"},
	)

	// Declared counts P0 sessions created.
	Declared = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signalbox_incidents_declared_total",
		Help: "P0 incidents declared.",
	})

	// ActiveSessions gauges the number of open P0 sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signalbox_incident_sessions_active",
		Help: "Currently active P0 sessions.",
	})

	// Submissions counts overview form submissions by result (accepted, rejected).
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_incident_submissions_total",
			Help: "Overview form submissions by result.",
		},
		[]string{"result"},
	)

	// Translations counts translation lookups by result
	// (hit, translated, passthrough, error).
	Translations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_translations_total",
			Help: "Translation cache lookups by result.",
		},
		[]string{"result"},
	)

	// NotifyFailures counts failed broadcast deliveries per channel.
	NotifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_notify_failures_total",
			Help: "Failed secondary-channel deliveries.",
		},
		[]string{"channel"},
	)

	// Calls counts on-call phone calls by result (placed, failed, skipped).
	Calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_oncall_calls_total",
			Help: "On-call phone calls by result.",
		},
		[]string{"result"},
	)

	// AutomationRuns counts automation trigger outcomes
	// (cooldown, ok, failed, timeout, rejected).
	AutomationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbox_automation_runs_total",
			Help: "Call-automation script runs by outcome.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		Events,
		Declared,
		ActiveSessions,
		Submissions,
		Translations,
		NotifyFailures,
		Calls,
		AutomationRuns,
	)
}
