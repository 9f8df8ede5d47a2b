// Package metrics defines the Prometheus collectors exported by mailfiler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Filing metrics
var (
	MessagesFiled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_messages_filed_total",
			Help: "Total number of messages processed, by result",
		},
		[]string{"result"},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_dispatches_total",
			Help: "Total number of target dispatches, by target kind and result",
		},
		[]string{"kind", "result"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailfiler_dispatch_duration_seconds",
			Help:    "Duration of target dispatches in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"kind"},
	)

	ActionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailfiler_action_errors_total",
			Help: "Total number of failed action targets",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_alerts_total",
			Help: "Total number of alert commands run, by result",
		},
		[]string{"result"},
	)
)

// Rule file and monitor metrics
var (
	RuleLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailfiler_rule_loads_total",
			Help: "Total number of rule file loads, by result",
		},
		[]string{"result"},
	)

	RulesLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailfiler_rules_loaded",
			Help: "Number of rules in the active rule set of each watched folder",
		},
		[]string{"folder"},
	)

	LurkingMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailfiler_lurking_messages",
			Help: "Number of messages left in each watched folder after failing to file",
		},
		[]string{"folder"},
	)

	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailfiler_scan_duration_seconds",
			Help:    "Duration of one pass over a watched folder in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"folder"},
	)
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultNoTargets = "no_targets"
)
