// Package metrics exposes the bridge's Prometheus collectors. The vendor
// API call counter replaces the per-period call count the upstream plugin
// only logged.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VendorCalls counts outbound vendor API requests per operation.
	VendorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallbox",
		Name:      "vendor_api_calls_total",
		Help:      "Outbound Wallbox API requests, labeled by operation.",
	}, []string{"operation"})

	// PollCycles counts completed poll cycles per charger and result.
	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallbox",
		Name:      "poll_cycles_total",
		Help:      "Charger status poll cycles, labeled by charger and result.",
	}, []string{"charger", "result"})

	// Commands counts command executions per intent and outcome.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallbox",
		Name:      "commands_total",
		Help:      "User commands, labeled by intent and outcome (committed, reverted, fault).",
	}, []string{"intent", "outcome"})

	// LiveWindows counts live-update windows started.
	LiveWindows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallbox",
		Name:      "live_update_windows_total",
		Help:      "High-frequency live update windows started.",
	})

	// TokenRefreshes counts session transitions by kind (cached, refreshed,
	// signin).
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallbox",
		Name:      "session_transitions_total",
		Help:      "Session token transitions, labeled by kind.",
	}, []string{"kind"})
)
