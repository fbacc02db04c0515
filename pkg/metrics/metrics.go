package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MessagesReceived counts raw inbound websocket messages per venue.
var MessagesReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthsim_messages_received_total",
		Help: "Total number of raw messages received from venue feeds",
	},
	[]string{"venue"},
)

// ParseErrors counts messages the venue adapters failed to classify or parse.
var ParseErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthsim_parse_errors_total",
		Help: "Total number of unparseable messages dropped at the adapter boundary",
	},
	[]string{"venue"},
)

// BookUpdates counts snapshots and deltas applied to the book engine.
var BookUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthsim_book_updates_total",
		Help: "Total number of book updates applied, by venue and kind",
	},
	[]string{"venue", "kind"},
)

// RejectedUpdates counts updates the book engine refused to apply.
var RejectedUpdates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthsim_rejected_updates_total",
		Help: "Total number of book updates rejected, by venue and reason",
	},
	[]string{"venue", "reason"},
)

// Reconnects counts reconnection attempts per venue.
var Reconnects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "depthsim_reconnects_total",
		Help: "Total number of reconnection attempts per venue",
	},
	[]string{"venue"},
)

// ConnectionState exports the supervisor state per venue (1 = current state).
var ConnectionState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "depthsim_connection_state",
		Help: "Current connection state per venue (1 for the active state)",
	},
	[]string{"venue", "state"},
)

// SimulateLatency records latency distribution for impact simulations.
var SimulateLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "depthsim_simulate_latency_seconds",
		Help:    "Latency in seconds to run an order impact simulation",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(MessagesReceived, ParseErrors, BookUpdates, RejectedUpdates)
	prometheus.MustRegister(Reconnects, ConnectionState, SimulateLatency)
}
