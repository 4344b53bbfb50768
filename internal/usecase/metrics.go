package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the ladder engine. Registered on the default
// registry and served by the web layer at /metrics.

var TicksTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Total price ticks accepted by the engine",
	},
)

var TicksDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "ticks_dropped_total",
		Help:      "Price ticks dropped before evaluation",
	},
	[]string{"reason"},
)

var DecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Decision outcomes per evaluated tick",
	},
	[]string{"action"},
)

var OrdersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "orders_total",
		Help:      "Order placements by reason tag and outcome",
	},
	[]string{"tag", "outcome"},
)

var LockSkips = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "lock_skips_total",
		Help:      "Tick evaluations skipped because another pass held the ladder lock",
	},
)

var ActiveLadders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "active_ladders",
		Help:      "Ladders currently in BUY or SELL mode",
	},
)

// OrderPlaceSeconds tracks gateway latency. The lock TTL must stay well
// above the high buckets or a slow broker can outlive the lock.
var OrderPlaceSeconds = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "ladder",
		Subsystem: "engine",
		Name:      "order_place_seconds",
		Help:      "Latency of order gateway calls in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
)
