// Package metrics exposes prometheus counters/gauges for the engine's
// trading cycle: a custom prometheus.Registry populated via promauto,
// with per-strategy cycle/signal/order/rejection counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for engine metrics.
var Registry = prometheus.NewRegistry()

var (
	// CyclesTotal counts completed trading cycles per strategy.
	CyclesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Total number of completed trading cycles",
		},
		[]string{"strategy"},
	)

	// CycleDuration observes per-cycle wall-clock duration.
	CycleDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Trading cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	// SignalsTotal counts non-HOLD signals emitted, by strategy/signal.
	SignalsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "signals_total",
			Help:      "Total number of actionable signals generated",
		},
		[]string{"strategy", "signal"},
	)

	// OrdersTotal counts submitted orders by strategy/side/status.
	OrdersTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "orders_total",
			Help:      "Total number of orders submitted to the broker",
		},
		[]string{"strategy", "side", "status"},
	)

	// RiskRejectionsTotal counts orders the risk manager declined.
	RiskRejectionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "risk_rejections_total",
			Help:      "Total number of orders rejected by the risk manager",
		},
		[]string{"strategy", "symbol"},
	)

	// ConsecutiveErrors tracks the current error streak per strategy.
	ConsecutiveErrors = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "consecutive_errors",
			Help:      "Current consecutive cycle-error count for a strategy loop",
		},
		[]string{"strategy"},
	)

	// StrategiesRunning reports 1/0 per strategy loop.
	StrategiesRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ironclad",
			Subsystem: "engine",
			Name:      "strategy_running",
			Help:      "Whether a strategy loop is currently running (1) or not (0)",
		},
		[]string{"strategy"},
	)
)

// Init registers the standard Go/process collectors alongside the
// engine-specific ones declared above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
