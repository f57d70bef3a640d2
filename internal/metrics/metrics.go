// Package metrics exposes Prometheus metrics for the engine and scheduler.
//
//	spot_decisions_total{side,outcome}  decision outcomes of the position engine
//	spot_orders_total{side,source}      orders placed (source: engine|scheduler)
//	spot_ghost_records_total{side}      rejected attempts recorded
//	spot_ticks_dropped_total{symbol}    ticks skipped while a handler was in flight
//	spot_active_subscriptions           live price subscriptions
//	spot_realized_profit_total          realized profit of completed pending orders
//
// Metrics are registered in init() and served at /metrics by the API server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_decisions_total",
			Help: "Position engine decisions by side and outcome",
		},
		[]string{"side", "outcome"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_orders_total",
			Help: "Orders placed",
		},
		[]string{"side", "source"},
	)

	ghosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_ghost_records_total",
			Help: "Rejected trade attempts recorded",
		},
		[]string{"side"},
	)

	ticksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spot_ticks_dropped_total",
			Help: "Price ticks dropped because a handler was in flight",
		},
		[]string{"symbol"},
	)

	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spot_active_subscriptions",
			Help: "Live price subscriptions held by the scheduler",
		},
	)

	realizedProfit = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spot_realized_profit_total",
			Help: "Realized profit of completed pending orders in quote currency (gains only)",
		},
	)

	realizedLoss = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spot_realized_loss_total",
			Help: "Realized loss of completed pending orders in quote currency",
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, orders, ghosts, ticksDropped)
	prometheus.MustRegister(activeSubscriptions, realizedProfit, realizedLoss)
}

func IncDecision(side, outcome string) { decisions.WithLabelValues(side, outcome).Inc() }
func IncOrder(side, source string)     { orders.WithLabelValues(side, source).Inc() }
func IncGhost(side string)             { ghosts.WithLabelValues(side).Inc() }
func IncTickDropped(symbol string)     { ticksDropped.WithLabelValues(symbol).Inc() }
func SetActiveSubscriptions(n int)     { activeSubscriptions.Set(float64(n)) }

// AddRealized records a completed round trip's profit; counters only grow,
// so losses go to their own series.
func AddRealized(profit float64) {
	if profit >= 0 {
		realizedProfit.Add(profit)
	} else {
		realizedLoss.Add(-profit)
	}
}
