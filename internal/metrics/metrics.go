// Package metrics exposes the Prometheus counters the bot updates during a
// trading session, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Ticks received from the streaming connection",
		},
		[]string{"broker"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders placed",
		},
		[]string{"broker", "side", "result"}, // result: filled|failed
	)

	mtxReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_stream_reconnects_total",
			Help: "Streaming connection reconnect attempts",
		},
		[]string{"broker"},
	)

	// Exits split by reason: stop_loss, target, eod.
	mtxExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason and side",
		},
		[]string{"reason", "side"},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_open_positions",
			Help: "Currently open positions across all symbols",
		},
	)

	mtxRealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_realized_pnl",
			Help: "Realized profit and loss for the day",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTicks, mtxOrders, mtxReconnects,
		mtxExitReasons, mtxOpenPositions, mtxRealizedPnL,
	)
}

func TickReceived(broker string) { mtxTicks.WithLabelValues(broker).Inc() }

func OrderPlaced(broker, side string, filled bool) {
	result := "failed"
	if filled {
		result = "filled"
	}
	mtxOrders.WithLabelValues(broker, side, result).Inc()
}

func StreamReconnect(broker string) { mtxReconnects.WithLabelValues(broker).Inc() }

func ExitRecorded(reason, side string) { mtxExitReasons.WithLabelValues(reason, side).Inc() }

func SetOpenPositions(n int) { mtxOpenPositions.Set(float64(n)) }

func SetRealizedPnL(v float64) { mtxRealizedPnL.Set(v) }

// Handler returns the Prometheus text exposition handler.
func Handler() http.Handler { return promhttp.Handler() }
