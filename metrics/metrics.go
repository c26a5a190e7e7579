// Package metrics exposes Prometheus metrics for the depth feed and risk gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WSConnected 1 表示行情 WS 已连接。
	WSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feed_ws_connected",
		Help: "Whether the market data websocket is connected (1/0)",
	})

	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_ws_reconnects_total",
		Help: "Number of websocket reconnect attempts",
	})

	MalformedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_malformed_messages_total",
		Help: "Messages dropped because they could not be parsed",
	})

	SequenceGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "book_sequence_gaps_total",
		Help: "Delta messages rejected due to a sequence gap",
	})

	CrossedBooks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "book_crossed_total",
		Help: "Times the book became crossed and forced a resync",
	})

	SnapshotReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "book_snapshot_reloads_total",
		Help: "Snapshot bootstraps including resyncs",
	})

	BookImbalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "book_imbalance_ratio",
		Help: "Top-depth bid/ask volume ratio",
	}, []string{"symbol"})

	BookValid = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "book_valid",
		Help: "Whether the book is currently valid for signals (1/0)",
	}, []string{"symbol"})

	RiskDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_denials_total",
		Help: "Authorizations denied, by reason",
	}, []string{"reason"})

	RiskAllowed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "risk_allowed_total",
		Help: "Authorizations allowed",
	})

	KillSwitchEngaged = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_kill_switch_engaged",
		Help: "Whether the sticky kill switch is engaged (1/0)",
	})

	DailyPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_daily_pnl",
		Help: "Running daily realized+unrealized PnL",
	})
)

// StartMetricsServer 启动 Prometheus 指标服务器。
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
