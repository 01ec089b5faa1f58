package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the engine, worker and API.
type Metrics struct {
	Ticks           prometheus.Counter
	Signals         *prometheus.CounterVec
	Orders          *prometheus.CounterVec
	Blocked         *prometheus.CounterVec
	Equity          prometheus.Gauge
	StreamConnected prometheus.Gauge
	WorkerRuns      *prometheus.CounterVec
	WorkerOrders    *prometheus.CounterVec
	TradeEvents     *prometheus.CounterVec
	APIRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "gmgp_ticks_total",
			Help: "Trade ticks received from the market data stream",
		}),
		Signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_signals_total",
			Help: "Strategy signals by strategy and side",
		}, []string{"strategy", "side"}),
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_orders_total",
			Help: "Order attempts by result",
		}, []string{"result"}),
		Blocked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_orders_blocked_total",
			Help: "Orders blocked by the safety rails, by reason",
		}, []string{"reason"}),
		Equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "gmgp_account_equity_usd",
			Help: "Last known account equity",
		}),
		StreamConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "gmgp_stream_connected",
			Help: "1 while the market data stream is authenticated",
		}),
		WorkerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_worker_runs_total",
			Help: "Scheduled worker runs by result",
		}, []string{"result"}),
		WorkerOrders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_worker_orders_total",
			Help: "Orders submitted by the worker, by side",
		}, []string{"side"}),
		TradeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_trade_events_total",
			Help: "Trade events published or consumed, by sink and result",
		}, []string{"sink", "result"}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gmgp_api_requests_total",
			Help: "Dashboard API requests by route, method and status",
		}, []string{"route", "method", "status"}),
	}
}
