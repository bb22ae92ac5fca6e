// Package metrics exposes Prometheus instrumentation for the trading
// engine. All methods are nil-safe so callers can run without metrics
// wired.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	placements     *prometheus.CounterVec
	bracketRetries prometheus.Counter
	rollbacks      prometheus.Counter
	closes         *prometheus.CounterVec
	rejections     prometheus.Counter
	openPositions  prometheus.Gauge
	realizedPnL    prometheus.Gauge
	placementTime  prometheus.Histogram
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		placements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "futbot_placements_total",
			Help: "Entry placements by outcome (filled, deferred, failed).",
		}, []string{"outcome"}),
		bracketRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "futbot_bracket_retries_total",
			Help: "Bracket placement attempts beyond the first.",
		}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "futbot_rollbacks_total",
			Help: "Placements that were rolled back after partial failure.",
		}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "futbot_position_closes_total",
			Help: "Position closes by reason.",
		}, []string{"reason"}),
		rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "futbot_risk_rejections_total",
			Help: "Signals rejected by the risk gate.",
		}),
		openPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "futbot_open_positions",
			Help: "Currently tracked open positions.",
		}),
		realizedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "futbot_realized_pnl",
			Help: "Realized PnL accumulated this session.",
		}),
		placementTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "futbot_placement_seconds",
			Help:    "Wall time of full entry-plus-brackets placements.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Placement(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(outcome).Inc()
	m.placementTime.Observe(seconds)
}

func (m *Metrics) BracketRetry() {
	if m == nil {
		return
	}
	m.bracketRetries.Inc()
}

func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(reason).Inc()
}

func (m *Metrics) RiskRejection() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

func (m *Metrics) SetRealizedPnL(pnl float64) {
	if m == nil {
		return
	}
	m.realizedPnL.Set(pnl)
}
