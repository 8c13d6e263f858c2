// Package metrics exports run reports as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"envgrid/trader"
)

const namespace = "envgrid"

// Recorder is a trader.RunObserver that updates Prometheus collectors.
type Recorder struct {
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	orders       *prometheus.CounterVec
	balance      prometheus.Gauge
	skippedPairs prometheus.Gauge
	lastRun      prometheus.Gauge
	lastSuccess  prometheus.Gauge
	positionUSD  *prometheus.GaugeVec
	envelopeBase *prometheus.GaugeVec
}

// NewRecorder registers the collectors on reg. Use prometheus.DefaultRegisterer
// to expose them on the default /metrics handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by exchange and result",
		}, []string{"exchange", "result"}),

		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a reconciliation run",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),

		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders placed or cancelled, by kind",
		}, []string{"kind"}), // cancel, cancel_trigger, close, stop, grid

		balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_usdt",
			Help:      "Total margin balance seen by the last run",
		}),

		skippedPairs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped_pairs",
			Help:      "Configured pairs skipped by the last run",
		}),

		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),

		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished",
		}),

		positionUSD: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_usd",
			Help:      "Open position notional per pair and side",
		}, []string{"pair", "side"}),

		envelopeBase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "envelope_base",
			Help:      "Moving-average base of the last closed candle",
		}, []string{"pair"}),
	}
}

// OnRunFinished implements trader.RunObserver.
func (r *Recorder) OnRunFinished(_ context.Context, report *trader.RunReport) {
	result := "success"
	if !report.Succeeded() {
		result = "failure"
	}
	r.runs.WithLabelValues(report.Exchange, result).Inc()
	r.runDuration.Observe(report.Duration().Seconds())
	r.lastRun.Set(float64(report.FinishedAt.Unix()))

	for _, o := range report.Orders {
		n := 1
		if o.Count > 0 {
			n = o.Count
		}
		r.orders.WithLabelValues(o.Kind).Add(float64(n))
	}

	if !report.Succeeded() {
		return
	}
	r.lastSuccess.Set(float64(report.FinishedAt.Unix()))
	r.balance.Set(report.Balance)
	r.skippedPairs.Set(float64(len(report.Skipped)))

	// Positions and bases describe the latest snapshot only
	r.positionUSD.Reset()
	r.envelopeBase.Reset()
	for _, p := range report.Plans {
		r.envelopeBase.WithLabelValues(p.Pair).Set(p.Base)
		if p.PositionSide != "" {
			r.positionUSD.WithLabelValues(p.Pair, p.PositionSide).Set(p.PositionUSD)
		}
	}
}
