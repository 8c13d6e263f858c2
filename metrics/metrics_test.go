package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"envgrid/trader"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	finished := time.Unix(1700000000, 0)
	rec.OnRunFinished(context.Background(), &trader.RunReport{
		Exchange:   "paper",
		StartedAt:  finished.Add(-3 * time.Second),
		FinishedAt: finished,
		Balance:    1234.5,
		Skipped:    []trader.SkippedPair{{Pair: "DOGE/USDT", Reason: "not listed"}},
		Plans: []trader.PairSummary{
			{Pair: "BTC/USDT", Base: 100, PositionSide: "long", PositionUSD: 500},
			{Pair: "ETH/USDT", Base: 50},
		},
		Orders: []trader.OrderRecord{
			{Kind: trader.KindCancel, Count: 4},
			{Kind: trader.KindClose},
			{Kind: trader.KindStop},
			{Kind: trader.KindGrid},
			{Kind: trader.KindGrid},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runs.WithLabelValues("paper", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(rec.orders.WithLabelValues(trader.KindCancel)))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.orders.WithLabelValues(trader.KindGrid)))
	assert.Equal(t, 1234.5, testutil.ToFloat64(rec.balance))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.skippedPairs))
	assert.Equal(t, 500.0, testutil.ToFloat64(rec.positionUSD.WithLabelValues("BTC/USDT", "long")))
	assert.Equal(t, 100.0, testutil.ToFloat64(rec.envelopeBase.WithLabelValues("BTC/USDT")))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(rec.lastSuccess))
	assert.Equal(t, 1, testutil.CollectAndCount(rec.positionUSD))

	// A failed run counts but keeps the last snapshot
	rec.OnRunFinished(context.Background(), &trader.RunReport{
		Exchange:   "paper",
		StartedAt:  finished,
		FinishedAt: finished.Add(time.Minute),
		Error:      "boom",
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runs.WithLabelValues("paper", "failure")))
	assert.Equal(t, 1234.5, testutil.ToFloat64(rec.balance))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(rec.lastSuccess))
	assert.Equal(t, float64(finished.Add(time.Minute).Unix()), testutil.ToFloat64(rec.lastRun))
}

func TestRecorderRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRecorder(reg)
	assert.Panics(t, func() { NewRecorder(reg) }, "duplicate registration")
}
