package trader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envgrid/config"
	"envgrid/logger"
	"envgrid/market"
	"envgrid/trader/paper"
	"envgrid/trader/types"
)

func flatCandles(price float64, n int) []market.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: price, High: price, Low: price, Close: price}
	}
	return out
}

func testStrategy(pairs ...string) *config.StrategyConfig {
	cfg := config.DefaultStrategy()
	cfg.CandleLimit = 10
	for _, p := range pairs {
		cfg.Pairs = append(cfg.Pairs, config.PairConfig{
			Pair:      p,
			Source:    market.SourceClose,
			MAWindow:  5,
			Envelopes: []float64{0.07, 0.10, 0.15},
			Size:      0.1,
			Sides:     []string{config.SideLong, config.SideShort},
		})
	}
	return cfg
}

func newPaper(pairs ...string) *paper.Exchange {
	var markets []types.PairInfo
	for _, p := range pairs {
		markets = append(markets, types.PairInfo{Pair: p, TickSize: 0.01, StepSize: 0.001})
	}
	ex := paper.New(paper.Config{Balance: 1000, Markets: markets, Latency: time.Millisecond})
	for _, p := range pairs {
		ex.SetCandles(p, flatCandles(100, 10))
	}
	return ex
}

func connectTo(ex types.Exchange) Connector {
	return func(ctx context.Context) (types.Exchange, error) { return ex, nil }
}

type captureObserver struct {
	mu      sync.Mutex
	reports []*RunReport
}

func (c *captureObserver) OnRunFinished(ctx context.Context, r *RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func triggerCount(t *testing.T, ex *paper.Exchange, pair string) int {
	orders, err := ex.OpenTriggerOrders(context.Background(), pair)
	require.NoError(t, err)
	return len(orders)
}

func TestRunFlatPairs(t *testing.T) {
	ex := newPaper("BTC/USDT", "ETH/USDT")
	obs := &captureObserver{}
	runner := NewEnvelopeRunner(testStrategy("BTC/USDT", "ETH/USDT"), connectTo(ex), WithObservers(obs))

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.Equal(t, "paper", report.Exchange)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, report.Pairs)
	assert.InDelta(t, 1000.0, report.Balance, 1e-9)
	assert.Equal(t, 0, report.Canceled)
	assert.Equal(t, 0, report.Closes)
	assert.Equal(t, 12, report.Opens)
	assert.Equal(t, 6, triggerCount(t, ex, "BTC/USDT"))
	assert.Equal(t, 6, triggerCount(t, ex, "ETH/USDT"))
	assert.Equal(t, 3, ex.Leverage("BTC/USDT"))
	assert.Equal(t, 1, ex.CloseCount())

	require.Len(t, obs.reports, 1)
	assert.Same(t, report, obs.reports[0])
	assert.Same(t, report, runner.LastReport())
}

func TestRunPositionedPair(t *testing.T) {
	ex := newPaper("BTC/USDT")
	ex.SetPositions(types.Position{Pair: "BTC/USDT", Side: types.PositionLong, Size: 0.5, EntryPrice: 92, MarkPrice: 95})
	ex.AddOrder(types.StandingOrder{ID: "b2", Pair: "BTC/USDT", Side: types.SideBuy, Price: 85, TriggerPrice: 85.4, Size: 0.1})
	for _, id := range []string{"s0", "s1", "s2"} {
		ex.AddOrder(types.StandingOrder{ID: id, Pair: "BTC/USDT", Side: types.SideSell, Price: 110, TriggerPrice: 109, Size: 0.1})
	}
	ex.AddOrder(types.StandingOrder{ID: "old-close", Pair: "BTC/USDT", Side: types.SideSell, Price: 101, Size: 0.5, ReduceOnly: true})

	report, err := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Canceled)
	assert.Equal(t, 2, report.Closes)
	assert.Equal(t, 4, report.Opens)
	require.Len(t, report.Plans, 1)
	assert.Equal(t, "long", report.Plans[0].PositionSide)
	assert.Equal(t, 1, report.Plans[0].GridBuys)
	assert.Equal(t, 3, report.Plans[0].GridSells)

	orders, err := ex.OpenOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].ReduceOnly)
	assert.InDelta(t, 100.0, orders[0].Price, 1e-9)
	// stop + 1 buy + 3 sells
	assert.Equal(t, 5, triggerCount(t, ex, "BTC/USDT"))
}

// orderingExchange records when wave-1 writes resolve and when grid
// placements are issued.
type orderingExchange struct {
	*paper.Exchange

	mu         sync.Mutex
	seq        int
	closeEnds  []int
	gridStarts []int
}

func (o *orderingExchange) tick() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	return o.seq
}

func (o *orderingExchange) markCloseEnd() {
	n := o.tick()
	o.mu.Lock()
	o.closeEnds = append(o.closeEnds, n)
	o.mu.Unlock()
}

func (o *orderingExchange) CancelOrders(ctx context.Context, pair string, ids []string) error {
	defer o.markCloseEnd()
	return o.Exchange.CancelOrders(ctx, pair, ids)
}

func (o *orderingExchange) CancelTriggerOrders(ctx context.Context, pair string, ids []string) error {
	defer o.markCloseEnd()
	return o.Exchange.CancelTriggerOrders(ctx, pair, ids)
}

func (o *orderingExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderAck, error) {
	defer o.markCloseEnd()
	return o.Exchange.PlaceOrder(ctx, req)
}

func (o *orderingExchange) PlaceTriggerOrder(ctx context.Context, req types.TriggerOrderRequest) (*types.OrderAck, error) {
	if req.ReduceOnly {
		defer o.markCloseEnd()
	} else {
		n := o.tick()
		o.mu.Lock()
		o.gridStarts = append(o.gridStarts, n)
		o.mu.Unlock()
	}
	return o.Exchange.PlaceTriggerOrder(ctx, req)
}

func TestRunWaveOrdering(t *testing.T) {
	pairs := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	base := newPaper(pairs...)
	for _, p := range pairs {
		base.AddOrder(types.StandingOrder{Pair: p, Side: types.SideBuy, Price: 90, TriggerPrice: 90.5, Size: 1})
		base.AddOrder(types.StandingOrder{Pair: p, Side: types.SideSell, Price: 120, Size: 1})
	}
	base.SetPositions(
		types.Position{Pair: "BTC/USDT", Side: types.PositionShort, Size: 1, EntryPrice: 105, MarkPrice: 100},
		types.Position{Pair: "ETH/USDT", Side: types.PositionLong, Size: 1, EntryPrice: 95, MarkPrice: 100},
	)
	ex := &orderingExchange{Exchange: base}

	_, err := NewEnvelopeRunner(testStrategy(pairs...), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, ex.closeEnds)
	require.NotEmpty(t, ex.gridStarts)
	lastClose := 0
	for _, n := range ex.closeEnds {
		lastClose = max(lastClose, n)
	}
	for _, n := range ex.gridStarts {
		assert.Greater(t, n, lastClose, "grid order issued before wave 1 resolved")
	}
}

func TestRunIdempotent(t *testing.T) {
	ex := newPaper("BTC/USDT")
	ex.SetPositions(types.Position{Pair: "BTC/USDT", Side: types.PositionLong, Size: 0.5, EntryPrice: 92, MarkPrice: 95})
	ex.AddOrder(types.StandingOrder{Pair: "BTC/USDT", Side: types.SideBuy, Price: 85, TriggerPrice: 85.4, Size: 0.1})
	runner := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex))

	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	second, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Plans[0].GridBuys, second.Plans[0].GridBuys)
	assert.Equal(t, first.Plans[0].GridSells, second.Plans[0].GridSells)
	assert.Equal(t, first.Opens, second.Opens)
	assert.Equal(t, first.Closes, second.Closes)
	// The second run cancels exactly what the first one placed.
	assert.Equal(t, first.Opens+first.Closes, second.Canceled)
	assert.Equal(t, 2, ex.CloseCount())
}

func TestRunSkipsUnlistedPair(t *testing.T) {
	ex := newPaper("BTC/USDT")
	strategy := testStrategy("BTC/USDT", "XRP/USDT")

	report, err := NewEnvelopeRunner(strategy, connectTo(ex)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USDT"}, report.Pairs)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "XRP/USDT", report.Skipped[0].Pair)
	// The caller's configuration is left untouched.
	assert.Len(t, strategy.Pairs, 2)
}

func TestRunNoListedPairs(t *testing.T) {
	ex := newPaper()
	report, err := NewEnvelopeRunner(testStrategy("XRP/USDT"), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Pairs)
	assert.Equal(t, 1, ex.CloseCount())
}

func TestRunSkipsPairWithoutBase(t *testing.T) {
	ex := newPaper("BTC/USDT", "ETH/USDT")
	ex.SetCandles("ETH/USDT", flatCandles(100, 4))

	report, err := NewEnvelopeRunner(testStrategy("BTC/USDT", "ETH/USDT"), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/USDT"}, report.Pairs)
	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reason, "envelope base undefined")
	assert.Equal(t, 0, triggerCount(t, ex, "ETH/USDT"))
}

func TestRunLeverageFailureIsNotFatal(t *testing.T) {
	ex := newPaper("BTC/USDT")
	ex.FailOn(paper.OpSetLeverage, "", errors.New("leverage rejected"))

	report, err := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Opens)
}

func TestRunFailsFastAndClosesOnce(t *testing.T) {
	boom := errors.New("rejected")
	tests := []struct {
		name      string
		op        string
		pair      string
		wantPhase string
	}{
		{"load markets", paper.OpLoadMarkets, "", "load markets"},
		{"candles", paper.OpCandles, "ETH/USDT", "fetch candles"},
		{"balance", paper.OpBalance, "", "fetch balance"},
		{"trigger orders", paper.OpOpenTriggerOrders, "BTC/USDT", "fetch trigger orders"},
		{"open orders", paper.OpOpenOrders, "BTC/USDT", "fetch open orders"},
		{"positions", paper.OpPositions, "", "fetch positions"},
		{"cancel", paper.OpCancelTriggerOrders, "BTC/USDT", WaveClose},
		{"grid placement", paper.OpPlaceTriggerOrder, "ETH/USDT", WaveOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newPaper("BTC/USDT", "ETH/USDT")
			ex.AddOrder(types.StandingOrder{Pair: "BTC/USDT", Side: types.SideBuy, Price: 90, TriggerPrice: 90.5, Size: 1})
			ex.FailOn(tt.op, tt.pair, boom)

			report, err := NewEnvelopeRunner(testStrategy("BTC/USDT", "ETH/USDT"), connectTo(ex)).Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, tt.wantPhase, report.Phase)
			assert.False(t, report.Succeeded())
			assert.Equal(t, 1, ex.CloseCount())
		})
	}
}

func TestRunConnectFailure(t *testing.T) {
	runner := NewEnvelopeRunner(testStrategy("BTC/USDT"), func(ctx context.Context) (types.Exchange, error) {
		return nil, errors.New("auth failed")
	})
	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "connect", report.Phase)
}

func TestRunDryRun(t *testing.T) {
	ex := newPaper("BTC/USDT")
	ex.AddOrder(types.StandingOrder{ID: "keep", Pair: "BTC/USDT", Side: types.SideBuy, Price: 90, TriggerPrice: 90.5, Size: 1})

	report, err := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex), WithDryRun(true), WithMaxConcurrency(2)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 6, report.Opens)
	assert.Equal(t, 1, report.Canceled)
	// Nothing reached the exchange.
	assert.Equal(t, 1, triggerCount(t, ex, "BTC/USDT"))
	assert.Equal(t, 0, ex.Leverage("BTC/USDT"))
	assert.Equal(t, 1, ex.CloseCount())
}

func TestRunReportSummary(t *testing.T) {
	ex := newPaper("BTC/USDT")
	ex.SetPositions(types.Position{Pair: "BTC/USDT", Side: types.PositionLong, Size: 0.5, EntryPrice: 92, MarkPrice: 95})

	report, err := NewEnvelopeRunner(testStrategy("BTC/USDT", "XRP/USDT"), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)

	summary := report.Summary()
	assert.Contains(t, summary, "finished on paper")
	assert.Contains(t, summary, "Balance: 1000.00 USDT")
	assert.Contains(t, summary, "BTC/USDT long 0.5")
	assert.Contains(t, summary, "XRP/USDT skipped")
}

func TestRunDryRunAcknowledgesWithSyntheticIDs(t *testing.T) {
	ex := newPaper("BTC/USDT")

	report, err := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex), WithDryRun(true)).Run(context.Background())
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, o := range report.Orders {
		if o.Kind == KindCancel || o.Kind == KindCancelTrigger {
			continue
		}
		require.True(t, strings.HasPrefix(o.OrderID, "dry-"), "order id %q", o.OrderID)
		assert.False(t, seen[o.OrderID], "duplicate id %s", o.OrderID)
		seen[o.OrderID] = true
	}
	assert.Len(t, seen, report.Opens)
}

// captureLogs records every entry written through the global logger.
func captureLogs(t *testing.T) *logtest.Hook {
	hook := logtest.NewLocal(logger.Log)
	t.Cleanup(func() { logger.Log.ReplaceHooks(make(logrus.LevelHooks)) })
	return hook
}

func logMessages(hook *logtest.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

func containsPrefix(lines []string, prefix string) bool {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func TestRunLogsExecutionBannerAndBalance(t *testing.T) {
	hook := captureLogs(t)
	ex := newPaper("BTC/USDT")
	ex.SetPositions(types.Position{Pair: "BTC/USDT", Side: types.PositionLong, Size: 0.5, EntryPrice: 92, MarkPrice: 95})

	_, err := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex)).Run(context.Background())
	require.NoError(t, err)

	lines := logMessages(hook)
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "--- Execution started at "), "first line: %q", lines[0])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "--- Execution finished at "), "last line: %q", lines[len(lines)-1])
	assert.Contains(t, lines, "💰 [Envelope] Balance: 1000.00 USDT")
	assert.Contains(t, lines, "📊 [Envelope] Current position on BTC/USDT long 0.5 ~ 47.50 $")
}

func TestRunFailureSkipsFinishedBanner(t *testing.T) {
	hook := captureLogs(t)
	ex := newPaper("BTC/USDT")
	ex.FailOn(paper.OpBalance, "", errors.New("boom"))

	_, err := NewEnvelopeRunner(testStrategy("BTC/USDT"), connectTo(ex)).Run(context.Background())
	require.Error(t, err)

	lines := logMessages(hook)
	assert.True(t, containsPrefix(lines, "--- Execution started at "))
	assert.False(t, containsPrefix(lines, "--- Execution finished at "))
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
