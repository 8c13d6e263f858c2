package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"envgrid/config"
	"envgrid/kernel"
	"envgrid/logger"
	"envgrid/market"
	"envgrid/trader/types"
)

// Connector opens an exchange session for one run.
type Connector func(ctx context.Context) (types.Exchange, error)

// RunObserver is notified after every run, successful or not.
type RunObserver interface {
	OnRunFinished(ctx context.Context, report *RunReport)
}

// RunnerOption configures an EnvelopeRunner.
type RunnerOption func(*EnvelopeRunner)

// WithMaxConcurrency caps in-flight exchange calls per wave (0 = unbounded).
func WithMaxConcurrency(n int) RunnerOption {
	return func(r *EnvelopeRunner) { r.limit = n }
}

// WithDryRun wraps every session so that writes are logged, not sent.
func WithDryRun(enabled bool) RunnerOption {
	return func(r *EnvelopeRunner) { r.dryRun = enabled }
}

// WithObservers registers run observers (metrics, journal, notifications).
func WithObservers(observers ...RunObserver) RunnerOption {
	return func(r *EnvelopeRunner) { r.observers = append(r.observers, observers...) }
}

// EnvelopeRunner reconciles the envelope grid of every configured pair
// against the live exchange state.
type EnvelopeRunner struct {
	strategy  *config.StrategyConfig
	connect   Connector
	limit     int
	dryRun    bool
	observers []RunObserver

	mu   sync.Mutex // One run at a time
	last atomic.Pointer[RunReport]
}

// NewEnvelopeRunner creates a runner for a validated strategy.
func NewEnvelopeRunner(strategy *config.StrategyConfig, connect Connector, opts ...RunnerOption) *EnvelopeRunner {
	r := &EnvelopeRunner{strategy: strategy, connect: connect}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LastReport returns the report of the most recent run, or nil.
func (r *EnvelopeRunner) LastReport() *RunReport {
	return r.last.Load()
}

// Run performs one reconciliation. The exchange session is closed exactly
// once on every path.
func (r *EnvelopeRunner) Run(ctx context.Context) (*RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &RunReport{ID: uuid.NewString(), DryRun: r.dryRun, StartedAt: time.Now()}
	logger.Infof("--- Execution started at %s ---", report.StartedAt.Format("2006-01-02 15:04:05"))

	err := r.execute(ctx, report)
	report.FinishedAt = time.Now()
	if err != nil {
		report.Error = err.Error()
		logger.Errorf("❌ [Envelope] Run %s failed during %s: %v", report.ID, report.Phase, err)
	} else {
		logger.Infof("--- Execution finished at %s ---", report.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	r.last.Store(report)
	notifyCtx := context.WithoutCancel(ctx)
	for _, o := range r.observers {
		o.OnRunFinished(notifyCtx, report)
	}
	return report, err
}

func (r *EnvelopeRunner) execute(ctx context.Context, report *RunReport) error {
	ex, err := r.connect(ctx)
	if err != nil {
		return failed(report, "connect", fmt.Errorf("connect: %w", err))
	}
	if r.dryRun {
		ex = NewDryRun(ex)
	}
	report.Exchange = ex.Name()
	defer func() {
		if cerr := ex.Close(); cerr != nil {
			logger.Warnf("⚠️ [Envelope] Failed to close %s session: %v", ex.Name(), cerr)
		}
	}()
	return r.reconcile(ctx, ex, report)
}

func failed(report *RunReport, phase string, err error) error {
	report.Phase = phase
	return err
}

// pairTarget is a configured pair the exchange lists.
type pairTarget struct {
	cfg  config.PairConfig
	info *types.PairInfo
}

// validPairs derives the run's pair list; the strategy itself is never modified.
func (r *EnvelopeRunner) validPairs(ex types.Exchange, report *RunReport) []pairTarget {
	out := make([]pairTarget, 0, len(r.strategy.Pairs))
	for _, p := range r.strategy.Pairs {
		info, ok := ex.PairInfo(p.Pair)
		if !ok || info == nil {
			logger.Warnf("⚠️ [Envelope] Pair %s not found, removing it from this run", p.Pair)
			report.skip(p.Pair, types.ErrPairNotFound.Error())
			continue
		}
		out = append(out, pairTarget{cfg: p, info: info})
	}
	return out
}

func pairNames(targets []pairTarget) []string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.cfg.Pair
	}
	return names
}

func (r *EnvelopeRunner) reconcile(ctx context.Context, ex types.Exchange, report *RunReport) error {
	strat := r.strategy
	mode, ok := types.ParseMarginMode(strat.MarginMode)
	if !ok {
		return failed(report, "config", fmt.Errorf("invalid margin mode %q", strat.MarginMode))
	}

	logger.Infof("📥 [Envelope] Loading %s markets...", ex.Name())
	if err := ex.LoadMarkets(ctx); err != nil {
		return failed(report, "load markets", fmt.Errorf("load markets: %w", err))
	}

	targets := r.validPairs(ex, report)
	if len(targets) == 0 {
		logger.Warnf("⚠️ [Envelope] No configured pair is listed on %s, nothing to do", ex.Name())
		return nil
	}
	names := pairNames(targets)

	// Leverage failures are not fatal to order placement.
	logger.Infof("⚙️ [Envelope] Setting %s x%d on %d pairs...", mode, strat.ExchangeLeverage, len(names))
	lw := NewWave(ctx, "set leverage", r.limit)
	for _, pair := range names {
		lw.Go(pair, func(ctx context.Context) error {
			if err := ex.SetMarginModeAndLeverage(ctx, pair, mode, strat.ExchangeLeverage); err != nil {
				logger.Warnf("⚠️ [Envelope] Failed to set %s x%d on %s: %v", mode, strat.ExchangeLeverage, pair, err)
			}
			return nil
		})
	}
	_ = lw.Wait()

	logger.Infof("📥 [Envelope] Getting data and indicators on %d pairs...", len(names))
	candles, err := Collect(ctx, "fetch candles", r.limit, names, func(ctx context.Context, pair string) ([]market.Candle, error) {
		return ex.Candles(ctx, pair, strat.Timeframe, strat.CandleLimit)
	})
	if err != nil {
		return failed(report, "fetch candles", err)
	}

	levels := make(map[string]kernel.EnvelopeLevels, len(targets))
	ready := make([]pairTarget, 0, len(targets))
	for _, t := range targets {
		lv, err := decisionLevels(t.cfg, candles[t.cfg.Pair])
		if err != nil {
			logger.Warnf("⚠️ [Envelope] %s: %v, skipping pair", t.cfg.Pair, err)
			report.skip(t.cfg.Pair, err.Error())
			continue
		}
		levels[t.cfg.Pair] = lv
		ready = append(ready, t)
	}
	targets = ready
	names = pairNames(targets)
	report.Pairs = names
	if len(targets) == 0 {
		logger.Warnf("⚠️ [Envelope] No pair has a defined envelope base, nothing to do")
		return nil
	}

	balance, err := ex.Balance(ctx)
	if err != nil {
		return failed(report, "fetch balance", fmt.Errorf("fetch balance: %w", err))
	}
	report.Balance = balance.Total
	logger.Infof("💰 [Envelope] Balance: %.2f %s", balance.Total, balance.Currency)

	logger.Infof("📥 [Envelope] Getting open trigger orders...")
	triggers, err := Collect(ctx, "fetch trigger orders", r.limit, names, ex.OpenTriggerOrders)
	if err != nil {
		return failed(report, "fetch trigger orders", err)
	}

	logger.Infof("📥 [Envelope] Getting open orders...")
	orders, err := Collect(ctx, "fetch open orders", r.limit, names, ex.OpenOrders)
	if err != nil {
		return failed(report, "fetch open orders", err)
	}

	logger.Infof("📥 [Envelope] Getting live positions...")
	positions, err := ex.OpenPositions(ctx, names)
	if err != nil {
		return failed(report, "fetch positions", fmt.Errorf("fetch positions: %w", err))
	}
	byPair, conflicts := kernel.PositionsByPair(positions)
	for _, pair := range conflicts {
		logger.Warnf("⚠️ [Envelope] Several positions open on %s, managing the largest one", pair)
	}

	states := make([]kernel.PairState, 0, len(targets))
	for _, t := range targets {
		pair := t.cfg.Pair
		states = append(states, kernel.PairState{
			Config:        t.cfg,
			Info:          t.info,
			Levels:        levels[pair],
			Position:      byPair[pair],
			Orders:        orders[pair],
			TriggerOrders: triggers[pair],
		})
	}
	plan := kernel.BuildPlan(states, kernel.PlanParams{
		Balance:      balance.Total,
		SizeLeverage: strat.SizeLeverage,
		StopLoss:     strat.StopLoss,
		MarginMode:   mode,
	}, ex)
	report.Plans = summarize(plan)

	cancels, closes, opens := plan.Totals()
	logger.Infof("🗑️ [Envelope] Canceling %d orders, placing %d close/stop orders...", cancels, closes)
	if err := r.closeWave(ctx, ex, plan, report); err != nil {
		return failed(report, WaveClose, err)
	}

	logger.Infof("📤 [Envelope] Placing %d grid orders...", opens)
	if err := r.openWave(ctx, ex, plan, report); err != nil {
		return failed(report, WaveOpen, err)
	}

	logger.Infof("✓ [Envelope] Reconciled %d pairs: canceled %d, close/stop %d, grid %d",
		len(names), report.Canceled, report.Closes, report.Opens)
	return nil
}

// decisionLevels evaluates the envelope on the last completed bar.
func decisionLevels(cfg config.PairConfig, candles []market.Candle) (kernel.EnvelopeLevels, error) {
	series, err := kernel.ComputeEnvelopes(candles, cfg.Source, cfg.MAWindow, cfg.Envelopes)
	if err != nil {
		return kernel.EnvelopeLevels{}, err
	}
	lv, err := series.LastClosed()
	if errors.Is(err, kernel.ErrBaseUndefined) {
		return lv, fmt.Errorf("%d candles for a %d-bar average: %w", series.Len(), cfg.MAWindow, err)
	}
	return lv, err
}

func summarize(plan *kernel.ExecutionPlan) []PairSummary {
	out := make([]PairSummary, 0, len(plan.Pairs))
	for _, pp := range plan.Pairs {
		buys, sells := pp.OpenCount()
		s := PairSummary{
			Pair:              pp.Pair,
			Base:              pp.Levels.Base,
			CanceledOrders:    len(pp.CancelOrderIDs),
			CanceledTriggers:  len(pp.CancelTriggerIDs),
			CanceledBuyCount:  pp.CanceledBuyCount,
			CanceledSellCount: pp.CanceledSellCount,
			Close:             pp.Close != nil,
			Stop:              pp.Stop != nil,
			GridBuys:          buys,
			GridSells:         sells,
			SkippedLevels:     len(pp.Skipped),
		}
		if pos := pp.Position; pos != nil {
			s.PositionSide = string(pos.Side)
			s.PositionSize = pos.Size
			s.PositionUSD = pos.USDSize
			logger.Infof("📊 [Envelope] Current position on %s %s - %g ~ %.2f $", pos.Pair, pos.Side, pos.Size, pos.USDSize)
		}
		for _, sk := range pp.Skipped {
			logger.Warnf("⚠️ [Envelope] %s %s level %d size %g below minimum %g, skipped", pp.Pair, sk.Side, sk.Level, sk.Size, sk.MinSize)
		}
		out = append(out, s)
	}
	return out
}

// closeWave cancels every standing order and places the close and stop
// orders of positioned pairs, all concurrently.
func (r *EnvelopeRunner) closeWave(ctx context.Context, ex types.Exchange, plan *kernel.ExecutionPlan, report *RunReport) error {
	w := NewWave(ctx, WaveClose, r.limit)
	for _, pp := range plan.Pairs {
		pair := pp.Pair
		if ids := pp.CancelTriggerIDs; len(ids) > 0 {
			w.Go(pair+" cancel trigger orders", func(ctx context.Context) error {
				if err := ex.CancelTriggerOrders(ctx, pair, ids); err != nil {
					return err
				}
				report.record(OrderRecord{Wave: WaveClose, Pair: pair, Kind: KindCancelTrigger, Level: -1, Count: len(ids)})
				return nil
			})
		}
		if ids := pp.CancelOrderIDs; len(ids) > 0 {
			w.Go(pair+" cancel orders", func(ctx context.Context) error {
				if err := ex.CancelOrders(ctx, pair, ids); err != nil {
					return err
				}
				report.record(OrderRecord{Wave: WaveClose, Pair: pair, Kind: KindCancel, Level: -1, Count: len(ids)})
				return nil
			})
		}
		if req := pp.Close; req != nil {
			w.Go(pair+" close", func(ctx context.Context) error {
				ack, err := ex.PlaceOrder(ctx, *req)
				if err != nil {
					return err
				}
				report.record(OrderRecord{
					Wave: WaveClose, Pair: pair, Kind: KindClose, Side: req.Side, Level: -1,
					Price: req.Price, Size: req.Size, ReduceOnly: true, OrderID: ack.ID,
				})
				return nil
			})
		}
		if req := pp.Stop; req != nil {
			w.Go(pair+" stop", func(ctx context.Context) error {
				ack, err := ex.PlaceTriggerOrder(ctx, *req)
				if err != nil {
					return err
				}
				report.record(OrderRecord{
					Wave: WaveClose, Pair: pair, Kind: KindStop, Side: req.Side, Level: -1,
					TriggerPrice: req.TriggerPrice, Size: req.Size, ReduceOnly: true, OrderID: ack.ID,
				})
				return nil
			})
		}
	}
	return w.Wait()
}

// openWave places every grid order concurrently.
func (r *EnvelopeRunner) openWave(ctx context.Context, ex types.Exchange, plan *kernel.ExecutionPlan, report *RunReport) error {
	w := NewWave(ctx, WaveOpen, r.limit)
	for _, pp := range plan.Pairs {
		for _, o := range pp.Opens {
			req := o.Request
			label := fmt.Sprintf("%s %s level %d", req.Pair, req.Side, o.Level)
			w.Go(label, func(ctx context.Context) error {
				ack, err := ex.PlaceTriggerOrder(ctx, req)
				if err != nil {
					return err
				}
				report.record(OrderRecord{
					Wave: WaveOpen, Pair: req.Pair, Kind: KindGrid, Side: req.Side, Level: o.Level,
					Price: req.Price, TriggerPrice: req.TriggerPrice, Size: req.Size, OrderID: ack.ID,
				})
				return nil
			})
		}
	}
	return w.Wait()
}

// RunEvery runs immediately, then after every interval boundary plus delay,
// until ctx is cancelled. Failed runs are logged and the schedule continues.
func (r *EnvelopeRunner) RunEvery(ctx context.Context, interval, delay time.Duration) {
	for {
		if _, err := r.Run(ctx); err != nil && ctx.Err() != nil {
			return
		}

		next := market.NextRunTime(time.Now(), interval, delay)
		logger.Infof("⏰ [Envelope] Next run at %s", next.Format("2006-01-02 15:04:05"))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("[Envelope] Scheduler stopped")
			return
		case <-timer.C:
		}
	}
}
