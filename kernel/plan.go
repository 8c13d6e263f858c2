package kernel

import (
	"envgrid/config"
	"envgrid/trader/types"
)

// Trigger offsets: a buy level triggers 0.5% above its limit price, a sell
// level 0.5% below, so the trigger fires just before the limit is marketable.
const (
	BuyTriggerOffset  = 1.005
	SellTriggerOffset = 0.995
)

// ============================================================================
// Plan types
// ============================================================================

// PlanParams are the run-wide inputs shared by every pair.
type PlanParams struct {
	Balance      float64 // Total equity in quote currency
	SizeLeverage float64
	StopLoss     float64 // Fraction of entry price
	MarginMode   types.MarginMode
}

// PairState is everything known about one validated pair at decision time.
type PairState struct {
	Config        config.PairConfig
	Info          *types.PairInfo // Optional; enables the minimum size guard
	Levels        EnvelopeLevels
	Position      *types.Position // Nil when flat
	Orders        []types.StandingOrder
	TriggerOrders []types.StandingOrder
}

// GridOrder is one envelope level to (re)open.
type GridOrder struct {
	Level   int // Envelope index, 0 = nearest the base
	Request types.TriggerOrderRequest
}

// SkippedLevel is a grid level dropped because its size rounds below the
// exchange minimum.
type SkippedLevel struct {
	Level   int
	Side    types.OrderSide
	Size    float64
	MinSize float64
}

// PairPlan is the reconciliation plan for one pair.
type PairPlan struct {
	Pair     string
	Levels   EnvelopeLevels
	Position *types.Position

	CancelOrderIDs    []string
	CancelTriggerIDs  []string
	CanceledBuyCount  int // Non-reduce-only buy orders among the cancellations
	CanceledSellCount int // Non-reduce-only sell orders among the cancellations

	Close *types.OrderRequest        // Reduce-only limit exit at the base, positioned pairs only
	Stop  *types.TriggerOrderRequest // Reduce-only market stop, positioned pairs only
	Opens []GridOrder

	Skipped []SkippedLevel
}

// OpenCount returns the number of grid orders per side.
func (p *PairPlan) OpenCount() (buys, sells int) {
	for _, o := range p.Opens {
		if o.Request.Side == types.SideBuy {
			buys++
		} else {
			sells++
		}
	}
	return buys, sells
}

// CancelCount returns the number of orders the plan cancels.
func (p *PairPlan) CancelCount() int {
	return len(p.CancelOrderIDs) + len(p.CancelTriggerIDs)
}

// ExecutionPlan is the full per-run plan, in configuration order.
type ExecutionPlan struct {
	Pairs []*PairPlan
}

// Pair returns the plan for a pair, or nil.
func (p *ExecutionPlan) Pair(name string) *PairPlan {
	for _, pp := range p.Pairs {
		if pp.Pair == name {
			return pp
		}
	}
	return nil
}

// Totals counts cancellations, close/stop orders and grid orders across pairs.
func (p *ExecutionPlan) Totals() (cancels, closes, opens int) {
	for _, pp := range p.Pairs {
		cancels += pp.CancelCount()
		if pp.Close != nil {
			closes++
		}
		if pp.Stop != nil {
			closes++
		}
		opens += len(pp.Opens)
	}
	return cancels, closes, opens
}

// ============================================================================
// Plan building
// ============================================================================

// BuildPlan builds the plan for every pair state, preserving input order.
func BuildPlan(states []PairState, params PlanParams, prec types.Precision) *ExecutionPlan {
	plan := &ExecutionPlan{Pairs: make([]*PairPlan, 0, len(states))}
	for _, st := range states {
		plan.Pairs = append(plan.Pairs, BuildPairPlan(st, params, prec))
	}
	return plan
}

// BuildPairPlan diffs the desired ladder against the live state of one pair.
//
// Every standing order is cancelled. A flat pair gets the full ladder on each
// allowed side. A positioned pair gets a close at the base, a stop at the
// configured loss, and only the outermost levels that were still open, so
// levels already filled into the position are not duplicated.
func BuildPairPlan(st PairState, params PlanParams, prec types.Precision) *PairPlan {
	pair := st.Config.Pair
	n := st.Levels.Levels()
	plan := &PairPlan{
		Pair:     pair,
		Levels:   st.Levels,
		Position: st.Position,
	}

	for _, o := range st.TriggerOrders {
		plan.CancelTriggerIDs = append(plan.CancelTriggerIDs, o.ID)
		plan.countCanceled(o)
	}
	for _, o := range st.Orders {
		plan.CancelOrderIDs = append(plan.CancelOrderIDs, o.ID)
		plan.countCanceled(o)
	}

	if pos := st.Position; pos != nil {
		closeSide := pos.Side.CloseSide()
		size := prec.AmountToPrecision(pair, pos.Size)

		plan.Close = &types.OrderRequest{
			Pair:       pair,
			Side:       closeSide,
			Type:       types.OrderTypeLimit,
			Price:      prec.PriceToPrecision(pair, st.Levels.Base),
			Size:       size,
			ReduceOnly: true,
			MarginMode: params.MarginMode,
		}

		stopPrice := pos.EntryPrice * (1 - params.StopLoss)
		if pos.Side == types.PositionShort {
			stopPrice = pos.EntryPrice * (1 + params.StopLoss)
		}
		plan.Stop = &types.TriggerOrderRequest{
			OrderRequest: types.OrderRequest{
				Pair:       pair,
				Side:       closeSide,
				Type:       types.OrderTypeMarket,
				Size:       size,
				ReduceOnly: true,
				MarginMode: params.MarginMode,
			},
			TriggerPrice: prec.PriceToPrecision(pair, stopPrice),
		}

		for i := clampLevel(n-plan.CanceledBuyCount, n); i < n; i++ {
			plan.addGridOrder(st, params, prec, types.SideBuy, i)
		}
		for i := clampLevel(n-plan.CanceledSellCount, n); i < n; i++ {
			plan.addGridOrder(st, params, prec, types.SideSell, i)
		}
		return plan
	}

	for i := 0; i < n; i++ {
		if st.Config.AllowsLong() {
			plan.addGridOrder(st, params, prec, types.SideBuy, i)
		}
		if st.Config.AllowsShort() {
			plan.addGridOrder(st, params, prec, types.SideSell, i)
		}
	}
	return plan
}

func (p *PairPlan) countCanceled(o types.StandingOrder) {
	if o.ReduceOnly {
		return
	}
	switch o.Side {
	case types.SideBuy:
		p.CanceledBuyCount++
	case types.SideSell:
		p.CanceledSellCount++
	}
}

func (p *PairPlan) addGridOrder(st PairState, params PlanParams, prec types.Precision, side types.OrderSide, i int) {
	pair := st.Config.Pair
	level, trigger := st.Levels.Low[i], st.Levels.Low[i]*BuyTriggerOffset
	if side == types.SideSell {
		level, trigger = st.Levels.High[i], st.Levels.High[i]*SellTriggerOffset
	}

	size := prec.AmountToPrecision(pair, LevelSize(st.Config.Size, params.Balance, st.Levels.Levels(), params.SizeLeverage, level))
	minSize := 0.0
	if st.Info != nil {
		minSize = st.Info.MinSize
	}
	if size <= 0 || size < minSize {
		p.Skipped = append(p.Skipped, SkippedLevel{Level: i, Side: side, Size: size, MinSize: minSize})
		return
	}

	p.Opens = append(p.Opens, GridOrder{
		Level: i,
		Request: types.TriggerOrderRequest{
			OrderRequest: types.OrderRequest{
				Pair:       pair,
				Side:       side,
				Type:       types.OrderTypeLimit,
				Price:      prec.PriceToPrecision(pair, level),
				Size:       size,
				MarginMode: params.MarginMode,
			},
			TriggerPrice: prec.PriceToPrecision(pair, trigger),
		},
	})
}

// LevelSize is the unrounded base-asset size of one grid level: the pair's
// allocation spread evenly over its levels, scaled by the sizing leverage.
func LevelSize(allocation, balance float64, levels int, sizeLeverage, price float64) float64 {
	if levels <= 0 || price <= 0 {
		return 0
	}
	return (allocation * balance / float64(levels) * sizeLeverage) / price
}

func clampLevel(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
