package trader

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"envgrid/trader/types"
)

// Wave names used in reports and the run journal.
const (
	WaveClose = "close"
	WaveOpen  = "open"
)

// Order kinds recorded for placed and cancelled orders.
const (
	KindCancel        = "cancel"
	KindCancelTrigger = "cancel_trigger"
	KindClose         = "close"
	KindStop          = "stop"
	KindGrid          = "grid"
)

// SkippedPair is a configured pair left out of a run.
type SkippedPair struct {
	Pair   string `json:"pair"`
	Reason string `json:"reason"`
}

// PairSummary condenses one pair's plan.
type PairSummary struct {
	Pair              string  `json:"pair"`
	Base              float64 `json:"base"`
	PositionSide      string  `json:"position_side,omitempty"`
	PositionSize      float64 `json:"position_size,omitempty"`
	PositionUSD       float64 `json:"position_usd,omitempty"`
	CanceledOrders    int     `json:"canceled_orders"`
	CanceledTriggers  int     `json:"canceled_triggers"`
	CanceledBuyCount  int     `json:"canceled_buy_count"`
	CanceledSellCount int     `json:"canceled_sell_count"`
	Close             bool    `json:"close"`
	Stop              bool    `json:"stop"`
	GridBuys          int     `json:"grid_buys"`
	GridSells         int     `json:"grid_sells"`
	SkippedLevels     int     `json:"skipped_levels"`
}

// OrderRecord is one write the run issued to the exchange.
type OrderRecord struct {
	Wave         string          `json:"wave"`
	Pair         string          `json:"pair"`
	Kind         string          `json:"kind"`
	Side         types.OrderSide `json:"side,omitempty"`
	Level        int             `json:"level"`
	Price        float64         `json:"price,omitempty"`
	TriggerPrice float64         `json:"trigger_price,omitempty"`
	Size         float64         `json:"size,omitempty"`
	ReduceOnly   bool            `json:"reduce_only"`
	OrderID      string          `json:"order_id,omitempty"`
	Count        int             `json:"count,omitempty"` // Orders covered by a cancel batch
}

// RunReport describes one reconciliation run.
type RunReport struct {
	ID         string        `json:"id"`
	Exchange   string        `json:"exchange"`
	DryRun     bool          `json:"dry_run"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Balance    float64       `json:"balance"`
	Pairs      []string      `json:"pairs"`
	Skipped    []SkippedPair `json:"skipped,omitempty"`
	Plans      []PairSummary `json:"plans,omitempty"`
	Canceled   int           `json:"canceled"`
	Closes     int           `json:"closes"`
	Opens      int           `json:"opens"`
	Orders     []OrderRecord `json:"orders,omitempty"`
	Phase      string        `json:"phase,omitempty"` // Phase that failed
	Error      string        `json:"error,omitempty"`

	mu sync.Mutex
}

// Succeeded reports whether the run finished without error.
func (r *RunReport) Succeeded() bool { return r.Error == "" }

// Duration of the run.
func (r *RunReport) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func (r *RunReport) record(o OrderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Orders = append(r.Orders, o)
	switch o.Kind {
	case KindCancel, KindCancelTrigger:
		r.Canceled += o.Count
	case KindClose, KindStop:
		r.Closes++
	case KindGrid:
		r.Opens++
	}
}

func (r *RunReport) skip(pair, reason string) {
	r.Skipped = append(r.Skipped, SkippedPair{Pair: pair, Reason: reason})
}

// Summary renders a short human-readable description of the run.
func (r *RunReport) Summary() string {
	var b strings.Builder
	status := "✅ finished"
	if !r.Succeeded() {
		status = "❌ failed"
	}
	mode := ""
	if r.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(&b, "Envelope run %s on %s%s in %s\n", status, r.Exchange, mode, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "Balance: %.2f USDT, pairs: %d, skipped: %d\n", r.Balance, len(r.Pairs), len(r.Skipped))
	fmt.Fprintf(&b, "Canceled: %d, close/stop: %d, grid: %d\n", r.Canceled, r.Closes, r.Opens)
	for _, p := range r.Plans {
		if p.PositionSide != "" {
			fmt.Fprintf(&b, "• %s %s %g (~%.2f $), grid %d/%d\n", p.Pair, p.PositionSide, p.PositionSize, p.PositionUSD, p.GridBuys, p.GridSells)
		}
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "• %s skipped: %s\n", s.Pair, s.Reason)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error during %s: %s\n", r.Phase, r.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
