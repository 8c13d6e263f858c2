package types

import (
	"context"
	"strings"
	"time"

	"envgrid/market"
)

// OrderSide is the direction of an order ("buy" or "sell").
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// PositionSide is the direction of an open position ("long" or "short").
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// CloseSide returns the order side that reduces a position on this side.
func (s PositionSide) CloseSide() OrderSide {
	if s == PositionShort {
		return SideBuy
	}
	return SideSell
}

// OrderType is the execution type of an order or of a trigger's child order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// MarginMode of a derivatives position.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCrossed  MarginMode = "crossed"
)

// ParseMarginMode accepts isolated or crossed (also "cross").
func ParseMarginMode(s string) (MarginMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "isolated":
		return MarginIsolated, true
	case "crossed", "cross":
		return MarginCrossed, true
	}
	return "", false
}

// PairInfo is the exchange metadata needed to trade a pair.
type PairInfo struct {
	Pair        string  // Configured pair, e.g. "BTC/USDT"
	Symbol      string  // Exchange symbol, e.g. "BTCUSDT"
	TickSize    float64 // Price increment
	StepSize    float64 // Size increment
	MinSize     float64 // Minimum order size (0 = no minimum)
	MaxLeverage int
}

// AmountToPrecision truncates a size to the pair's step size.
func (p *PairInfo) AmountToPrecision(v float64) float64 {
	return market.TruncateToStep(v, p.StepSize)
}

// PriceToPrecision rounds a price to the pair's tick size.
func (p *PairInfo) PriceToPrecision(v float64) float64 {
	return market.RoundToStep(v, p.TickSize)
}

// Balance of the margin currency.
type Balance struct {
	Currency string
	Total    float64
	Free     float64
}

// Position is one open position as reported by the exchange.
type Position struct {
	Pair       string
	Side       PositionSide
	Size       float64 // Contracts in base currency, always positive
	EntryPrice float64
	MarkPrice  float64
	USDSize    float64 // Notional value in quote currency
	Leverage   int
	MarginMode MarginMode
}

// StandingOrder is a resting limit order or an untriggered trigger order.
type StandingOrder struct {
	ID           string
	ClientID     string
	Pair         string
	Side         OrderSide
	Type         OrderType
	Price        float64
	TriggerPrice float64 // Zero for plain limit orders
	Size         float64
	ReduceOnly   bool
	CreatedAt    time.Time
}

// OrderRequest places a plain order.
type OrderRequest struct {
	Pair       string
	Side       OrderSide
	Type       OrderType
	Price      float64 // Ignored for market orders
	Size       float64
	ReduceOnly bool
	MarginMode MarginMode
	ClientID   string
}

// TriggerOrderRequest places an order that activates once the mark price
// crosses TriggerPrice.
type TriggerOrderRequest struct {
	OrderRequest
	TriggerPrice float64
}

// OrderAck is the exchange acknowledgement of a placed order.
type OrderAck struct {
	ID       string
	ClientID string
	Pair     string
}

// Precision rounds order values for a pair.
type Precision interface {
	// AmountToPrecision truncates size to the pair's allowed increment
	AmountToPrecision(pair string, amount float64) float64
	// PriceToPrecision rounds price to the pair's tick
	PriceToPrecision(pair string, price float64) float64
}

// Exchange is the derivatives exchange surface used by reconciliation.
// Implementations must be safe for concurrent use once LoadMarkets returned.
type Exchange interface {
	Precision

	// Name Short exchange identifier, e.g. "bitget"
	Name() string

	// LoadMarkets Fetch pair metadata; must be called before any other call
	LoadMarkets(ctx context.Context) error

	// PairInfo Metadata for a configured pair, false if the exchange does not list it
	PairInfo(pair string) (*PairInfo, bool)

	// SetMarginModeAndLeverage Configure margin mode and leverage for a pair
	SetMarginModeAndLeverage(ctx context.Context, pair string, mode MarginMode, leverage int) error

	// Candles Fetch the most recent limit bars, oldest first, in-progress bar last
	Candles(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error)

	// Balance Fetch the margin currency balance
	Balance(ctx context.Context) (*Balance, error)

	// OpenOrders List resting limit orders for a pair
	OpenOrders(ctx context.Context, pair string) ([]StandingOrder, error)

	// OpenTriggerOrders List untriggered trigger orders for a pair
	OpenTriggerOrders(ctx context.Context, pair string) ([]StandingOrder, error)

	// CancelOrders Cancel resting limit orders by id
	CancelOrders(ctx context.Context, pair string, ids []string) error

	// CancelTriggerOrders Cancel trigger orders by id
	CancelTriggerOrders(ctx context.Context, pair string, ids []string) error

	// OpenPositions List open positions restricted to pairs
	OpenPositions(ctx context.Context, pairs []string) ([]Position, error)

	// PlaceOrder Place a limit or market order
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// PlaceTriggerOrder Place a trigger order
	PlaceTriggerOrder(ctx context.Context, req TriggerOrderRequest) (*OrderAck, error)

	// Close Release the session; called exactly once per run
	Close() error
}
