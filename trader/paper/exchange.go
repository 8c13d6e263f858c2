// Package paper is an in-memory exchange. Orders rest forever (no fills);
// candles are either supplied or generated as a deterministic random walk.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"envgrid/market"
	"envgrid/trader/types"
)

// Operation names recorded in the call log.
const (
	OpLoadMarkets         = "load_markets"
	OpSetLeverage         = "set_leverage"
	OpCandles             = "candles"
	OpBalance             = "balance"
	OpOpenOrders          = "open_orders"
	OpOpenTriggerOrders   = "open_trigger_orders"
	OpCancelOrders        = "cancel_orders"
	OpCancelTriggerOrders = "cancel_trigger_orders"
	OpPositions           = "positions"
	OpPlaceOrder          = "place_order"
	OpPlaceTriggerOrder   = "place_trigger_order"
)

// Call is one recorded exchange call. Start and End come from a shared
// counter, so End(a) < Start(b) means a resolved before b was issued.
type Call struct {
	Op    string
	Pair  string
	Start int64
	End   int64
}

// Config seeds a paper exchange.
type Config struct {
	Balance   float64
	Markets   []types.PairInfo
	ListAll   bool          // List any requested pair with default precision
	Latency   time.Duration // Simulated per-call latency
	BasePrice float64       // Random-walk start price for generated candles
}

// Exchange implements types.Exchange in memory.
type Exchange struct {
	cfg Config

	mu        sync.Mutex
	markets   map[string]*types.PairInfo
	candles   map[string][]market.Candle
	positions []types.Position
	orders    map[string]types.StandingOrder
	triggers  map[string]types.StandingOrder
	leverage  map[string]int
	failures  map[string]error
	calls     []Call
	clock     int64
	closes    int
}

// New creates a paper exchange.
func New(cfg Config) *Exchange {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 100
	}
	e := &Exchange{
		cfg:      cfg,
		markets:  make(map[string]*types.PairInfo),
		candles:  make(map[string][]market.Candle),
		orders:   make(map[string]types.StandingOrder),
		triggers: make(map[string]types.StandingOrder),
		leverage: make(map[string]int),
		failures: make(map[string]error),
	}
	for i := range cfg.Markets {
		info := cfg.Markets[i]
		if info.Symbol == "" {
			info.Symbol = market.Normalize(info.Pair)
		}
		e.markets[info.Pair] = &info
	}
	return e
}

// ============================================================================
// Test and simulation helpers
// ============================================================================

// SetCandles replaces the candle history of a pair.
func (e *Exchange) SetCandles(pair string, candles []market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles[pair] = candles
}

// SetPositions replaces the open positions.
func (e *Exchange) SetPositions(positions ...types.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions = append([]types.Position(nil), positions...)
}

// AddOrder seeds a resting order; trigger orders are those with a TriggerPrice.
func (e *Exchange) AddOrder(o types.StandingOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.TriggerPrice > 0 {
		e.triggers[o.ID] = o
	} else {
		e.orders[o.ID] = o
	}
}

// FailOn makes every call of op for pair return err. An empty pair matches all pairs.
func (e *Exchange) FailOn(op, pair string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op+"|"+pair] = err
}

// Calls returns the call log in completion order.
func (e *Exchange) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// CloseCount returns how many times Close was called.
func (e *Exchange) CloseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Leverage returns the leverage last set for a pair.
func (e *Exchange) Leverage(pair string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leverage[pair]
}

// ============================================================================
// types.Exchange
// ============================================================================

func (e *Exchange) Name() string { return "paper" }

// begin records the start of a call, simulates latency and returns the
// configured failure, if any. The returned func records completion.
func (e *Exchange) begin(ctx context.Context, op, pair string) (func(), error) {
	e.mu.Lock()
	e.clock++
	call := Call{Op: op, Pair: pair, Start: e.clock}
	err := e.failures[op+"|"+pair]
	if err == nil {
		err = e.failures[op+"|"]
	}
	e.mu.Unlock()

	if e.cfg.Latency > 0 {
		select {
		case <-time.After(e.cfg.Latency):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err == nil {
		err = ctx.Err()
	}

	done := func() {
		e.mu.Lock()
		e.clock++
		call.End = e.clock
		e.calls = append(e.calls, call)
		e.mu.Unlock()
	}
	if err != nil {
		done()
		return nil, &types.ExchangeError{Exchange: "paper", Op: op, Err: err}
	}
	return done, nil
}

func (e *Exchange) LoadMarkets(ctx context.Context) error {
	done, err := e.begin(ctx, OpLoadMarkets, "")
	if err != nil {
		return err
	}
	defer done()
	return nil
}

func (e *Exchange) PairInfo(pair string) (*types.PairInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if info, ok := e.markets[pair]; ok {
		return info, true
	}
	if !e.cfg.ListAll {
		return nil, false
	}
	info := &types.PairInfo{Pair: pair, Symbol: market.Normalize(pair), TickSize: 0.0001, StepSize: 0.001, MaxLeverage: 125}
	e.markets[pair] = info
	return info, true
}

func (e *Exchange) AmountToPrecision(pair string, amount float64) float64 {
	if info, ok := e.PairInfo(pair); ok {
		return info.AmountToPrecision(amount)
	}
	return amount
}

func (e *Exchange) PriceToPrecision(pair string, price float64) float64 {
	if info, ok := e.PairInfo(pair); ok {
		return info.PriceToPrecision(price)
	}
	return price
}

func (e *Exchange) SetMarginModeAndLeverage(ctx context.Context, pair string, mode types.MarginMode, leverage int) error {
	done, err := e.begin(ctx, OpSetLeverage, pair)
	if err != nil {
		return err
	}
	defer done()
	e.mu.Lock()
	e.leverage[pair] = leverage
	e.mu.Unlock()
	return nil
}

func (e *Exchange) Candles(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error) {
	done, err := e.begin(ctx, OpCandles, pair)
	if err != nil {
		return nil, err
	}
	defer done()

	e.mu.Lock()
	candles, ok := e.candles[pair]
	e.mu.Unlock()
	if !ok {
		if _, listed := e.PairInfo(pair); !listed {
			return nil, fmt.Errorf("%s: %w", pair, types.ErrPairNotFound)
		}
		tf, err := market.ParseTimeframe(timeframe)
		if err != nil {
			return nil, err
		}
		candles = e.randomWalk(pair, tf, limit)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]market.Candle(nil), candles...), nil
}

// randomWalk generates bars ending at the current (forming) bar. The walk is
// seeded by pair and bar time, so repeated calls within a bar agree.
func (e *Exchange) randomWalk(pair string, tf time.Duration, limit int) []market.Candle {
	if limit <= 0 {
		limit = 50
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(pair))
	last := time.Now().UTC().Truncate(tf)
	first := last.Add(-time.Duration(limit-1) * tf)
	rng := rand.New(rand.NewSource(int64(h.Sum64()) ^ first.Unix()))

	out := make([]market.Candle, limit)
	price := e.cfg.BasePrice
	for i := range out {
		open := price
		closePrice := open * (1 + rng.NormFloat64()*0.01)
		high := math.Max(open, closePrice) * (1 + rng.Float64()*0.005)
		low := math.Min(open, closePrice) * (1 - rng.Float64()*0.005)
		out[i] = market.Candle{
			OpenTime: first.Add(time.Duration(i) * tf),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   1000 * rng.Float64(),
		}
		price = closePrice
	}
	return out
}

func (e *Exchange) Balance(ctx context.Context) (*types.Balance, error) {
	done, err := e.begin(ctx, OpBalance, "")
	if err != nil {
		return nil, err
	}
	defer done()
	return &types.Balance{Currency: "USDT", Total: e.cfg.Balance, Free: e.cfg.Balance}, nil
}

func (e *Exchange) OpenOrders(ctx context.Context, pair string) ([]types.StandingOrder, error) {
	done, err := e.begin(ctx, OpOpenOrders, pair)
	if err != nil {
		return nil, err
	}
	defer done()
	return e.list(e.orders, pair), nil
}

func (e *Exchange) OpenTriggerOrders(ctx context.Context, pair string) ([]types.StandingOrder, error) {
	done, err := e.begin(ctx, OpOpenTriggerOrders, pair)
	if err != nil {
		return nil, err
	}
	defer done()
	return e.list(e.triggers, pair), nil
}

func (e *Exchange) list(book map[string]types.StandingOrder, pair string) []types.StandingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.StandingOrder
	for _, o := range book {
		if o.Pair == pair {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Exchange) CancelOrders(ctx context.Context, pair string, ids []string) error {
	done, err := e.begin(ctx, OpCancelOrders, pair)
	if err != nil {
		return err
	}
	defer done()
	return e.cancel(e.orders, pair, ids)
}

func (e *Exchange) CancelTriggerOrders(ctx context.Context, pair string, ids []string) error {
	done, err := e.begin(ctx, OpCancelTriggerOrders, pair)
	if err != nil {
		return err
	}
	defer done()
	return e.cancel(e.triggers, pair, ids)
}

func (e *Exchange) cancel(book map[string]types.StandingOrder, pair string, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		o, ok := book[id]
		if !ok || o.Pair != pair {
			return &types.ExchangeError{Exchange: "paper", Op: "cancel", Code: "order_not_found", Message: fmt.Sprintf("order %s not found on %s", id, pair)}
		}
		delete(book, id)
	}
	return nil
}

func (e *Exchange) OpenPositions(ctx context.Context, pairs []string) ([]types.Position, error) {
	done, err := e.begin(ctx, OpPositions, "")
	if err != nil {
		return nil, err
	}
	defer done()

	wanted := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		wanted[p] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []types.Position
	for _, p := range e.positions {
		if wanted[p.Pair] && p.Size > 0 {
			if p.USDSize == 0 {
				p.USDSize = p.Size * p.MarkPrice
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderAck, error) {
	done, err := e.begin(ctx, OpPlaceOrder, req.Pair)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := e.checkRequest(req); err != nil {
		return nil, err
	}

	o := e.standing(req, 0)
	if req.Type == types.OrderTypeLimit {
		e.mu.Lock()
		e.orders[o.ID] = o
		e.mu.Unlock()
	}
	return &types.OrderAck{ID: o.ID, ClientID: o.ClientID, Pair: req.Pair}, nil
}

func (e *Exchange) PlaceTriggerOrder(ctx context.Context, req types.TriggerOrderRequest) (*types.OrderAck, error) {
	done, err := e.begin(ctx, OpPlaceTriggerOrder, req.Pair)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := e.checkRequest(req.OrderRequest); err != nil {
		return nil, err
	}
	if req.TriggerPrice <= 0 {
		return nil, &types.ExchangeError{Exchange: "paper", Op: OpPlaceTriggerOrder, Message: "trigger price must be positive"}
	}

	o := e.standing(req.OrderRequest, req.TriggerPrice)
	e.mu.Lock()
	e.triggers[o.ID] = o
	e.mu.Unlock()
	return &types.OrderAck{ID: o.ID, ClientID: o.ClientID, Pair: req.Pair}, nil
}

func (e *Exchange) checkRequest(req types.OrderRequest) error {
	if _, ok := e.PairInfo(req.Pair); !ok {
		return fmt.Errorf("%s: %w", req.Pair, types.ErrPairNotFound)
	}
	if req.Size <= 0 {
		return &types.ExchangeError{Exchange: "paper", Op: "place", Message: "size must be positive"}
	}
	if req.Type == types.OrderTypeLimit && req.Price <= 0 {
		return &types.ExchangeError{Exchange: "paper", Op: "place", Message: "limit price must be positive"}
	}
	return nil
}

func (e *Exchange) standing(req types.OrderRequest, trigger float64) types.StandingOrder {
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return types.StandingOrder{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		Pair:         req.Pair,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		TriggerPrice: trigger,
		Size:         req.Size,
		ReduceOnly:   req.ReduceOnly,
		CreatedAt:    time.Now(),
	}
}

func (e *Exchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	return nil
}
