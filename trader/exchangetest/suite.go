// Package exchangetest is a black-box conformance suite for types.Exchange
// implementations.
package exchangetest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envgrid/trader/types"
)

// ExchangeSuite runs the shared interface tests against one exchange.
//
// Usage:
//  1. Point the exchange at a mock server (or use the paper exchange)
//  2. Make sure Pair is listed and the mock answers every read and write
//  3. Call RunAllTests
type ExchangeSuite struct {
	T        *testing.T
	Exchange types.Exchange
	Pair     string // A pair the exchange lists
	Unlisted string // A pair it does not list, empty to skip those checks
}

// NewExchangeSuite creates a suite for ex.
func NewExchangeSuite(t *testing.T, ex types.Exchange, pair string) *ExchangeSuite {
	return &ExchangeSuite{T: t, Exchange: ex, Pair: pair, Unlisted: "NOPE/USDT"}
}

// RunAllTests runs every interface test. LoadMarkets runs first.
func (s *ExchangeSuite) RunAllTests() {
	require.NoError(s.T, s.Exchange.LoadMarkets(context.Background()), "LoadMarkets")

	// Metadata
	s.T.Run("PairInfo", s.TestPairInfo)
	s.T.Run("Precision", s.TestPrecision)

	// Reads
	s.T.Run("Candles", s.TestCandles)
	s.T.Run("Balance", s.TestBalance)
	s.T.Run("OpenOrders", s.TestOpenOrders)
	s.T.Run("OpenPositions", s.TestOpenPositions)

	// Writes
	s.T.Run("PlaceOrder", s.TestPlaceOrder)
	s.T.Run("PlaceTriggerOrder", s.TestPlaceTriggerOrder)
	s.T.Run("CancelEmpty", s.TestCancelEmpty)

	if s.Unlisted != "" {
		if _, listed := s.Exchange.PairInfo(s.Unlisted); !listed {
			s.T.Run("UnlistedPair", s.TestUnlistedPair)
		}
	}
}

func (s *ExchangeSuite) TestPairInfo(t *testing.T) {
	info, ok := s.Exchange.PairInfo(s.Pair)
	require.True(t, ok, "%s must be listed", s.Pair)
	assert.Equal(t, s.Pair, info.Pair)
	assert.NotEmpty(t, info.Symbol)
	assert.Greater(t, info.TickSize, 0.0)
	assert.Greater(t, info.StepSize, 0.0)
	assert.GreaterOrEqual(t, info.MinSize, 0.0)
}

func (s *ExchangeSuite) TestPrecision(t *testing.T) {
	info, ok := s.Exchange.PairInfo(s.Pair)
	require.True(t, ok)

	for _, amount := range []float64{0.123456789, 1.99999, 12345.6789} {
		got := s.Exchange.AmountToPrecision(s.Pair, amount)
		assert.LessOrEqual(t, got, amount, "amounts are truncated, never rounded up")
		assert.Less(t, amount-got, info.StepSize+1e-12)
		steps := got / info.StepSize
		assert.InDelta(t, math.Round(steps), steps, 1e-6, "amount %v is a multiple of step %v", got, info.StepSize)
	}
	for _, price := range []float64{0.123456789, 101.23456, 50000.05} {
		got := s.Exchange.PriceToPrecision(s.Pair, price)
		assert.LessOrEqual(t, math.Abs(got-price), info.TickSize/2+1e-9)
	}
}

func (s *ExchangeSuite) TestCandles(t *testing.T) {
	candles, err := s.Exchange.Candles(context.Background(), s.Pair, "1h", 10)
	require.NoError(t, err)
	require.NotEmpty(t, candles)
	assert.LessOrEqual(t, len(candles), 10)
	for i, c := range candles {
		assert.GreaterOrEqual(t, c.High, c.Low, "bar %d", i)
		if i > 0 {
			assert.True(t, candles[i-1].OpenTime.Before(c.OpenTime), "bars are oldest first")
		}
	}
}

func (s *ExchangeSuite) TestBalance(t *testing.T) {
	bal, err := s.Exchange.Balance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.GreaterOrEqual(t, bal.Total, 0.0)
}

func (s *ExchangeSuite) TestOpenOrders(t *testing.T) {
	ctx := context.Background()
	orders, err := s.Exchange.OpenOrders(ctx, s.Pair)
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, s.Pair, o.Pair)
		assert.NotEmpty(t, o.ID)
	}

	triggers, err := s.Exchange.OpenTriggerOrders(ctx, s.Pair)
	require.NoError(t, err)
	for _, o := range triggers {
		assert.Equal(t, s.Pair, o.Pair)
		assert.Greater(t, o.TriggerPrice, 0.0)
	}
}

func (s *ExchangeSuite) TestOpenPositions(t *testing.T) {
	positions, err := s.Exchange.OpenPositions(context.Background(), []string{s.Pair})
	require.NoError(t, err)
	for _, p := range positions {
		assert.Equal(t, s.Pair, p.Pair, "positions are restricted to the requested pairs")
		assert.Greater(t, p.Size, 0.0)
		assert.Contains(t, []types.PositionSide{types.PositionLong, types.PositionShort}, p.Side)
	}
}

func (s *ExchangeSuite) orderSize() float64 {
	info, _ := s.Exchange.PairInfo(s.Pair)
	return math.Max(info.MinSize, info.StepSize) * 2
}

func (s *ExchangeSuite) TestPlaceOrder(t *testing.T) {
	ack, err := s.Exchange.PlaceOrder(context.Background(), types.OrderRequest{
		Pair:       s.Pair,
		Side:       types.SideBuy,
		Type:       types.OrderTypeLimit,
		Price:      s.Exchange.PriceToPrecision(s.Pair, 90),
		Size:       s.orderSize(),
		MarginMode: types.MarginIsolated,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)
	assert.Equal(t, s.Pair, ack.Pair)
}

func (s *ExchangeSuite) TestPlaceTriggerOrder(t *testing.T) {
	ack, err := s.Exchange.PlaceTriggerOrder(context.Background(), types.TriggerOrderRequest{
		OrderRequest: types.OrderRequest{
			Pair:       s.Pair,
			Side:       types.SideSell,
			Type:       types.OrderTypeMarket,
			Size:       s.orderSize(),
			ReduceOnly: true,
			MarginMode: types.MarginIsolated,
		},
		TriggerPrice: s.Exchange.PriceToPrecision(s.Pair, 70),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ID)
	assert.Equal(t, s.Pair, ack.Pair)
}

func (s *ExchangeSuite) TestCancelEmpty(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, s.Exchange.CancelOrders(ctx, s.Pair, nil))
	assert.NoError(t, s.Exchange.CancelTriggerOrders(ctx, s.Pair, nil))
}

func (s *ExchangeSuite) TestUnlistedPair(t *testing.T) {
	ctx := context.Background()
	_, err := s.Exchange.Candles(ctx, s.Unlisted, "1h", 10)
	assert.ErrorIs(t, err, types.ErrPairNotFound)

	_, err = s.Exchange.PlaceOrder(ctx, types.OrderRequest{
		Pair: s.Unlisted, Side: types.SideBuy, Type: types.OrderTypeLimit, Price: 1, Size: 1,
	})
	assert.ErrorIs(t, err, types.ErrPairNotFound)
}
