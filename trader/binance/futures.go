// Package binance implements types.Exchange for Binance USDT-M futures
// on top of go-binance.
package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"envgrid/logger"
	"envgrid/market"
	"envgrid/proxy"
	"envgrid/trader/types"
)

const (
	cancelBatchLimit = 10

	// codeNoNeedToChangeMargin is returned when the margin type is already set
	codeNoNeedToChangeMargin = -4046
	// codeUnknownOrder is returned when cancelling an order that is gone
	codeUnknownOrder = -2011
)

// Options configures a Binance futures client.
type Options struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	ProxyURL  string
	Timeout   time.Duration
}

// FuturesExchange is a Binance USDT-M futures session.
type FuturesExchange struct {
	client *futures.Client

	markets      map[string]*types.PairInfo
	marketsMutex sync.RWMutex
}

// New creates a Binance futures exchange.
func New(opts Options) (*FuturesExchange, error) {
	client := futures.NewClient(opts.APIKey, opts.SecretKey)
	if opts.BaseURL != "" {
		client.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	httpClient, err := proxy.NewHTTPClient(opts.ProxyURL, opts.Timeout)
	if err != nil {
		return nil, err
	}
	client.HTTPClient = httpClient

	return newWithClient(client), nil
}

func newWithClient(client *futures.Client) *FuturesExchange {
	return &FuturesExchange{
		client:  client,
		markets: make(map[string]*types.PairInfo),
	}
}

func (e *FuturesExchange) Name() string { return "binance" }

// Close releases idle connections.
func (e *FuturesExchange) Close() error {
	e.client.HTTPClient.CloseIdleConnections()
	return nil
}

// wrap converts go-binance API errors into ExchangeError.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &types.ExchangeError{
			Exchange: "binance",
			Op:       op,
			Code:     strconv.FormatInt(apiErr.Code, 10),
			Message:  apiErr.Message,
		}
	}
	return &types.ExchangeError{Exchange: "binance", Op: op, Err: err}
}

func apiCode(err error) int64 {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// LoadMarkets caches tradable perpetual contracts.
func (e *FuturesExchange) LoadMarkets(ctx context.Context) error {
	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to load exchange info: %w", wrap("exchange-info", err))
	}

	loaded := make(map[string]*types.PairInfo, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if s.ContractType != "" && s.ContractType != futures.ContractTypePerpetual {
			continue
		}
		pi := &types.PairInfo{
			Pair:   s.BaseAsset + "/" + s.QuoteAsset,
			Symbol: s.Symbol,
		}
		if lot := s.LotSizeFilter(); lot != nil {
			pi.StepSize, _ = market.ParseDecimal(lot.StepSize)
			pi.MinSize, _ = market.ParseDecimal(lot.MinQuantity)
		} else {
			pi.StepSize = market.StepFromPlaces(s.QuantityPrecision)
		}
		if pf := s.PriceFilter(); pf != nil {
			pi.TickSize, _ = market.ParseDecimal(pf.TickSize)
		} else {
			pi.TickSize = market.StepFromPlaces(s.PricePrecision)
		}
		loaded[strings.ToUpper(s.Symbol)] = pi
	}

	e.marketsMutex.Lock()
	e.markets = loaded
	e.marketsMutex.Unlock()
	logger.Infof("✓ Binance: loaded %d perpetual contracts", len(loaded))
	return nil
}

// PairInfo returns the contract for a configured pair.
func (e *FuturesExchange) PairInfo(pair string) (*types.PairInfo, bool) {
	e.marketsMutex.RLock()
	defer e.marketsMutex.RUnlock()
	info, ok := e.markets[market.Normalize(pair)]
	if !ok {
		return nil, false
	}
	out := *info
	out.Pair = pair
	return &out, true
}

func (e *FuturesExchange) symbol(pair string) (string, error) {
	info, ok := e.PairInfo(pair)
	if !ok {
		return "", fmt.Errorf("%s: %w", pair, types.ErrPairNotFound)
	}
	return info.Symbol, nil
}

func (e *FuturesExchange) AmountToPrecision(pair string, amount float64) float64 {
	if info, ok := e.PairInfo(pair); ok {
		return info.AmountToPrecision(amount)
	}
	return amount
}

func (e *FuturesExchange) PriceToPrecision(pair string, price float64) float64 {
	if info, ok := e.PairInfo(pair); ok {
		return info.PriceToPrecision(price)
	}
	return price
}

// SetMarginModeAndLeverage sets the margin type, then the leverage.
func (e *FuturesExchange) SetMarginModeAndLeverage(ctx context.Context, pair string, mode types.MarginMode, leverage int) error {
	symbol, err := e.symbol(pair)
	if err != nil {
		return err
	}

	marginType := futures.MarginTypeIsolated
	if mode == types.MarginCrossed {
		marginType = futures.MarginTypeCrossed
	}
	err = e.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
	if err != nil && apiCode(err) != codeNoNeedToChangeMargin {
		return fmt.Errorf("failed to set %s margin on %s: %w", mode, pair, wrap("margin-type", err))
	}

	if _, err := e.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("failed to set leverage x%d on %s: %w", leverage, pair, wrap("leverage", err))
	}
	return nil
}

// interval converts a timeframe to a Binance kline interval.
func interval(timeframe string) (string, error) {
	tf := strings.TrimSpace(timeframe)
	if _, err := market.ParseTimeframe(tf); err != nil {
		return "", err
	}
	unit := tf[len(tf)-1:]
	if unit == "m" {
		return tf, nil
	}
	return tf[:len(tf)-1] + strings.ToLower(unit), nil
}

// Candles fetches the most recent klines, oldest first.
func (e *FuturesExchange) Candles(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error) {
	symbol, err := e.symbol(pair)
	if err != nil {
		return nil, err
	}
	iv, err := interval(timeframe)
	if err != nil {
		return nil, err
	}

	klines, err := e.client.NewKlinesService().Symbol(symbol).Interval(iv).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s klines: %w", pair, wrap("klines", err))
	}

	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		vals, err := parseFloats(k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, fmt.Errorf("malformed %s kline: %w", pair, err)
		}
		out = append(out, market.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return out, nil
}

func parseFloats(raw ...string) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, s := range raw {
		v, err := market.ParseDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}

// Balance returns the USDT margin balance.
func (e *FuturesExchange) Balance(ctx context.Context) (*types.Balance, error) {
	acc, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", wrap("account", err))
	}
	total, err := market.ParseDecimal(acc.TotalMarginBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid totalMarginBalance %q: %w", acc.TotalMarginBalance, err)
	}
	free, _ := market.ParseDecimal(acc.AvailableBalance)
	return &types.Balance{Currency: "USDT", Total: total, Free: free}, nil
}

// OpenPositions returns non-empty positions on the requested pairs.
func (e *FuturesExchange) OpenPositions(ctx context.Context, pairs []string) ([]types.Position, error) {
	risks, err := e.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", wrap("position-risk", err))
	}

	index := market.NewSymbolIndex(pairs)
	var out []types.Position
	for _, r := range risks {
		pair, ok := index.Pair(r.Symbol)
		if !ok {
			continue
		}
		amt, err := market.ParseDecimal(r.PositionAmt)
		if err != nil || amt == 0 {
			continue
		}
		entry, _ := market.ParseDecimal(r.EntryPrice)
		mark, _ := market.ParseDecimal(r.MarkPrice)
		lev, _ := strconv.Atoi(r.Leverage)
		mode, _ := types.ParseMarginMode(r.MarginType)

		side := types.PositionLong
		if amt < 0 || strings.EqualFold(r.PositionSide, "SHORT") {
			side = types.PositionShort
		}
		out = append(out, types.Position{
			Pair:       pair,
			Side:       side,
			Size:       math.Abs(amt),
			EntryPrice: entry,
			MarkPrice:  mark,
			USDSize:    math.Abs(amt) * mark,
			Leverage:   lev,
			MarginMode: mode,
		})
	}
	return out, nil
}
