package bitget

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"envgrid/logger"
	"envgrid/market"
	"envgrid/trader/types"
)

// contract is one entry of the contracts endpoint
type contract struct {
	Symbol         string `json:"symbol"`
	BaseCoin       string `json:"baseCoin"`
	QuoteCoin      string `json:"quoteCoin"`
	MinTradeNum    string `json:"minTradeNum"`
	PriceEndStep   string `json:"priceEndStep"`
	VolumePlace    string `json:"volumePlace"`
	PricePlace     string `json:"pricePlace"`
	SizeMultiplier string `json:"sizeMultiplier"`
	MaxLever       string `json:"maxLever"`
	SymbolStatus   string `json:"symbolStatus"`
}

func (ct contract) pairInfo() (*types.PairInfo, error) {
	pricePlace, err := strconv.Atoi(ct.PricePlace)
	if err != nil {
		return nil, fmt.Errorf("invalid pricePlace %q", ct.PricePlace)
	}
	volumePlace, err := strconv.Atoi(ct.VolumePlace)
	if err != nil {
		return nil, fmt.Errorf("invalid volumePlace %q", ct.VolumePlace)
	}
	endStep, _ := market.ParseDecimal(ct.PriceEndStep)
	if endStep <= 0 {
		endStep = 1
	}
	step, _ := market.ParseDecimal(ct.SizeMultiplier)
	if step <= 0 {
		step = market.StepFromPlaces(volumePlace)
	}
	minSize, _ := market.ParseDecimal(ct.MinTradeNum)
	maxLever, _ := strconv.Atoi(ct.MaxLever)

	return &types.PairInfo{
		Pair:        ct.BaseCoin + "/" + ct.QuoteCoin,
		Symbol:      ct.Symbol,
		TickSize:    endStep * market.StepFromPlaces(pricePlace),
		StepSize:    step,
		MinSize:     minSize,
		MaxLeverage: maxLever,
	}, nil
}

// LoadMarkets caches the tradable contracts.
func (c *Client) LoadMarkets(ctx context.Context) error {
	var contracts []contract
	if err := c.get(ctx, contractsPath, c.productQuery(), &contracts); err != nil {
		return fmt.Errorf("failed to load contracts: %w", err)
	}

	loaded := make(map[string]*types.PairInfo, len(contracts))
	for _, ct := range contracts {
		if ct.SymbolStatus != "" && ct.SymbolStatus != "normal" {
			continue
		}
		info, err := ct.pairInfo()
		if err != nil {
			logger.Warnf("⚠️ Bitget: skipping contract %s: %v", ct.Symbol, err)
			continue
		}
		loaded[strings.ToUpper(ct.Symbol)] = info
	}

	c.contractsMutex.Lock()
	c.contracts = loaded
	c.contractsMutex.Unlock()
	logger.Infof("✓ Bitget: loaded %d contracts", len(loaded))
	return nil
}

// PairInfo returns the contract for a configured pair.
func (c *Client) PairInfo(pair string) (*types.PairInfo, bool) {
	c.contractsMutex.RLock()
	defer c.contractsMutex.RUnlock()
	info, ok := c.contracts[market.Normalize(pair)]
	if !ok {
		return nil, false
	}
	out := *info
	out.Pair = pair
	return &out, true
}

func (c *Client) symbol(pair string) (string, error) {
	info, ok := c.PairInfo(pair)
	if !ok {
		return "", fmt.Errorf("%s: %w", pair, types.ErrPairNotFound)
	}
	return info.Symbol, nil
}

func (c *Client) AmountToPrecision(pair string, amount float64) float64 {
	if info, ok := c.PairInfo(pair); ok {
		return info.AmountToPrecision(amount)
	}
	return amount
}

func (c *Client) PriceToPrecision(pair string, price float64) float64 {
	if info, ok := c.PairInfo(pair); ok {
		return info.PriceToPrecision(price)
	}
	return price
}

// granularity maps a timeframe to the Bitget candle granularity
func granularity(timeframe string) (string, error) {
	tf := strings.TrimSpace(timeframe)
	if _, err := market.ParseTimeframe(tf); err != nil {
		return "", err
	}
	unit := tf[len(tf)-1:]
	switch unit {
	case "m":
		return tf, nil
	case "h", "d", "w", "H", "D", "W":
		return tf[:len(tf)-1] + strings.ToUpper(unit), nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", timeframe)
}

// Candles fetches the most recent bars, oldest first.
func (c *Client) Candles(ctx context.Context, pair, timeframe string, limit int) ([]market.Candle, error) {
	symbol, err := c.symbol(pair)
	if err != nil {
		return nil, err
	}
	gran, err := granularity(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	q := c.productQuery()
	q.Set("symbol", symbol)
	q.Set("granularity", gran)
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]string
	if err := c.get(ctx, candlesPath, q, &rows); err != nil {
		return nil, fmt.Errorf("failed to get %s candles: %w", pair, err)
	}
	return parseCandles(rows)
}

// parseCandles converts [ts, open, high, low, close, baseVolume, quoteVolume] rows.
func parseCandles(rows [][]string) ([]market.Candle, error) {
	out := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("malformed candle row %v", row)
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed candle timestamp %q", row[0])
		}
		var vals [5]float64
		for i := range vals {
			v, err := market.ParseDecimal(row[i+1])
			if err != nil || math.IsNaN(v) {
				return nil, fmt.Errorf("malformed candle value %q", row[i+1])
			}
			vals[i] = v
		}
		out = append(out, market.Candle{
			OpenTime: time.UnixMilli(ts).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// queryFor returns the product query narrowed to one symbol.
func (c *Client) queryFor(symbol string) url.Values {
	q := c.productQuery()
	q.Set("symbol", symbol)
	return q
}
