package bitget

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"envgrid/market"
	"envgrid/trader/types"
)

// SetMarginModeAndLeverage sets the margin mode, then the leverage.
func (c *Client) SetMarginModeAndLeverage(ctx context.Context, pair string, mode types.MarginMode, leverage int) error {
	symbol, err := c.symbol(pair)
	if err != nil {
		return err
	}

	if err := c.post(ctx, setMarginModePath, map[string]string{
		"symbol":      symbol,
		"productType": c.opts.ProductType,
		"marginCoin":  c.opts.MarginCoin,
		"marginMode":  string(mode),
	}, nil); err != nil {
		return fmt.Errorf("failed to set %s margin on %s: %w", mode, pair, err)
	}

	if err := c.post(ctx, setLeveragePath, map[string]string{
		"symbol":      symbol,
		"productType": c.opts.ProductType,
		"marginCoin":  c.opts.MarginCoin,
		"leverage":    strconv.Itoa(leverage),
	}, nil); err != nil {
		return fmt.Errorf("failed to set leverage x%d on %s: %w", leverage, pair, err)
	}
	return nil
}

type account struct {
	MarginCoin    string `json:"marginCoin"`
	Available     string `json:"available"`
	AccountEquity string `json:"accountEquity"`
	USDTEquity    string `json:"usdtEquity"`
}

// Balance returns the margin coin equity.
func (c *Client) Balance(ctx context.Context) (*types.Balance, error) {
	var accounts []account
	if err := c.get(ctx, accountsPath, c.productQuery(), &accounts); err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}
	for _, a := range accounts {
		if !strings.EqualFold(a.MarginCoin, c.opts.MarginCoin) {
			continue
		}
		total, err := market.ParseDecimal(a.AccountEquity)
		if err != nil {
			return nil, fmt.Errorf("invalid accountEquity %q: %w", a.AccountEquity, err)
		}
		if total == 0 {
			total, _ = market.ParseDecimal(a.USDTEquity)
		}
		free, _ := market.ParseDecimal(a.Available)
		return &types.Balance{Currency: c.opts.MarginCoin, Total: total, Free: free}, nil
	}
	return &types.Balance{Currency: c.opts.MarginCoin}, nil
}

type position struct {
	Symbol       string `json:"symbol"`
	HoldSide     string `json:"holdSide"`
	Total        string `json:"total"`
	OpenPriceAvg string `json:"openPriceAvg"`
	MarkPrice    string `json:"markPrice"`
	Leverage     string `json:"leverage"`
	MarginMode   string `json:"marginMode"`
}

// OpenPositions returns non-empty positions on the requested pairs.
func (c *Client) OpenPositions(ctx context.Context, pairs []string) ([]types.Position, error) {
	q := c.productQuery()
	q.Set("marginCoin", c.opts.MarginCoin)

	var raw []position
	if err := c.get(ctx, allPositionPath, q, &raw); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	index := market.NewSymbolIndex(pairs)
	var out []types.Position
	for _, p := range raw {
		pair, ok := index.Pair(p.Symbol)
		if !ok {
			continue
		}
		size, err := market.ParseDecimal(p.Total)
		if err != nil || size == 0 {
			continue
		}
		entry, _ := market.ParseDecimal(p.OpenPriceAvg)
		mark, _ := market.ParseDecimal(p.MarkPrice)
		lev, _ := strconv.Atoi(p.Leverage)
		mode, _ := types.ParseMarginMode(p.MarginMode)

		side := types.PositionLong
		if strings.EqualFold(p.HoldSide, "short") {
			side = types.PositionShort
		}
		out = append(out, types.Position{
			Pair:       pair,
			Side:       side,
			Size:       math.Abs(size),
			EntryPrice: entry,
			MarkPrice:  mark,
			USDSize:    math.Abs(size) * mark,
			Leverage:   lev,
			MarginMode: mode,
		})
	}
	return out, nil
}
