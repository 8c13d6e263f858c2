package market

import (
	"fmt"
	"strings"
	"time"
)

// Candle is one OHLCV bar, oldest first in every slice this package handles.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// PriceSource selects which price series feeds the moving average.
type PriceSource string

const (
	SourceClose PriceSource = "close"
	SourceOHLC4 PriceSource = "ohlc4"
)

// ParsePriceSource accepts "close" or "ohlc4" (case-insensitive).
func ParsePriceSource(s string) (PriceSource, error) {
	src := PriceSource(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", fmt.Errorf("unknown price source %q (expected close or ohlc4)", s)
	}
	return src, nil
}

func (s PriceSource) Valid() bool {
	return s == SourceClose || s == SourceOHLC4
}

// Series extracts the per-bar price used as moving-average input.
func Series(candles []Candle, src PriceSource) ([]float64, error) {
	out := make([]float64, len(candles))
	switch src {
	case SourceClose:
		for i, c := range candles {
			out[i] = c.Close
		}
	case SourceOHLC4:
		for i, c := range candles {
			out[i] = (c.Open + c.High + c.Low + c.Close) / 4
		}
	default:
		return nil, fmt.Errorf("unknown price source %q", src)
	}
	return out, nil
}
