package kernel

import (
	"errors"
	"fmt"
	"math"

	"envgrid/market"
)

// ErrBaseUndefined is returned when the moving average has not warmed up at
// the requested bar.
var ErrBaseUndefined = errors.New("envelope base undefined")

// ============================================================================
// Envelope levels
// ============================================================================

// EnvelopeLevels is the ladder around one base price. High[i] and Low[i]
// belong to envelope fraction i; index 0 is nearest the base.
type EnvelopeLevels struct {
	Base float64   `json:"base"`
	High []float64 `json:"high"`
	Low  []float64 `json:"low"`
}

// LevelsFromBase computes the ladder for a base price.
// Low is a linear discount; High uses the reciprocal transform base/(1-e),
// so a drop of e from High[i] lands back on the base.
func LevelsFromBase(base float64, envelopes []float64) EnvelopeLevels {
	lv := EnvelopeLevels{
		Base: base,
		High: make([]float64, len(envelopes)),
		Low:  make([]float64, len(envelopes)),
	}
	for i, e := range envelopes {
		lv.High[i] = base * (1 + (1/(1-e) - 1))
		lv.Low[i] = base * (1 - e)
	}
	return lv
}

// Levels returns the number of envelope levels per side.
func (lv EnvelopeLevels) Levels() int { return len(lv.Low) }

// ============================================================================
// Per-bar series
// ============================================================================

// EnvelopeSeries holds the moving-average base at every bar of a candle window.
type EnvelopeSeries struct {
	Envelopes []float64
	Base      []float64 // NaN until the window is full
}

// ComputeEnvelopes evaluates the base moving average over candles.
func ComputeEnvelopes(candles []market.Candle, src market.PriceSource, window int, envelopes []float64) (*EnvelopeSeries, error) {
	if window < 1 {
		return nil, fmt.Errorf("invalid moving average window %d", window)
	}
	if len(envelopes) == 0 {
		return nil, fmt.Errorf("no envelope fractions")
	}
	prices, err := market.Series(candles, src)
	if err != nil {
		return nil, err
	}
	return &EnvelopeSeries{
		Envelopes: envelopes,
		Base:      market.SMA(prices, window),
	}, nil
}

// Len returns the number of bars in the series.
func (s *EnvelopeSeries) Len() int { return len(s.Base) }

// At returns the levels at bar i.
func (s *EnvelopeSeries) At(i int) (EnvelopeLevels, error) {
	if i < 0 || i >= len(s.Base) {
		return EnvelopeLevels{}, fmt.Errorf("bar %d out of range [0,%d): %w", i, len(s.Base), ErrBaseUndefined)
	}
	base := s.Base[i]
	if math.IsNaN(base) || base <= 0 {
		return EnvelopeLevels{}, fmt.Errorf("bar %d: %w", i, ErrBaseUndefined)
	}
	return LevelsFromBase(base, s.Envelopes), nil
}

// LastClosed returns the levels at the most recent completed bar. The final
// bar of an exchange candle response is still forming and is never used.
func (s *EnvelopeSeries) LastClosed() (EnvelopeLevels, error) {
	return s.At(len(s.Base) - 2)
}
