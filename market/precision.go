package market

import (
	"math"

	"github.com/shopspring/decimal"
)

// TruncateToStep rounds v down (toward zero) to a multiple of step.
// A non-positive step leaves v unchanged.
func TruncateToStep(v, step float64) float64 {
	if step <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	return d.Div(s).Truncate(0).Mul(s).InexactFloat64()
}

// RoundToStep rounds v to the nearest multiple of step (half away from zero).
func RoundToStep(v, step float64) float64 {
	if step <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	return d.Div(s).Round(0).Mul(s).InexactFloat64()
}

// StepFromPlaces returns 10^-places, e.g. 3 -> 0.001.
func StepFromPlaces(places int) float64 {
	return decimal.New(1, int32(-places)).InexactFloat64()
}

// FormatDecimal renders v without exponent and without trailing zeros,
// the form exchange REST APIs expect for price and size fields.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// ParseDecimal parses an exchange numeric string. Empty input yields 0.
func ParseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}
