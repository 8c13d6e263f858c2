package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe converts an exchange timeframe such as "15m", "1h", "1d"
// or "1w" into a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	unit := time.Duration(0)
	switch tf[len(tf)-1] {
	case 'm':
		unit = time.Minute
	case 'h', 'H':
		unit = time.Hour
	case 'd', 'D':
		unit = 24 * time.Hour
	case 'w', 'W':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", tf)
	}
	return time.Duration(n) * unit, nil
}

// NextRunTime returns the first instant after now that sits on an interval
// boundary shifted by delay.
func NextRunTime(now time.Time, interval, delay time.Duration) time.Time {
	if interval <= 0 {
		return now.Add(delay)
	}
	next := now.Add(-delay).Truncate(interval).Add(interval).Add(delay)
	if !next.After(now) {
		next = next.Add(interval)
	}
	return next
}
