package kernel

import (
	"math"

	"envgrid/trader/types"
)

// PositionsByPair keeps one position per pair. When the account reports
// several for the same pair (hedge mode), the largest notional wins and the
// pair is listed in conflicts.
func PositionsByPair(positions []types.Position) (byPair map[string]*types.Position, conflicts []string) {
	byPair = make(map[string]*types.Position, len(positions))
	for i := range positions {
		p := &positions[i]
		if p.Size <= 0 {
			continue
		}
		cur, ok := byPair[p.Pair]
		if !ok {
			byPair[p.Pair] = p
			continue
		}
		if !containsString(conflicts, p.Pair) {
			conflicts = append(conflicts, p.Pair)
		}
		if math.Abs(p.USDSize) > math.Abs(cur.USDSize) {
			byPair[p.Pair] = p
		}
	}
	return byPair, conflicts
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
