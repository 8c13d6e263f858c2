package market

import "strings"

// Normalize converts a configured pair such as "BTC/USDT" or "BTC/USDT:USDT"
// into the exchange symbol form "BTCUSDT".
func Normalize(pair string) string {
	s := strings.ToUpper(strings.TrimSpace(pair))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// SymbolIndex maps exchange symbols back to the configured pair names.
type SymbolIndex map[string]string

func NewSymbolIndex(pairs []string) SymbolIndex {
	idx := make(SymbolIndex, len(pairs))
	for _, p := range pairs {
		idx[Normalize(p)] = p
	}
	return idx
}

// Pair returns the configured pair for an exchange symbol.
func (idx SymbolIndex) Pair(symbol string) (string, bool) {
	p, ok := idx[strings.ToUpper(symbol)]
	return p, ok
}
