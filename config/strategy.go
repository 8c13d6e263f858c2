package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"envgrid/market"
)

const (
	SideLong  = "long"
	SideShort = "short"
)

// PairConfig is the per-pair envelope grid configuration.
type PairConfig struct {
	Pair      string             `yaml:"pair"`
	Source    market.PriceSource `yaml:"src"`
	MAWindow  int                `yaml:"ma_base_window"`
	Envelopes []float64          `yaml:"envelopes"` // Strictly ascending, each in (0,1)
	Size      float64            `yaml:"size"`      // Fraction of balance allocated to the pair
	Sides     []string           `yaml:"sides"`
}

func (p PairConfig) AllowsLong() bool  { return p.allows(SideLong) }
func (p PairConfig) AllowsShort() bool { return p.allows(SideShort) }

func (p PairConfig) allows(side string) bool {
	for _, s := range p.Sides {
		if s == side {
			return true
		}
	}
	return false
}

// Levels is the number of envelope levels per side.
func (p PairConfig) Levels() int { return len(p.Envelopes) }

// Validate checks the pair invariants and normalizes the side names.
func (p *PairConfig) Validate() error {
	if strings.TrimSpace(p.Pair) == "" {
		return fmt.Errorf("pair name is empty")
	}
	if p.Source == "" {
		p.Source = market.SourceClose
	}
	src, err := market.ParsePriceSource(string(p.Source))
	if err != nil {
		return fmt.Errorf("pair %s: %w", p.Pair, err)
	}
	p.Source = src
	if p.MAWindow < 1 {
		return fmt.Errorf("pair %s: ma_base_window must be >= 1, got %d", p.Pair, p.MAWindow)
	}
	if len(p.Envelopes) == 0 {
		return fmt.Errorf("pair %s: envelopes must not be empty", p.Pair)
	}
	for i, e := range p.Envelopes {
		if e <= 0 || e >= 1 {
			return fmt.Errorf("pair %s: envelope[%d]=%v must be in (0,1)", p.Pair, i, e)
		}
		if i > 0 && e <= p.Envelopes[i-1] {
			return fmt.Errorf("pair %s: envelopes must be strictly ascending (envelope[%d]=%v <= %v)", p.Pair, i, e, p.Envelopes[i-1])
		}
	}
	if p.Size <= 0 {
		return fmt.Errorf("pair %s: size must be > 0, got %v", p.Pair, p.Size)
	}
	if len(p.Sides) == 0 {
		return fmt.Errorf("pair %s: at least one side is required", p.Pair)
	}
	seen := make(map[string]bool, len(p.Sides))
	for i, s := range p.Sides {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != SideLong && s != SideShort {
			return fmt.Errorf("pair %s: unknown side %q (expected long or short)", p.Pair, p.Sides[i])
		}
		if seen[s] {
			return fmt.Errorf("pair %s: duplicate side %q", p.Pair, s)
		}
		seen[s] = true
		p.Sides[i] = s
	}
	return nil
}

// StrategyConfig holds the run-wide strategy parameters and the pair list.
type StrategyConfig struct {
	MarginMode       string       `yaml:"margin_mode"`
	ExchangeLeverage int          `yaml:"exchange_leverage"`
	Timeframe        string       `yaml:"timeframe"`
	CandleLimit      int          `yaml:"candle_limit"`
	SizeLeverage     float64      `yaml:"size_leverage"`
	StopLoss         float64      `yaml:"stop_loss"`
	Pairs            []PairConfig `yaml:"pairs"`
}

// DefaultStrategy returns the run-wide defaults with an empty pair list.
func DefaultStrategy() *StrategyConfig {
	return &StrategyConfig{
		MarginMode:       "isolated",
		ExchangeLeverage: 3,
		Timeframe:        "1h",
		CandleLimit:      50,
		SizeLeverage:     3,
		StopLoss:         0.3,
	}
}

// LoadStrategy reads a YAML strategy file on top of the defaults and validates it.
func LoadStrategy(path string) (*StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	return ParseStrategy(data)
}

// ParseStrategy decodes YAML strategy content and validates it.
func ParseStrategy(data []byte) (*StrategyConfig, error) {
	cfg := DefaultStrategy()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse strategy: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy: %w", err)
	}
	return cfg, nil
}

// Validate checks run-wide parameters and every pair.
func (c *StrategyConfig) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.MarginMode))
	if mode == "cross" {
		mode = "crossed"
	}
	if mode != "isolated" && mode != "crossed" {
		return fmt.Errorf("margin_mode must be isolated or crossed, got %q", c.MarginMode)
	}
	c.MarginMode = mode
	if c.ExchangeLeverage < 1 {
		return fmt.Errorf("exchange_leverage must be >= 1, got %d", c.ExchangeLeverage)
	}
	if _, err := market.ParseTimeframe(c.Timeframe); err != nil {
		return err
	}
	if c.SizeLeverage <= 0 {
		return fmt.Errorf("size_leverage must be > 0, got %v", c.SizeLeverage)
	}
	if c.StopLoss <= 0 || c.StopLoss >= 1 {
		return fmt.Errorf("stop_loss must be in (0,1), got %v", c.StopLoss)
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("no pairs configured")
	}

	seen := make(map[string]bool, len(c.Pairs))
	maxWindow := 0
	for i := range c.Pairs {
		p := &c.Pairs[i]
		if err := p.Validate(); err != nil {
			return err
		}
		key := market.Normalize(p.Pair)
		if seen[key] {
			return fmt.Errorf("pair %s configured more than once", p.Pair)
		}
		seen[key] = true
		if p.MAWindow > maxWindow {
			maxWindow = p.MAWindow
		}
	}
	// The decision bar is the last completed one, so one extra bar is needed.
	if c.CandleLimit < maxWindow+1 {
		return fmt.Errorf("candle_limit %d too small for ma_base_window %d", c.CandleLimit, maxWindow)
	}
	return nil
}

// PairNames returns the configured pair identifiers in file order.
func (c *StrategyConfig) PairNames() []string {
	names := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		names[i] = p.Pair
	}
	return names
}
