package trader

import (
	"context"
	"fmt"
	"strings"

	"envgrid/config"
	"envgrid/logger"
	"envgrid/proxy"
	"envgrid/trader/binance"
	"envgrid/trader/bitget"
	"envgrid/trader/paper"
	"envgrid/trader/types"
)

// NewConnector returns a Connector for the configured exchange. Live
// exchanges get a fresh session per run; the paper exchange is shared so
// that its book survives between runs.
func NewConnector(cfg *config.Config) (Connector, error) {
	proxyURL, err := proxy.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	if proxyURL != nil {
		logger.Infof("🌐 Routing exchange traffic through proxy %s", proxyURL.Redacted())
		cfg.ProxyURL = proxyURL.String()
	}

	switch strings.ToLower(cfg.Exchange) {
	case "bitget":
		if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
			return nil, fmt.Errorf("bitget requires EXCHANGE_API_KEY, EXCHANGE_SECRET_KEY and EXCHANGE_PASSPHRASE")
		}
		opts := bitget.Options{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			Passphrase: cfg.Passphrase,
			BaseURL:    cfg.BaseURL,
			ProxyURL:   cfg.ProxyURL,
			Timeout:    cfg.RequestTimeout,
			RateLimit:  cfg.RateLimit,
		}
		return func(context.Context) (types.Exchange, error) {
			return bitget.New(opts), nil
		}, nil

	case "binance":
		if cfg.APIKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("binance requires EXCHANGE_API_KEY and EXCHANGE_SECRET_KEY")
		}
		opts := binance.Options{
			APIKey:    cfg.APIKey,
			SecretKey: cfg.SecretKey,
			BaseURL:   cfg.BaseURL,
			ProxyURL:  cfg.ProxyURL,
			Timeout:   cfg.RequestTimeout,
		}
		return func(context.Context) (types.Exchange, error) {
			return binance.New(opts)
		}, nil

	case "paper":
		ex := paper.New(paper.Config{Balance: cfg.PaperBalance, ListAll: true})
		return func(context.Context) (types.Exchange, error) {
			return ex, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported exchange %q (supported: bitget, binance, paper)", cfg.Exchange)
}
