package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"envgrid/api"
	"envgrid/config"
	"envgrid/logger"
	"envgrid/metrics"
	"envgrid/notify"
	"envgrid/store"
	"envgrid/trader"
)

func main() {
	os.Exit(run())
}

func run() int {
	strategyFile := flag.String("config", "", "strategy YAML file (overrides STRATEGY_FILE)")
	once := flag.Bool("once", false, "run one reconciliation and exit, even if RUN_INTERVAL is set")
	dryRun := flag.Bool("dry-run", false, "log order writes instead of sending them")
	flag.Parse()

	_ = godotenv.Load()
	config.Init()
	cfg := config.Get()
	if *strategyFile != "" {
		cfg.StrategyFile = *strategyFile
	}
	if *dryRun {
		cfg.DryRun = true
	}

	if err := logger.Init(&logger.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}); err != nil {
		logger.Errorf("❌ Failed to initialize logger: %v", err)
		return 1
	}
	defer logger.Shutdown()

	logger.Info("╔════════════════════════════════════════════╗")
	logger.Info("║    📈 envgrid - envelope grid reconciler   ║")
	logger.Info("╚════════════════════════════════════════════╝")

	strategy, err := config.LoadStrategy(cfg.StrategyFile)
	if err != nil {
		logger.Errorf("❌ Failed to load strategy: %v", err)
		return 1
	}
	logger.Infof("📋 Strategy %s: %d pairs, %s candles, margin %s x%d, stop-loss %.0f%%",
		cfg.StrategyFile, len(strategy.Pairs), strategy.Timeframe, strategy.MarginMode,
		strategy.ExchangeLeverage, strategy.StopLoss*100)

	connect, err := trader.NewConnector(cfg)
	if err != nil {
		logger.Errorf("❌ %v", err)
		return 1
	}

	observers := []trader.RunObserver{metrics.NewRecorder(prometheus.DefaultRegisterer)}
	var history api.RunHistory

	if cfg.DBType != "" {
		st, err := store.New(store.DBConfig{Type: store.DBType(cfg.DBType), Path: cfg.DBPath, DSN: cfg.DBDSN})
		if err != nil {
			logger.Errorf("❌ Failed to open run journal: %v", err)
			return 1
		}
		defer st.Close()
		observers = append(observers, st.Journal())
		history = st.Journal()
	}

	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warnf("⚠️ Telegram disabled: %v", err)
		} else {
			observers = append(observers, tg)
		}
	}

	runner := trader.NewEnvelopeRunner(strategy, connect,
		trader.WithMaxConcurrency(cfg.MaxConcurrency),
		trader.WithDryRun(cfg.DryRun),
		trader.WithObservers(observers...),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.APIServerPort > 0 {
		server := api.NewServer(runner, history, prometheus.DefaultGatherer, cfg.APIServerPort)
		go func() {
			if err := server.Start(); err != nil {
				logger.Errorf("❌ API server stopped: %v", err)
			}
		}()
		defer server.Shutdown()
	}

	if *once || cfg.RunInterval <= 0 {
		if _, err := runner.Run(ctx); err != nil {
			return 1
		}
		return 0
	}

	logger.Infof("⏰ Scheduled mode: every %s (+%s after candle close)", cfg.RunInterval, cfg.RunDelay)
	runner.RunEvery(ctx, cfg.RunInterval, cfg.RunDelay)
	logger.Info("👋 Shutting down")
	return 0
}
