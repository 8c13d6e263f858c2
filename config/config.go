package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Global configuration instance
var global *Config

// Config holds the process-wide settings loaded from the environment (.env).
// Strategy parameters live in the strategy file, see StrategyConfig.
type Config struct {
	// Exchange connection
	Exchange       string // bitget, binance or paper
	APIKey         string
	SecretKey      string
	Passphrase     string
	BaseURL        string
	ProxyURL       string
	RequestTimeout time.Duration
	RateLimit      float64 // Requests per second, 0 disables limiting
	PaperBalance   float64

	// Run control
	StrategyFile   string
	DryRun         bool
	RunInterval    time.Duration // 0 = single run
	RunDelay       time.Duration
	MaxConcurrency int

	// Service
	APIServerPort int

	// Run journal
	DBType string // sqlite or postgres, empty disables the journal
	DBPath string
	DBDSN  string

	// Notifications
	TelegramBotToken string
	TelegramChatID   int64

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Init loads the global configuration from environment variables
func Init() {
	cfg := &Config{
		Exchange:       "bitget",
		RequestTimeout: 30 * time.Second,
		RateLimit:      10,
		PaperBalance:   1000,
		StrategyFile:   "strategy.yaml",
		RunDelay:       10 * time.Second,
		APIServerPort:  0,
		DBPath:         "data/envgrid.db",
		LogLevel:       "info",
		LogMaxSizeMB:   100,
		LogMaxBackups:  7,
		LogMaxAgeDays:  30,
	}

	if v := os.Getenv("EXCHANGE"); v != "" {
		cfg.Exchange = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.APIKey = strings.TrimSpace(os.Getenv("EXCHANGE_API_KEY"))
	cfg.SecretKey = strings.TrimSpace(os.Getenv("EXCHANGE_SECRET_KEY"))
	cfg.Passphrase = strings.TrimSpace(os.Getenv("EXCHANGE_PASSPHRASE"))
	cfg.BaseURL = strings.TrimSpace(os.Getenv("EXCHANGE_BASE_URL"))
	cfg.ProxyURL = strings.TrimSpace(os.Getenv("EXCHANGE_PROXY_URL"))
	if d, ok := envDuration("EXCHANGE_TIMEOUT"); ok && d > 0 {
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("EXCHANGE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimit = f
		}
	}
	if v := os.Getenv("PAPER_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.PaperBalance = f
		}
	}

	if v := os.Getenv("STRATEGY_FILE"); v != "" {
		cfg.StrategyFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		cfg.DryRun = strings.ToLower(v) == "true"
	}
	if d, ok := envDuration("RUN_INTERVAL"); ok && d >= 0 {
		cfg.RunInterval = d
	}
	if d, ok := envDuration("RUN_DELAY"); ok && d >= 0 {
		cfg.RunDelay = d
	}
	if v := os.Getenv("MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxConcurrency = n
		}
	}

	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}

	cfg.DBType = strings.ToLower(strings.TrimSpace(os.Getenv("DB_TYPE")))
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	cfg.DBDSN = os.Getenv("DB_DSN")

	cfg.TelegramBotToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.LogFile = os.Getenv("LOG_FILE")
	if n, ok := envInt("LOG_MAX_SIZE_MB"); ok {
		cfg.LogMaxSizeMB = n
	}
	if n, ok := envInt("LOG_MAX_BACKUPS"); ok {
		cfg.LogMaxBackups = n
	}
	if n, ok := envInt("LOG_MAX_AGE_DAYS"); ok {
		cfg.LogMaxAgeDays = n
	}

	global = cfg
}

// Get returns the global configuration, loading it on first use
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}

// envDuration accepts Go durations ("90s", "1h") or plain seconds ("3600").
func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
