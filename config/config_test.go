package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInitDefaults(t *testing.T) {
	t.Setenv("EXCHANGE", "")
	t.Setenv("RUN_INTERVAL", "")
	Init()
	cfg := Get()

	assert.Equal(t, "bitget", cfg.Exchange)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Duration(0), cfg.RunInterval)
	assert.Equal(t, 10*time.Second, cfg.RunDelay)
	assert.False(t, cfg.DryRun)
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("EXCHANGE", "Binance")
	t.Setenv("EXCHANGE_API_KEY", " key ")
	t.Setenv("EXCHANGE_TIMEOUT", "5s")
	t.Setenv("DRY_RUN", "TRUE")
	t.Setenv("RUN_INTERVAL", "1h")
	t.Setenv("RUN_DELAY", "30")
	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("API_SERVER_PORT", "9090")
	t.Setenv("DB_TYPE", "Postgres")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("LOG_MAX_BACKUPS", "not-a-number")
	Init()
	cfg := Get()

	assert.Equal(t, "binance", cfg.Exchange)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 30*time.Second, cfg.RunDelay)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 9090, cfg.APIServerPort)
	assert.Equal(t, "postgres", cfg.DBType)
	assert.Equal(t, int64(-100123), cfg.TelegramChatID)
	assert.Equal(t, 7, cfg.LogMaxBackups)
}
