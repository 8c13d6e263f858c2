package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevel(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "debug"}))
	assert.Equal(t, logrus.DebugLevel, Log.GetLevel())

	require.NoError(t, Init(&Config{Level: "nonsense"}))
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())

	require.NoError(t, Init(nil))
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envgrid.log")
	require.NoError(t, Init(&Config{Level: "info", File: path}))
	t.Cleanup(func() {
		Shutdown()
		_ = Init(nil)
	})

	Infof("reconciled %d pairs", 3)
	NewHTTPLogger("[bitget] ").Warnf("retrying %s", "/api/v2/mix/market/candles")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "reconciled 3 pairs")
	assert.Contains(t, string(data), "[bitget] retrying /api/v2/mix/market/candles")
	assert.NotContains(t, string(data), "\x1b[")
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{File: "x.log"}
	cfg.SetDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 100, cfg.MaxSizeMB)
	assert.Equal(t, 7, cfg.MaxBackups)
	assert.Equal(t, 30, cfg.MaxAgeDays)
}
