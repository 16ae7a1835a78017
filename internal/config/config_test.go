package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
exchange:
  api_key: k
  api_secret: s
oracle:
  base_url: https://api.deepseek.com/v1
  model: deepseek-chat
redis:
  addr: 127.0.0.1:6379
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, []string{"4h", "1h", "15m"}, cfg.Market.Timeframes)
	assert.Equal(t, 301, cfg.Market.KlineLimits["15m"])
	assert.Equal(t, 15, cfg.Scheduler.ScanIntervalMinutes)
	assert.Equal(t, 10, cfg.Scheduler.MaxPositions)
	assert.Equal(t, 300, cfg.Scheduler.ProtectSeconds)
	assert.Equal(t, 5.0, cfg.Scheduler.ProtectBypassProfitPct)
	assert.True(t, cfg.Scheduler.LimitOrderCheckEnabled)
	assert.Equal(t, 3.0, cfg.Trading.DefaultSLPct)
	assert.Equal(t, 6.0, cfg.Trading.DefaultTPPct)

	assert.True(t, cfg.Trailing.Enabled)
	assert.Equal(t, 2.0, cfg.Trailing.ActivatePct)
	require.Len(t, cfg.Trailing.ATRTiers, 5)
	assert.Equal(t, 0.6, cfg.Trailing.ATRTiers[4].ATRMult)

	assert.Equal(t, 4, cfg.Structure.Params["15m"].SwingSize)
	assert.Equal(t, 14, cfg.Structure.Params["4h"].KeepPivots)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
market:
  watch_symbols: [BTCUSDT]
  timeframes: [15m]
  kline_limits:
    15m: 200
scheduler:
  scan_interval_minutes: 5
  limit_order_check_enabled: false
trailing:
  enabled: false
  activate_pct: 3.5
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Market.WatchSymbols)
	assert.Equal(t, 5, cfg.Scheduler.ScanIntervalMinutes)
	assert.False(t, cfg.Scheduler.LimitOrderCheckEnabled)
	assert.False(t, cfg.Trailing.Enabled)
	assert.Equal(t, 3.5, cfg.Trailing.ActivatePct)
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
oracle:
  base_url: https://api.deepseek.com/v1
  model: deepseek-chat
redis:
  addr: 127.0.0.1:6379
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange.api_key")
}

func TestLoadRejectsMissingStructureParams(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
market:
  timeframes: [5m]
  kline_limits:
    5m: 300
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "structure.params")
}
