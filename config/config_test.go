package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartTradeBot/internal/adapters/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env file
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.MonitorInterval)
	assert.Equal(t, 15*time.Second, cfg.ErrorBackoff)
	assert.Equal(t, 60*time.Second, cfg.MaxErrorBackoff)
	assert.Equal(t, 10*time.Second, cfg.DryRunFillDelay)
	assert.Equal(t, 3, cfg.MaxSetupAttempts)
	assert.Equal(t, 500, cfg.LedgerRetention)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, logger.FormatConsole, cfg.LogFormat)
	assert.True(t, cfg.IsTestnet)
	assert.False(t, cfg.HasCredentials())
}

func TestLoadConfig_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MONITOR_INTERVAL_SECONDS", "2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	t.Setenv("TRADES_FILE", "trades.yaml")
	t.Setenv("DEFAULT_USER_ID", "77")
	t.Setenv("RISK_MAX_LEVERAGE", "10")
	t.Setenv("RISK_MAX_DAILY_LOSS", "250.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.MonitorInterval)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, logger.FormatJSON, cfg.LogFormat)
	assert.True(t, cfg.HasCredentials())
	assert.Equal(t, int64(77), cfg.DefaultUserID)
	assert.Equal(t, 10, cfg.RiskMaxLeverage)
	assert.Equal(t, 250.5, cfg.RiskMaxDailyLoss)
	assert.Zero(t, cfg.RiskMaxNotional)
}

func TestLoadConfig_CollectsErrors(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MONITOR_INTERVAL_SECONDS", "abc")
	t.Setenv("MAX_SETUP_ATTEMPTS", "0")
	t.Setenv("BINANCE_API_KEY", "only-key")
	t.Setenv("ERROR_BACKOFF_SECONDS", "30")
	t.Setenv("MAX_ERROR_BACKOFF_SECONDS", "10")
	t.Setenv("TRADES_FILE", "trades.yaml")
	t.Setenv("RISK_MAX_AMOUNT", "-1")

	_, err := LoadConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid MONITOR_INTERVAL_SECONDS")
	assert.Contains(t, msg, "MAX_SETUP_ATTEMPTS must be positive")
	assert.Contains(t, msg, "must be set together")
	assert.Contains(t, msg, "MAX_ERROR_BACKOFF_SECONDS must not be less than ERROR_BACKOFF_SECONDS")
	assert.Contains(t, msg, "DEFAULT_USER_ID must be set when TRADES_FILE is used")
	assert.Contains(t, msg, "RISK_MAX_AMOUNT cannot be negative")
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
