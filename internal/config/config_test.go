package config

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ALPACA_API_KEY", "key123")
	t.Setenv("ALPACA_SECRET_KEY", "secret123")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load("nonexistent.env")
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, defaultAlpacaBaseURL, cfg.AlpacaBaseURL)
	require.Equal(t, defaultMaxPositionSizePct, cfg.MaxPositionSizePct)
	require.Equal(t, defaultMaxTradesPerDay, cfg.MaxTradesPerDay)
	require.Equal(t, defaultDashboardPort, cfg.DashboardPort)
}

func TestLoadMissingAPIKeyFails(t *testing.T) {
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET_KEY", "secret123")
	_, err := Load("nonexistent.env")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ALPACA_API_KEY")
}

func TestLoadRejectsBadAppEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "sandbox")
	_, err := Load("nonexistent.env")
	require.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "VERBOSE")
	_, err := Load("nonexistent.env")
	require.Error(t, err)
}

func TestLoadRejectsOutOfRangePositionSize(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_POSITION_SIZE_PCT", "150")
	_, err := Load("nonexistent.env")
	require.Error(t, err)
}

func TestLoadReadsNumericOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_TRADES_PER_DAY", "5")
	t.Setenv("MAX_DAILY_LOSS_PCT", "2.5")
	t.Setenv("DASHBOARD_PORT", "9090")

	cfg, err := Load("nonexistent.env")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.MaxTradesPerDay)
	require.InDelta(t, 2.5, cfg.MaxDailyLossPct, 1e-9)
	require.Equal(t, 9090, cfg.DashboardPort)
}

func TestLoadFallsBackOnUnparsableNumber(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_TRADES_PER_DAY", "not-a-number")
	cfg, err := Load("nonexistent.env")
	require.NoError(t, err)
	require.Equal(t, defaultMaxTradesPerDay, cfg.MaxTradesPerDay)
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{AppEnv: "production"}
	require.True(t, cfg.IsProduction())
	cfg.AppEnv = "staging"
	require.True(t, cfg.IsProduction())
	cfg.AppEnv = "development"
	require.False(t, cfg.IsProduction())
}

func TestLogrusLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"DEBUG":    logrus.DebugLevel,
		"WARNING":  logrus.WarnLevel,
		"ERROR":    logrus.ErrorLevel,
		"CRITICAL": logrus.FatalLevel,
		"INFO":     logrus.InfoLevel,
		"":         logrus.InfoLevel,
	}
	for level, want := range cases {
		cfg := &Config{LogLevel: level}
		require.Equal(t, want, cfg.LogrusLevel())
	}
}
