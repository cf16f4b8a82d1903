// Package config loads the engine's configuration: a `.env` file (if
// present) populates the process environment via
// `github.com/joho/godotenv`, then recognized keys are read straight
// out of the environment. Every recognized key is a scalar, so there
// is no nested options document to parse. env-var expansion
// (`os.ExpandEnv`) is still applied to every value read, so
// `DATABASE_URL=${HOME}/ironclad.db` style references keep working.
// The one YAML document this engine does read is optional and
// narrower still: STRATEGY_PARAMS_PATH, consumed by
// internal/strategy's Overrides loader to seed per-strategy parameter
// overrides at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "config")

// Config is the engine's complete runtime configuration.
type Config struct {
	AppEnv   string // development | staging | production
	LogLevel string // DEBUG | INFO | WARNING | ERROR | CRITICAL

	AlpacaAPIKey    string
	AlpacaSecretKey string
	AlpacaBaseURL   string
	AlpacaDataURL   string

	DatabaseURL string

	MaxDailyLossPct    float64
	MaxPositionSizePct float64
	MaxTradesPerDay    int
	MaxOpenPositions   int
	MinBuyingPowerPct  float64

	DashboardPort       int
	BarStorePath        string
	HistoryProviderURL  string
	StrategyParamsPath  string
}

// defaults ensure zero-value fields the user didn't set still leave
// the engine runnable.
const (
	defaultAppEnv             = "development"
	defaultLogLevel           = "INFO"
	defaultAlpacaBaseURL      = "https://paper-api.alpaca.markets"
	defaultAlpacaDataURL      = "https://data.alpaca.markets"
	defaultDatabaseURL        = "ironclad.db"
	defaultMaxPositionSizePct = 10.0
	defaultMaxTradesPerDay    = 20
	defaultMaxOpenPositions   = 10
	defaultDashboardPort      = 8080
	defaultBarStorePath       = "./data/bars"
)

// Load reads a `.env` file at envPath (missing file is not an error),
// then builds a Config from the process environment, normalizes
// defaults, and validates it.
func Load(envPath string) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Load(envPath); err != nil {
		log.Debugf("config: no .env file at %q (%v), using process environment only", envPath, err)
	}

	cfg := &Config{
		AppEnv:   expand("APP_ENV"),
		LogLevel: expand("LOG_LEVEL"),

		AlpacaAPIKey:    expand("ALPACA_API_KEY"),
		AlpacaSecretKey: expand("ALPACA_SECRET_KEY"),
		AlpacaBaseURL:   expand("ALPACA_BASE_URL"),
		AlpacaDataURL:   expand("ALPACA_DATA_URL"),

		DatabaseURL: expand("DATABASE_URL"),

		MaxDailyLossPct:    floatEnv("MAX_DAILY_LOSS_PCT", 0),
		MaxPositionSizePct: floatEnv("MAX_POSITION_SIZE_PCT", defaultMaxPositionSizePct),
		MaxTradesPerDay:    intEnv("MAX_TRADES_PER_DAY", defaultMaxTradesPerDay),
		MaxOpenPositions:   intEnv("MAX_OPEN_POSITIONS", defaultMaxOpenPositions),
		MinBuyingPowerPct:  floatEnv("MIN_BUYING_POWER_PCT", 0),

		DashboardPort:      intEnv("DASHBOARD_PORT", defaultDashboardPort),
		BarStorePath:       expand("BAR_STORE_PATH"),
		HistoryProviderURL: expand("HISTORY_PROVIDER_URL"),
		StrategyParamsPath: expand("STRATEGY_PARAMS_PATH"),
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func expand(key string) string {
	return os.ExpandEnv(os.Getenv(key))
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(expand(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("config: %s=%q is not an integer, using default %d", key, v, def)
		return def
	}
	return n
}

func floatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(expand(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warnf("config: %s=%q is not a number, using default %.2f", key, v, def)
		return def
	}
	return f
}

// normalize fills in every unset field's default.
func (c *Config) normalize() {
	if strings.TrimSpace(c.AppEnv) == "" {
		c.AppEnv = defaultAppEnv
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	if strings.TrimSpace(c.AlpacaBaseURL) == "" {
		c.AlpacaBaseURL = defaultAlpacaBaseURL
	}
	if strings.TrimSpace(c.AlpacaDataURL) == "" {
		c.AlpacaDataURL = defaultAlpacaDataURL
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		c.DatabaseURL = defaultDatabaseURL
	}
	if strings.TrimSpace(c.BarStorePath) == "" {
		c.BarStorePath = defaultBarStorePath
	}
	if c.DashboardPort == 0 {
		c.DashboardPort = defaultDashboardPort
	}
}

// Validate rejects a configuration the engine cannot safely start with.
func (c *Config) Validate() error {
	switch c.AppEnv {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("APP_ENV must be one of development, staging, production, got %q", c.AppEnv)
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.LogLevel)
	}

	if strings.TrimSpace(c.AlpacaAPIKey) == "" {
		return fmt.Errorf("ALPACA_API_KEY is required")
	}
	if strings.TrimSpace(c.AlpacaSecretKey) == "" {
		return fmt.Errorf("ALPACA_SECRET_KEY is required")
	}

	if c.MaxPositionSizePct <= 0 || c.MaxPositionSizePct > 100 {
		return fmt.Errorf("MAX_POSITION_SIZE_PCT must be in (0,100], got %.2f", c.MaxPositionSizePct)
	}
	if c.MaxTradesPerDay <= 0 {
		return fmt.Errorf("MAX_TRADES_PER_DAY must be > 0, got %d", c.MaxTradesPerDay)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("MAX_OPEN_POSITIONS must be > 0, got %d", c.MaxOpenPositions)
	}
	if c.MaxDailyLossPct < 0 {
		return fmt.Errorf("MAX_DAILY_LOSS_PCT must be >= 0, got %.2f", c.MaxDailyLossPct)
	}
	if c.MinBuyingPowerPct < 0 {
		return fmt.Errorf("MIN_BUYING_POWER_PCT must be >= 0, got %.2f", c.MinBuyingPowerPct)
	}
	if c.DashboardPort <= 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("DASHBOARD_PORT must be between 1 and 65535, got %d", c.DashboardPort)
	}
	return nil
}

// IsProduction reports whether APP_ENV selects the JSON log formatter.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "staging"
}

// LogrusLevel maps the recognized LOG_LEVEL string onto logrus's enum,
// defaulting to Info for an unrecognized value (already rejected by
// Validate, but LogrusLevel is also callable on a Config that was
// never validated).
func (c *Config) LogrusLevel() logrus.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return logrus.DebugLevel
	case "WARNING":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	case "CRITICAL":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}
