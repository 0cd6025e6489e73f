package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"smartTradeBot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (only needed for live trades)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Controller timing
	MonitorInterval   time.Duration // Fixed polling interval of every position controller
	ErrorBackoff      time.Duration // First sleep after a failed cycle
	MaxErrorBackoff   time.Duration // Cap for repeated failures
	DryRunFillDelay   time.Duration // Simulated time until a dry-run entry fills
	RequestTimeout    time.Duration // Per-call timeout for execution port requests
	MaxSetupAttempts  int           // Setup failures tolerated before a trade moves to error
	MaxConsecutiveErr int           // Cycle failures tolerated before a trade moves to error (0 = unlimited)

	// Ledger
	LedgerRetention      int     // Events kept per user
	LedgerInitialBalance float64 // Reference balance for drawdown

	// Risk limits checked before a trade starts (0 disables a limit)
	RiskMaxLeverage     int
	RiskMaxAmount       float64
	RiskMaxNotional     float64
	RiskMaxActiveTrades int
	RiskMaxDailyLoss    float64

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat logger.Format

	// Notifications
	TelegramBotToken string

	// Metrics
	MetricsAddr string // Empty disables the /metrics listener

	// Trades loaded at startup
	TradesFile    string
	DefaultUserID int64
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set together")
	}

	// Controller timing
	cfg.MonitorInterval, err = getEnvAsSecondsRequired("MONITOR_INTERVAL_SECONDS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MONITOR_INTERVAL_SECONDS: %v", err))
	}
	cfg.ErrorBackoff, err = getEnvAsSecondsRequired("ERROR_BACKOFF_SECONDS", 15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ERROR_BACKOFF_SECONDS: %v", err))
	}
	cfg.MaxErrorBackoff, err = getEnvAsSecondsRequired("MAX_ERROR_BACKOFF_SECONDS", 60)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ERROR_BACKOFF_SECONDS: %v", err))
	} else if cfg.MaxErrorBackoff < cfg.ErrorBackoff {
		errs = append(errs, "MAX_ERROR_BACKOFF_SECONDS must not be less than ERROR_BACKOFF_SECONDS")
	}
	cfg.DryRunFillDelay, err = getEnvAsSecondsRequired("DRY_RUN_FILL_DELAY_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DRY_RUN_FILL_DELAY_SECONDS: %v", err))
	}
	cfg.RequestTimeout, err = getEnvAsSecondsRequired("REQUEST_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUEST_TIMEOUT_SECONDS: %v", err))
	}

	cfg.MaxSetupAttempts, err = getEnvAsIntRequired("MAX_SETUP_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_SETUP_ATTEMPTS: %v", err))
	} else if cfg.MaxSetupAttempts <= 0 {
		errs = append(errs, "MAX_SETUP_ATTEMPTS must be positive")
	}
	cfg.MaxConsecutiveErr = getEnvAsInt("MAX_CONSECUTIVE_ERRORS", 20)
	if cfg.MaxConsecutiveErr < 0 {
		errs = append(errs, "MAX_CONSECUTIVE_ERRORS cannot be negative")
	}

	// Ledger
	cfg.LedgerRetention, err = getEnvAsIntRequired("LEDGER_RETENTION", 500)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEDGER_RETENTION: %v", err))
	} else if cfg.LedgerRetention <= 0 {
		errs = append(errs, "LEDGER_RETENTION must be positive")
	}
	cfg.LedgerInitialBalance, err = getEnvAsFloatRequired("LEDGER_INITIAL_BALANCE", 1000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEDGER_INITIAL_BALANCE: %v", err))
	} else if cfg.LedgerInitialBalance < 0 {
		errs = append(errs, "LEDGER_INITIAL_BALANCE cannot be negative")
	}

	// Risk limits
	cfg.RiskMaxLeverage = getEnvAsInt("RISK_MAX_LEVERAGE", 0)
	cfg.RiskMaxActiveTrades = getEnvAsInt("RISK_MAX_ACTIVE_TRADES", 0)
	for _, lim := range []struct {
		key string
		dst *float64
	}{
		{"RISK_MAX_AMOUNT", &cfg.RiskMaxAmount},
		{"RISK_MAX_NOTIONAL", &cfg.RiskMaxNotional},
		{"RISK_MAX_DAILY_LOSS", &cfg.RiskMaxDailyLoss},
	} {
		*lim.dst, err = getEnvAsFloatRequired(lim.key, 0)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", lim.key, err))
		} else if *lim.dst < 0 {
			errs = append(errs, fmt.Sprintf("%s cannot be negative", lim.key))
		}
	}
	if cfg.RiskMaxLeverage < 0 || cfg.RiskMaxActiveTrades < 0 {
		errs = append(errs, "RISK_MAX_LEVERAGE and RISK_MAX_ACTIVE_TRADES cannot be negative")
	}

	// Database (empty keeps the ledger in memory only)
	cfg.DBPath = getEnv("DB_PATH", "./data/trade_ledger.db")

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	switch format := logger.Format(strings.ToLower(getEnv("LOG_FORMAT", "console"))); format {
	case logger.FormatConsole, logger.FormatJSON:
		cfg.LogFormat = format
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be console or json, got %q", format))
	}

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	cfg.TradesFile = getEnv("TRADES_FILE", "")
	defaultUser, err := getEnvAsIntRequired("DEFAULT_USER_ID", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_USER_ID: %v", err))
	}
	cfg.DefaultUserID = int64(defaultUser)
	if cfg.TradesFile != "" && cfg.DefaultUserID == 0 {
		errs = append(errs, "DEFAULT_USER_ID must be set when TRADES_FILE is used")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// HasCredentials reports whether live trading keys are configured.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsSecondsRequired(key string, defaultValue int) (time.Duration, error) {
	seconds, err := getEnvAsIntRequired(key, defaultValue)
	if err != nil {
		return 0, err
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("value for key %s must be positive, got %d", key, seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
