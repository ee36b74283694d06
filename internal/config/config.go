package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marketpulse/ingestor/internal/secrets"
)

// Source names accepted in the SOURCES list.
const (
	SourceKalshi     = "kalshi"
	SourcePolymarket = "polymarket"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration

	// Enabled sources
	Sources []string

	// Kalshi API (signed)
	KalshiAPIBaseURL     string
	KalshiKeyID          string
	KalshiPrivateKeyPath string
	KalshiStatusFilter   string
	KalshiPageLimit      int
	CandlePeriodMinutes  int

	// Polymarket APIs (public)
	GammaAPIBaseURL     string
	ClobAPIBaseURL      string
	PolymarketMinVolume float64
	PolymarketPageLimit int

	// Change computation windows, in days
	ChangeWindows []int

	// Retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Rate limits (requests per second)
	KalshiRPS float64
	GammaRPS  float64
	ClobRPS   float64

	// Worker pool
	MarketWorkers int

	// Scheduling
	RunInterval time.Duration // 0 means run once and exit
	RunTimeout  time.Duration

	// Run summary reporting
	ReportMode       string // log, webhook, or a comma-separated list
	ReportWebhookURL string

	// Metrics/Health
	HealthPort int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:          getEnv("ENVIRONMENT", "production"),
		DatabaseDSN:          secrets.GetOptionalSecret("DATABASE_DSN", "host=localhost port=5432 user=marketpulse password=marketpulse dbname=marketpulse sslmode=disable"),
		DatabaseMaxConns:     getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime:  time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		Sources:              parseCSV(getEnv("SOURCES", "kalshi,polymarket")),
		KalshiAPIBaseURL:     getEnv("KALSHI_API_BASE_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		KalshiKeyID:          secrets.GetOptionalSecret("KALSHI_KEY_ID", ""),
		KalshiPrivateKeyPath: getEnv("KALSHI_PRIVATE_KEY_PATH", "kalshi.pem"),
		KalshiStatusFilter:   getEnv("KALSHI_STATUS_FILTER", "open"),
		KalshiPageLimit:      getEnvInt("KALSHI_PAGE_LIMIT", 1000),
		CandlePeriodMinutes:  getEnvInt("CANDLE_PERIOD_MINUTES", 60),
		GammaAPIBaseURL:      getEnv("GAMMA_API_BASE_URL", "https://gamma-api.polymarket.com"),
		ClobAPIBaseURL:       getEnv("CLOB_API_BASE_URL", "https://clob.polymarket.com"),
		PolymarketMinVolume:  getEnvFloat("POLYMARKET_MIN_VOLUME", 1000.0),
		PolymarketPageLimit:  getEnvInt("POLYMARKET_PAGE_LIMIT", 100),
		RetryMaxAttempts:     getEnvInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:       getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:        getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		KalshiRPS:            getEnvFloat("KALSHI_RPS", 5.0),
		GammaRPS:             getEnvFloat("GAMMA_RPS", 5.0),
		ClobRPS:              getEnvFloat("CLOB_RPS", 5.0),
		MarketWorkers:        getEnvInt("MARKET_WORKERS", 5),
		RunInterval:          getEnvDuration("RUN_INTERVAL", 0),
		RunTimeout:           getEnvDuration("RUN_TIMEOUT", 30*time.Minute),
		ReportMode:           getEnv("REPORT_MODE", "log"),
		ReportWebhookURL:     secrets.GetOptionalSecret("REPORT_WEBHOOK_URL", ""),
		HealthPort:           getEnvInt("HEALTH_PORT", 8080),
	}

	windows, err := parseWindows(getEnv("CHANGE_WINDOWS", "1,7,30,90"))
	if err != nil {
		return nil, err
	}
	cfg.ChangeWindows = windows

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors. A failure here is run-fatal.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("SOURCES must name at least one source")
	}
	for _, s := range c.Sources {
		switch s {
		case SourceKalshi:
			if c.KalshiKeyID == "" {
				return fmt.Errorf("KALSHI_KEY_ID is required when kalshi is in SOURCES")
			}
			if c.KalshiPrivateKeyPath == "" {
				return fmt.Errorf("KALSHI_PRIVATE_KEY_PATH is required when kalshi is in SOURCES")
			}
			// A non-positive period would stall the candlestick chunk loop.
			if c.CandlePeriodMinutes < 1 {
				return fmt.Errorf("CANDLE_PERIOD_MINUTES must be at least 1")
			}
		case SourcePolymarket:
			// Public API, nothing to validate
		default:
			return fmt.Errorf("invalid source %q in SOURCES (valid values: kalshi, polymarket)", s)
		}
	}

	if len(c.ChangeWindows) == 0 {
		return fmt.Errorf("CHANGE_WINDOWS must name at least one window")
	}

	if c.MarketWorkers < 1 {
		return fmt.Errorf("MARKET_WORKERS must be at least 1")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.RunTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be positive")
	}

	for _, mode := range strings.Split(c.ReportMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
		case "webhook":
			if c.ReportWebhookURL == "" {
				return fmt.Errorf("REPORT_WEBHOOK_URL is required when webhook is in REPORT_MODE")
			}
		default:
			return fmt.Errorf("invalid REPORT_MODE value: %s (valid values: log, webhook)", mode)
		}
	}

	return nil
}

// SourceEnabled reports whether the named source is in the configured list.
func (c *Config) SourceEnabled(name string) bool {
	for _, s := range c.Sources {
		if s == name {
			return true
		}
	}
	return false
}

func parseWindows(s string) ([]int, error) {
	var windows []int
	for _, part := range parseCSV(s) {
		days, err := strconv.Atoi(part)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid CHANGE_WINDOWS entry %q: windows are positive day counts", part)
		}
		windows = append(windows, days)
	}
	return windows, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
