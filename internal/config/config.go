// Package config resolves runtime configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the commands need to wire the engine.
type Config struct {
	// Market data API.
	APIBaseURL        string
	StreamURL         string
	RequestsPerMinute int

	// Storage. Empty DSNs mean in-memory.
	PostgresDSN   string
	ClickHouseDSN string

	// Reference data.
	UnitsPath      string
	DifficultyPath string

	// Ingestion tuning.
	BatchSize  int
	BatchDelay time.Duration

	// Verification.
	Tolerance float64

	MetricsAddr string
}

// Load reads a .env file if one exists (never overriding real env vars)
// and resolves the configuration.
func Load() (*Config, error) {
	// godotenv.Load only errors when the file exists and is malformed;
	// a missing .env is the normal production case.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{
		APIBaseURL:        getenv("MARKET_API_BASE_URL", "https://data.elexon.co.uk/bmrs/api/v1"),
		StreamURL:         getenv("MARKET_STREAM_URL", ""),
		RequestsPerMinute: intFromEnv("MARKET_REQUESTS_PER_MINUTE", 4500),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		ClickHouseDSN:     os.Getenv("CLICKHOUSE_DSN"),
		UnitsPath:         getenv("CURTAILMENT_UNITS_PATH", "config/units.yaml"),
		DifficultyPath:    getenv("DIFFICULTY_TABLE_PATH", ""),
		BatchSize:         intFromEnv("INGEST_BATCH_SIZE", 4),
		BatchDelay:        durationFromEnv("INGEST_BATCH_DELAY", time.Second),
		Tolerance:         floatFromEnv("VERIFY_TOLERANCE", 0.02),
		MetricsAddr:       getenv("METRICS_ADDR", ":9090"),
	}

	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("MARKET_REQUESTS_PER_MINUTE must be positive, got %d", cfg.RequestsPerMinute)
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("VERIFY_TOLERANCE must be non-negative, got %g", cfg.Tolerance)
	}
	return cfg, nil
}

// UseMemory reports whether storage should fall back to in-memory stores.
func (c *Config) UseMemory() bool {
	return c.PostgresDSN == ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intFromEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
