// Package config loads environment-driven settings for the MT4 execution
// and position-monitor core.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting the core reads (spec §6).
type Config struct {
	// MT4 bridge (process-level credentials; user identity never reaches the bridge)
	BridgeURL      string
	BridgeUsername string
	BridgePassword string
	BridgeTimeout  time.Duration

	// Retry matrix (spec §4.1)
	RetryBaseDelay time.Duration
	MaxRetries     int

	// Lot sizing (spec §4.1 calculateLotSize)
	DefaultLotSize float64
	MinLotSize     float64
	MaxLotSize     float64

	// Order poller (spec §4.2)
	PollerInterval    time.Duration
	PollerMaxAttempts int

	// Position monitor (spec §4.4)
	MonitorTickInterval time.Duration

	// Cache / event bus (spec §4.3, §6)
	RedisURL string
	RedisDB  int

	// Credential store integration (spec §6)
	EncryptionKey string

	// Operator-facing diagnostics surface (new; see SPEC_FULL.md)
	OpsAddr  string
	OpsToken string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		BridgeURL:      getEnv("MT4_BRIDGE_URL", "http://localhost:8080"),
		BridgeUsername: os.Getenv("MT4_BRIDGE_USERNAME"),
		BridgePassword: os.Getenv("MT4_BRIDGE_PASSWORD"),
		BridgeTimeout:  5 * time.Second,

		RetryBaseDelay: 500 * time.Millisecond,
		MaxRetries:     3,

		DefaultLotSize: getEnvFloat("MT4_DEFAULT_LOT_SIZE", 0.10),
		MinLotSize:     getEnvFloat("MT4_MIN_LOT_SIZE", 0.01),
		MaxLotSize:     getEnvFloat("MT4_MAX_LOT_SIZE", 1.0),

		PollerInterval:    2 * time.Second,
		PollerMaxAttempts: 30,

		MonitorTickInterval: 60 * time.Second,

		RedisURL: getEnv("REDIS_URL", "localhost:6379"),
		RedisDB:  getEnvInt("REDIS_DB", 0),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		OpsAddr:  getEnv("OPS_ADDR", ":9090"),
		OpsToken: os.Getenv("OPS_TOKEN"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
