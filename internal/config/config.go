package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the client. Each field corresponds
// to a STUDIODESK_* environment variable; a .env file in the working
// directory is honored when present.
type Config struct {
	ServiceURL  string        // base URL of the remote data/auth service
	APIKey      string        // anonymous API key sent with every request
	MetricsAddr string        // listen address for /metrics and /healthz
	BootTimeout time.Duration // safety bound on session bootstrap
	RatePerSec  float64       // remote call rate limit (0 disables)
	RateBurst   int           // remote call burst size
	PGDSN       string        // optional direct-Postgres row store DSN
	DemoMode    bool          // run against the in-memory service
}

// Load reads configuration from the environment, applying defaults where a
// variable is unset. ServiceURL and APIKey are required unless demo mode is
// enabled.
func Load() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := Config{
		ServiceURL:  os.Getenv("STUDIODESK_SERVICE_URL"),
		APIKey:      os.Getenv("STUDIODESK_API_KEY"),
		MetricsAddr: getDefault("STUDIODESK_METRICS_ADDR", ":9180"),
		BootTimeout: 10 * time.Second,
		RatePerSec:  20,
		RateBurst:   40,
		PGDSN:       os.Getenv("STUDIODESK_PG_DSN"),
		DemoMode:    os.Getenv("STUDIODESK_DEMO") == "1",
	}

	if v := os.Getenv("STUDIODESK_BOOT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse STUDIODESK_BOOT_TIMEOUT: %w", err)
		}
		cfg.BootTimeout = d
	}
	if v := os.Getenv("STUDIODESK_RATE_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse STUDIODESK_RATE_PER_SEC: %w", err)
		}
		cfg.RatePerSec = f
	}
	if v := os.Getenv("STUDIODESK_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse STUDIODESK_RATE_BURST: %w", err)
		}
		cfg.RateBurst = n
	}

	if !cfg.DemoMode {
		if cfg.ServiceURL == "" {
			return Config{}, fmt.Errorf("config: STUDIODESK_SERVICE_URL is required")
		}
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("config: STUDIODESK_API_KEY is required")
		}
	}
	return cfg, nil
}

func getDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
