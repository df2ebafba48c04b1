// Package config loads process settings from the environment and transfer
// task definitions from YAML or JSON files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Metrics backends accepted in XFER_METRICS_BACKEND.
const (
	MetricsNone        = "none"
	MetricsPushgateway = "pushgateway"
)

// Config holds settings taken from environment variables (which main may
// have populated from a .env file).
type Config struct {
	LogLevel         string
	LogFile          string
	MetricsBackend   string
	PushgatewayURL   string
	DefaultRowsChunk int
}

// LoadConfig reads XFER_* variables, applying defaults for anything unset.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel:         envOr("XFER_LOG_LEVEL", "info"),
		LogFile:          os.Getenv("XFER_LOG_FILE"),
		MetricsBackend:   strings.ToLower(envOr("XFER_METRICS_BACKEND", MetricsNone)),
		PushgatewayURL:   os.Getenv("PUSHGATEWAY_URL"),
		DefaultRowsChunk: 10000,
	}

	if v := os.Getenv("XFER_DEFAULT_ROWS_CHUNK"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("XFER_DEFAULT_ROWS_CHUNK must be a positive integer, got %q", v)
		}
		cfg.DefaultRowsChunk = n
	}

	switch cfg.MetricsBackend {
	case MetricsNone:
	case MetricsPushgateway:
		if cfg.PushgatewayURL == "" {
			return nil, fmt.Errorf("PUSHGATEWAY_URL environment variable not set")
		}
	default:
		return nil, fmt.Errorf("unknown XFER_METRICS_BACKEND %q", cfg.MetricsBackend)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
