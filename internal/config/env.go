package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// LoadFromEnv overlays DOCSTRESS_* environment variables onto cfg.
func LoadFromEnv(cfg *Config) error {
	if uri := os.Getenv("DOCSTRESS_SERVER"); uri != "" {
		cfg.Server.URI = uri
	}

	if n := os.Getenv("DOCSTRESS_CLIENTS_PER_DOC"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRESS_CLIENTS_PER_DOC=%q", ErrInvalid, n)
		}
		cfg.Run.ClientsPerDocument = v
	}

	if b := os.Getenv("DOCSTRESS_BENCH"); b != "" {
		v, err := strconv.ParseBool(b)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRESS_BENCH=%q", ErrInvalid, b)
		}
		cfg.Run.Benchmark = v
	}

	if b := os.Getenv("DOCSTRESS_NODELAY"); b != "" {
		v, err := strconv.ParseBool(b)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRESS_NODELAY=%q", ErrInvalid, b)
		}
		cfg.Run.NoDelay = v
	}

	if d := os.Getenv("DOCSTRESS_TIMEOUT"); d != "" {
		v, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("%w: DOCSTRESS_TIMEOUT=%q", ErrInvalid, d)
		}
		cfg.Run.ReceiveTimeout = v
	}

	cfg.Metrics.Addr = GetEnvOrDefault("DOCSTRESS_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Log.Level = GetEnvOrDefault("DOCSTRESS_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvOrDefault("DOCSTRESS_LOG_FORMAT", cfg.Log.Format)

	return nil
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
