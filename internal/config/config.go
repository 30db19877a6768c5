// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// DatabaseURL selects the postgres store when set; empty runs the
	// in-memory store.
	DatabaseURL string

	// NameTTL is the name-registry staleness window.
	NameTTL time.Duration

	// DirectoryTTL is the listing staleness window.
	DirectoryTTL time.Duration

	// Retention is how long an empty room's data survives.
	Retention time.Duration

	// LogLevel is a zap level string: debug, info, warn, error.
	LogLevel string
}

func FromEnv() (Config, error) {
	cfg := Config{
		Addr:         getenv("BG_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("BG_DATABASE_URL"),
		NameTTL:      24 * time.Hour,
		DirectoryTTL: 24 * time.Hour,
		Retention:    24 * time.Hour,
		LogLevel:     getenv("BG_LOG_LEVEL", "info"),
	}

	for _, f := range []struct {
		env string
		dst *time.Duration
	}{
		{"BG_NAME_TTL", &cfg.NameTTL},
		{"BG_DIRECTORY_TTL", &cfg.DirectoryTTL},
		{"BG_RETENTION", &cfg.Retention},
	} {
		raw := os.Getenv(f.env)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", f.env, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("config: %s must be positive", f.env)
		}
		*f.dst = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
