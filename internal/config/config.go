package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	SynthesizerMode string
	SynthesizerURL  string

	LedgerMode string
	LedgerURL  string

	// Flush policy for the per-relationship conversation buffer.
	FlushHardElapsed   time.Duration
	FlushHardTurns     int
	FlushSoftElapsed   time.Duration
	FlushSoftTurns     int
	FlushCoalesceDelay time.Duration
	FlushTimeout       time.Duration

	SessionJanitorInterval time.Duration
	PerfWindowSize         int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "elara"),
		AllowAnyOrigin:   false,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SynthesizerMode:  envOrDefault("SYNTHESIZER_MODE", "auto"),
		SynthesizerURL:   stringsTrimSpace("SYNTHESIZER_HTTP_URL"),
		LedgerMode:       envOrDefault("LEDGER_MODE", "auto"),
		LedgerURL:        stringsTrimSpace("LEDGER_HTTP_URL"),

		FlushHardElapsed:   5 * time.Minute,
		FlushHardTurns:     12,
		FlushSoftElapsed:   3 * time.Minute,
		FlushSoftTurns:     8,
		FlushCoalesceDelay: 2 * time.Second,
		FlushTimeout:       30 * time.Second,

		ShutdownTimeout:        15 * time.Second,
		SessionJanitorInterval: 5 * time.Second,
		PerfWindowSize:         256,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	cfg.FlushHardElapsed, err = durationFromEnv("MEMORY_FLUSH_HARD_ELAPSED", cfg.FlushHardElapsed)
	if err != nil {
		return Config{}, err
	}
	cfg.FlushHardTurns, err = intFromEnv("MEMORY_FLUSH_HARD_TURNS", cfg.FlushHardTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.FlushSoftElapsed, err = durationFromEnv("MEMORY_FLUSH_SOFT_ELAPSED", cfg.FlushSoftElapsed)
	if err != nil {
		return Config{}, err
	}
	cfg.FlushSoftTurns, err = intFromEnv("MEMORY_FLUSH_SOFT_TURNS", cfg.FlushSoftTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.FlushCoalesceDelay, err = durationFromEnv("MEMORY_FLUSH_COALESCE_DELAY", cfg.FlushCoalesceDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.FlushTimeout, err = durationFromEnv("MEMORY_FLUSH_TIMEOUT", cfg.FlushTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionJanitorInterval, err = durationFromEnv("APP_SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.PerfWindowSize, err = intFromEnv("APP_PERF_WINDOW", cfg.PerfWindowSize)
	if err != nil {
		return Config{}, err
	}

	if cfg.FlushHardTurns <= 0 {
		return Config{}, fmt.Errorf("MEMORY_FLUSH_HARD_TURNS must be positive")
	}
	if cfg.FlushSoftTurns <= 0 || cfg.FlushSoftTurns > cfg.FlushHardTurns {
		return Config{}, fmt.Errorf("MEMORY_FLUSH_SOFT_TURNS must be in (0, MEMORY_FLUSH_HARD_TURNS]")
	}
	if cfg.FlushSoftElapsed <= 0 || cfg.FlushSoftElapsed > cfg.FlushHardElapsed {
		return Config{}, fmt.Errorf("MEMORY_FLUSH_SOFT_ELAPSED must be in (0, MEMORY_FLUSH_HARD_ELAPSED]")
	}
	if cfg.FlushTimeout < time.Second {
		return Config{}, fmt.Errorf("MEMORY_FLUSH_TIMEOUT must be at least 1s")
	}
	if cfg.SessionJanitorInterval < time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_JANITOR_INTERVAL must be at least 1s")
	}
	if cfg.PerfWindowSize <= 0 {
		return Config{}, fmt.Errorf("APP_PERF_WINDOW must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
