package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.SynthesizerMode != "auto" {
		t.Fatalf("SynthesizerMode = %q, want %q", cfg.SynthesizerMode, "auto")
	}
	if cfg.SynthesizerURL != "" {
		t.Fatalf("SynthesizerURL = %q, want empty default", cfg.SynthesizerURL)
	}
	if cfg.FlushHardElapsed != 5*time.Minute || cfg.FlushHardTurns != 12 {
		t.Fatalf("hard flush policy = %v/%d, want 5m/12", cfg.FlushHardElapsed, cfg.FlushHardTurns)
	}
	if cfg.FlushSoftElapsed != 3*time.Minute || cfg.FlushSoftTurns != 8 {
		t.Fatalf("soft flush policy = %v/%d, want 3m/8", cfg.FlushSoftElapsed, cfg.FlushSoftTurns)
	}
	if cfg.FlushCoalesceDelay != 2*time.Second {
		t.Fatalf("FlushCoalesceDelay = %v, want 2s", cfg.FlushCoalesceDelay)
	}
}

func TestLoadUsesExplicitSynthesizerURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("SYNTHESIZER_HTTP_URL", "http://localhost:7777/v1/summarize")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SynthesizerURL != "http://localhost:7777/v1/summarize" {
		t.Fatalf("SynthesizerURL = %q, want explicit value", cfg.SynthesizerURL)
	}
}

func TestLoadRejectsInvertedFlushPolicy(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_FLUSH_SOFT_TURNS", "20")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted soft turn threshold above the hard threshold")
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_FLUSH_HARD_ELAPSED", "five minutes")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted malformed duration")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_SESSION_JANITOR_INTERVAL",
		"APP_PERF_WINDOW",
		"DATABASE_URL",
		"SYNTHESIZER_MODE",
		"SYNTHESIZER_HTTP_URL",
		"LEDGER_MODE",
		"LEDGER_HTTP_URL",
		"MEMORY_FLUSH_HARD_ELAPSED",
		"MEMORY_FLUSH_HARD_TURNS",
		"MEMORY_FLUSH_SOFT_ELAPSED",
		"MEMORY_FLUSH_SOFT_TURNS",
		"MEMORY_FLUSH_COALESCE_DELAY",
		"MEMORY_FLUSH_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
