package app

import (
	"context"
	"testing"
	"time"

	"github.com/lmoretti/elara/internal/config"
)

// Build registers Prometheus collectors globally, so each test needs its own
// metrics namespace.
func testConfig(namespace string) config.Config {
	return config.Config{
		MetricsNamespace: "test_app_" + namespace,
		PerfWindowSize:   16,
		FlushTimeout:     10 * time.Second,
	}
}

func TestBuildDefaultsToInMemoryBackends(t *testing.T) {
	ctx := context.Background()
	result, err := Build(ctx, testConfig("defaults"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if result.StoreMode != "in-memory" {
		t.Fatalf("StoreMode = %q, want %q", result.StoreMode, "in-memory")
	}
	if result.API == nil || result.Engine == nil || result.Registry == nil {
		t.Fatal("Build() returned incomplete graph")
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := result.Cleanup(cleanupCtx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
}

func TestBuildRejectsBadSynthesizerMode(t *testing.T) {
	cfg := testConfig("badmode")
	cfg.SynthesizerMode = "telepathy"
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("Build() accepted unknown synthesizer mode")
	}
}
