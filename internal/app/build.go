// Package app wires the service graph. cmd/elara and integration tests share
// the same construction path so they cannot drift apart.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/lmoretti/elara/internal/config"
	"github.com/lmoretti/elara/internal/conversation"
	"github.com/lmoretti/elara/internal/engine"
	"github.com/lmoretti/elara/internal/httpapi"
	"github.com/lmoretti/elara/internal/ledger"
	"github.com/lmoretti/elara/internal/memory"
	"github.com/lmoretti/elara/internal/observability"
	"github.com/lmoretti/elara/internal/session"
	"github.com/lmoretti/elara/internal/synthesis"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Engine   *engine.Engine
	Registry *session.Registry
	Metrics  *observability.Metrics
	Stages   *observability.PipelineStageWindow

	// StoreMode reports which memory backend was selected (for startup logs).
	StoreMode string

	// Cleanup should be called on shutdown to flush buffers and release the DB.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewPipelineStageWindow(cfg.PerfWindowSize)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	storeMode := "postgres"
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		storeMode = "in-memory"
	}

	summarizer, err := synthesis.NewSummarizer(synthesis.Config{
		Mode: cfg.SynthesizerMode,
		URL:  cfg.SynthesizerURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("summarizer init failed: %w", err)
	}

	usageLedger, err := ledger.NewLedger(ledger.Config{
		Mode: cfg.LedgerMode,
		URL:  cfg.LedgerURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("usage ledger init failed: %w", err)
	}

	eng := engine.New(store, summarizer, metrics, stages, engine.Config{
		Buffer: conversation.Config{
			HardElapsed:   cfg.FlushHardElapsed,
			HardTurns:     cfg.FlushHardTurns,
			SoftElapsed:   cfg.FlushSoftElapsed,
			SoftTurns:     cfg.FlushSoftTurns,
			CoalesceDelay: cfg.FlushCoalesceDelay,
			FlushTimeout:  cfg.FlushTimeout,
		},
	})

	registry := session.NewRegistry()
	registry.SetPruneHook(func(_ *session.Entry) {
		metrics.SessionEvents.WithLabelValues("pruned").Inc()
		metrics.ActiveSessions.Set(float64(registry.ActiveCount()))
	})

	api := httpapi.New(cfg, eng, usageLedger, registry, stages, metrics)

	cleanup := func(ctx context.Context) error {
		var errs []string
		// Buffers first: their flush may still need the store.
		if err := eng.Close(ctx); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Engine:    eng,
		Registry:  registry,
		Metrics:   metrics,
		Stages:    stages,
		StoreMode: storeMode,
		Cleanup:   cleanup,
	}, nil
}
