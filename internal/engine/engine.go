// Package engine owns the per-relationship memory pipeline: it gives each
// active (user, companion) pair a conversation buffer and runs the
// flush → synthesize → merge chain when the buffer decides to flush.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lmoretti/elara/internal/conversation"
	"github.com/lmoretti/elara/internal/memory"
	"github.com/lmoretti/elara/internal/observability"
	"github.com/lmoretti/elara/internal/policy"
	"github.com/lmoretti/elara/internal/profile"
	"github.com/lmoretti/elara/internal/prompt"
	"github.com/lmoretti/elara/internal/synthesis"
)

// NameResolver maps IDs to display names for the summarization request.
// Implementations return empty strings when a name is unknown.
type NameResolver func(userID, companionID string) (userName, companionName string)

// Config carries engine construction options.
type Config struct {
	Buffer conversation.Config
	// Names resolves display names; nil falls back to generic placeholders.
	Names NameResolver
	// Clock and Scheduler are injectable for tests; nil uses real time.
	Clock     conversation.Clock
	Scheduler conversation.Scheduler
}

// Engine coordinates memory pipelines for all active relationships.
type Engine struct {
	store      memory.Store
	summarizer synthesis.Summarizer
	merger     *profile.Merger
	assembler  *prompt.Assembler
	metrics    *observability.Metrics
	stages     *observability.PipelineStageWindow
	cfg        Config

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

func New(store memory.Store, summarizer synthesis.Summarizer, metrics *observability.Metrics, stages *observability.PipelineStageWindow, cfg Config) *Engine {
	if cfg.Names == nil {
		cfg.Names = func(string, string) (string, string) { return "", "" }
	}
	var clock func() time.Time
	if cfg.Clock != nil {
		clock = cfg.Clock
	}
	return &Engine{
		store:      store,
		summarizer: summarizer,
		merger:     profile.NewMerger(store, clock),
		assembler:  prompt.NewAssembler(store),
		metrics:    metrics,
		stages:     stages,
		cfg:        cfg,
		pipelines:  make(map[string]*Pipeline),
	}
}

// Pipeline returns the pipeline for a relationship, creating it on first use.
func (e *Engine) Pipeline(userID, companionID string) *Pipeline {
	key := userID + ":" + companionID

	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pipelines[key]
	if !ok {
		p = newPipeline(e, userID, companionID)
		e.pipelines[key] = p
	}
	return p
}

// AddTurn buffers one turn for the relationship.
func (e *Engine) AddTurn(userID, companionID, role, content string) {
	e.Pipeline(userID, companionID).AddTurn(role, content)
}

// Release force-flushes and discards the relationship's buffer. Callers must
// invoke it on teardown (navigation away, companion switch, shutdown): the
// pipeline owns its buffer only as long as it can guarantee a flush attempt
// on exit.
func (e *Engine) Release(ctx context.Context, userID, companionID string) error {
	key := userID + ":" + companionID

	e.mu.Lock()
	p, ok := e.pipelines[key]
	if ok {
		delete(e.pipelines, key)
	}
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return p.buffer.ForceFlush(ctx)
}

// ContextBlock renders the injected memory context for the next AI call.
func (e *Engine) ContextBlock(ctx context.Context, userID, companionID string) (string, error) {
	started := time.Now()
	block, err := e.assembler.Assemble(ctx, userID, companionID)
	if err != nil {
		return "", err
	}
	e.stages.Observe("assemble", float64(time.Since(started).Milliseconds()))
	return block, nil
}

// AddMilestone logs a relationship event outside the summary pipeline.
func (e *Engine) AddMilestone(ctx context.Context, userID, companionID, text string) error {
	return e.merger.AddMilestone(ctx, userID, companionID, text)
}

// UpdateProfile applies a user-initiated profile edit.
func (e *Engine) UpdateProfile(ctx context.Context, userID, companionID string, partial memory.PersonalProfile) error {
	return e.merger.UpdateProfile(ctx, userID, companionID, partial)
}

// Memory returns the raw memory document for inspection endpoints.
func (e *Engine) Memory(ctx context.Context, userID, companionID string) (*memory.Record, error) {
	return e.store.Load(ctx, userID, companionID)
}

// Close releases every active pipeline, flushing what can be flushed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(e.pipelines))
	for _, p := range e.pipelines {
		pipelines = append(pipelines, p)
	}
	e.pipelines = make(map[string]*Pipeline)
	e.mu.Unlock()

	var firstErr error
	for _, p := range pipelines {
		if err := p.buffer.ForceFlush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pipeline is the memory pipeline for one relationship. It satisfies the
// voice session's TurnSink so transcripts feed the same buffer as text chat.
type Pipeline struct {
	engine      *Engine
	userID      string
	companionID string
	buffer      *conversation.Buffer
}

func newPipeline(e *Engine, userID, companionID string) *Pipeline {
	p := &Pipeline{
		engine:      e,
		userID:      userID,
		companionID: companionID,
	}
	p.buffer = conversation.NewBuffer(e.cfg.Buffer, p.flush, e.cfg.Clock, e.cfg.Scheduler)
	return p
}

// AddTurn appends a turn to the relationship's buffer.
func (p *Pipeline) AddTurn(role, content string) {
	p.buffer.AddTurn(role, content)
}

// BufferedTurns reports how many turns await synthesis.
func (p *Pipeline) BufferedTurns() int {
	return p.buffer.Len()
}

func (p *Pipeline) flush(ctx context.Context, turns []conversation.Turn) error {
	e := p.engine
	userName, companionName := e.cfg.Names(p.userID, p.companionID)
	if userName == "" {
		userName = synthesis.DefaultUserName
	}

	// The batch leaves the process here; mask PII before it does.
	safeTurns, redacted := policy.RedactTurns(turns)
	if redacted > 0 {
		e.stages.ObserveIndicator("pii_redacted")
	}

	flushStart := time.Now()
	sum, err := e.summarizer.Summarize(ctx, synthesis.Request{
		Turns:         safeTurns,
		CompanionName: companionName,
		UserName:      userName,
	})
	synthMS := float64(time.Since(flushStart).Milliseconds())
	e.stages.Observe("synthesize", synthMS)
	e.metrics.ObserveSynthesisLatency(time.Since(flushStart))
	if err != nil {
		// Transient-retryable: the buffer keeps the batch and the next
		// qualifying trigger re-attempts the whole flush.
		e.metrics.FlushEvents.WithLabelValues("synthesis_failure").Inc()
		e.stages.ObserveIndicator("flush_retry")
		return fmt.Errorf("summarize batch: %w", err)
	}

	mergeStart := time.Now()
	if err := e.merger.MergeSummary(ctx, p.userID, p.companionID, sum); err != nil {
		e.metrics.FlushEvents.WithLabelValues("merge_failure").Inc()
		e.metrics.MergeEvents.WithLabelValues("failure").Inc()
		e.stages.ObserveIndicator("flush_retry")
		return fmt.Errorf("merge summary: %w", err)
	}
	e.stages.Observe("merge", float64(time.Since(mergeStart).Milliseconds()))
	e.stages.Observe("flush_total", float64(time.Since(flushStart).Milliseconds()))
	e.metrics.FlushEvents.WithLabelValues("success").Inc()
	e.metrics.MergeEvents.WithLabelValues("success").Inc()
	return nil
}
