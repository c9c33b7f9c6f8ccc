package conversation

import (
	"context"
	"sync"
	"time"
)

// FlushFunc hands a batch of buffered turns to the synthesis pipeline. A nil
// return confirms the batch was durably handled; any error leaves the batch
// in the buffer for a later retry.
type FlushFunc func(ctx context.Context, turns []Turn) error

// Config tunes the flush policy. Zero values take the documented defaults.
type Config struct {
	// HardElapsed forces a flush once this much time passed since the last
	// successful flush. Default 5m.
	HardElapsed time.Duration
	// HardTurns forces a flush once the buffer holds this many turns. Default 12.
	HardTurns int
	// SoftElapsed and SoftTurns flush together: both must be exceeded. Defaults 3m / 8.
	SoftElapsed time.Duration
	SoftTurns   int
	// MinFlushTurns guards triggered flushes against trivial exchanges. Default 4.
	MinFlushTurns int
	// MinForceTurns guards teardown flushes. Default 3.
	MinForceTurns int
	// CoalesceDelay defers a triggered flush so a burst of near-simultaneous
	// turns is summarized as one batch. Default 2s.
	CoalesceDelay time.Duration
	// FlushTimeout bounds one background flush attempt. Default 30s.
	FlushTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HardElapsed <= 0 {
		c.HardElapsed = 5 * time.Minute
	}
	if c.HardTurns <= 0 {
		c.HardTurns = 12
	}
	if c.SoftElapsed <= 0 {
		c.SoftElapsed = 3 * time.Minute
	}
	if c.SoftTurns <= 0 {
		c.SoftTurns = 8
	}
	if c.MinFlushTurns <= 0 {
		c.MinFlushTurns = 4
	}
	if c.MinForceTurns <= 0 {
		c.MinForceTurns = 3
	}
	if c.CoalesceDelay <= 0 {
		c.CoalesceDelay = 2 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	return c
}

// Buffer accumulates turns for one active relationship and decides when to
// hand them to the synthesis pipeline. It owns its turns exclusively until a
// flush succeeds. Safe for concurrent use.
type Buffer struct {
	mu            sync.Mutex
	cfg           Config
	clock         Clock
	sched         Scheduler
	flush         FlushFunc
	turns         []Turn
	lastFlush     time.Time
	cancelPending CancelFunc
	inFlight      bool
}

// NewBuffer creates a Buffer around the given flush func. clock and sched may
// be nil, in which case real time is used.
func NewBuffer(cfg Config, flush FlushFunc, clock Clock, sched Scheduler) *Buffer {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if sched == nil {
		sched = TimerScheduler{}
	}
	return &Buffer{
		cfg:       cfg.withDefaults(),
		clock:     clock,
		sched:     sched,
		flush:     flush,
		lastFlush: clock(),
	}
}

// AddTurn appends a turn with a generated timestamp and re-evaluates the
// flush policy.
func (b *Buffer) AddTurn(role, content string) {
	now := b.clock()

	b.mu.Lock()
	b.turns = append(b.turns, Turn{Role: role, Content: content, Timestamp: now})
	trigger := b.shouldFlushLocked(now)
	if trigger {
		// Cancel-and-reschedule: a burst of turns keeps pushing the timer
		// back so the whole burst lands in one synthesis call.
		if b.cancelPending != nil {
			b.cancelPending()
		}
		b.cancelPending = b.sched.Schedule(b.cfg.CoalesceDelay, b.coalescedFlush)
	}
	b.mu.Unlock()
}

// Len reports the number of buffered turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// ForceFlush synchronously flushes the buffer on teardown. Buffers holding
// MinForceTurns or fewer turns are left alone: too little content to
// summarize meaningfully.
func (b *Buffer) ForceFlush(ctx context.Context) error {
	b.mu.Lock()
	if b.cancelPending != nil {
		b.cancelPending()
		b.cancelPending = nil
	}
	if len(b.turns) <= b.cfg.MinForceTurns-1 {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	return b.flushNow(ctx)
}

func (b *Buffer) shouldFlushLocked(now time.Time) bool {
	n := len(b.turns)
	if n < b.cfg.MinFlushTurns {
		return false
	}
	elapsed := now.Sub(b.lastFlush)
	switch {
	case elapsed > b.cfg.HardElapsed:
		return true
	case n >= b.cfg.HardTurns:
		return true
	case elapsed > b.cfg.SoftElapsed && n >= b.cfg.SoftTurns:
		return true
	}
	return false
}

func (b *Buffer) coalescedFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
	defer cancel()
	_ = b.flushNow(ctx)
}

// flushNow snapshots the buffer, runs the flush func outside the lock so new
// turns keep buffering while synthesis is in flight, and clears exactly the
// flushed prefix on success. A failed flush leaves the buffer untouched.
func (b *Buffer) flushNow(ctx context.Context) error {
	b.mu.Lock()
	if b.inFlight || len(b.turns) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.inFlight = true
	batch := make([]Turn, len(b.turns))
	copy(batch, b.turns)
	b.mu.Unlock()

	err := b.flush(ctx, batch)

	b.mu.Lock()
	b.inFlight = false
	if err == nil {
		b.turns = b.turns[len(batch):]
		b.lastFlush = b.clock()
	}
	b.mu.Unlock()
	return err
}
