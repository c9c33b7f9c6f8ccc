package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lmoretti/elara/internal/ledger"
)

type recordingSink struct {
	mu    sync.Mutex
	turns []struct{ Role, Content string }
}

func (s *recordingSink) AddTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, struct{ Role, Content string }{role, content})
}

func (s *recordingSink) Turns() []struct{ Role, Content string } {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]struct{ Role, Content string }, len(s.turns))
	copy(out, s.turns)
	return out
}

type failingLedger struct{}

func (failingLedger) Start(context.Context, string, string) (string, error) {
	return "", errors.New("ledger unavailable")
}

func (failingLedger) End(context.Context, string, string, int) error { return nil }

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLifecycleSessionPairingAcrossReconnects(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	sink := &recordingSink{}
	clock := newSteppingClock()
	lc := NewLifecycle("u1", "c1", lg, sink, clock.Now, nil)
	ctx := context.Background()

	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := lc.State(); got != StateConnecting {
		t.Fatalf("state = %q, want connecting", got)
	}

	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	clock.Advance(90 * time.Second)
	lc.HandleEvent(ctx, Event{Type: EventDisrupted})
	if got := lc.State(); got != StateReconnecting {
		t.Fatalf("state = %q, want reconnecting", got)
	}
	lc.HandleEvent(ctx, Event{Type: EventRecovered})
	if got := lc.State(); got != StateConnected {
		t.Fatalf("state = %q, want connected after recovery", got)
	}
	clock.Advance(30 * time.Second)
	lc.EndCall(ctx)

	ivs := lg.Intervals()
	if len(ivs) != 1 {
		t.Fatalf("ledger intervals = %d, want exactly 1", len(ivs))
	}
	if !ivs[0].Ended {
		t.Fatalf("interval not ended: %+v", ivs[0])
	}
	if ivs[0].MinutesUsed != 2 {
		t.Fatalf("minutes = %d, want 2 (120s elapsed, reconnect included)", ivs[0].MinutesUsed)
	}
}

func TestLifecycleMinimumOneBillableMinute(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	clock := newSteppingClock()
	lc := NewLifecycle("u1", "c1", lg, &recordingSink{}, clock.Now, nil)
	ctx := context.Background()

	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	clock.Advance(5 * time.Second)
	lc.EndCall(ctx)

	ivs := lg.Intervals()
	if len(ivs) != 1 || ivs[0].MinutesUsed != 1 {
		t.Fatalf("intervals = %+v, want one interval of 1 minute", ivs)
	}
}

func TestLifecycleNeverConnectedBillsZero(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	lc := NewLifecycle("u1", "c1", lg, &recordingSink{}, nil, nil)
	ctx := context.Background()

	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventFatal, Detail: "handshake refused"})

	ivs := lg.Intervals()
	if len(ivs) != 1 || !ivs[0].Ended || ivs[0].MinutesUsed != 0 {
		t.Fatalf("intervals = %+v, want one ended interval of 0 minutes", ivs)
	}
	if got := lc.State(); got != StateEnded {
		t.Fatalf("state = %q, want ended", got)
	}
}

func TestLifecycleLedgerStartFailureBlocksSession(t *testing.T) {
	var gotStates []State
	var gotCause error
	lc := NewLifecycle("u1", "c1", failingLedger{}, &recordingSink{}, nil, func(s State, cause error) {
		gotStates = append(gotStates, s)
		if cause != nil {
			gotCause = cause
		}
	})

	if err := lc.Start(context.Background()); err == nil {
		t.Fatalf("Start() should fail when the ledger is unavailable")
	}
	if got := lc.State(); got != StateEnded {
		t.Fatalf("state = %q, want ended (untracked session must not proceed)", got)
	}
	if gotCause == nil {
		t.Fatalf("expected an error notification for ledger-start failure")
	}
	if len(gotStates) != 1 || gotStates[0] != StateEnded {
		t.Fatalf("observed states = %v, want [ended]", gotStates)
	}
}

func TestLifecycleDoubleEndEmitsOneLedgerEvent(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	lc := NewLifecycle("u1", "c1", lg, &recordingSink{}, nil, nil)
	ctx := context.Background()

	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	lc.EndCall(ctx)
	lc.EndCall(ctx)
	lc.HandleEvent(ctx, Event{Type: EventFatal})

	ivs := lg.Intervals()
	if len(ivs) != 1 || !ivs[0].Ended {
		t.Fatalf("intervals = %+v, want exactly one ended interval", ivs)
	}
}

func TestLifecycleTranscriptAccumulation(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	sink := &recordingSink{}
	lc := NewLifecycle("u1", "c1", lg, sink, nil, nil)
	ctx := context.Background()

	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})

	lc.HandleEvent(ctx, Event{Type: EventTranscriptDelta, Text: "I was thinking "})
	lc.HandleEvent(ctx, Event{Type: EventTranscriptDelta, Text: "about your trip."})
	lc.HandleEvent(ctx, Event{Type: EventUtteranceComplete})
	lc.HandleEvent(ctx, Event{Type: EventUserTranscript, Text: "It was wonderful."})

	turns := sink.Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %+v, want 2", turns)
	}
	if turns[0].Role != "assistant" || turns[0].Content != "I was thinking about your trip." {
		t.Fatalf("assistant turn = %+v", turns[0])
	}
	if turns[1].Role != "user" || turns[1].Content != "It was wonderful." {
		t.Fatalf("user turn = %+v", turns[1])
	}
}

func TestLifecycleEndFlushesPartialUtterance(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	sink := &recordingSink{}
	lc := NewLifecycle("u1", "c1", lg, sink, nil, nil)
	ctx := context.Background()

	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	lc.HandleEvent(ctx, Event{Type: EventTranscriptDelta, Text: "one last thing"})
	lc.EndCall(ctx)

	turns := sink.Turns()
	if len(turns) != 1 || turns[0].Content != "one last thing" {
		t.Fatalf("turns = %+v, want the partial utterance flushed once", turns)
	}

	// An empty accumulator produces no turn.
	sink2 := &recordingSink{}
	lc2 := NewLifecycle("u1", "c1", lg, sink2, nil, nil)
	if err := lc2.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc2.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	lc2.HandleEvent(ctx, Event{Type: EventTranscriptDelta, Text: "   "})
	lc2.EndCall(ctx)
	if got := sink2.Turns(); len(got) != 0 {
		t.Fatalf("turns = %+v, want none for whitespace-only accumulation", got)
	}
}

func TestLifecycleInvalidTransitionsDropped(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	lc := NewLifecycle("u1", "c1", lg, &recordingSink{}, nil, nil)
	ctx := context.Background()

	// Disruption before connected is not a reconnecting edge.
	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventDisrupted})
	if got := lc.State(); got != StateConnecting {
		t.Fatalf("state = %q, want connecting (disruption ignored)", got)
	}

	// Recovery without a disruption is not an edge either.
	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	lc.HandleEvent(ctx, Event{Type: EventRecovered})
	if got := lc.State(); got != StateConnected {
		t.Fatalf("state = %q, want connected", got)
	}

	// Starting twice is rejected.
	if err := lc.Start(ctx); err == nil {
		t.Fatalf("second Start() should fail")
	}
}

func TestRegistryPrunesEndedSessions(t *testing.T) {
	lg := ledger.NewInMemoryLedger()
	r := NewRegistry()
	ctx := context.Background()

	lc := NewLifecycle("u1", "c1", lg, &recordingSink{}, nil, nil)
	r.Add("u1", "c1", lc)
	if err := lc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lc.HandleEvent(ctx, Event{Type: EventHandshakeOK})
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", got)
	}

	pruned := make(chan struct{})
	r.SetPruneHook(func(*Entry) { close(pruned) })

	lc.EndCall(ctx)
	janitorCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(janitorCtx, 10*time.Millisecond)

	select {
	case <-pruned:
	case <-time.After(time.Second):
		t.Fatalf("janitor did not prune ended session")
	}
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}
