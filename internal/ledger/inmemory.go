package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Interval is one recorded usage interval.
type Interval struct {
	SessionID   string
	UserID      string
	CompanionID string
	StartedAt   time.Time
	EndedAt     time.Time
	MinutesUsed int
	Ended       bool
}

// InMemoryLedger records usage intervals in process. It doubles as the test
// fake: Intervals exposes a snapshot for assertions.
type InMemoryLedger struct {
	mu        sync.Mutex
	intervals map[string]*Interval
	order     []string
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{intervals: make(map[string]*Interval)}
}

func (l *InMemoryLedger) Start(_ context.Context, userID, companionID string) (string, error) {
	id := uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.intervals[id] = &Interval{
		SessionID:   id,
		UserID:      userID,
		CompanionID: companionID,
		StartedAt:   time.Now().UTC(),
	}
	l.order = append(l.order, id)
	return id, nil
}

func (l *InMemoryLedger) End(_ context.Context, sessionID, userID string, minutesUsed int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	iv, ok := l.intervals[sessionID]
	if !ok {
		return fmt.Errorf("ledger end: unknown session %q", sessionID)
	}
	if iv.Ended {
		return fmt.Errorf("ledger end: session %q already ended", sessionID)
	}
	iv.Ended = true
	iv.EndedAt = time.Now().UTC()
	iv.MinutesUsed = minutesUsed
	return nil
}

// Intervals returns recorded intervals in start order.
func (l *InMemoryLedger) Intervals() []Interval {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Interval, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.intervals[id])
	}
	return out
}
