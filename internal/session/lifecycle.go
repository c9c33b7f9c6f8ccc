package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lmoretti/elara/internal/conversation"
	"github.com/lmoretti/elara/internal/ledger"
)

// StateChangeFunc observes lifecycle transitions. cause is non-nil only for
// fatal terminations; user-initiated ends and transient disruptions pass nil.
type StateChangeFunc func(state State, cause error)

// Lifecycle is the state machine for one realtime voice call:
//
//	idle → connecting → connected ⇄ reconnecting → ended
//
// with error exits to ended from any state. It owns the per-utterance
// transcript accumulator and guarantees the usage ledger sees exactly one
// start and one end event no matter how many transient reconnects occur.
type Lifecycle struct {
	mu sync.Mutex

	userID      string
	companionID string
	ledger      ledger.UsageLedger
	sink        TurnSink
	clock       func() time.Time
	onState     StateChangeFunc

	state         State
	sessionID     string
	connectedAt   time.Time
	everConnected bool
	startEmitted  bool
	endEmitted    bool
	utterance     strings.Builder
}

// NewLifecycle creates an idle lifecycle. clock and onState may be nil.
func NewLifecycle(userID, companionID string, lg ledger.UsageLedger, sink TurnSink, clock func() time.Time, onState StateChangeFunc) *Lifecycle {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if onState == nil {
		onState = func(State, error) {}
	}
	return &Lifecycle{
		userID:      userID,
		companionID: companionID,
		ledger:      lg,
		sink:        sink,
		clock:       clock,
		onState:     onState,
		state:       StateIdle,
	}
}

// State returns the current connection state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SessionID returns the ledger session ID, empty until Start succeeds.
func (l *Lifecycle) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessionID
}

// Start opens the usage interval and moves the session to connecting. When
// the ledger call fails the session never leaves idle and goes straight to
// ended: an untracked call must not proceed.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateIdle {
		st := l.state
		l.mu.Unlock()
		return fmt.Errorf("start from state %q", st)
	}
	l.mu.Unlock()

	sessionID, err := l.ledger.Start(ctx, l.userID, l.companionID)
	if err != nil {
		l.mu.Lock()
		l.state = StateEnded
		l.mu.Unlock()
		wrapped := fmt.Errorf("usage ledger start: %w", err)
		l.onState(StateEnded, wrapped)
		return wrapped
	}

	l.mu.Lock()
	l.sessionID = sessionID
	l.startEmitted = true
	l.state = StateConnecting
	l.mu.Unlock()
	l.onState(StateConnecting, nil)
	return nil
}

// HandleEvent applies one transport event. Events that are not valid in the
// current state are dropped; connection state only ever moves along the
// defined edges.
func (l *Lifecycle) HandleEvent(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventHandshakeOK:
		l.transitionConnected(false)
	case EventDisrupted:
		l.transitionReconnecting()
	case EventRecovered:
		l.transitionConnected(true)
	case EventFatal:
		detail := ev.Detail
		if detail == "" {
			detail = fmt.Sprintf("transport close %d", ev.Code)
		}
		l.terminate(ctx, fmt.Errorf("fatal transport event: %s", detail))
	case EventTranscriptDelta:
		l.mu.Lock()
		if l.state == StateConnected || l.state == StateReconnecting {
			l.utterance.WriteString(ev.Text)
		}
		l.mu.Unlock()
	case EventUtteranceComplete:
		l.flushUtterance()
	case EventUserTranscript:
		// User speech arrives as discrete finalized fragments; forward as-is.
		if text := strings.TrimSpace(ev.Text); text != "" {
			l.mu.Lock()
			active := l.state == StateConnected || l.state == StateReconnecting
			l.mu.Unlock()
			if active {
				l.sink.AddTurn(conversation.RoleUser, text)
			}
		}
	}
}

// EndCall terminates the session on user request: the same termination path
// as a fatal close, minus the error notification.
func (l *Lifecycle) EndCall(ctx context.Context) {
	l.terminate(ctx, nil)
}

// BillableMinutes reports the minutes the ledger was (or would be) billed.
func (l *Lifecycle) BillableMinutes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.billableMinutesLocked()
}

func (l *Lifecycle) transitionConnected(fromReconnect bool) {
	l.mu.Lock()
	var ok bool
	if fromReconnect {
		ok = l.state == StateReconnecting
	} else {
		ok = l.state == StateConnecting || l.state == StateReconnecting
	}
	if !ok {
		l.mu.Unlock()
		return
	}
	if !l.everConnected {
		l.everConnected = true
		l.connectedAt = l.clock()
	}
	l.state = StateConnected
	l.mu.Unlock()
	l.onState(StateConnected, nil)
}

func (l *Lifecycle) transitionReconnecting() {
	l.mu.Lock()
	if l.state != StateConnected {
		l.mu.Unlock()
		return
	}
	// Billing keeps accruing here: the interval is measured from first
	// connect to termination, disruptions included.
	l.state = StateReconnecting
	l.mu.Unlock()
	l.onState(StateReconnecting, nil)
}

func (l *Lifecycle) flushUtterance() {
	l.mu.Lock()
	text := strings.TrimSpace(l.utterance.String())
	l.utterance.Reset()
	l.mu.Unlock()

	if text != "" {
		l.sink.AddTurn(conversation.RoleAssistant, text)
	}
}

// terminate moves the session to ended, flushes any pending partial
// utterance, and emits the paired ledger end event exactly once.
func (l *Lifecycle) terminate(ctx context.Context, cause error) {
	l.mu.Lock()
	if l.state == StateEnded {
		l.mu.Unlock()
		return
	}
	l.state = StateEnded

	text := strings.TrimSpace(l.utterance.String())
	l.utterance.Reset()

	emitEnd := l.startEmitted && !l.endEmitted
	if emitEnd {
		l.endEmitted = true
	}
	minutes := l.billableMinutesLocked()
	sessionID := l.sessionID
	l.mu.Unlock()

	// A partial utterance interrupted by the call ending is still one turn,
	// as long as it crosses the minimum-significance bar of being non-empty.
	if text != "" {
		l.sink.AddTurn(conversation.RoleAssistant, text)
	}

	if emitEnd {
		if err := l.ledger.End(ctx, sessionID, l.userID, minutes); err != nil && cause == nil {
			cause = fmt.Errorf("usage ledger end: %w", err)
		}
	}

	l.onState(StateEnded, cause)
}

func (l *Lifecycle) billableMinutesLocked() int {
	if !l.everConnected {
		return 0
	}
	elapsed := l.clock().Sub(l.connectedAt)
	minutes := int(math.Ceil(elapsed.Seconds() / 60))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
