package conversation

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message exchanged in a conversation. Immutable once created.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock supplies the current time; injectable for deterministic tests.
type Clock func() time.Time

// CancelFunc stops a scheduled callback. Calling it after the callback has
// fired is a no-op.
type CancelFunc func()

// Scheduler defers a callback, standing in for time.AfterFunc so tests can
// drive virtual time.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) CancelFunc
}

// TimerScheduler is the production Scheduler backed by real timers.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
