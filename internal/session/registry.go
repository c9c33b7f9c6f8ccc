package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry tracks one registered lifecycle.
type Entry struct {
	ID          string
	UserID      string
	CompanionID string
	Lifecycle   *Lifecycle
	CreatedAt   time.Time
}

// Registry tracks live voice sessions for metrics and cleanup. Ended
// lifecycles are pruned by the janitor.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	onPrune func(*Entry)
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// SetPruneHook registers a callback invoked for every pruned entry.
func (r *Registry) SetPruneHook(hook func(*Entry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPrune = hook
}

// Add registers a lifecycle and returns its registry ID.
func (r *Registry) Add(userID, companionID string, lc *Lifecycle) string {
	e := &Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		CompanionID: companionID,
		Lifecycle:   lc,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e
	return e.ID
}

// Remove drops an entry without waiting for the janitor.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// ActiveCount reports lifecycles that have not reached ended.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.entries {
		if e.Lifecycle.State() != StateEnded {
			count++
		}
	}
	return count
}

// StartJanitor prunes ended sessions on an interval until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.pruneEnded()
			}
		}
	}()
}

func (r *Registry) pruneEnded() {
	var pruned []*Entry

	r.mu.Lock()
	for id, e := range r.entries {
		if e.Lifecycle.State() == StateEnded {
			delete(r.entries, id)
			pruned = append(pruned, e)
		}
	}
	hook := r.onPrune
	r.mu.Unlock()

	if hook != nil {
		for _, e := range pruned {
			hook(e)
		}
	}
}
