package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// InMemoryStore is a simple in-process document store for local/dev use.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string][]byte)}
}

func relationshipKey(userID, companionID string) string {
	return userID + ":" + companionID
}

func (s *InMemoryStore) Load(_ context.Context, userID, companionID string) (*Record, error) {
	s.mu.RLock()
	raw, ok := s.docs[relationshipKey(userID, companionID)]
	s.mu.RUnlock()
	if !ok {
		return NewRecord(userID, companionID), nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode memory document: %w", err)
	}
	return migrate(&rec), nil
}

func (s *InMemoryStore) Save(_ context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode memory document: %w", err)
	}

	s.mu.Lock()
	s.docs[relationshipKey(rec.UserID, rec.CompanionID)] = raw
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
