package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lmoretti/elara/internal/conversation"
	"github.com/lmoretti/elara/internal/memory"
)

// MockSummarizer produces deterministic local summaries when no summarization
// endpoint is configured.
type MockSummarizer struct{}

func NewMockSummarizer() *MockSummarizer { return &MockSummarizer{} }

func (m *MockSummarizer) Summarize(ctx context.Context, req Request) (memory.Summary, error) {
	select {
	case <-ctx.Done():
		return memory.Summary{}, ctx.Err()
	default:
	}

	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		userName = DefaultUserName
	}
	companion := strings.TrimSpace(req.CompanionName)
	if companion == "" {
		companion = "the companion"
	}

	var userTurns int
	var opener, closer string
	for _, t := range req.Turns {
		if t.Role == conversation.RoleUser {
			userTurns++
			if opener == "" {
				opener = firstWords(t.Content, 8)
			}
			closer = firstWords(t.Content, 8)
		}
	}

	text := fmt.Sprintf("%s and %s exchanged %d messages.", userName, companion, len(req.Turns))
	if opener != "" {
		text = fmt.Sprintf("%s The conversation opened with %q and closed around %q.", text, opener, closer)
	}

	return memory.Summary{
		Summary:        text,
		KeyTopics:      []string{"conversation"},
		EmotionalState: "neutral",
		Mood:           "neutral",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
