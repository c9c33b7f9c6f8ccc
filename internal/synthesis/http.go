package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lmoretti/elara/internal/memory"
	"github.com/lmoretti/elara/internal/reliability"
)

const (
	httpSummarizerTimeout = 45 * time.Second
	httpRetryBase         = 500 * time.Millisecond
	httpRetryCap          = 4 * time.Second
	httpMaxAttempts       = 2
)

// HTTPSummarizer forwards batches to a summarization-capable HTTP endpoint.
type HTTPSummarizer struct {
	url    string
	client *http.Client
}

func NewHTTPSummarizer(url string) *HTTPSummarizer {
	return &HTTPSummarizer{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: httpSummarizerTimeout,
		},
	}
}

// wireSummary mirrors memory.Summary but defers structured_data decoding so a
// malformed extraction block degrades to empty instead of failing the flush.
type wireSummary struct {
	Summary           string          `json:"summary"`
	KeyTopics         []string        `json:"key_topics"`
	EmotionalState    string          `json:"emotional_state"`
	PersonalInfo      []string        `json:"personal_info"`
	RelationshipNotes string          `json:"relationship_notes"`
	FutureReferences  []string        `json:"future_references"`
	ImportantDates    []string        `json:"important_dates"`
	Mood              string          `json:"mood"`
	StructuredData    json.RawMessage `json:"structured_data"`
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, req Request) (memory.Summary, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return memory.Summary{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, httpRetryBase, httpRetryCap)
			select {
			case <-ctx.Done():
				return memory.Summary{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		sum, retryable, err := s.once(ctx, payload)
		if err == nil {
			return sum, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return memory.Summary{}, lastErr
}

func (s *HTTPSummarizer) once(ctx context.Context, payload []byte) (memory.Summary, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return memory.Summary{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(httpReq)
	if err != nil {
		return memory.Summary{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("summarizer http status %d: %s", res.StatusCode, string(body))
		return memory.Summary{}, reliability.IsRetryableHTTPStatus(res.StatusCode), err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return memory.Summary{}, true, fmt.Errorf("read response: %w", err)
	}

	var wire wireSummary
	if err := json.Unmarshal(body, &wire); err != nil {
		return memory.Summary{}, false, fmt.Errorf("decode summary: %w", err)
	}

	return wire.toSummary(time.Now().UTC()), false, nil
}

func (w wireSummary) toSummary(now time.Time) memory.Summary {
	sum := memory.Summary{
		Summary:           w.Summary,
		KeyTopics:         w.KeyTopics,
		EmotionalState:    w.EmotionalState,
		PersonalInfo:      w.PersonalInfo,
		RelationshipNotes: w.RelationshipNotes,
		FutureReferences:  w.FutureReferences,
		ImportantDates:    w.ImportantDates,
		Mood:              w.Mood,
		CreatedAt:         now,
	}

	if len(w.StructuredData) > 0 {
		var facts memory.StructuredFacts
		// Best effort: a provider that garbles the extraction block still
		// produced a usable narrative summary.
		if err := json.Unmarshal(w.StructuredData, &facts); err == nil {
			sum.StructuredData = &facts
		}
	}
	return sum
}
