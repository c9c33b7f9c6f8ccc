package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lmoretti/elara/internal/conversation"
	"github.com/lmoretti/elara/internal/memory"
)

// Request is the normalized payload for one summarization call.
type Request struct {
	Turns         []conversation.Turn `json:"turns"`
	CompanionName string              `json:"companion_name"`
	UserName      string              `json:"user_name"`
}

// DefaultUserName stands in when the caller has no display name for the user.
const DefaultUserName = "the user"

// Summarizer turns one conversation batch into a structured summary. An error
// means the whole flush is abandoned; the caller must keep the batch buffered.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (memory.Summary, error)
}

// Config controls summarizer construction.
type Config struct {
	Mode string
	URL  string
}

// NewSummarizer builds a summarizer for the configured mode.
//
//	http — remote summarization endpoint (URL required)
//	mock — deterministic local summaries for dev and tests
//	auto — http when a URL is configured, otherwise mock
func NewSummarizer(cfg Config) (Summarizer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPSummarizer(cfg.URL), nil
		}
		return NewMockSummarizer(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("summarizer URL is required for http mode")
		}
		return NewHTTPSummarizer(cfg.URL), nil
	case "mock":
		return NewMockSummarizer(), nil
	default:
		return nil, fmt.Errorf("unsupported summarizer mode %q", cfg.Mode)
	}
}
