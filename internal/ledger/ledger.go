// Package ledger reports paired start/end usage intervals for voice sessions
// to the billing system.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UsageLedger records billable voice-session intervals. Every successful
// Start must eventually be paired with exactly one End; the session lifecycle
// enforces that pairing.
type UsageLedger interface {
	// Start opens a usage interval and returns the ledger's session ID.
	Start(ctx context.Context, userID, companionID string) (string, error)
	// End closes the interval opened by Start.
	End(ctx context.Context, sessionID, userID string, minutesUsed int) error
}

// Config controls ledger construction.
type Config struct {
	Mode string
	URL  string
}

// NewLedger builds a ledger client for the configured mode.
//
//	http   — remote ledger endpoint (URL required)
//	memory — in-process ledger for dev and tests
//	auto   — http when a URL is configured, otherwise memory
func NewLedger(cfg Config) (UsageLedger, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPLedger(cfg.URL), nil
		}
		return NewInMemoryLedger(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("ledger URL is required for http mode")
		}
		return NewHTTPLedger(cfg.URL), nil
	case "memory":
		return NewInMemoryLedger(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger mode %q", cfg.Mode)
	}
}
