// Package policy guards what leaves the process. Conversation transcripts go
// to a remote summarization provider, so high-risk PII is masked first.
package policy

import (
	"regexp"

	"github.com/lmoretti/elara/internal/conversation"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactTurns returns a copy of the batch with PII masked in each turn.
// The second result reports how many turns were altered; the input slice is
// never mutated, since the buffer still owns it until the flush succeeds.
func RedactTurns(turns []conversation.Turn) ([]conversation.Turn, int) {
	redacted := 0
	out := make([]conversation.Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn
		if masked, changed := RedactPII(turn.Content); changed {
			out[i].Content = masked
			redacted++
		}
	}
	return out, redacted
}
