package policy

import (
	"strings"
	"testing"

	"github.com/lmoretti/elara/internal/conversation"
)

func TestRedactPII(t *testing.T) {
	in := "email me at jane.doe@example.com or call +1 (415) 555-0100, card 4111 1111 1111 1111"
	out, changed := RedactPII(in)
	if !changed {
		t.Fatal("RedactPII() reported no change")
	}
	for _, leak := range []string{"jane.doe@example.com", "415", "4111"} {
		if strings.Contains(out, leak) {
			t.Fatalf("redacted output still contains %q: %s", leak, out)
		}
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("redacted output missing %s: %s", marker, out)
		}
	}
}

func TestRedactPIICleanInput(t *testing.T) {
	in := "we talked about the Lisbon trip"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = (%q, %v), want unchanged", in, out, changed)
	}
}

func TestRedactTurnsDoesNotMutateInput(t *testing.T) {
	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "my email is jane@example.com"},
		{Role: conversation.RoleAssistant, Content: "noted!"},
	}
	out, redacted := RedactTurns(turns)
	if redacted != 1 {
		t.Fatalf("redacted = %d, want 1", redacted)
	}
	if turns[0].Content != "my email is jane@example.com" {
		t.Fatalf("input batch mutated: %q", turns[0].Content)
	}
	if strings.Contains(out[0].Content, "jane@example.com") {
		t.Fatalf("output not redacted: %q", out[0].Content)
	}
	if out[1].Content != "noted!" {
		t.Fatalf("clean turn altered: %q", out[1].Content)
	}
}
