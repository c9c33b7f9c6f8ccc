package profile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lmoretti/elara/internal/memory"
)

func testClock() func() time.Time {
	return func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
}

func TestMergeDedupsFamilyByNameCaseInsensitive(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	first := memory.Summary{
		Summary: "Met Sam.",
		StructuredData: &memory.StructuredFacts{
			FamilyMembers: []memory.FamilyMember{{Name: "Sam", Relationship: "brother"}},
		},
	}
	second := memory.Summary{
		Summary: "Talked about sam again.",
		StructuredData: &memory.StructuredFacts{
			FamilyMembers: []memory.FamilyMember{{Name: "sam", Relationship: "sibling"}},
		},
	}

	if err := m.MergeSummary(ctx, "u1", "c1", first); err != nil {
		t.Fatalf("MergeSummary() error = %v", err)
	}
	if err := m.MergeSummary(ctx, "u1", "c1", second); err != nil {
		t.Fatalf("MergeSummary() error = %v", err)
	}

	rec, err := store.Load(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rec.PersonalProfile.Family) != 1 {
		t.Fatalf("family entries = %d, want 1", len(rec.PersonalProfile.Family))
	}
	if rec.PersonalProfile.Family[0].Relationship != "brother" {
		t.Fatalf("first-seen entry should win, got %+v", rec.PersonalProfile.Family[0])
	}
}

func TestMergeBoundsConversationHistory(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		sum := memory.Summary{Summary: fmt.Sprintf("conversation %d", i)}
		if err := m.MergeSummary(ctx, "u1", "c1", sum); err != nil {
			t.Fatalf("MergeSummary(%d) error = %v", i, err)
		}
	}

	rec, err := store.Load(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rec.Conversations) != memory.MaxConversations {
		t.Fatalf("conversations = %d, want %d", len(rec.Conversations), memory.MaxConversations)
	}
	if rec.Conversations[0].Summary != "conversation 5" {
		t.Fatalf("oldest kept = %q, want %q", rec.Conversations[0].Summary, "conversation 5")
	}
	if rec.Conversations[9].Summary != "conversation 14" {
		t.Fatalf("newest kept = %q, want %q", rec.Conversations[9].Summary, "conversation 14")
	}
}

func TestMergeScalarFactsFirstWriteWins(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	acme := memory.Summary{StructuredData: &memory.StructuredFacts{
		WorkInfo: memory.WorkInfo{Company: "Acme"},
	}}
	globex := memory.Summary{StructuredData: &memory.StructuredFacts{
		WorkInfo: memory.WorkInfo{Company: "Globex", Position: "engineer"},
	}}

	if err := m.MergeSummary(ctx, "u1", "c1", acme); err != nil {
		t.Fatalf("MergeSummary() error = %v", err)
	}
	if err := m.MergeSummary(ctx, "u1", "c1", globex); err != nil {
		t.Fatalf("MergeSummary() error = %v", err)
	}

	rec, _ := store.Load(ctx, "u1", "c1")
	if rec.PersonalProfile.Work.Company != "Acme" {
		t.Fatalf("company = %q, want Acme (first write wins)", rec.PersonalProfile.Work.Company)
	}
	if rec.PersonalProfile.Work.Position != "engineer" {
		t.Fatalf("position = %q, want engineer (empty field fills in)", rec.PersonalProfile.Work.Position)
	}
}

func TestMergePreferencesDedupExactString(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sum := memory.Summary{StructuredData: &memory.StructuredFacts{
			Preferences: memory.Preferences{Food: []string{"Sushi", "sushi"}, Places: []string{"Lisbon"}},
		}}
		if err := m.MergeSummary(ctx, "u1", "c1", sum); err != nil {
			t.Fatalf("MergeSummary() error = %v", err)
		}
	}

	rec, _ := store.Load(ctx, "u1", "c1")
	if len(rec.PersonalProfile.Preferences.Food) != 1 {
		t.Fatalf("food prefs = %v, want single entry", rec.PersonalProfile.Preferences.Food)
	}
	if len(rec.PersonalProfile.Preferences.Places) != 1 {
		t.Fatalf("place prefs = %v, want single entry", rec.PersonalProfile.Preferences.Places)
	}
}

func TestMergeUpdatesLastInteraction(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	if err := m.MergeSummary(ctx, "u1", "c1", memory.Summary{Summary: "hi"}); err != nil {
		t.Fatalf("MergeSummary() error = %v", err)
	}
	rec, _ := store.Load(ctx, "u1", "c1")
	if rec.LastInteraction.IsZero() {
		t.Fatalf("LastInteraction should be set after merge")
	}
}

func TestAddMilestoneTimestamps(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	if err := m.AddMilestone(ctx, "u1", "c1", "first voice call"); err != nil {
		t.Fatalf("AddMilestone() error = %v", err)
	}
	if err := m.AddMilestone(ctx, "u1", "c1", "   "); err != nil {
		t.Fatalf("AddMilestone(blank) error = %v", err)
	}

	rec, _ := store.Load(ctx, "u1", "c1")
	if len(rec.RelationshipMilestones) != 1 {
		t.Fatalf("milestones = %v, want 1 entry (blank skipped)", rec.RelationshipMilestones)
	}
	want := "2025-06-01: first voice call"
	if rec.RelationshipMilestones[0] != want {
		t.Fatalf("milestone = %q, want %q", rec.RelationshipMilestones[0], want)
	}
}

func TestUpdateProfileOverwritesScalars(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, testClock())
	ctx := context.Background()

	seed := memory.Summary{StructuredData: &memory.StructuredFacts{
		WorkInfo: memory.WorkInfo{Company: "Acme"},
	}}
	if err := m.MergeSummary(ctx, "u1", "c1", seed); err != nil {
		t.Fatalf("MergeSummary() error = %v", err)
	}

	edit := memory.PersonalProfile{Work: memory.WorkInfo{Company: "Globex"}}
	if err := m.UpdateProfile(ctx, "u1", "c1", edit); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	rec, _ := store.Load(ctx, "u1", "c1")
	if rec.PersonalProfile.Work.Company != "Globex" {
		t.Fatalf("company = %q, want Globex (user edit overwrites)", rec.PersonalProfile.Work.Company)
	}
}

func TestConcurrentMergesSerializePerRelationship(t *testing.T) {
	store := memory.NewInMemoryStore()
	m := NewMerger(store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sum := memory.Summary{
				Summary: fmt.Sprintf("concurrent %d", i),
				StructuredData: &memory.StructuredFacts{
					Preferences: memory.Preferences{Activities: []string{"hiking"}},
				},
			}
			if err := m.MergeSummary(ctx, "u1", "c1", sum); err != nil {
				t.Errorf("MergeSummary(%d) error = %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	rec, _ := store.Load(ctx, "u1", "c1")
	if len(rec.Conversations) != memory.MaxConversations {
		t.Fatalf("conversations = %d, want %d (no lost updates)", len(rec.Conversations), memory.MaxConversations)
	}
	if len(rec.PersonalProfile.Preferences.Activities) != 1 {
		t.Fatalf("activities = %v, want single deduped entry", rec.PersonalProfile.Preferences.Activities)
	}
}
