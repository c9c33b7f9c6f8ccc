// Package prompt renders the durable memory document into the bounded text
// block injected into every AI call for a relationship.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lmoretti/elara/internal/memory"
)

const (
	// MaxRenderedConversations caps how many recent summaries appear in the
	// block regardless of stored history depth.
	MaxRenderedConversations = 3
	// MaxRenderedMilestones caps the milestone tail.
	MaxRenderedMilestones = 5
)

// Assembler reads the memory store and renders context blocks.
type Assembler struct {
	store memory.Store
}

func NewAssembler(store memory.Store) *Assembler {
	return &Assembler{store: store}
}

// Assemble loads the relationship document and renders it. A relationship
// with no history renders as an empty string.
func (a *Assembler) Assemble(ctx context.Context, userID, companionID string) (string, error) {
	rec, err := a.store.Load(ctx, userID, companionID)
	if err != nil {
		return "", fmt.Errorf("load for context assembly: %w", err)
	}
	return Render(rec), nil
}

// Render produces the plain-text context block in a fixed section order,
// omitting any section whose underlying data is absent. History depth is
// bounded here; token budgeting against the rest of the prompt is the
// caller's concern.
func Render(rec *memory.Record) string {
	var b strings.Builder

	renderQuestionnaire(&b, rec)
	renderBasicInfo(&b, rec.PersonalProfile.BasicInfo)
	renderWork(&b, rec.PersonalProfile.Work)
	renderFamily(&b, rec.PersonalProfile.Family)
	renderPets(&b, rec.PersonalProfile.Pets)
	renderFood(&b, rec.PersonalProfile.Preferences.Food)
	renderDates(&b, rec.PersonalProfile.ImportantDates)
	renderConversations(&b, rec.Conversations)
	renderMilestones(&b, rec.RelationshipMilestones)

	return strings.TrimRight(b.String(), "\n")
}

func section(b *strings.Builder, header string) {
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(header)
	b.WriteString("\n")
}

func renderQuestionnaire(b *strings.Builder, rec *memory.Record) {
	prefs := rec.PersonalProfile.Preferences
	if len(rec.Questionnaire) == 0 && len(prefs.Activities) == 0 && len(prefs.Places) == 0 {
		return
	}

	section(b, "About this relationship:")
	keys := make([]string, 0, len(rec.Questionnaire))
	for k := range rec.Questionnaire {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, rec.Questionnaire[k])
	}
	if len(prefs.Activities) > 0 {
		fmt.Fprintf(b, "- enjoys: %s\n", strings.Join(prefs.Activities, ", "))
	}
	if len(prefs.Places) > 0 {
		fmt.Fprintf(b, "- favorite places: %s\n", strings.Join(prefs.Places, ", "))
	}
}

func renderBasicInfo(b *strings.Builder, info memory.BasicInfo) {
	if info.FullName == "" && info.Nickname == "" && info.Location == "" {
		return
	}

	section(b, "About them:")
	if info.FullName != "" {
		line := "- name: " + info.FullName
		if info.Nickname != "" {
			line += " (goes by " + info.Nickname + ")"
		}
		b.WriteString(line + "\n")
	} else if info.Nickname != "" {
		b.WriteString("- goes by: " + info.Nickname + "\n")
	}
	if info.Location != "" {
		b.WriteString("- lives in: " + info.Location + "\n")
	}
}

func renderWork(b *strings.Builder, work memory.WorkInfo) {
	if work.Company == "" && work.Position == "" && work.Industry == "" {
		return
	}

	section(b, "Work:")
	parts := make([]string, 0, 3)
	if work.Position != "" {
		parts = append(parts, work.Position)
	}
	if work.Company != "" {
		parts = append(parts, "at "+work.Company)
	}
	if work.Industry != "" {
		parts = append(parts, "("+work.Industry+")")
	}
	b.WriteString("- " + strings.Join(parts, " ") + "\n")
}

func renderFamily(b *strings.Builder, family []memory.FamilyMember) {
	if len(family) == 0 {
		return
	}

	section(b, "Family:")
	for _, m := range family {
		line := "- " + m.Name
		if m.Relationship != "" {
			line += " (" + m.Relationship + ")"
		}
		if m.Notes != "" {
			line += ": " + m.Notes
		}
		b.WriteString(line + "\n")
	}
}

func renderPets(b *strings.Builder, pets []memory.Pet) {
	if len(pets) == 0 {
		return
	}

	section(b, "Pets:")
	for _, p := range pets {
		line := "- " + p.Name
		if p.Type != "" {
			line += " (" + p.Type + ")"
		}
		if p.Notes != "" {
			line += ": " + p.Notes
		}
		b.WriteString(line + "\n")
	}
}

func renderFood(b *strings.Builder, food []string) {
	if len(food) == 0 {
		return
	}
	section(b, "Food they like:")
	b.WriteString("- " + strings.Join(food, ", ") + "\n")
}

func renderDates(b *strings.Builder, dates []memory.ImportantDate) {
	if len(dates) == 0 {
		return
	}

	section(b, "Important dates:")
	for _, d := range dates {
		line := "- "
		if d.Date != "" {
			line += d.Date + " "
		}
		if d.Type != "" {
			line += "(" + d.Type + ") "
		}
		line += d.Description
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
}

func renderConversations(b *strings.Builder, sums []memory.Summary) {
	if len(sums) == 0 {
		return
	}
	if len(sums) > MaxRenderedConversations {
		sums = sums[len(sums)-MaxRenderedConversations:]
	}

	section(b, "Recent conversations (oldest first):")
	for _, s := range sums {
		b.WriteString("- " + s.Summary + "\n")
		if s.Mood != "" {
			b.WriteString("  mood: " + s.Mood + "\n")
		}
		for _, info := range s.PersonalInfo {
			b.WriteString("  learned: " + info + "\n")
		}
		for _, ref := range s.FutureReferences {
			b.WriteString("  follow up: " + ref + "\n")
		}
	}
}

func renderMilestones(b *strings.Builder, milestones []string) {
	if len(milestones) == 0 {
		return
	}
	if len(milestones) > MaxRenderedMilestones {
		milestones = milestones[len(milestones)-MaxRenderedMilestones:]
	}

	section(b, "Milestones:")
	for _, m := range milestones {
		b.WriteString("- " + m + "\n")
	}
}
