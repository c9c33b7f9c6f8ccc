package profile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lmoretti/elara/internal/memory"
)

// Merger applies summaries, milestones and user edits to the durable memory
// document for a relationship. All writes for one (user, companion) pair are
// serialized behind a per-relationship lock so concurrent read-modify-write
// cycles cannot clobber each other.
type Merger struct {
	store memory.Store
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMerger creates a Merger over the given store. clock may be nil.
func NewMerger(store memory.Store, clock func() time.Time) *Merger {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Merger{
		store: store,
		clock: clock,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Merger) lockFor(userID, companionID string) *sync.Mutex {
	key := userID + ":" + companionID
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// MergeSummary idempotently folds one summary into the relationship document:
// the summary joins the rolling conversation history, list facts are added
// only when no case-insensitive duplicate exists, and scalar facts are
// first-write-wins so a later misheard utterance cannot clobber established
// ground truth.
func (m *Merger) MergeSummary(ctx context.Context, userID, companionID string, sum memory.Summary) error {
	lock := m.lockFor(userID, companionID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Load(ctx, userID, companionID)
	if err != nil {
		return fmt.Errorf("load for merge: %w", err)
	}

	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = m.clock()
	}
	rec.Conversations = append(rec.Conversations, sum)
	if over := len(rec.Conversations) - memory.MaxConversations; over > 0 {
		rec.Conversations = rec.Conversations[over:]
	}

	if sum.StructuredData != nil {
		mergeFacts(&rec.PersonalProfile, sum.StructuredData)
	}
	mergeDateMentions(&rec.PersonalProfile, sum.ImportantDates)
	rec.PersonalProfile.CurrentEvents = appendMissingStrings(rec.PersonalProfile.CurrentEvents, sum.FutureReferences)

	rec.LastInteraction = m.clock()

	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save merged document: %w", err)
	}
	return nil
}

// AddMilestone appends a timestamped free-text relationship event. Milestones
// are a write-only log independent of the summary pipeline.
func (m *Merger) AddMilestone(ctx context.Context, userID, companionID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	lock := m.lockFor(userID, companionID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Load(ctx, userID, companionID)
	if err != nil {
		return fmt.Errorf("load for milestone: %w", err)
	}

	stamped := m.clock().Format("2006-01-02") + ": " + text
	rec.RelationshipMilestones = append(rec.RelationshipMilestones, stamped)

	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save milestone: %w", err)
	}
	return nil
}

// UpdateProfile is the user-initiated edit path. Unlike MergeSummary it
// performs a direct shallow merge and may overwrite scalar fields: a
// deliberate edit beats an inferred extraction.
func (m *Merger) UpdateProfile(ctx context.Context, userID, companionID string, partial memory.PersonalProfile) error {
	lock := m.lockFor(userID, companionID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.Load(ctx, userID, companionID)
	if err != nil {
		return fmt.Errorf("load for profile update: %w", err)
	}

	p := &rec.PersonalProfile
	overwriteScalar(&p.Work.Company, partial.Work.Company)
	overwriteScalar(&p.Work.Position, partial.Work.Position)
	overwriteScalar(&p.Work.Industry, partial.Work.Industry)
	overwriteScalar(&p.BasicInfo.FullName, partial.BasicInfo.FullName)
	overwriteScalar(&p.BasicInfo.Nickname, partial.BasicInfo.Nickname)
	overwriteScalar(&p.BasicInfo.Location, partial.BasicInfo.Location)
	if partial.Family != nil {
		p.Family = partial.Family
	}
	if partial.Pets != nil {
		p.Pets = partial.Pets
	}
	if partial.ImportantDates != nil {
		p.ImportantDates = partial.ImportantDates
	}
	if partial.CurrentEvents != nil {
		p.CurrentEvents = partial.CurrentEvents
	}
	if partial.Preferences.Food != nil {
		p.Preferences.Food = partial.Preferences.Food
	}
	if partial.Preferences.Activities != nil {
		p.Preferences.Activities = partial.Preferences.Activities
	}
	if partial.Preferences.Places != nil {
		p.Preferences.Places = partial.Preferences.Places
	}

	rec.LastInteraction = m.clock()

	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save profile update: %w", err)
	}
	return nil
}

func mergeFacts(p *memory.PersonalProfile, facts *memory.StructuredFacts) {
	for _, fm := range facts.FamilyMembers {
		if strings.TrimSpace(fm.Name) == "" {
			continue
		}
		if !containsFamilyName(p.Family, fm.Name) {
			p.Family = append(p.Family, fm)
		}
	}
	for _, pet := range facts.Pets {
		if strings.TrimSpace(pet.Name) == "" {
			continue
		}
		if !containsPetName(p.Pets, pet.Name) {
			p.Pets = append(p.Pets, pet)
		}
	}

	setIfEmpty(&p.Work.Company, facts.WorkInfo.Company)
	setIfEmpty(&p.Work.Position, facts.WorkInfo.Position)
	setIfEmpty(&p.Work.Industry, facts.WorkInfo.Industry)
	setIfEmpty(&p.BasicInfo.FullName, facts.BasicInfo.FullName)
	setIfEmpty(&p.BasicInfo.Nickname, facts.BasicInfo.Nickname)
	setIfEmpty(&p.BasicInfo.Location, facts.BasicInfo.Location)

	p.Preferences.Food = appendMissingStrings(p.Preferences.Food, facts.Preferences.Food)
	p.Preferences.Activities = appendMissingStrings(p.Preferences.Activities, facts.Preferences.Activities)
	p.Preferences.Places = appendMissingStrings(p.Preferences.Places, facts.Preferences.Places)
}

// mergeDateMentions folds free-text date mentions from a summary into the
// structured date list, deduplicated on the mention text.
func mergeDateMentions(p *memory.PersonalProfile, mentions []string) {
	for _, mention := range mentions {
		mention = strings.TrimSpace(mention)
		if mention == "" {
			continue
		}
		dup := false
		for _, d := range p.ImportantDates {
			if strings.EqualFold(d.Description, mention) {
				dup = true
				break
			}
		}
		if !dup {
			p.ImportantDates = append(p.ImportantDates, memory.ImportantDate{
				Type:        "mentioned",
				Description: mention,
			})
		}
	}
}

func containsFamilyName(members []memory.FamilyMember, name string) bool {
	for _, m := range members {
		if strings.EqualFold(strings.TrimSpace(m.Name), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func containsPetName(pets []memory.Pet, name string) bool {
	for _, p := range pets {
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func appendMissingStrings(existing, incoming []string) []string {
	for _, item := range incoming {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		dup := false
		for _, have := range existing {
			if strings.EqualFold(have, item) {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, item)
		}
	}
	return existing
}

func setIfEmpty(dst *string, val string) {
	if strings.TrimSpace(*dst) != "" {
		return
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return
	}
	*dst = val
}

func overwriteScalar(dst *string, val string) {
	val = strings.TrimSpace(val)
	if val != "" {
		*dst = val
	}
}
