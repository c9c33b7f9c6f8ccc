package memory

import (
	"context"
	"strings"
	"time"
)

// SchemaVersion is the current shape of the stored document. Load migrates
// older documents forward before returning them.
const SchemaVersion = 1

// FamilyMember is one known family member of the user.
type FamilyMember struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Pet is one known pet of the user.
type Pet struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// WorkInfo holds scalar facts about the user's work life.
type WorkInfo struct {
	Company  string `json:"company,omitempty"`
	Position string `json:"position,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// Preferences groups list-typed likes by category.
type Preferences struct {
	Food       []string `json:"food,omitempty"`
	Activities []string `json:"activities,omitempty"`
	Places     []string `json:"places,omitempty"`
}

// BasicInfo holds scalar identity facts.
type BasicInfo struct {
	FullName string `json:"full_name,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Location string `json:"location,omitempty"`
}

// ImportantDate is a date the companion should remember.
type ImportantDate struct {
	Date        string `json:"date"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// StructuredFacts is the machine-extracted portion of a summary. Any field
// may be empty; an entirely zero value is valid and merges as a no-op.
type StructuredFacts struct {
	FamilyMembers []FamilyMember `json:"family_members,omitempty"`
	Pets          []Pet          `json:"pets,omitempty"`
	WorkInfo      WorkInfo       `json:"work_info,omitempty"`
	Preferences   Preferences    `json:"preferences,omitempty"`
	BasicInfo     BasicInfo      `json:"basic_info,omitempty"`
}

// Summary is the structured+narrative output of summarizing one batch of turns.
type Summary struct {
	Summary           string           `json:"summary"`
	KeyTopics         []string         `json:"key_topics,omitempty"`
	EmotionalState    string           `json:"emotional_state,omitempty"`
	PersonalInfo      []string         `json:"personal_info,omitempty"`
	RelationshipNotes string           `json:"relationship_notes,omitempty"`
	FutureReferences  []string         `json:"future_references,omitempty"`
	ImportantDates    []string         `json:"important_dates,omitempty"`
	Mood              string           `json:"mood,omitempty"`
	StructuredData    *StructuredFacts `json:"structured_data,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// PersonalProfile is the durable, deduplicated set of facts known about the
// user within one companion relationship.
type PersonalProfile struct {
	Family         []FamilyMember  `json:"family,omitempty"`
	Pets           []Pet           `json:"pets,omitempty"`
	Work           WorkInfo        `json:"work,omitempty"`
	ImportantDates []ImportantDate `json:"important_dates,omitempty"`
	Preferences    Preferences     `json:"preferences,omitempty"`
	CurrentEvents  []string        `json:"current_events,omitempty"`
	BasicInfo      BasicInfo       `json:"basic_info,omitempty"`
}

// MaxConversations bounds the rolling summary history kept per relationship.
const MaxConversations = 10

// Record is the full durable memory document for one (user, companion) pair.
// Callers always read and write the whole document; there are no partial-field
// updates at the storage layer.
type Record struct {
	SchemaVersion          int               `json:"schema_version"`
	UserID                 string            `json:"user_id"`
	CompanionID            string            `json:"companion_id"`
	Questionnaire          map[string]string `json:"questionnaire,omitempty"`
	Conversations          []Summary         `json:"conversations,omitempty"`
	PersonalProfile        PersonalProfile   `json:"personal_profile"`
	RelationshipMilestones []string          `json:"relationship_milestones,omitempty"`
	LastInteraction        time.Time         `json:"last_interaction"`
}

// NewRecord returns an empty document for a relationship seen for the first time.
func NewRecord(userID, companionID string) *Record {
	return &Record{
		SchemaVersion: SchemaVersion,
		UserID:        strings.TrimSpace(userID),
		CompanionID:   strings.TrimSpace(companionID),
	}
}

// migrate brings a loaded document up to the current schema version.
func migrate(rec *Record) *Record {
	if rec.SchemaVersion < SchemaVersion {
		// Version 0 documents predate the version tag and carry the same
		// field set, so stamping the version is the only required change.
		rec.SchemaVersion = SchemaVersion
	}
	return rec
}

// Store persists and retrieves companion memory documents. Load returns a
// fresh empty Record when no document exists for the pair; callers can detect
// first contact through LastInteraction.IsZero().
type Store interface {
	Load(ctx context.Context, userID, companionID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Close() error
}
