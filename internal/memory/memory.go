// Package memory persists embedding records and their provenance,
// distinct from the raw journal entries they derive from.
package memory

import (
	"fmt"
	"time"
)

// PreviewLength bounds the stored content preview. Memories never hold
// the full entry text; the entry itself stays the source of truth.
const PreviewLength = 500

// DefaultImportance is assigned to new memories until something
// adjusts it.
const DefaultImportance = 0.5

// Type is a closed set of memory kinds.
type Type string

const (
	TypeJournal      Type = "journal"
	TypeConversation Type = "conversation"
	TypeInsight      Type = "insight"
)

var validTypes = map[Type]bool{
	TypeJournal:      true,
	TypeConversation: true,
	TypeInsight:      true,
}

// ParseType validates a memory type label.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !validTypes[t] {
		return "", fmt.Errorf("unknown memory type %q", s)
	}
	return t, nil
}

// Memory is one persisted embedding record. EntryID is a weak back
// reference: the source entry may have been deleted, and resolution
// failures are a normal path, not an error. Written once; only
// LastAccessedAt changes afterwards.
type Memory struct {
	ID             string    `json:"id"`
	EntryID        string    `json:"entry_id,omitempty"`
	Preview        string    `json:"preview"`
	Vector         []float32 `json:"-"`
	Importance     float64   `json:"importance"`
	Tags           []string  `json:"tags,omitempty"`
	Pinned         bool      `json:"pinned"`
	Type           Type      `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// MakePreview trims text to the bounded preview prefix.
func MakePreview(text string) string {
	if len(text) <= PreviewLength {
		return text
	}
	return text[:PreviewLength]
}

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
