package journal

import (
	"fmt"
	"time"
)

// Mood is a closed set of mood labels an entry may carry.
// Values are validated at the storage boundary so that filter
// matching never has to deal with free-form strings.
type Mood string

const (
	MoodUnset      Mood = ""
	MoodHappy      Mood = "happy"
	MoodCalm       Mood = "calm"
	MoodNeutral    Mood = "neutral"
	MoodSad        Mood = "sad"
	MoodAnxious    Mood = "anxious"
	MoodExcited    Mood = "excited"
	MoodGrateful   Mood = "grateful"
	MoodReflective Mood = "reflective"
)

var validMoods = map[Mood]bool{
	MoodUnset:      true,
	MoodHappy:      true,
	MoodCalm:       true,
	MoodNeutral:    true,
	MoodSad:        true,
	MoodAnxious:    true,
	MoodExcited:    true,
	MoodGrateful:   true,
	MoodReflective: true,
}

// ParseMood validates a mood label. The empty string is a valid
// "no mood recorded" value.
func ParseMood(s string) (Mood, error) {
	m := Mood(s)
	if !validMoods[m] {
		return MoodUnset, fmt.Errorf("unknown mood %q", s)
	}
	return m, nil
}

// Entry is a single journal entry. Entries are owned by the journal
// store; this core only reads them and never mutates content.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Mood      Mood      `json:"mood,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
