// Package memory defines the long-term memory data model: owners (the human
// profile plus persona profiles) and the items tracked for each of them.
package memory

import (
	"encoding/json"
	"strings"
	"time"
)

// DataType identifies one of the four item buckets an owner carries.
type DataType string

const (
	TypeFact   DataType = "fact"
	TypeTrait  DataType = "trait"
	TypeTopic  DataType = "topic"
	TypePerson DataType = "person"
)

// AllTypes lists every data type in a fixed order.
var AllTypes = []DataType{TypeFact, TypeTrait, TypeTopic, TypePerson}

// TypesFor returns the data types applicable to an owner kind.
// Persona profiles carry no facts and track no people.
func TypesFor(kind OwnerKind) []DataType {
	if kind == KindPersona {
		return []DataType{TypeTrait, TypeTopic}
	}
	return AllTypes
}

// WildcardGroup marks a human-owned item as visible to every persona.
const WildcardGroup = "*"

// ChangeLogEntry records one accepted write to an item by a non-primary persona.
type ChangeLogEntry struct {
	ID               string          `json:"id"`
	Date             time.Time       `json:"date"`
	Persona          string          `json:"persona"`
	DeltaSize        int             `json:"delta_size"`
	PreviousSnapshot json.RawMessage `json:"previous_snapshot,omitempty"`
}

// DataItem is the base record shared by all item types.
type DataItem struct {
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Sentiment     float64          `json:"sentiment"` // [-1, 1]
	LastUpdated   time.Time        `json:"last_updated"`
	LearnedBy     string           `json:"learned_by,omitempty"`
	PersonaGroups []string         `json:"persona_groups,omitempty"`
	ChangeLog     []ChangeLogEntry `json:"change_log,omitempty"`
}

// Fact is a human-only item with an extraction confidence.
type Fact struct {
	DataItem
	Confidence    float64    `json:"confidence"` // [0, 1]
	LastConfirmed *time.Time `json:"last_confirmed,omitempty"`
}

// Trait describes a behavioral tendency. Static traits are guardrails:
// their name, description, and type never change, only Strength may move.
type Trait struct {
	DataItem
	Static   bool     `json:"static,omitempty"`
	Strength *float64 `json:"strength,omitempty"` // [0, 1]
}

// Topic tracks how much something is being discussed versus how much the
// owner would like it discussed.
type Topic struct {
	DataItem
	LevelCurrent float64 `json:"level_current"` // [0, 1], decays
	LevelIdeal   float64 `json:"level_ideal"`   // [0, 1], changes rarely
}

// Person is a human-only item for someone in the human's life.
type Person struct {
	DataItem
	LevelCurrent float64 `json:"level_current"`
	LevelIdeal   float64 `json:"level_ideal"`
	Relationship string  `json:"relationship"`
}

// GloballyVisible reports whether a persona-group set makes an item visible
// to every persona: empty, or containing the wildcard.
func GloballyVisible(groups []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if g == WildcardGroup {
			return true
		}
	}
	return false
}

// AddGroup grows a visibility set monotonically. Globally visible sets stay
// global; restricted sets gain the new group if absent.
func AddGroup(groups []string, group string) []string {
	if GloballyVisible(groups) {
		return groups
	}
	for _, g := range groups {
		if g == group {
			return groups
		}
	}
	return append(groups, group)
}

// VisibleTo reports whether a persona in the given group may see an item.
func VisibleTo(groups []string, group string) bool {
	if GloballyVisible(groups) {
		return true
	}
	for _, g := range groups {
		if g == group {
			return true
		}
	}
	return false
}

// SameName compares item names the way buckets are keyed: case-insensitively.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Clamp01 bounds a value to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ClampSentiment bounds a value to [-1, 1].
func ClampSentiment(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// SerializedSize returns the JSON-encoded size of v, used as the change
// magnitude in change-log entries. Returns 0 if v does not marshal.
func SerializedSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
