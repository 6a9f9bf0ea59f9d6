// Package engine implements the background memory pipeline: the task queues,
// the two-phase extraction protocol, the frequency gate, engagement decay,
// and the reconciliation layer protecting static configuration.
package engine

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/memory"
	"github.com/mgirard/keepsake/internal/store"
)

// Priority orders tasks; lower ranks dequeue first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// TaskKind tags the payload variant a task carries.
type TaskKind string

const (
	KindFastScan          TaskKind = "fast_scan"
	KindDetailUpdate      TaskKind = "detail_update"
	KindValidationRequest TaskKind = "validation_request"
	KindDescriptionRegen  TaskKind = "description_regen"
)

// FastScanPayload asks phase 1 to scan one owner's due data types against
// the recent conversation with a persona.
type FastScanPayload struct {
	Owner   memory.OwnerRef   `json:"owner"`
	Persona string            `json:"persona"` // conversation to read
	Types   []memory.DataType `json:"types"`
}

// DetailUpdatePayload asks phase 2 to evaluate a single item against the
// messages that triggered it.
type DetailUpdatePayload struct {
	Owner         memory.OwnerRef    `json:"owner"`
	Type          memory.DataType    `json:"type"`
	Name          string             `json:"name"`
	IsNew         bool               `json:"is_new"`
	ActingPersona string             `json:"acting_persona"`
	Messages      []exchange.Message `json:"messages"`
}

// Validation origins.
const (
	OriginLowConfidence = "scan_low_confidence"
	OriginCrossOwner    = "cross_owner_write"
)

// ValidationPayload parks a decision for the human (or the primary persona)
// to make. These items are never auto-dequeued.
type ValidationPayload struct {
	Owner         memory.OwnerRef    `json:"owner"`
	Type          memory.DataType    `json:"type"`
	Name          string             `json:"name"`
	Origin        string             `json:"origin"`
	Rationale     string             `json:"rationale"`
	ActingPersona string             `json:"acting_persona,omitempty"`
	RequestedOf   string             `json:"requested_of,omitempty"`
	IsNew         bool               `json:"is_new,omitempty"`
	Messages      []exchange.Message `json:"messages,omitempty"`
}

// DescriptionRegenPayload asks for a persona's self-description rebuild.
type DescriptionRegenPayload struct {
	Persona string `json:"persona"`
}

// Task is the tagged union carried by both queue flavors. Exactly one
// payload pointer is set, matching Kind.
type Task struct {
	ID        string    `json:"id"`
	Kind      TaskKind  `json:"kind"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"created_at"`

	FastScan   *FastScanPayload         `json:"fast_scan,omitempty"`
	Detail     *DetailUpdatePayload     `json:"detail_update,omitempty"`
	Validation *ValidationPayload       `json:"validation_request,omitempty"`
	Regen      *DescriptionRegenPayload `json:"description_regen,omitempty"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newTaskID returns a time-sortable ULID, the queue's final ordering tie-break.
func newTaskID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewTask builds a task around one payload. Panics if payload is not one of
// the four variant types; that is a programming error, not runtime input.
func NewTask(priority Priority, payload any) Task {
	now := time.Now().UTC()
	t := Task{
		ID:        newTaskID(now),
		Priority:  priority,
		CreatedAt: now,
	}
	switch p := payload.(type) {
	case FastScanPayload:
		t.Kind, t.FastScan = KindFastScan, &p
	case DetailUpdatePayload:
		t.Kind, t.Detail = KindDetailUpdate, &p
	case ValidationPayload:
		t.Kind, t.Validation = KindValidationRequest, &p
	case DescriptionRegenPayload:
		t.Kind, t.Regen = KindDescriptionRegen, &p
	default:
		panic(fmt.Sprintf("engine: unknown task payload %T", payload))
	}
	return t
}

// Validate checks that the task carries exactly the payload its kind names.
func (t *Task) Validate() error {
	var want any
	set := 0
	for _, p := range []struct {
		kind    TaskKind
		payload any
		present bool
	}{
		{KindFastScan, t.FastScan, t.FastScan != nil},
		{KindDetailUpdate, t.Detail, t.Detail != nil},
		{KindValidationRequest, t.Validation, t.Validation != nil},
		{KindDescriptionRegen, t.Regen, t.Regen != nil},
	} {
		if p.present {
			set++
		}
		if p.kind == t.Kind {
			want = p.payload
			if !p.present {
				return fmt.Errorf("task %s: kind %s with nil payload", t.ID, t.Kind)
			}
		}
	}
	if want == nil {
		return fmt.Errorf("task %s: unknown kind %q", t.ID, t.Kind)
	}
	if set != 1 {
		return fmt.Errorf("task %s: %d payloads set, want exactly 1", t.ID, set)
	}
	return nil
}

// encodeTask serializes a task into a durable queue row.
func encodeTask(t Task) (store.QueueItem, error) {
	if err := t.Validate(); err != nil {
		return store.QueueItem{}, err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return store.QueueItem{}, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return store.QueueItem{
		ID:        t.ID,
		Kind:      string(t.Kind),
		Priority:  int(t.Priority),
		CreatedAt: t.CreatedAt.UnixMilli(),
		Payload:   payload,
	}, nil
}

// decodeTask deserializes a durable queue row back into a task.
func decodeTask(item *store.QueueItem) (Task, error) {
	var t Task
	if err := json.Unmarshal(item.Payload, &t); err != nil {
		return t, fmt.Errorf("decode task %s: %w", item.ID, err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}
