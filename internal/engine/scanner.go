package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/memory"
)

// defaultValidationCap caps how many low-confidence suggestions one scan
// may park for human confirmation when no limit is configured.
const defaultValidationCap = 5

// scanResult is one entry in the model's fast-scan classification.
type scanResult struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Status     string `json:"status"`     // "mentioned" or "new"
	Confidence string `json:"confidence"` // "high", "medium", "low"
	Rationale  string `json:"rationale"`
}

func confidenceRank(c string) int {
	switch strings.ToLower(c) {
	case "high":
		return 0
	case "medium":
		return 1
	case "low":
		return 2
	default:
		return 3
	}
}

// Scanner runs the phase-1 fast scan: one cheap, batched classification call
// per owner covering every due data type, fed only item names and a bounded
// message window.
type Scanner struct {
	llm           llm.Client
	log           *zap.Logger
	windowTokens  int
	maxTokens     int
	validationCap int
}

// NewScanner creates a scanner over a (retry-wrapped) client.
func NewScanner(client llm.Client, log *zap.Logger, windowTokens, maxTokens, validationCap int) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	if validationCap <= 0 {
		validationCap = defaultValidationCap
	}
	if windowTokens <= 0 {
		windowTokens = 3000
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Scanner{llm: client, log: log, windowTokens: windowTokens, maxTokens: maxTokens, validationCap: validationCap}
}

// Scan classifies the window against the owner's known items. personas is the
// full persona roster, used to guard against tracking a conversational
// partner as a person. ok is false when the scan produced no result (model
// failure, or nothing to scan); the caller must then leave its inputs
// unconsumed and wait for the next trigger. A successful scan that matched
// nothing returns ok true with an empty result set.
func (s *Scanner) Scan(ctx context.Context, owner *memory.Owner, types []memory.DataType,
	messages []exchange.Message, personas []memory.Owner) (results []scanResult, ok bool, err error) {

	if len(types) == 0 || len(messages) == 0 {
		return nil, false, nil
	}

	window := exchange.Window(messages, s.windowTokens)
	system, user := llm.FastScanPrompt(
		owner.Name, string(owner.Kind),
		s.knownItems(owner, types),
		typeList(types),
		exchange.Format(window),
	)

	parsed, err := llm.CompleteJSON[[]scanResult](ctx, s.llm, system, user, llm.Options{
		MaxTokens:   s.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// Non-fatal: the next triggering exchange will try again.
		s.log.Warn("fast scan returned no result",
			zap.String("owner", owner.Ref().String()), zap.Error(err))
		return nil, false, nil
	}

	return s.filter(owner, types, *parsed, personas), true, nil
}

// filter drops results the routing stage must never see: unknown or
// inapplicable types, stale types not in this round, and "new" person
// suggestions that collide with a persona's name or alias.
func (s *Scanner) filter(owner *memory.Owner, types []memory.DataType,
	results []scanResult, personas []memory.Owner) []scanResult {

	due := make(map[memory.DataType]bool, len(types))
	for _, t := range types {
		due[t] = true
	}
	applicable := make(map[memory.DataType]bool)
	for _, t := range memory.TypesFor(owner.Kind) {
		applicable[t] = true
	}

	kept := results[:0]
	for _, r := range results {
		r.Name = memory.NormalizeName(r.Name)
		if r.Name == "" {
			continue
		}
		t := memory.DataType(strings.ToLower(r.Type))
		if !applicable[t] || !due[t] {
			continue
		}
		if strings.ToLower(r.Status) == "new" && s.matchesPersona(r.Name, personas) {
			s.log.Info("dropping new-item suggestion matching a persona name",
				zap.String("name", r.Name))
			continue
		}
		r.Type = string(t)
		kept = append(kept, r)
	}
	return kept
}

func (s *Scanner) matchesPersona(name string, personas []memory.Owner) bool {
	for i := range personas {
		if personas[i].KnownAs(name) {
			return true
		}
	}
	return false
}

// knownItems renders the flat name+type list the scan prompt receives. No
// descriptions: the detail pass pays for those, not the scan.
func (s *Scanner) knownItems(owner *memory.Owner, types []memory.DataType) string {
	var b strings.Builder
	for _, t := range types {
		for _, name := range owner.ItemNames(t) {
			fmt.Fprintf(&b, "- %s [%s]\n", name, t)
		}
	}
	if b.Len() == 0 {
		return "(none yet)"
	}
	return b.String()
}

func typeList(types []memory.DataType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// routeResults converts filtered scan results into follow-up tasks:
// confident hits become detail-update tasks carrying the triggering
// messages; low-confidence suggestions become validation requests, capped
// at limit and deterministically ordered (type, confidence, then name) so
// reruns park the same set.
func routeResults(results []scanResult, owner memory.OwnerRef, actingPersona string,
	messages []exchange.Message, limit int) []Task {

	if limit <= 0 {
		limit = defaultValidationCap
	}

	var confident, low []scanResult
	for _, r := range results {
		if confidenceRank(r.Confidence) >= 2 {
			low = append(low, r)
		} else {
			confident = append(confident, r)
		}
	}

	var tasks []Task
	for _, r := range confident {
		tasks = append(tasks, NewTask(PriorityNormal, DetailUpdatePayload{
			Owner:         owner,
			Type:          memory.DataType(r.Type),
			Name:          r.Name,
			IsNew:         strings.ToLower(r.Status) == "new",
			ActingPersona: actingPersona,
			Messages:      messages,
		}))
	}

	sort.SliceStable(low, func(i, j int) bool {
		if low[i].Type != low[j].Type {
			return low[i].Type < low[j].Type
		}
		if a, b := confidenceRank(low[i].Confidence), confidenceRank(low[j].Confidence); a != b {
			return a < b
		}
		return strings.ToLower(low[i].Name) < strings.ToLower(low[j].Name)
	})
	if len(low) > limit {
		low = low[:limit]
	}
	for _, r := range low {
		rationale := r.Rationale
		if rationale == "" {
			rationale = fmt.Sprintf("low-confidence %s suggestion %q from a recent conversation", r.Type, r.Name)
		}
		tasks = append(tasks, NewTask(PriorityLow, ValidationPayload{
			Owner:         owner,
			Type:          memory.DataType(r.Type),
			Name:          r.Name,
			Origin:        OriginLowConfidence,
			Rationale:     rationale,
			ActingPersona: actingPersona,
			IsNew:         strings.ToLower(r.Status) == "new",
			Messages:      messages,
		}))
	}

	return tasks
}
