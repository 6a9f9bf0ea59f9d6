package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/memory"
)

// hedgePhrases force a skip when found in the evidence text. The model is
// told to quote messages demonstrating the item; hedging there means it is
// about to fabricate, usually about the wrong speaker. A fixed keyword list
// is a best-effort heuristic, not a correctness proof.
var hedgePhrases = []string{
	"no evidence",
	"cannot find",
	"can't find",
	"could not find",
	"unclear",
	"not demonstrated",
	"does not demonstrate",
	"no indication",
	"not mentioned",
	"insufficient",
}

// evidenceHedged reports whether the evidence text contains a hedge phrase.
func evidenceHedged(evidence string) bool {
	lower := strings.ToLower(evidence)
	for _, phrase := range hedgePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// proposedItem is the model's phase-2 record. Numeric fields are pointers so
// absence is distinguishable from zero during shape validation.
type proposedItem struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Sentiment    *float64 `json:"sentiment"`
	Confidence   *float64 `json:"confidence"`
	Strength     *float64 `json:"strength"`
	LevelCurrent *float64 `json:"level_current"`
	LevelIdeal   *float64 `json:"level_ideal"`
	Relationship string   `json:"relationship"`
}

// detailResponse is the phase-2 envelope: a populated record with evidence,
// or an explicit skip.
type detailResponse struct {
	Skip     bool          `json:"skip"`
	Reason   string        `json:"reason"`
	Item     *proposedItem `json:"item"`
	Evidence string        `json:"evidence"`
}

// Updater runs the phase-2 detail update: one focused, evidence-gated call
// per candidate item. Each candidate ends validated (written) or skipped;
// there is no partial outcome.
type Updater struct {
	llm       llm.Client
	log       *zap.Logger
	maxTokens int
}

// NewUpdater creates an updater over a (retry-wrapped) client.
func NewUpdater(client llm.Client, log *zap.Logger, maxTokens int) *Updater {
	if log == nil {
		log = zap.NewNop()
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Updater{llm: client, log: log, maxTokens: maxTokens}
}

// Evaluate is the gather phase: it builds the focused prompt, runs the
// model, and applies the evidence gate and structural validation. It returns
// nil when the candidate should be skipped. No state is mutated here.
func (u *Updater) Evaluate(ctx context.Context, owner *memory.Owner, p DetailUpdatePayload) (*proposedItem, error) {
	record, err := currentRecordJSON(owner, p.Type, p.Name)
	if err != nil {
		return nil, err
	}

	system, user := llm.DetailUpdatePrompt(
		owner.Name, string(p.Type), p.Name, record,
		exchange.Format(p.Messages), p.IsNew,
	)

	resp, err := llm.CompleteJSON[detailResponse](ctx, u.llm, system, user, llm.Options{
		MaxTokens:   u.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("owner", owner.Ref().String()),
		zap.String("type", string(p.Type)),
		zap.String("name", p.Name),
	}

	if resp.Skip || resp.Item == nil {
		u.log.Debug("detail update skipped by model", append(fields, zap.String("reason", resp.Reason))...)
		return nil, nil
	}

	// Evidence gate: hedging forces a skip even when the record looks fine.
	if strings.TrimSpace(resp.Evidence) == "" || evidenceHedged(resp.Evidence) {
		u.log.Info("detail update rejected by evidence gate", fields...)
		return nil, nil
	}

	if err := validateShape(p.Type, resp.Item, p.IsNew); err != nil {
		// Shape violations discard the result with no partial write.
		u.log.Info("detail update discarded", append(fields, zap.Error(err))...)
		return nil, nil
	}

	item := *resp.Item
	item.Name = p.Name // upsert by the scanned name, not whatever came back
	return &item, nil
}

// validateShape enforces the required fields per type.
func validateShape(t memory.DataType, item *proposedItem, isNew bool) error {
	if isNew && strings.TrimSpace(item.Description) == "" {
		return fmt.Errorf("new item missing description")
	}
	switch t {
	case memory.TypeFact:
		if item.Confidence == nil {
			return fmt.Errorf("fact missing confidence")
		}
	case memory.TypeTrait:
		// strength is optional
	case memory.TypeTopic:
		if item.LevelCurrent == nil || item.LevelIdeal == nil {
			return fmt.Errorf("topic missing engagement levels")
		}
	case memory.TypePerson:
		if item.LevelCurrent == nil || item.LevelIdeal == nil {
			return fmt.Errorf("person missing engagement levels")
		}
		if isNew && strings.TrimSpace(item.Relationship) == "" {
			return fmt.Errorf("new person missing relationship")
		}
	default:
		return fmt.Errorf("unknown data type %q", t)
	}
	return nil
}

// currentRecordJSON renders the item's persisted record for the prompt, or
// a placeholder note when it does not exist yet.
func currentRecordJSON(owner *memory.Owner, t memory.DataType, name string) (string, error) {
	var item any
	switch t {
	case memory.TypeFact:
		if f := owner.FindFact(name); f != nil {
			item = f
		}
	case memory.TypeTrait:
		if tr := owner.FindTrait(name); tr != nil {
			item = tr
		}
	case memory.TypeTopic:
		if tp := owner.FindTopic(name); tp != nil {
			item = tp
		}
	case memory.TypePerson:
		if p := owner.FindPerson(name); p != nil {
			item = p
		}
	}
	if item == nil {
		return "(no existing record)", nil
	}
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode current record: %w", err)
	}
	return string(data), nil
}

// applyResult summarizes what an apply pass did, for the engine's follow-up
// bookkeeping.
type applyResult struct {
	Created          bool
	TouchedOwnTraits bool // persona wrote to its own traits
	NeedsArbitration bool // non-primary persona touched a global human item
	ReconcileIssues  []Issue
}

// Apply is the commit phase: it folds the validated proposal into the owner
// record in memory. It performs no I/O; the caller persists the owner
// afterwards as a single write.
func (u *Updater) Apply(owner *memory.Owner, acting *memory.Owner, p DetailUpdatePayload, item *proposedItem, now time.Time) applyResult {
	var res applyResult

	actingName := p.ActingPersona
	actingGroup := ""
	if acting != nil {
		actingGroup = acting.PrimaryGroup
	}
	isPrimary := actingName != "" && memory.SameName(actingName, owner.PrimaryPersona)
	if owner.Kind == memory.KindPersona {
		// A persona writing its own profile is its own ground truth.
		isPrimary = isPrimary || memory.SameName(actingName, owner.Name)
	}

	switch p.Type {
	case memory.TypeFact:
		res.Created = u.applyFact(owner, item, actingName, actingGroup, isPrimary, now)
	case memory.TypeTrait:
		created, issues := u.applyTrait(owner, item, actingName, actingGroup, isPrimary, now)
		res.Created = created
		res.ReconcileIssues = issues
		res.TouchedOwnTraits = owner.Kind == memory.KindPersona
	case memory.TypeTopic:
		res.Created = u.applyTopic(owner, item, actingName, actingGroup, isPrimary, now)
	case memory.TypePerson:
		res.Created = u.applyPerson(owner, item, actingName, actingGroup, isPrimary, now)
	}

	if owner.Kind == memory.KindHuman && !isPrimary && actingName != "" {
		groups := itemGroups(owner, p.Type, item.Name)
		if memory.GloballyVisible(groups) {
			res.NeedsArbitration = true
		}
	}
	return res
}

// base folds the shared DataItem fields: description, sentiment, provenance,
// visibility, and the change log. Bookkeeping fields always derive from the
// existing record plus the acting persona, never from model output.
func (u *Updater) base(owner *memory.Owner, existing *memory.DataItem, item *proposedItem,
	actingName, actingGroup string, isPrimary bool, now time.Time, prevSnapshot any) memory.DataItem {

	var base memory.DataItem
	isNew := existing == nil
	if !isNew {
		base = *existing
	}

	base.Name = item.Name
	if strings.TrimSpace(item.Description) != "" {
		base.Description = strings.TrimSpace(item.Description)
	}
	if item.Sentiment != nil {
		base.Sentiment = memory.ClampSentiment(*item.Sentiment)
	}
	base.LastUpdated = now

	if isNew {
		base.LearnedBy = actingName
	}
	if owner.Kind == memory.KindHuman {
		base.PersonaGroups = RecomputeVisibility(base.PersonaGroups, isNew, actingGroup)
	}

	// The primary persona's writes are ground truth: no re-verification trail.
	if !isPrimary && actingName != "" {
		prev, _ := json.Marshal(prevSnapshot)
		delta := memory.SerializedSize(item)
		if prevSnapshot != nil {
			delta = abs(memory.SerializedSize(item) - len(prev))
		}
		entry := memory.ChangeLogEntry{
			ID:        uuid.NewString(),
			Date:      now,
			Persona:   actingName,
			DeltaSize: delta,
		}
		if prevSnapshot != nil {
			entry.PreviousSnapshot = prev
		}
		base.ChangeLog = append(base.ChangeLog, entry)
	}
	return base
}

func (u *Updater) applyFact(owner *memory.Owner, item *proposedItem,
	actingName, actingGroup string, isPrimary bool, now time.Time) bool {

	existing := owner.FindFact(item.Name)
	var prevSnapshot any
	var prev memory.Fact
	if existing != nil {
		prev = *existing
		prevSnapshot = prev
	}

	var existingBase *memory.DataItem
	if existing != nil {
		existingBase = &existing.DataItem
	}
	fact := memory.Fact{
		DataItem:   u.base(owner, existingBase, item, actingName, actingGroup, isPrimary, now, prevSnapshot),
		Confidence: memory.Clamp01(*item.Confidence),
	}
	if existing != nil {
		fact.LastConfirmed = existing.LastConfirmed
		*existing = fact
		return false
	}
	owner.Facts = append(owner.Facts, fact)
	return true
}

func (u *Updater) applyTrait(owner *memory.Owner, item *proposedItem,
	actingName, actingGroup string, isPrimary bool, now time.Time) (bool, []Issue) {

	existing := owner.FindTrait(item.Name)
	var prevSnapshot any
	if existing != nil {
		prevSnapshot = *existing
	}

	var existingBase *memory.DataItem
	var static bool
	if existing != nil {
		existingBase = &existing.DataItem
		static = existing.Static
	}
	trait := memory.Trait{
		DataItem: u.base(owner, existingBase, item, actingName, actingGroup, isPrimary, now, prevSnapshot),
		Static:   static,
	}
	if item.Strength != nil {
		s := memory.Clamp01(*item.Strength)
		trait.Strength = &s
	} else if existing != nil {
		trait.Strength = existing.Strength
	}

	// Route the whole bucket through reconciliation so a proposal can never
	// rewrite a static trait's identity, only its numbers.
	proposed := make([]memory.Trait, len(owner.Traits))
	copy(proposed, owner.Traits)
	created := true
	for i := range proposed {
		if memory.SameName(proposed[i].Name, trait.Name) {
			proposed[i] = trait
			created = false
			break
		}
	}
	if created {
		proposed = append(proposed, trait)
	}

	merged, issues := ReconcileStaticTraits(owner.Traits, proposed)
	owner.Traits = merged
	return created, issues
}

func (u *Updater) applyTopic(owner *memory.Owner, item *proposedItem,
	actingName, actingGroup string, isPrimary bool, now time.Time) bool {

	existing := owner.FindTopic(item.Name)
	var prevSnapshot any
	if existing != nil {
		prevSnapshot = *existing
	}

	var existingBase *memory.DataItem
	if existing != nil {
		existingBase = &existing.DataItem
	}
	topic := memory.Topic{
		DataItem:     u.base(owner, existingBase, item, actingName, actingGroup, isPrimary, now, prevSnapshot),
		LevelCurrent: memory.Clamp01(*item.LevelCurrent),
		LevelIdeal:   memory.Clamp01(*item.LevelIdeal),
	}
	if existing != nil {
		*existing = topic
		return false
	}
	owner.Topics = append(owner.Topics, topic)
	return true
}

func (u *Updater) applyPerson(owner *memory.Owner, item *proposedItem,
	actingName, actingGroup string, isPrimary bool, now time.Time) bool {

	existing := owner.FindPerson(item.Name)
	var prevSnapshot any
	if existing != nil {
		prevSnapshot = *existing
	}

	var existingBase *memory.DataItem
	if existing != nil {
		existingBase = &existing.DataItem
	}
	person := memory.Person{
		DataItem:     u.base(owner, existingBase, item, actingName, actingGroup, isPrimary, now, prevSnapshot),
		LevelCurrent: memory.Clamp01(*item.LevelCurrent),
		LevelIdeal:   memory.Clamp01(*item.LevelIdeal),
		Relationship: strings.TrimSpace(item.Relationship),
	}
	if person.Relationship == "" && existing != nil {
		person.Relationship = existing.Relationship
	}
	if existing != nil {
		*existing = person
		return false
	}
	owner.People = append(owner.People, person)
	return true
}

func itemGroups(owner *memory.Owner, t memory.DataType, name string) []string {
	switch t {
	case memory.TypeFact:
		if f := owner.FindFact(name); f != nil {
			return f.PersonaGroups
		}
	case memory.TypeTrait:
		if tr := owner.FindTrait(name); tr != nil {
			return tr.PersonaGroups
		}
	case memory.TypeTopic:
		if tp := owner.FindTopic(name); tp != nil {
			return tp.PersonaGroups
		}
	case memory.TypePerson:
		if p := owner.FindPerson(name); p != nil {
			return p.PersonaGroups
		}
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
