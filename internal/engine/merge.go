package engine

import (
	"fmt"
	"strings"

	"github.com/mgirard/keepsake/internal/memory"
)

// Issue is one reconciliation violation, reported rather than raised: the
// merge corrects the state and the caller decides how loudly to log.
type Issue struct {
	Name   string
	Kind   string // "static_removed", "static_description_changed", "static_added"
	Detail string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.Kind, i.Name, i.Detail)
}

// ReconcileStaticTraits protects the fixed set of static (guardrail) traits
// in original from model-proposed edits. Static items can never be added,
// removed, or renamed, and their descriptions never change; only numeric
// fields (strength, sentiment) may move. On violation the merge restores
// each original static item by name, copies over only the numeric fields a
// same-named proposal carries, and concatenates all proposed non-static
// items unchanged.
func ReconcileStaticTraits(original, proposed []memory.Trait) ([]memory.Trait, []Issue) {
	var issues []Issue

	proposedByName := make(map[string]*memory.Trait, len(proposed))
	for i := range proposed {
		proposedByName[foldName(proposed[i].Name)] = &proposed[i]
	}

	merged := make([]memory.Trait, 0, len(proposed))
	staticNames := make(map[string]bool)

	// Restore every original static trait, in original order.
	for i := range original {
		if !original[i].Static {
			continue
		}
		restored := original[i]
		key := foldName(restored.Name)
		staticNames[key] = true

		match, ok := proposedByName[key]
		switch {
		case !ok:
			issues = append(issues, Issue{
				Name:   restored.Name,
				Kind:   "static_removed",
				Detail: "proposal dropped or renamed a static trait; restored",
			})
		case match.Description != restored.Description:
			issues = append(issues, Issue{
				Name:   restored.Name,
				Kind:   "static_description_changed",
				Detail: "proposal rewrote a static description; restored",
			})
		}
		if ok {
			// Only the numeric fields follow the proposal.
			restored.Strength = match.Strength
			restored.Sentiment = memory.ClampSentiment(match.Sentiment)
			restored.LastUpdated = match.LastUpdated
		}
		merged = append(merged, restored)
	}

	// Carry every proposed non-static trait through unchanged.
	for i := range proposed {
		p := proposed[i]
		if staticNames[foldName(p.Name)] {
			continue // consumed by the restore above
		}
		if p.Static {
			// A proposal cannot mint new guardrails; demote it to content.
			issues = append(issues, Issue{
				Name:   p.Name,
				Kind:   "static_added",
				Detail: "proposal introduced a static trait; demoted to non-static",
			})
			p.Static = false
		}
		merged = append(merged, p)
	}

	return merged, issues
}

// RecomputeVisibility derives the persona-group tags for a human-owned item
// from persisted state plus the acting persona, never from model output.
// New items inherit the acting persona's primary group (wildcard when it has
// none); globally tagged items stay global; restricted items grow
// monotonically by the acting group.
func RecomputeVisibility(existing []string, isNew bool, actingGroup string) []string {
	if isNew {
		if actingGroup == "" {
			return []string{memory.WildcardGroup}
		}
		return []string{actingGroup}
	}
	if memory.GloballyVisible(existing) {
		return existing
	}
	if actingGroup == "" {
		// A group-less persona touching a restricted item widens it to global.
		return append(existing, memory.WildcardGroup)
	}
	return memory.AddGroup(existing, actingGroup)
}

func foldName(name string) string {
	return strings.ToLower(memory.NormalizeName(name))
}
