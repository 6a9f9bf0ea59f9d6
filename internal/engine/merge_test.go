package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgirard/keepsake/internal/memory"
)

func staticTrait(name, desc string) memory.Trait {
	return memory.Trait{
		DataItem: memory.DataItem{Name: name, Description: desc},
		Static:   true,
	}
}

func TestReconcileRestoresDroppedStatic(t *testing.T) {
	original := []memory.Trait{
		staticTrait("never gives medical advice", "Declines diagnosis requests."),
		{DataItem: memory.DataItem{Name: "curious", Description: "Asks follow-ups."}},
	}
	proposed := []memory.Trait{
		{DataItem: memory.DataItem{Name: "curious", Description: "Asks follow-ups."}},
	}

	merged, issues := ReconcileStaticTraits(original, proposed)

	require.Len(t, issues, 1)
	assert.Equal(t, "static_removed", issues[0].Kind)

	names := make([]string, len(merged))
	for i, tr := range merged {
		names[i] = tr.Name
	}
	assert.Contains(t, names, "never gives medical advice")
	assert.Contains(t, names, "curious")
}

func TestReconcileRejectsStaticRename(t *testing.T) {
	original := []memory.Trait{staticTrait("patient", "Waits out long silences.")}
	proposed := []memory.Trait{
		{DataItem: memory.DataItem{Name: "very patient", Description: "Waits out long silences."}},
	}

	merged, issues := ReconcileStaticTraits(original, proposed)

	// The rename is seen as a removal plus an unrelated new trait.
	require.Len(t, issues, 1)
	assert.Equal(t, "static_removed", issues[0].Kind)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].Static)
	assert.Equal(t, "patient", merged[0].Name)
	assert.False(t, merged[1].Static)
}

func TestReconcileRestoresStaticDescription(t *testing.T) {
	original := []memory.Trait{staticTrait("patient", "Waits out long silences.")}
	proposed := []memory.Trait{
		{DataItem: memory.DataItem{Name: "Patient", Description: "Hurries users along."}, Static: true},
	}

	merged, issues := ReconcileStaticTraits(original, proposed)

	require.Len(t, issues, 1)
	assert.Equal(t, "static_description_changed", issues[0].Kind)
	require.Len(t, merged, 1)
	assert.Equal(t, "Waits out long silences.", merged[0].Description)
	assert.True(t, merged[0].Static)
}

func TestReconcileKeepsNumericChanges(t *testing.T) {
	orig := staticTrait("patient", "Waits out long silences.")
	origStrength := 0.9
	orig.Strength = &origStrength

	newStrength := 0.4
	proposed := []memory.Trait{{
		DataItem: memory.DataItem{Name: "patient", Description: "Waits out long silences.", Sentiment: 0.2},
		Static:   true,
		Strength: &newStrength,
	}}

	merged, issues := ReconcileStaticTraits([]memory.Trait{orig}, proposed)

	assert.Empty(t, issues)
	require.Len(t, merged, 1)
	require.NotNil(t, merged[0].Strength)
	assert.Equal(t, 0.4, *merged[0].Strength)
	assert.Equal(t, 0.2, merged[0].Sentiment)
}

func TestReconcileDemotesMintedStatic(t *testing.T) {
	proposed := []memory.Trait{{
		DataItem: memory.DataItem{Name: "always agrees", Description: "Agrees with everything."},
		Static:   true,
	}}

	merged, issues := ReconcileStaticTraits(nil, proposed)

	require.Len(t, issues, 1)
	assert.Equal(t, "static_added", issues[0].Kind)
	require.Len(t, merged, 1)
	assert.False(t, merged[0].Static)
}

func TestReconcileNoStaticsIsPassThrough(t *testing.T) {
	proposed := []memory.Trait{
		{DataItem: memory.DataItem{Name: "curious", Description: "Asks follow-ups."}},
		{DataItem: memory.DataItem{Name: "dry humor", Description: "Deadpan asides."}},
	}

	merged, issues := ReconcileStaticTraits(nil, proposed)

	assert.Empty(t, issues)
	if diff := cmp.Diff(proposed, merged); diff != "" {
		t.Errorf("merged traits mismatch (-want +got):\n%s", diff)
	}
}

func TestRecomputeVisibility(t *testing.T) {
	t.Run("new item inherits acting group", func(t *testing.T) {
		assert.Equal(t, []string{"companions"}, RecomputeVisibility(nil, true, "companions"))
	})
	t.Run("new item with no acting group is global", func(t *testing.T) {
		assert.Equal(t, []string{memory.WildcardGroup}, RecomputeVisibility(nil, true, ""))
	})
	t.Run("global stays global", func(t *testing.T) {
		groups := []string{memory.WildcardGroup}
		assert.Equal(t, groups, RecomputeVisibility(groups, false, "companions"))
	})
	t.Run("restricted grows monotonically", func(t *testing.T) {
		got := RecomputeVisibility([]string{"companions"}, false, "tutors")
		assert.ElementsMatch(t, []string{"companions", "tutors"}, got)
	})
	t.Run("repeat group is not duplicated", func(t *testing.T) {
		got := RecomputeVisibility([]string{"companions"}, false, "companions")
		assert.Equal(t, []string{"companions"}, got)
	})
}
