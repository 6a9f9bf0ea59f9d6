package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlain(t *testing.T) {
	doc, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, doc)
}

func TestExtractJSONCodeFence(t *testing.T) {
	doc, err := ExtractJSON("Here you go:\n```json\n{\"a\": 1}\n```\nHope that helps!")
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, doc)
}

func TestExtractJSONReasoningTags(t *testing.T) {
	doc, err := ExtractJSON("<think>\nThe user wants an array.\n</think>\n[{\"a\": 1}]")
	require.NoError(t, err)
	assert.Equal(t, `[{"a": 1}]`, doc)
}

func TestExtractJSONUnclosedReasoningTag(t *testing.T) {
	doc, err := ExtractJSON(`<thinking>hmm {"a": 1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, doc)
}

func TestExtractJSONProseAroundDocument(t *testing.T) {
	doc, err := ExtractJSON(`Sure! The record is {"a": {"b": 2}} as requested.`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 2}}`, doc)
}

func TestExtractJSONNoDocument(t *testing.T) {
	_, err := ExtractJSON("I could not produce a record for this.")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestExtractJSONTruncatedDocument(t *testing.T) {
	// No closer at all: hand back from the opener for structural repair.
	doc, err := ExtractJSON(`{"a": "unfinished`)
	require.NoError(t, err)
	assert.Equal(t, `{"a": "unfinished`, doc)
}

func TestRepairLeadingZeroDecimals(t *testing.T) {
	// A digit-typo decimal the detail pass produces now and then.
	in := `{"level_ideal": 07, "level_current": 0.5}`
	out := RepairJSON(in)

	var got map[string]float64
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 0.7, got["level_ideal"])
	assert.Equal(t, 0.5, got["level_current"])
}

func TestRepairAdjacentLeadingZeros(t *testing.T) {
	// Abutting matches share their delimiter; the fixed-point loop catches
	// the second one.
	in := `[07, 03]`
	out := RepairJSON(in)

	var got []float64
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []float64{0.7, 0.3}, got)
}

func TestRepairLeavesValidNumbersAlone(t *testing.T) {
	in := `{"a": 0, "b": 10, "c": 0.7, "d": 107}`
	assert.Equal(t, in, RepairJSON(in))
}

func TestRepairBareISODate(t *testing.T) {
	in := `{"date": 2024-06-01T10:00:00Z}`
	out := RepairJSON(in)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "2024-06-01T10:00:00Z", got["date"])
}

func TestRepairTrailingCommas(t *testing.T) {
	in := `{"a": [1, 2,], "b": 3,}`
	out := RepairJSON(in)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
}

func TestRepairComments(t *testing.T) {
	in := "{\n  \"a\": 1, // inline note\n  /* block */ \"b\": 2\n}"
	out := RepairJSON(in)
	var got map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, got)
}

func TestRepairLeavesURLsInStrings(t *testing.T) {
	in := `{"url": "https://example.com/a//b"}`
	out := RepairJSON(in)
	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "https://example.com/a//b", got["url"])
}

func TestBalanceClosesTruncatedDocument(t *testing.T) {
	in := `{"items": [{"name": "hiking", "level": 0.5}, {"name": "ski`
	out := BalanceJSON(in)

	var got map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got["items"], 2)
	assert.Equal(t, "ski", got["items"][1]["name"])
}

func TestBalanceDropsDanglingKey(t *testing.T) {
	in := `{"a": 1, "b":`
	out := BalanceJSON(in)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1.0, got["a"])
}

func TestBalanceLeavesCompleteDocumentAlone(t *testing.T) {
	in := `{"a": [1, 2], "b": {"c": 3}}`
	assert.Equal(t, in, BalanceJSON(in))
}
