package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgirard/keepsake/internal/exchange"
	"github.com/mgirard/keepsake/internal/llm"
	"github.com/mgirard/keepsake/internal/memory"
)

func testMessages() []exchange.Message {
	now := time.Now().UTC()
	return []exchange.Message{
		{Persona: "mira", SpeakerKind: memory.KindHuman, SpeakerName: "Dana", Content: "My brother Alex visited today.", CreatedAt: now},
		{Persona: "mira", SpeakerKind: memory.KindPersona, SpeakerName: "Mira", Content: "How was that?", CreatedAt: now},
	}
}

func TestScanDropsPersonaNameSuggestions(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: `[
		{"name": "Mira", "type": "person", "status": "new", "confidence": "high"},
		{"name": "Alex", "type": "person", "status": "new", "confidence": "high"}
	]`}}
	s := NewScanner(mock, nil, 3000, 0, 0)

	owner := &memory.Owner{Kind: memory.KindHuman, Name: "Dana"}
	personas := []memory.Owner{{Kind: memory.KindPersona, Name: "Mira", Aliases: []string{"Mi"}}}

	results, ok, err := s.Scan(context.Background(), owner, []memory.DataType{memory.TypePerson}, testMessages(), personas)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "Alex", results[0].Name)
}

func TestScanFiltersTypes(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: `[
		{"name": "likes hiking", "type": "fact", "status": "new", "confidence": "high"},
		{"name": "curious", "type": "trait", "status": "mentioned", "confidence": "high"},
		{"name": "hiking", "type": "topic", "status": "new", "confidence": "high"},
		{"name": "nonsense", "type": "vibe", "status": "new", "confidence": "high"}
	]`}}
	s := NewScanner(mock, nil, 3000, 0, 0)

	// A persona owner has no facts; topics were not requested this round.
	owner := &memory.Owner{Kind: memory.KindPersona, Name: "Mira"}
	results, ok, err := s.Scan(context.Background(), owner, []memory.DataType{memory.TypeTrait}, testMessages(), nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, "curious", results[0].Name)
}

func TestScanNoMessagesNoCall(t *testing.T) {
	mock := &llm.MockClient{}
	s := NewScanner(mock, nil, 3000, 0, 0)

	owner := &memory.Owner{Kind: memory.KindHuman, Name: "Dana"}
	results, ok, err := s.Scan(context.Background(), owner, []memory.DataType{memory.TypeFact}, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, results)
	assert.Zero(t, mock.CallCount())
}

func TestScanModelFailureIsNonFatal(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("model unavailable")}
	s := NewScanner(mock, nil, 3000, 0, 0)

	owner := &memory.Owner{Kind: memory.KindHuman, Name: "Dana"}
	results, ok, err := s.Scan(context.Background(), owner, []memory.DataType{memory.TypeFact}, testMessages(), nil)
	assert.NoError(t, err, "a failed scan waits for the next trigger")
	assert.False(t, ok, "a failed scan must not read as a successful empty one")
	assert.Nil(t, results)
}

func TestScanCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, system, user string, opts llm.Options) (*llm.Response, error) {
		cancel()
		return nil, ctx.Err()
	}}
	s := NewScanner(mock, nil, 3000, 0, 0)

	owner := &memory.Owner{Kind: memory.KindHuman, Name: "Dana"}
	_, _, err := s.Scan(ctx, owner, []memory.DataType{memory.TypeFact}, testMessages(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouteResultsSplitsByConfidence(t *testing.T) {
	results := []scanResult{
		{Name: "likes hiking", Type: "fact", Status: "new", Confidence: "high"},
		{Name: "curious", Type: "trait", Status: "mentioned", Confidence: "medium"},
		{Name: "maybe vegan", Type: "fact", Status: "new", Confidence: "low"},
	}
	ref := memory.OwnerRef{Kind: memory.KindHuman, Name: "Dana"}

	tasks := routeResults(results, ref, "mira", testMessages(), 0)
	require.Len(t, tasks, 3)

	assert.Equal(t, KindDetailUpdate, tasks[0].Kind)
	assert.Equal(t, PriorityNormal, tasks[0].Priority)
	assert.True(t, tasks[0].Detail.IsNew)
	assert.Equal(t, KindDetailUpdate, tasks[1].Kind)

	assert.Equal(t, KindValidationRequest, tasks[2].Kind)
	assert.Equal(t, PriorityLow, tasks[2].Priority)
	assert.Equal(t, OriginLowConfidence, tasks[2].Validation.Origin)
	assert.NotEmpty(t, tasks[2].Validation.Rationale)
}

func TestRouteResultsCapsAndOrdersValidations(t *testing.T) {
	var results []scanResult
	for _, name := range []string{"golf", "fencing", "archery", "bowling", "curling", "darts", "eels"} {
		results = append(results, scanResult{Name: name, Type: "topic", Status: "new", Confidence: "low"})
	}
	ref := memory.OwnerRef{Kind: memory.KindHuman, Name: "Dana"}

	tasks := routeResults(results, ref, "mira", nil, 0)
	require.Len(t, tasks, defaultValidationCap)

	// Ties resolve by name so reruns park the same five.
	var names []string
	for _, task := range tasks {
		require.Equal(t, KindValidationRequest, task.Kind)
		names = append(names, task.Validation.Name)
	}
	assert.Equal(t, []string{"archery", "bowling", "curling", "darts", "eels"}, names)
}

func TestRouteResultsHonorsConfiguredCap(t *testing.T) {
	var results []scanResult
	for _, name := range []string{"golf", "fencing", "archery", "bowling"} {
		results = append(results, scanResult{Name: name, Type: "topic", Status: "new", Confidence: "low"})
	}
	ref := memory.OwnerRef{Kind: memory.KindHuman, Name: "Dana"}

	tasks := routeResults(results, ref, "mira", nil, 2)
	require.Len(t, tasks, 2)
	assert.Equal(t, "archery", tasks[0].Validation.Name)
	assert.Equal(t, "bowling", tasks[1].Validation.Name)
}
