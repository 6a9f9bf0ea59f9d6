package exchange

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgirard/keepsake/internal/memory"
)

func msg(speaker string, kind memory.OwnerKind, content string) Message {
	return Message{
		Persona:     "mira",
		SpeakerKind: kind,
		SpeakerName: speaker,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestFormatAttributesSpeakers(t *testing.T) {
	out := Format([]Message{
		msg("Dana", memory.KindHuman, "I went hiking."),
		msg("Mira", memory.KindPersona, "  How was it?  "),
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Dana (human): I went hiking.", lines[0])
	assert.Equal(t, "Mira (persona): How was it?", lines[1])
}

func TestWindowKeepsEverythingUnderBudget(t *testing.T) {
	messages := []Message{
		msg("Dana", memory.KindHuman, "first"),
		msg("Mira", memory.KindPersona, "second"),
		msg("Dana", memory.KindHuman, "third"),
	}
	got := Window(messages, 100000)
	assert.Equal(t, messages, got)
}

func TestWindowPrefersNewestMessages(t *testing.T) {
	messages := []Message{
		msg("Dana", memory.KindHuman, strings.Repeat("old news ", 400)),
		msg("Mira", memory.KindPersona, "short reply"),
		msg("Dana", memory.KindHuman, "short question"),
	}
	got := Window(messages, 50)

	require.NotEmpty(t, got)
	assert.Less(t, len(got), len(messages), "the oversized oldest message must fall out first")
	assert.Equal(t, "short question", got[len(got)-1].Content, "chronological order, newest last")
}

func TestWindowNeverReturnsEmptyWhenMessagesExist(t *testing.T) {
	messages := []Message{
		msg("Dana", memory.KindHuman, strings.Repeat("far too long ", 1000)),
	}
	got := Window(messages, 1)
	require.Len(t, got, 1, "a scan with no transcript is a silent no-op")
}

func TestWindowEmptyInput(t *testing.T) {
	assert.Nil(t, Window(nil, 100))
}
