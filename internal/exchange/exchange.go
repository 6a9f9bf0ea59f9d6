// Package exchange models conversation messages between the human and a
// persona, and prepares token-bounded, speaker-attributed windows of them
// for extraction prompts.
package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/mgirard/keepsake/internal/memory"
)

// Message is one utterance in a human/persona conversation.
type Message struct {
	ID          int64            `json:"id,omitempty"`
	Persona     string           `json:"persona"` // the persona side of the conversation
	SpeakerKind memory.OwnerKind `json:"speaker_kind"`
	SpeakerName string           `json:"speaker_name"`
	Content     string           `json:"content"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Speaker returns the speaking owner's identity.
func (m Message) Speaker() memory.OwnerRef {
	return memory.OwnerRef{Kind: m.SpeakerKind, Name: m.SpeakerName}
}

// Format renders messages with explicit speaker attribution, oldest first.
// Extraction prompts depend on this attribution: evidence must name the
// correct owner, and unattributed lines invite misattribution.
func Format(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s (%s): %s\n", m.SpeakerName, m.SpeakerKind, strings.TrimSpace(m.Content))
	}
	return b.String()
}
