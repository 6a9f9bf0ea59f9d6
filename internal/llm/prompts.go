package llm

import "fmt"

// FastScanPrompt builds the phase-1 scan prompt: given only the names and
// types of known items (no descriptions, to bound token cost) and a window
// of recent conversation, classify what was touched.
func FastScanPrompt(ownerName, ownerKind, knownItems, types, transcript string) (system, user string) {
	system = "You are the scanning pass of a long-term memory system. " +
		"You classify which tracked items a conversation touched and propose new ones. " +
		"You respond with a JSON array and nothing else."

	user = fmt.Sprintf(`Target: %s (%s). Scan the conversation for items of these types only: %s.

KNOWN ITEMS (name [type]):
%s

CONVERSATION:
%s

For each known item the conversation meaningfully touches, and each genuinely new item it reveals about %s, emit one entry:
[{
  "name": "item name",
  "type": "fact|trait|topic|person",
  "status": "mentioned|new",
  "confidence": "high|medium|low",
  "rationale": "one short sentence (required for new items)"
}]

Rules:
- Only items about %s, never about the other speaker.
- Prefer matching a known item over proposing a new one.
- Skip small talk and one-off mentions.
- Return ONLY the JSON array. If nothing qualifies, return [].`,
		ownerName, ownerKind, types, knownItems, transcript, ownerName, ownerName)
	return system, user
}

// DetailUpdatePrompt builds the phase-2 focused prompt for a single item.
// The model must either return a populated record with quoted evidence or
// an explicit skip.
func DetailUpdatePrompt(ownerName, itemType, itemName, currentRecord, transcript string, isNew bool) (system, user string) {
	system = "You are the detail pass of a long-term memory system. " +
		"You update exactly one record, only when the conversation demonstrates it about the correct person. " +
		"You respond with a single JSON object and nothing else."

	state := fmt.Sprintf("CURRENT RECORD:\n%s", currentRecord)
	if isNew {
		state = "CURRENT RECORD: none. This is a proposed new item."
	}

	user = fmt.Sprintf(`Item: %q (%s) belonging to %s.

%s

CONVERSATION (speakers are attributed; evidence must show %s, not anyone else):
%s

If the conversation demonstrates this item about %s, return:
{
  "item": {
    "name": %q,
    "description": "updated description",
    "sentiment": -1.0 to 1.0,
    "confidence": 0.0 to 1.0,       // facts only
    "strength": 0.0 to 1.0,         // traits only, optional
    "level_current": 0.0 to 1.0,    // topics and people
    "level_ideal": 0.0 to 1.0,      // topics and people
    "relationship": "..."           // people only
  },
  "evidence": "quote the message(s) showing %s exhibiting or discussing this"
}

Otherwise return exactly: {"skip": true, "reason": "why"}

Return ONLY the JSON object.`,
		itemName, itemType, ownerName, state, ownerName, transcript, ownerName, itemName, ownerName)
	return system, user
}

// DescriptionPrompt builds the persona description-regeneration prompt.
func DescriptionPrompt(personaName, traits string) (system, user string) {
	system = "You write short persona self-descriptions from trait lists. " +
		"You respond with plain text, no preamble."

	user = fmt.Sprintf(`Persona: %s

TRAITS:
%s

Write a 2-4 sentence description of how %s behaves in conversation, grounded only in the traits above. No headers, no lists.`,
		personaName, traits, personaName)
	return system, user
}
