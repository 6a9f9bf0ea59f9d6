package exchange

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// countTokens estimates the token cost of text. Falls back to a chars/4
// heuristic when the tokenizer is unavailable (e.g. no cached BPE data).
func countTokens(text string) int {
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Window returns the newest messages whose combined formatted size fits the
// token budget, preserving chronological order. At least one message is
// returned when any exist, even if it alone exceeds the budget.
func Window(messages []Message, tokenBudget int) []Message {
	if len(messages) == 0 {
		return nil
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := countTokens(messages[i].Content) + 8 // attribution overhead
		if total+cost > tokenBudget && start < len(messages) {
			break
		}
		total += cost
		start = i
	}
	return messages[start:]
}
