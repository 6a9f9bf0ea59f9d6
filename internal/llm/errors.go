package llm

import "errors"

// Error taxonomy for completion calls. Cancellation is reported as the
// context's error, never one of these.
var (
	// ErrRateLimited marks a rate-limit-class provider response. Only this
	// class is retried.
	ErrRateLimited = errors.New("rate limited")

	// ErrTruncated marks a response cut off at the token limit. The content
	// is incomplete, not malformed, so repair is never attempted.
	ErrTruncated = errors.New("response truncated")

	// ErrMalformed marks a response whose JSON could not be recovered after
	// every repair pass.
	ErrMalformed = errors.New("malformed response")
)

// rateLimitStatus reports whether an HTTP status is rate-limit-class: 429,
// or 529 (overloaded). Other server errors propagate immediately and are
// never retried.
func rateLimitStatus(code int) bool {
	return code == 429 || code == 529
}
