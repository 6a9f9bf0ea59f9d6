package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries  = 3
	defaultBackoffBase = time.Second
)

// Retrying wraps a Client with bounded retries. Only rate-limit-class
// failures are retried, with exponential backoff; anything else propagates
// immediately. Cancellation is checked before every attempt and preempts
// the remaining retries.
type Retrying struct {
	inner       Client
	maxRetries  int
	backoffBase time.Duration
	log         *zap.Logger
}

// NewRetrying wraps inner with the default retry policy.
func NewRetrying(inner Client, log *zap.Logger) *Retrying {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{
		inner:       inner,
		maxRetries:  defaultMaxRetries,
		backoffBase: defaultBackoffBase,
		log:         log,
	}
}

// Complete runs the completion with retry on rate limits.
func (r *Retrying) Complete(ctx context.Context, system, user string, opts Options) (*Response, error) {
	delay := r.backoffBase
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			r.log.Warn("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := r.inner.Complete(ctx, system, user, opts)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// rawJSONNudge is appended to the user prompt when a response parses as
// nothing even after repair, for one whole-request retry.
const rawJSONNudge = "\n\nIMPORTANT: Respond with raw JSON only. No prose, no markdown, no code fences."

// CompleteJSON runs a completion and decodes its JSON payload into T,
// applying the full extraction/repair pipeline. A truncated response fails
// immediately with ErrTruncated. If the content cannot be parsed after
// repair, the whole request is retried once with a raw-JSON instruction
// before giving up with ErrMalformed.
func CompleteJSON[T any](ctx context.Context, c Client, system, user string, opts Options) (*T, error) {
	resp, err := c.Complete(ctx, system, user, opts)
	if err != nil {
		return nil, err
	}

	out, err := decodeJSON[T](resp)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrTruncated) {
		return nil, err
	}

	resp, rerr := c.Complete(ctx, system, user+rawJSONNudge, opts)
	if rerr != nil {
		return nil, rerr
	}
	out, err = decodeJSON[T](resp)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeJSON parses a response body into T: extract, parse, textual repair,
// reparse, structural truncation repair, reparse.
func decodeJSON[T any](resp *Response) (*T, error) {
	if resp == nil || resp.Content == "" {
		return nil, fmt.Errorf("empty response: %w", ErrMalformed)
	}
	if resp.Truncated() {
		return nil, fmt.Errorf("%s response cut off at token limit: %w", resp.Provider, ErrTruncated)
	}

	doc, err := ExtractJSON(resp.Content)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal([]byte(doc), &out); err == nil {
		return &out, nil
	}

	repaired := RepairJSON(doc)
	if err := json.Unmarshal([]byte(repaired), &out); err == nil {
		return &out, nil
	}

	balanced := BalanceJSON(repaired)
	if err := json.Unmarshal([]byte(balanced), &out); err == nil {
		return &out, nil
	}

	return nil, fmt.Errorf("json unrecoverable after repair: %w", ErrMalformed)
}
