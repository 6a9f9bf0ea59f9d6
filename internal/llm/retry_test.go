package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrying(inner Client) *Retrying {
	r := NewRetrying(inner, nil)
	r.backoffBase = time.Millisecond
	return r
}

func TestRetryingRetriesRateLimits(t *testing.T) {
	attempts := 0
	mock := &MockClient{CompleteFunc: func(ctx context.Context, system, user string, opts Options) (*Response, error) {
		attempts++
		if attempts < 3 {
			return nil, ErrRateLimited
		}
		return &Response{Content: "ok"}, nil
	}}

	resp, err := fastRetrying(mock).Complete(context.Background(), "s", "u", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, attempts)
}

func TestRetryingPropagatesOtherErrorsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	mock := &MockClient{Err: boom}

	_, err := fastRetrying(mock).Complete(context.Background(), "s", "u", Options{})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mock.CallCount())
}

func TestRetryingExhaustsAndReportsRateLimit(t *testing.T) {
	mock := &MockClient{Err: ErrRateLimited}

	_, err := fastRetrying(mock).Complete(context.Background(), "s", "u", Options{})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, defaultMaxRetries+1, mock.CallCount())
}

func TestRetryingHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &MockClient{Response: &Response{Content: "ok"}}

	_, err := fastRetrying(mock).Complete(ctx, "s", "u", Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, mock.CallCount())
}

type record struct {
	Name  string  `json:"name"`
	Level float64 `json:"level"`
}

func TestCompleteJSONDecodes(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "```json\n{\"name\": \"hiking\", \"level\": 0.5}\n```"}}

	got, err := CompleteJSON[record](context.Background(), mock, "s", "u", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hiking", got.Name)
	assert.Equal(t, 0.5, got.Level)
}

func TestCompleteJSONRepairsBeforeRetrying(t *testing.T) {
	// A digit-typo decimal is repaired in place, no second request.
	mock := &MockClient{Response: &Response{Content: `{"name": "hiking", "level": 05}`}}

	got, err := CompleteJSON[record](context.Background(), mock, "s", "u", Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Level)
	assert.Equal(t, 1, mock.CallCount())
}

func TestCompleteJSONTruncationFailsFast(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: `{"name": "hik`, FinishReason: "max_tokens"}}

	_, err := CompleteJSON[record](context.Background(), mock, "s", "u", Options{})
	require.ErrorIs(t, err, ErrTruncated)
	assert.Equal(t, 1, mock.CallCount(), "truncation is a content-length problem, not a formatting one")
}

func TestCompleteJSONNudgesOnceOnProse(t *testing.T) {
	calls := 0
	mock := &MockClient{CompleteFunc: func(ctx context.Context, system, user string, opts Options) (*Response, error) {
		calls++
		if calls == 1 {
			return &Response{Content: "Happy to help! Let me describe the record in plain words instead."}, nil
		}
		if !strings.Contains(user, "raw JSON only") {
			return nil, errors.New("expected the nudge on the retry")
		}
		return &Response{Content: `{"name": "hiking", "level": 0.5}`}, nil
	}}

	got, err := CompleteJSON[record](context.Background(), mock, "s", "u", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hiking", got.Name)
	assert.Equal(t, 2, calls)
}

func TestCompleteJSONMalformedAfterNudge(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "still just words, twice"}}

	_, err := CompleteJSON[record](context.Background(), mock, "s", "u", Options{})
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 2, mock.CallCount())
}
