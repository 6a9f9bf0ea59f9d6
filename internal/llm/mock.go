package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
type MockClient struct {
	mu       sync.Mutex
	Response *Response
	Err      error

	// CompleteFunc, when set, overrides Response/Err and receives the call.
	CompleteFunc func(ctx context.Context, system, user string, opts Options) (*Response, error)

	Calls []string // records user prompts sent
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, system, user string, opts Options) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, user)
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, system, user, opts)
	}
	return m.Response, m.Err
}

// CallCount returns the number of completions requested so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
