package testutil

import (
	"context"
	"errors"
	"sync"

	"cypher/model"
)

// MockClient implements model.Client for testing.
type MockClient struct {
	// Configurable behaviour
	ChatCompletionFunc func(ctx context.Context, req model.Request) (*model.Response, error)

	provider model.Provider

	mu       sync.Mutex
	requests []model.Request
}

// NewMockClient creates a mock client for provider p that answers every
// request with the given responses in order. Once the list is exhausted it
// returns an error.
func NewMockClient(p model.Provider, responses ...*model.Response) *MockClient {
	mock := &MockClient{provider: p}
	queue := append([]*model.Response(nil), responses...)
	mock.ChatCompletionFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		mock.mu.Lock()
		defer mock.mu.Unlock()
		if len(queue) == 0 {
			return nil, errors.New("mock: no more responses")
		}
		next := queue[0]
		queue = queue[1:]
		return next, nil
	}
	return mock
}

// NewFailingClient creates a mock client whose every call fails with err.
func NewFailingClient(p model.Provider, err error) *MockClient {
	mock := &MockClient{provider: p}
	mock.ChatCompletionFunc = func(ctx context.Context, req model.Request) (*model.Response, error) {
		return nil, err
	}
	return mock
}

func (m *MockClient) ChatCompletion(ctx context.Context, req model.Request) (*model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.ChatCompletionFunc(ctx, req)
}

func (m *MockClient) Provider() model.Provider {
	return m.provider
}

// Requests returns every request received so far.
func (m *MockClient) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Request(nil), m.requests...)
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockClient) LastRequest() model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return model.Request{}
	}
	return m.requests[len(m.requests)-1]
}
