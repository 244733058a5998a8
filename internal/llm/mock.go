package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockResponse is one scripted reply of a MockProvider.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockProvider replays scripted replies without network access. Replies
// queued with Script for a schema name are served to requests carrying that
// schema; everything else is served from the shared queue in order.
//
// With Strict set, scripted content is checked against the request schema
// the same way real providers check model output.
type MockProvider struct {
	Strict bool

	mu       sync.Mutex
	shared   []MockResponse
	bySchema map[string][]MockResponse
	Calls    []Request
}

// NewMockProvider returns a MockProvider whose shared queue holds responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{shared: responses, bySchema: map[string][]MockResponse{}}
}

func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	resp, ok := m.next(req)
	if !ok {
		return nil, &ErrProviderUnavailable{Err: fmt.Errorf("mock: no reply scripted for %q", schemaName(req.Schema))}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	content := resp.Content
	if m.Strict {
		var err error
		if content, err = structuredContent(req.Schema, content); err != nil {
			return nil, err
		}
	}

	return &Response{
		Content:    content,
		Usage:      resp.Usage,
		Model:      "mock",
		StopReason: "end",
	}, nil
}

func (m *MockProvider) next(req Request) (MockResponse, bool) {
	name := schemaName(req.Schema)
	if q := m.bySchema[name]; len(q) > 0 {
		m.bySchema[name] = q[1:]
		return q[0], true
	}
	if len(m.shared) == 0 {
		return MockResponse{}, false
	}
	resp := m.shared[0]
	m.shared = m.shared[1:]
	return resp, true
}

func (m *MockProvider) ModelID() string {
	return "mock"
}

// AddResponse appends to the shared queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shared = append(m.shared, resp)
}

// Script queues replies for requests using the named schema.
func (m *MockProvider) Script(schema string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bySchema == nil {
		m.bySchema = map[string][]MockResponse{}
	}
	m.bySchema[schema] = append(m.bySchema[schema], responses...)
}

// CallCount returns how many requests reached the mock.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsFor returns the recorded requests that used the named schema.
func (m *MockProvider) CallsFor(schema string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, c := range m.Calls {
		if schemaName(c.Schema) == schema {
			out = append(out, c)
		}
	}
	return out
}

func schemaName(s *Schema) string {
	if s == nil {
		return ""
	}
	return s.Name
}
