// Package testutil provides a deterministic mock model registered with
// Genkit for pipeline and handler tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModelName is the model name the mock registers under. Pass it as the
// pipeline's model name in tests.
const MockModelName = "mock/advisor"

// MockModel provides deterministic model responses for testing. It matches
// the last user message against registered substring patterns and returns
// the corresponding canned response.
//
// Thread-safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	err      error
	calls    []MockCall
}

type mockRule struct {
	pattern  string
	response string
}

// MockCall records a single call to the mock model.
type MockCall struct {
	System      string
	UserMessage string
	Response    string
}

// NewMockModel creates a mock model with the given fallback response,
// returned when no pattern matches.
func NewMockModel(fallback string) *MockModel {
	return &MockModel{fallback: fallback}
}

// AddResponse registers a pattern-response pair. Patterns are checked in
// registration order; first match wins.
func (m *MockModel) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: pattern, response: response})
}

// FailWith makes every subsequent call return err, simulating a transport
// failure. Pass nil to restore normal behavior.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of all recorded calls.
func (m *MockModel) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register registers the mock as a Genkit model under MockModelName.
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, MockModelName, &ai.ModelOptions{
		Label: "Mock Advisor Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
			Media:      true,
		},
	}, m.generate)
}

// generate is the Genkit model function.
func (m *MockModel) generate(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var system, userText string
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleSystem {
			system = msg.Text()
		}
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	responseText := m.fallback
	for _, rule := range m.rules {
		if strings.Contains(userText, rule.pattern) {
			responseText = rule.response
			break
		}
	}

	m.calls = append(m.calls, MockCall{
		System:      system,
		UserMessage: userText,
		Response:    responseText,
	})

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}

// ErrUpstream simulates a backend transport failure in tests.
var ErrUpstream = errors.New("model backend unreachable")
