// Package llmclient provides concrete types.LLMClient implementations:
// a deterministic Mock for tests and a Gemini-backed client for
// production use.
package llmclient

import (
	"context"
	"strings"
	"sync"

	"orchestra/internal/types"
)

// Responder produces a canned response for a given request. Tests
// supply one to script exactly what a participant "says" on each call.
type Responder func(req types.GenerateRequest) (*types.ModelResponse, error)

// Mock is a deterministic types.LLMClient for tests. By default it
// echoes the last user message's content back with no tool calls;
// set Respond to script specific behavior (e.g. a should-speak JSON
// decision, or a tool invocation).
type Mock struct {
	mu sync.Mutex

	// Respond overrides the default echo behavior when set.
	Respond Responder

	// Available controls IsAvailable's return value; defaults to true.
	Available bool

	// Calls records every request this client received, in order, for
	// assertions in tests.
	Calls []types.GenerateRequest
}

// NewMock creates a Mock client that is available and echoes by default.
func NewMock() *Mock {
	return &Mock{Available: true}
}

func (m *Mock) Generate(ctx context.Context, req types.GenerateRequest) (*types.ModelResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	respond := m.Respond
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if respond != nil {
		return respond(req)
	}
	return &types.ModelResponse{Text: lastUserContent(req.Messages), StopReason: types.StopEndTurn}, nil
}

func (m *Mock) GenerateStream(ctx context.Context, req types.GenerateRequest) (types.StreamChunks, error) {
	resp, err := m.Generate(ctx, req)
	ch := make(chan types.StreamChunk, 2)
	if err != nil {
		ch <- types.StreamChunk{Err: err, Done: true}
		close(ch)
		return ch, nil
	}
	ch <- types.StreamChunk{Text: resp.Text}
	ch <- types.StreamChunk{Done: true, Response: resp}
	close(ch)
	return ch, nil
}

// CountTokens approximates tokens as one per four characters, matching
// the rough heuristic Gemini's own docs quote for English prose. Good
// enough for deterministic tests; never used in production.
func (m *Mock) CountTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func (m *Mock) IsAvailable(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Available
}

func lastUserContent(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}
