package llmclient

import (
	"context"
	"testing"

	"orchestra/internal/types"
)

func TestMockEchoesLastUserMessage(t *testing.T) {
	m := NewMock()
	resp, err := m.Generate(context.Background(), types.GenerateRequest{
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "hello there"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("got %q", resp.Text)
	}
}

func TestMockRespondOverride(t *testing.T) {
	m := NewMock()
	m.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		return &types.ModelResponse{Text: "scripted", StopReason: types.StopEndTurn}, nil
	}
	resp, err := m.Generate(context.Background(), types.GenerateRequest{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "scripted" {
		t.Errorf("got %q", resp.Text)
	}
}

func TestMockRecordsCalls(t *testing.T) {
	m := NewMock()
	req := types.GenerateRequest{Messages: []types.Message{{Role: types.RoleUser, Content: "x"}}}
	m.Generate(context.Background(), req)
	m.Generate(context.Background(), req)
	if len(m.Calls) != 2 {
		t.Errorf("expected 2 recorded calls, got %d", len(m.Calls))
	}
}

func TestMockGenerateStreamEmitsTextThenDone(t *testing.T) {
	m := NewMock()
	m.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		return &types.ModelResponse{Text: "streamed", StopReason: types.StopEndTurn}, nil
	}
	chunks, err := m.GenerateStream(context.Background(), types.GenerateRequest{})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	var texts []string
	var done bool
	for c := range chunks {
		if c.Text != "" {
			texts = append(texts, c.Text)
		}
		if c.Done {
			done = true
		}
	}
	if !done {
		t.Error("expected a Done chunk")
	}
	if len(texts) != 1 || texts[0] != "streamed" {
		t.Errorf("got %v", texts)
	}
}

func TestMockIsAvailableDefaultsTrue(t *testing.T) {
	m := NewMock()
	if !m.IsAvailable(context.Background()) {
		t.Error("expected default availability true")
	}
}

func TestMockCountTokensNeverZeroForNonEmpty(t *testing.T) {
	m := NewMock()
	if m.CountTokens("hi") == 0 {
		t.Error("expected at least one token for non-empty text")
	}
	if m.CountTokens("") != 0 {
		t.Error("expected zero tokens for empty text")
	}
}
