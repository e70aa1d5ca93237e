package window

import (
	"context"
	"testing"
	"time"

	"orchestra/internal/types"
)

// charCounter counts one token per character, making budgets easy to
// reason about in tests.
type charCounter struct{}

func (charCounter) Generate(ctx context.Context, req types.GenerateRequest) (*types.ModelResponse, error) {
	return nil, nil
}
func (charCounter) GenerateStream(ctx context.Context, req types.GenerateRequest) (types.StreamChunks, error) {
	return nil, nil
}
func (charCounter) CountTokens(text string) int          { return len(text) }
func (charCounter) IsAvailable(ctx context.Context) bool { return true }

func participant() types.Participant {
	return types.Participant{ID: "claude", Client: charCounter{}}
}

func TestAssembleIncludesSystemPromptFirst(t *testing.T) {
	r := Assemble(Input{
		Participant:  participant(),
		SystemPrompt: "sys",
		Budget:       1000,
	})
	if len(r.Messages) == 0 || r.Messages[0].Role != types.RoleSystem || r.Messages[0].Content != "sys" {
		t.Fatalf("expected system prompt first, got %+v", r.Messages)
	}
}

func TestAssembleIncludesSummaryAfterSystem(t *testing.T) {
	r := Assemble(Input{
		Participant:  participant(),
		SystemPrompt: "sys",
		Summary:      &types.Summary{Content: "summary text"},
		Budget:       1000,
	})
	if len(r.Messages) < 2 || r.Messages[1].Content != "summary text" {
		t.Fatalf("expected summary second, got %+v", r.Messages)
	}
}

func TestAssemblePinsBeforeRecent(t *testing.T) {
	history := []types.Message{
		{ID: "m1", Content: "old unpinned", CreatedAt: t0(1)},
		{ID: "m2", Content: "pinned one", Pinned: true, CreatedAt: t0(2)},
		{ID: "m3", Content: "recent unpinned", CreatedAt: t0(3)},
	}
	r := Assemble(Input{
		Participant:  participant(),
		SystemPrompt: "",
		History:      history,
		Budget:       1000,
	})
	var ids []string
	for _, m := range r.Messages {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	// chronological order overall, pin included, nothing dropped at this budget
	want := []string{"m1", "m2", "m3"}
	if !sliceEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestAssembleOlderPinWinsOnOverflow(t *testing.T) {
	history := []types.Message{
		{ID: "p1", Content: "0123456789", Pinned: true, CreatedAt: t0(1)}, // 10 tokens
		{ID: "p2", Content: "0123456789", Pinned: true, CreatedAt: t0(2)}, // 10 tokens
	}
	r := Assemble(Input{
		Participant:  participant(),
		SystemPrompt: "", // 0 tokens
		History:      history,
		Budget:       12, // fits only one pin
	})
	var ids []string
	for _, m := range r.Messages {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	if !sliceEqual(ids, []string{"p1"}) {
		t.Errorf("expected only older pin p1 included, got %v", ids)
	}
	if len(r.Warnings) != 1 || r.Warnings[0].Kind != "budget_exceeded" {
		t.Errorf("expected a budget_exceeded warning, got %v", r.Warnings)
	}
}

func TestAssembleNeverSplitsAMessageAndStaysWithinBudget(t *testing.T) {
	history := []types.Message{
		{ID: "m1", Content: "aaaaaaaaaa", CreatedAt: t0(1)}, // 10
		{ID: "m2", Content: "bbbbbbbbbb", CreatedAt: t0(2)}, // 10
		{ID: "m3", Content: "cccccccccc", CreatedAt: t0(3)}, // 10
	}
	r := Assemble(Input{
		Participant:  participant(),
		SystemPrompt: "",
		History:      history,
		Budget:       15, // fits exactly one recent message, not two
	})
	total := 0
	for _, m := range r.Messages {
		total += len(m.Content)
	}
	if total > 15 {
		t.Fatalf("window exceeded budget: %d tokens", total)
	}
	if len(r.Messages) != 1 || r.Messages[0].ID != "m3" {
		t.Errorf("expected only most recent message m3, got %+v", r.Messages)
	}
}

func TestAssembleSupersededMessagesExcluded(t *testing.T) {
	history := []types.Message{
		{ID: "m1", Content: "old", Superseded: true, CreatedAt: t0(1)},
		{ID: "m2", Content: "new", CreatedAt: t0(2)},
	}
	r := Assemble(Input{Participant: participant(), History: history, Budget: 1000})
	for _, m := range r.Messages {
		if m.ID == "m1" {
			t.Fatalf("superseded message should be excluded")
		}
	}
}

func TestAssembleIsPure(t *testing.T) {
	history := []types.Message{{ID: "m1", Content: "hello", CreatedAt: t0(1)}}
	in := Input{Participant: participant(), SystemPrompt: "sys", History: history, Budget: 100}
	r1 := Assemble(in)
	r2 := Assemble(in)
	if len(r1.Messages) != len(r2.Messages) {
		t.Fatalf("expected identical output for identical input")
	}
	for i := range r1.Messages {
		if r1.Messages[i].Content != r2.Messages[i].Content {
			t.Fatalf("non-deterministic assembly at index %d", i)
		}
	}
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func t0(offsetSeconds int) time.Time {
	return time.Unix(int64(offsetSeconds), 0)
}
