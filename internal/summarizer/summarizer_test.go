package summarizer

import (
	"context"
	"errors"
	"testing"

	"orchestra/internal/types"
)

type charClient struct {
	text string
	err  error
}

func (c *charClient) Generate(ctx context.Context, req types.GenerateRequest) (*types.ModelResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &types.ModelResponse{Text: c.text}, nil
}
func (c *charClient) GenerateStream(ctx context.Context, req types.GenerateRequest) (types.StreamChunks, error) {
	return nil, nil
}
func (c *charClient) CountTokens(text string) int          { return len(text) }
func (c *charClient) IsAvailable(ctx context.Context) bool { return true }

type fakeStore struct {
	types.Store
	summaries []types.Summary
	failAdd   bool
}

func (f *fakeStore) AddSummary(ctx context.Context, s types.Summary) error {
	if f.failAdd {
		return errors.New("disk full")
	}
	f.summaries = append(f.summaries, s)
	return nil
}

func msg(id, content string) types.Message {
	return types.Message{ID: id, Content: content}
}

func TestShouldTriggerRespectsThreshold(t *testing.T) {
	client := &charClient{}
	s := New(Config{Threshold: 10, SelectFraction: 0.5}, client, &fakeStore{})
	under := []types.Message{msg("m1", "short")}
	if s.ShouldTrigger(under) {
		t.Fatalf("5 chars should not trigger a 10 token threshold")
	}
	over := []types.Message{msg("m1", "this is much longer than ten characters")}
	if !s.ShouldTrigger(over) {
		t.Fatalf("expected trigger once over threshold")
	}
}

func TestShouldTriggerExcludesSuperseded(t *testing.T) {
	client := &charClient{}
	s := New(Config{Threshold: 5}, client, &fakeStore{})
	history := []types.Message{{ID: "m1", Content: "0123456789", Superseded: true}}
	if s.ShouldTrigger(history) {
		t.Fatalf("superseded messages should not count toward the trigger")
	}
}

func TestMaybeSummarizeCompressesOldestHalf(t *testing.T) {
	client := &charClient{text: "compressed summary"}
	store := &fakeStore{}
	s := New(Config{Threshold: 1, SelectFraction: 0.5}, client, store)

	history := []types.Message{
		msg("m1", "aaaaaaaaaa"),
		msg("m2", "bbbbbbbbbb"),
		msg("m3", "cccccccccc"),
		msg("m4", "dddddddddd"),
	}
	s.MaybeSummarize(context.Background(), "sess1", history)

	if len(store.summaries) != 1 {
		t.Fatalf("expected one summary persisted, got %d", len(store.summaries))
	}
	sum := store.summaries[0]
	if sum.FirstMessageID != "m1" || sum.LastMessageID != "m2" {
		t.Errorf("expected oldest half [m1,m2] summarized, got [%s,%s]", sum.FirstMessageID, sum.LastMessageID)
	}
	if sum.Kind != types.SummaryIncremental {
		t.Errorf("expected incremental kind, got %s", sum.Kind)
	}
}

func TestMaybeSummarizeSkipsPinnedMessages(t *testing.T) {
	client := &charClient{text: "x"}
	store := &fakeStore{}
	s := New(Config{Threshold: 1, SelectFraction: 1.0}, client, store)

	history := []types.Message{
		{ID: "m1", Content: "aaaaaaaaaa", Pinned: true},
		{ID: "m2", Content: "bbbbbbbbbb"},
	}
	s.MaybeSummarize(context.Background(), "sess1", history)

	if len(store.summaries) != 1 {
		t.Fatalf("expected a summary")
	}
	if store.summaries[0].FirstMessageID != "m2" {
		t.Errorf("expected pinned m1 excluded from selection, got first=%s", store.summaries[0].FirstMessageID)
	}
}

func TestMaybeSummarizeModelFailureIsNonFatal(t *testing.T) {
	client := &charClient{err: errors.New("model unavailable")}
	store := &fakeStore{}
	s := New(Config{Threshold: 1, SelectFraction: 1.0}, client, store)

	history := []types.Message{msg("m1", "aaaaaaaaaa")}
	s.MaybeSummarize(context.Background(), "sess1", history) // must not panic

	if len(store.summaries) != 0 {
		t.Errorf("expected no summary persisted on model failure")
	}
}

func TestMaybeSummarizeStoreFailureIsNonFatal(t *testing.T) {
	client := &charClient{text: "ok"}
	store := &fakeStore{failAdd: true}
	s := New(Config{Threshold: 1, SelectFraction: 1.0}, client, store)

	history := []types.Message{msg("m1", "aaaaaaaaaa")}
	s.MaybeSummarize(context.Background(), "sess1", history) // must not panic
}

func TestMaybeSummarizeNoOpBelowThreshold(t *testing.T) {
	client := &charClient{text: "x"}
	store := &fakeStore{}
	s := New(Config{Threshold: 1000}, client, store)

	history := []types.Message{msg("m1", "short")}
	s.MaybeSummarize(context.Background(), "sess1", history)

	if len(store.summaries) != 0 {
		t.Errorf("expected no-op below threshold")
	}
}

func TestSupersededIDsExcludesPinned(t *testing.T) {
	history := []types.Message{
		{ID: "m1", Content: "a"},
		{ID: "m2", Content: "b", Pinned: true},
		{ID: "m3", Content: "c"},
	}
	sum := types.Summary{FirstMessageID: "m1", LastMessageID: "m3"}
	ids := SupersededIDs(history, sum)
	want := []string{"m1", "m3"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("got %v, want %v", ids, want)
		}
	}
}
