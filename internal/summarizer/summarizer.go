// Package summarizer implements the Summarizer: keeping active token
// usage bounded by periodically compressing the oldest unsummarized
// messages into a stored Summary.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"orchestra/internal/logging"
	"orchestra/internal/types"
)

// DefaultThreshold is the non-summarized token count that triggers
// compression at end-of-turn.
const DefaultThreshold = 50_000

// Config tunes when and how the Summarizer compresses history.
type Config struct {
	// Threshold is the cumulative non-summarized token count that
	// triggers compression.
	Threshold int
	// SelectFraction is the fraction (0,1] of eligible messages,
	// oldest-first, selected for compression on each trigger.
	SelectFraction float64
}

// DefaultConfig returns the default tuning values (threshold 50,000, oldest 50%).
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, SelectFraction: 0.5}
}

// Summarizer compresses the oldest non-superseded, non-pinned messages
// of a session into a Summary once the active token count crosses the
// configured threshold.
type Summarizer struct {
	cfg    Config
	client types.LLMClient // the configured "summarizer" model
	store  types.Store
}

// New constructs a Summarizer. client is the Model Client used to
// produce compression text; it need not be one of the conversation
// participants.
func New(cfg Config, client types.LLMClient, store types.Store) *Summarizer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.SelectFraction <= 0 {
		cfg.SelectFraction = 0.5
	}
	return &Summarizer{cfg: cfg, client: client, store: store}
}

// ShouldTrigger reports whether the non-summarized token count of
// history exceeds the configured threshold. Already superseded messages
// still occupy storage but are excluded from this count, matching
// context-assembly's own exclusion of them; pinned messages are counted.
func (s *Summarizer) ShouldTrigger(history []types.Message) bool {
	return s.nonSummarizedTokens(history) > s.cfg.Threshold
}

func (s *Summarizer) nonSummarizedTokens(history []types.Message) int {
	total := 0
	for _, m := range history {
		if m.Superseded {
			continue
		}
		total += s.client.CountTokens(m.Content)
	}
	return total
}

// MaybeSummarize triggers compression if the threshold is exceeded,
// selecting the oldest ~SelectFraction of eligible (non-pinned,
// non-superseded) messages, asking the summarizer model to compress
// them, and persisting the result. Failure is logged as a warning and
// never propagated — the turn that triggered this continues regardless.
func (s *Summarizer) MaybeSummarize(ctx context.Context, sessionID string, history []types.Message) {
	if !s.ShouldTrigger(history) {
		return
	}

	eligible := make([]types.Message, 0, len(history))
	for _, m := range history {
		if m.Pinned || m.Superseded {
			continue
		}
		eligible = append(eligible, m)
	}
	if len(eligible) == 0 {
		return
	}

	n := int(float64(len(eligible)) * s.cfg.SelectFraction)
	if n < 1 {
		n = 1
	}
	selected := eligible[:n]

	summary, err := s.compress(ctx, sessionID, selected)
	if err != nil {
		logging.Summarizer("summarization failed for session %s (continuing without it): %v", sessionID, err)
		return
	}

	if err := s.store.AddSummary(ctx, *summary); err != nil {
		logging.Summarizer("persisting summary failed for session %s: %v", sessionID, err)
		return
	}

	logging.Summarizer("compressed %d messages into summary %s for session %s (tokens=%d)",
		len(selected), summary.ID, sessionID, summary.TokenCount)
}

func (s *Summarizer) compress(ctx context.Context, sessionID string, selected []types.Message) (*types.Summary, error) {
	prompt := compressionPrompt(selected)
	resp, err := s.client.Generate(ctx, types.GenerateRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("summarizer model call: %w", err)
	}

	return &types.Summary{
		ID:             types.NewSummaryID(),
		SessionID:      sessionID,
		Kind:           types.SummaryIncremental,
		Content:        resp.Text,
		FirstMessageID: selected[0].ID,
		LastMessageID:  selected[len(selected)-1].ID,
		TokenCount:     s.client.CountTokens(resp.Text),
	}, nil
}

func compressionPrompt(selected []types.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation messages into a concise record that preserves decisions, facts, and open threads. Be terse; drop pleasantries.\n\n")
	for _, m := range selected {
		tag := string(m.Role)
		if m.AuthorModelID != "" {
			tag = m.AuthorModelID
		}
		fmt.Fprintf(&b, "[%s]: %s\n\n", tag, m.Content)
	}
	return b.String()
}

// SupersededIDs returns the ids of messages within [first, last] of the
// given history that a summary covers, excluding any that are pinned —
// a pinned message is never superseded.
func SupersededIDs(history []types.Message, summary types.Summary) []string {
	inRange := false
	var ids []string
	for _, m := range history {
		if m.ID == summary.FirstMessageID {
			inRange = true
		}
		if inRange && !m.Pinned {
			ids = append(ids, m.ID)
		}
		if m.ID == summary.LastMessageID {
			break
		}
	}
	return ids
}
