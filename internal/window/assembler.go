// Package window implements the Context Assembler: building,
// for one participant about to speak, an ordered message list that fits
// within that participant's token budget.
//
// Named window rather than context to avoid colliding with the stdlib
// context package within this package's own files.
package window

import (
	"orchestra/internal/logging"
	"orchestra/internal/types"
)

// Warning is a non-fatal note about what the assembler had to drop to
// stay within budget.
type Warning struct {
	Kind   string // "budget_exceeded"
	Detail string
}

// Result is the assembled window plus any warnings raised while building
// it.
type Result struct {
	Messages []types.Message
	Warnings []Warning
}

// Input bundles everything the assembler needs for one participant.
type Input struct {
	Participant  types.Participant
	SystemPrompt string
	Summary      *types.Summary  // active summary, if any
	History      []types.Message // full ordered session history
	Budget       int             // B, the participant's max-token budget
}

// Assemble builds the ordered, budget-respecting message list for one
// participant. It is a pure function of its inputs (aside from the
// participant's own CountTokens, which may itself be stateless) — same
// inputs always yield the same output.
func Assemble(in Input) Result {
	counter := in.Participant.Client
	remaining := in.Budget

	var out []types.Message
	var warnings []Warning

	// Step 1: system prompt occupies slot 0 unconditionally.
	sysMsg := types.Message{Role: types.RoleSystem, Content: in.SystemPrompt}
	sysTokens := counter.CountTokens(in.SystemPrompt)
	out = append(out, sysMsg)
	remaining -= sysTokens

	// Step 2: active summary, if present, as a synthetic system message.
	if in.Summary != nil {
		summaryTokens := counter.CountTokens(in.Summary.Content)
		if summaryTokens <= remaining {
			out = append(out, types.Message{Role: types.RoleSystem, Content: in.Summary.Content})
			remaining -= summaryTokens
		} else {
			warnings = append(warnings, Warning{Kind: "budget_exceeded", Detail: "active summary did not fit"})
		}
	}

	// Step 3: pinned messages in chronological order. If a pin doesn't
	// fit, abort further pin inclusion but keep what's already in.
	included := make(map[int]bool) // indices into in.History
	for i, m := range in.History {
		if !m.Pinned {
			continue
		}
		tokens := counter.CountTokens(m.Content)
		if tokens > remaining {
			warnings = append(warnings, Warning{Kind: "budget_exceeded", Detail: "pinned message " + m.ID + " did not fit"})
			break
		}
		included[i] = true
		remaining -= tokens
	}

	// Step 4: backward-fill from the most recent unpinned, non-superseded
	// message until the next one would overflow. A message is included
	// atomically or not at all (step 5).
	for i := len(in.History) - 1; i >= 0; i-- {
		m := in.History[i]
		if included[i] || m.Superseded {
			continue
		}
		tokens := counter.CountTokens(m.Content)
		if tokens > remaining {
			break
		}
		included[i] = true
		remaining -= tokens
	}
	// Pins and recent messages are emitted together in history order, so
	// the window after the system/summary slots is chronological.
	for i, m := range in.History {
		if included[i] {
			out = append(out, m)
		}
	}

	logging.WindowDebug("assembled window for %s: %d messages, %d tokens remaining of %d budget, %d warnings",
		in.Participant.ID, len(out), remaining, in.Budget, len(warnings))

	return Result{Messages: out, Warnings: warnings}
}
