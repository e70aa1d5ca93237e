// Package turnmgr implements the Turn Manager: given the speaking set
// decided by the Speaker Evaluator, it produces the serial speaking
// order for one turn.
package turnmgr

import (
	"sort"
	"sync"

	"orchestra/internal/logging"
	"orchestra/internal/types"
)

// Strategy names the configured ordering policy.
type Strategy string

const (
	StrategyConfidence Strategy = "confidence"
	StrategyRotate     Strategy = "rotate"
	StrategyFixed      Strategy = "fixed"
)

// Manager orders speakers for a turn according to a configured Strategy.
// Manager holds the rotation index as mutable per-session state,
// protected by the single-active-turn invariant — callers must not
// invoke Order concurrently for the same session.
type Manager struct {
	strategy   Strategy
	fixedOrder []string // used by StrategyFixed

	mu            sync.Mutex
	rotationIndex map[string]int // sessionID -> index into fixedOrder
}

// New constructs a Manager. fixedOrder is the participant order used by
// both StrategyFixed and StrategyRotate.
func New(strategy Strategy, fixedOrder []string) *Manager {
	return &Manager{
		strategy:      strategy,
		fixedOrder:    fixedOrder,
		rotationIndex: make(map[string]int),
	}
}

// Order returns decisions restricted to should-speak participants, ordered
// per the configured strategy. Forced (mentioned) speakers sort first
// under rotate and fixed; under confidence, mentioned speakers sort
// ahead of all others regardless of confidence.
func (m *Manager) Order(sessionID string, decisions []types.SpeakerDecision) []types.SpeakerDecision {
	speaking := make([]types.SpeakerDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.ShouldSpeak {
			speaking = append(speaking, d)
		}
	}

	var ordered []types.SpeakerDecision
	switch m.strategy {
	case StrategyFixed:
		ordered = m.orderFixed(speaking)
	case StrategyRotate:
		ordered = m.orderRotate(sessionID, speaking)
	default:
		ordered = m.orderConfidence(speaking)
	}

	logging.TurnMgr("ordered %d speakers via %s strategy for session %s", len(ordered), m.strategy, sessionID)
	return ordered
}

// orderConfidence sorts by confidence descending, with mentioned speakers
// sorted above non-mentioned regardless of confidence, ties broken by a
// stable participant-id ordering.
func (m *Manager) orderConfidence(speaking []types.SpeakerDecision) []types.SpeakerDecision {
	out := make([]types.SpeakerDecision, len(speaking))
	copy(out, speaking)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Mentioned != b.Mentioned {
			return a.Mentioned
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ParticipantID < b.ParticipantID
	})
	return out
}

// orderFixed emits speakers in the configured static order, intersected
// with the actual speaking set, forced speakers first.
func (m *Manager) orderFixed(speaking []types.SpeakerDecision) []types.SpeakerDecision {
	bySpeaker := indexByParticipant(speaking)
	forced, rest := partitionForced(m.fixedOrder, bySpeaker)

	out := make([]types.SpeakerDecision, 0, len(speaking))
	for _, id := range forced {
		out = append(out, bySpeaker[id])
	}
	for _, id := range rest {
		out = append(out, bySpeaker[id])
	}
	return out
}

// orderRotate maintains a rotating "first responder" index per session. On
// each call it starts the fixed order at that index, places remaining
// speakers after it in fixed order, and advances the index by one (modulo
// participant count) for next time. If the index lands on a currently
// silent participant, the next participant in fixed order is promoted.
func (m *Manager) orderRotate(sessionID string, speaking []types.SpeakerDecision) []types.SpeakerDecision {
	bySpeaker := indexByParticipant(speaking)
	forced, _ := partitionForced(m.fixedOrder, bySpeaker)

	m.mu.Lock()
	idx := m.rotationIndex[sessionID]
	m.mu.Unlock()

	n := len(m.fixedOrder)
	rotated := make([]string, 0, n)
	if n > 0 {
		for i := 0; i < n; i++ {
			rotated = append(rotated, m.fixedOrder[(idx+i)%n])
		}
	}

	// Remove forced ids from the rotation order — they've already been
	// placed first.
	forcedSet := make(map[string]bool, len(forced))
	for _, id := range forced {
		forcedSet[id] = true
	}

	out := make([]types.SpeakerDecision, 0, len(speaking))
	for _, id := range forced {
		out = append(out, bySpeaker[id])
	}
	for _, id := range rotated {
		if forcedSet[id] {
			continue
		}
		if d, ok := bySpeaker[id]; ok {
			out = append(out, d)
		}
		// Participants not in bySpeaker chose silence; skip them and
		// move on to the next in fixed order (the promotion behavior).
	}

	m.mu.Lock()
	if n > 0 {
		m.rotationIndex[sessionID] = (idx + 1) % n
	}
	m.mu.Unlock()

	return out
}

func indexByParticipant(decisions []types.SpeakerDecision) map[string]types.SpeakerDecision {
	m := make(map[string]types.SpeakerDecision, len(decisions))
	for _, d := range decisions {
		m[d.ParticipantID] = d
	}
	return m
}

// partitionForced splits fixedOrder (intersected with the speaking set)
// into forced-first and the remainder, preserving fixedOrder's relative
// order within each partition.
func partitionForced(fixedOrder []string, bySpeaker map[string]types.SpeakerDecision) (forced, rest []string) {
	for _, id := range fixedOrder {
		d, ok := bySpeaker[id]
		if !ok {
			continue
		}
		if d.Forced {
			forced = append(forced, id)
		} else {
			rest = append(rest, id)
		}
	}
	return forced, rest
}
