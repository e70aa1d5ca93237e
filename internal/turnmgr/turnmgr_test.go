package turnmgr

import (
	"testing"

	"orchestra/internal/types"
)

func decision(id string, conf float64, forced, mentioned bool) types.SpeakerDecision {
	return types.SpeakerDecision{
		ParticipantID: id,
		ShouldSpeak:   true,
		Confidence:    conf,
		Forced:        forced,
		Mentioned:     mentioned,
	}
}

func TestConfidenceOrdering(t *testing.T) {
	m := New(StrategyConfidence, nil)
	decisions := []types.SpeakerDecision{
		decision("a", 0.4, false, false),
		decision("b", 0.9, false, false),
		decision("c", 0.9, false, false),
		decision("d", 0.1, true, true),
	}
	out := m.Order("sess1", decisions)
	ids := idsOf(out)
	// d is mentioned so sorts first regardless of confidence; b/c tie at
	// 0.9 break by participant id; a last.
	want := []string{"d", "b", "c", "a"}
	if !equal(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestFixedOrdering(t *testing.T) {
	m := New(StrategyFixed, []string{"claude", "gpt", "gemini", "grok"})
	decisions := []types.SpeakerDecision{
		decision("grok", 0.9, false, false),
		decision("claude", 0.2, true, true),
		decision("gemini", 0.5, false, false),
	}
	out := m.Order("sess1", decisions)
	ids := idsOf(out)
	want := []string{"claude", "gemini", "grok"}
	if !equal(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestRotateAdvancesIndexAcrossTurns(t *testing.T) {
	m := New(StrategyRotate, []string{"a", "b", "c"})
	all := []types.SpeakerDecision{
		decision("a", 0.5, false, false),
		decision("b", 0.5, false, false),
		decision("c", 0.5, false, false),
	}

	first := idsOf(m.Order("sess1", all))
	if !equal(first, []string{"a", "b", "c"}) {
		t.Fatalf("first rotation = %v", first)
	}

	second := idsOf(m.Order("sess1", all))
	if !equal(second, []string{"b", "c", "a"}) {
		t.Fatalf("second rotation = %v", second)
	}
}

func TestRotateSkipsSilentParticipant(t *testing.T) {
	m := New(StrategyRotate, []string{"a", "b", "c"})
	// b is silent this turn (not in decisions).
	speaking := []types.SpeakerDecision{
		decision("a", 0.5, false, false),
		decision("c", 0.5, false, false),
	}
	out := idsOf(m.Order("sess1", speaking))
	want := []string{"a", "c"}
	if !equal(out, want) {
		t.Errorf("got %v, want %v (b silently skipped, promoting c)", out, want)
	}
}

func TestRotateIndependentPerSession(t *testing.T) {
	m := New(StrategyRotate, []string{"a", "b"})
	all := []types.SpeakerDecision{decision("a", 0.5, false, false), decision("b", 0.5, false, false)}

	m.Order("sess1", all)
	out2 := idsOf(m.Order("sess2", all))
	if !equal(out2, []string{"a", "b"}) {
		t.Errorf("sess2 rotation should start fresh, got %v", out2)
	}
}

func idsOf(decisions []types.SpeakerDecision) []string {
	out := make([]string, len(decisions))
	for i, d := range decisions {
		out[i] = d.ParticipantID
	}
	return out
}

func equal(a, b []string) bool {
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
