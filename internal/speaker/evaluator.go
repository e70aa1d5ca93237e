// Package speaker implements the Speaker Evaluator: the parallel
// fan-out that decides which participants speak this turn and their
// initial priority.
package speaker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"orchestra/internal/llmclient"
	"orchestra/internal/logging"
	"orchestra/internal/mention"
	"orchestra/internal/types"

	"golang.org/x/sync/errgroup"
)

// ReasonAuthentication marks a SpeakerDecision.Reason produced when a
// participant's evaluation call failed authentication, so the Turn
// Executor can disable that participant for the rest of the process.
const ReasonAuthentication = "authentication"

// DefaultTimeout is the hard per-participant evaluation deadline.
const DefaultTimeout = 5 * time.Second

// DefaultSilenceThreshold is the confidence floor below which a
// non-forced decision is coerced to silence.
const DefaultSilenceThreshold = 0.3

// PriorResponse is an earlier speaker's contribution within this turn,
// surfaced to later evaluations so models can avoid repeating one
// another.
type PriorResponse struct {
	ParticipantID string
	Content       string
}

// Config tunes the evaluator's timing and threshold behavior.
type Config struct {
	Timeout          time.Duration
	SilenceThreshold float64
}

// DefaultConfig returns the default tuning values.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, SilenceThreshold: DefaultSilenceThreshold}
}

// Evaluator decides, for a set of enabled participants, who speaks this
// turn.
type Evaluator struct {
	cfg Config
}

// New constructs an Evaluator with the given configuration.
func New(cfg Config) *Evaluator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Evaluator{cfg: cfg}
}

// EvaluateAll runs one evaluation per enabled participant concurrently
// and returns decisions sorted by confidence descending, mentioned
// participants first. A participant whose failure (timeout, transport
// error) occurs does not cancel the others — each task's outcome is
// independent.
func (e *Evaluator) EvaluateAll(
	ctx context.Context,
	participants []types.Participant,
	history []types.Message,
	userMessage string,
	prior []PriorResponse,
	forced *mention.Forced,
) []types.SpeakerDecision {
	if forced != nil && forced.IsAll() {
		decisions := make([]types.SpeakerDecision, 0, len(participants))
		for _, p := range participants {
			if !p.Enabled {
				continue
			}
			decisions = append(decisions, types.SpeakerDecision{
				ParticipantID: p.ID,
				ShouldSpeak:   true,
				Confidence:    1.0,
				Reason:        "forced",
				Forced:        true,
				Mentioned:     true,
			})
		}
		logging.Speaker("forced ALL: %d participants speaking", len(decisions))
		return sortDecisions(decisions)
	}

	var mu sync.Mutex
	decisions := make([]types.SpeakerDecision, 0, len(participants))

	// A plain errgroup without WithContext: each goroutine always
	// returns nil so a slow or failing participant's own deadline
	// never tears down the others' in-flight calls.
	var eg errgroup.Group
	for _, p := range participants {
		if !p.Enabled {
			continue
		}
		p := p
		isForced := forced != nil && forced.Has(p.ID)
		eg.Go(func() error {
			d := e.evaluateOne(ctx, p, participants, history, userMessage, prior, isForced)
			mu.Lock()
			decisions = append(decisions, d)
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	logging.Speaker("evaluated %d participants: %d will speak", len(decisions), countSpeaking(decisions))
	return sortDecisions(decisions)
}

func countSpeaking(decisions []types.SpeakerDecision) int {
	n := 0
	for _, d := range decisions {
		if d.ShouldSpeak {
			n++
		}
	}
	return n
}

func (e *Evaluator) evaluateOne(
	ctx context.Context,
	p types.Participant,
	all []types.Participant,
	history []types.Message,
	userMessage string,
	prior []PriorResponse,
	isForced bool,
) types.SpeakerDecision {
	if isForced {
		logging.SpeakerDebug("%s forced to speak via mention", p.ID)
		return types.SpeakerDecision{
			ParticipantID: p.ID,
			ShouldSpeak:   true,
			Confidence:    1.0,
			Reason:        "mentioned",
			Forced:        true,
			Mentioned:     true,
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	prompt := shouldSpeakPrompt(p, all, history, userMessage, prior)
	req := types.GenerateRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: prompt}},
		MaxTokens:   150,
		Temperature: 0.3,
	}

	resp, err := p.Client.Generate(evalCtx, req)
	if err != nil {
		if evalCtx.Err() != nil {
			logging.Speaker("%s evaluation timed out", p.ID)
			return types.SpeakerDecision{ParticipantID: p.ID, ShouldSpeak: false, Confidence: 0.0, Reason: "timeout", Errored: true}
		}
		kind := llmclient.ClassifyError(err)
		logging.Speaker("%s evaluation error (%s): %v", p.ID, kind, err)
		reason := "error"
		if kind == types.ErrAuthentication {
			reason = ReasonAuthentication
		}
		return types.SpeakerDecision{ParticipantID: p.ID, ShouldSpeak: false, Confidence: 0.0, Reason: reason, Errored: true}
	}

	decision := parseDecision(p.ID, resp.Text)
	if decision.Confidence < e.cfg.SilenceThreshold {
		decision.ShouldSpeak = false
	}
	return decision
}

// shouldSpeakResponse is the lenient decoding target for a participant's
// "should I speak" reply.
type shouldSpeakResponse struct {
	ShouldSpeak *bool    `json:"should_speak"`
	Confidence  *float64 `json:"confidence"`
	Reason      string   `json:"reason"`
}

// parseDecision extracts a SpeakerDecision from a model's raw text
// reply, tolerating markdown fencing and extraneous prose around the
// JSON object. On unrecoverable parse failure it defaults to speaking
// with medium confidence — silence on parse failure loses information
// and is the worse failure mode.
func parseDecision(participantID, text string) types.SpeakerDecision {
	obj := extractJSONObject(text)
	if obj == "" {
		logging.Speaker("%s returned unparseable should-speak response: %.100s", participantID, text)
		return types.SpeakerDecision{ParticipantID: participantID, ShouldSpeak: true, Confidence: 0.5, Reason: "parse-fallback"}
	}

	var parsed shouldSpeakResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		logging.Speaker("%s should-speak JSON invalid: %v", participantID, err)
		return types.SpeakerDecision{ParticipantID: participantID, ShouldSpeak: true, Confidence: 0.5, Reason: "parse-fallback"}
	}

	shouldSpeak := true
	if parsed.ShouldSpeak != nil {
		shouldSpeak = *parsed.ShouldSpeak
	}
	confidence := 0.5
	if parsed.Confidence != nil {
		confidence = clamp01(*parsed.Confidence)
	}
	reason := parsed.Reason
	if reason == "" {
		reason = "no reason provided"
	}

	return types.SpeakerDecision{
		ParticipantID: participantID,
		ShouldSpeak:   shouldSpeak,
		Confidence:    confidence,
		Reason:        reason,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractJSONObject finds the first balanced {...} substring in s,
// trying direct parse first, then a fenced code block, then a raw scan.
// It returns "" if no balanced object is found.
func extractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return s
	}

	if start := strings.Index(s, "```"); start != -1 {
		rest := s[start+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "\n")
		if end := strings.Index(rest, "```"); end != -1 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	depth := 0
	startIdx := -1
	for i, r := range s {
		switch r {
		case '{':
			if depth == 0 {
				startIdx = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && startIdx != -1 {
					return s[startIdx : i+1]
				}
			}
		}
	}
	return ""
}

func sortDecisions(decisions []types.SpeakerDecision) []types.SpeakerDecision {
	out := make([]types.SpeakerDecision, len(decisions))
	copy(out, decisions)
	// Simple insertion sort keeps this deterministic and avoids pulling
	// in sort for a handful of participants; mentioned-first, then
	// confidence descending.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func less(a, b types.SpeakerDecision) bool {
	if a.Mentioned != b.Mentioned {
		return a.Mentioned
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.ParticipantID < b.ParticipantID
}

func shouldSpeakPrompt(p types.Participant, all []types.Participant, history []types.Message, userMessage string, prior []PriorResponse) string {
	var others []string
	for _, o := range all {
		if o.ID != p.ID && o.Enabled {
			others = append(others, o.DisplayName)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s participating in a collaborative group coding chat with other AI assistants (%s).\n\n",
		p.DisplayName, strings.Join(others, ", "))
	b.WriteString("CURRENT CONVERSATION:\n")
	b.WriteString(formatHistory(history))
	b.WriteString("\n\nUSER'S LATEST MESSAGE:\n")
	b.WriteString(userMessage)

	if len(prior) > 0 {
		b.WriteString("\n\nRESPONSES FROM OTHER MODELS IN THIS TURN:\n")
		for _, r := range prior {
			fmt.Fprintf(&b, "[%s]: %s\n", r.ParticipantID, r.Content)
		}
	}

	b.WriteString(`

DECISION CRITERIA - Should you respond?
1. Do you have a genuinely different perspective or approach not yet mentioned?
2. Is there an error, security concern, or important caveat in previous responses?
3. Can you add meaningful technical value beyond what's been said?
4. Were you directly addressed or @mentioned?
5. Does the question touch on your particular strengths?

If other models have already provided excellent, complete answers and you'd just be repeating them, stay SILENT.

Respond with ONLY valid JSON (no markdown, no explanation):
{"should_speak": true, "confidence": 0.7, "reason": "brief 1-sentence explanation"}`)

	return b.String()
}

func formatHistory(history []types.Message) string {
	if len(history) == 0 {
		return "(No previous messages)"
	}
	const maxMessages = 10
	start := 0
	if len(history) > maxMessages {
		start = len(history) - maxMessages
	}

	var lines []string
	for _, m := range history[start:] {
		content := m.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		tag := ""
		if m.AuthorModelID != "" {
			tag = " [" + m.AuthorModelID + "]"
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", strings.ToUpper(string(m.Role)), tag, content))
	}
	return strings.Join(lines, "\n\n")
}
