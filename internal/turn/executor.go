// Package turn implements the Turn Executor and its Tool Loop: the
// outer state machine that, for one session, parses
// a user message, decides who speaks, drives each speaker's model calls
// and tool invocations, and emits a single totally-ordered event stream.
package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestra/internal/logging"
	"orchestra/internal/mention"
	"orchestra/internal/speaker"
	"orchestra/internal/summarizer"
	"orchestra/internal/turnmgr"
	"orchestra/internal/types"
)

// DefaultMaxToolIterations bounds the Tool Loop per speaker.
const DefaultMaxToolIterations = 10

// DefaultToolDeadline is the per-call tool execution deadline.
const DefaultToolDeadline = 30 * time.Second

// SystemPromptFunc builds the system prompt for one participant, given
// the full roster, so a participant can be told who else is present.
// Supplied by whichever collaborator owns persona/config; when
// Config.SystemPrompt is nil, New falls back to DefaultSystemPrompt
// (cmd/orchestra leaves it nil).
type SystemPromptFunc func(p types.Participant, all []types.Participant) string

// Config tunes one Executor.
type Config struct {
	MaxToolIterations int
	ToolDeadline      time.Duration
	SystemPrompt      SystemPromptFunc
}

// DefaultConfig returns the default tuning values.
func DefaultConfig() Config {
	return Config{
		MaxToolIterations: DefaultMaxToolIterations,
		ToolDeadline:      DefaultToolDeadline,
		SystemPrompt:      DefaultSystemPrompt,
	}
}

// DefaultSystemPrompt introduces a participant to the other enabled
// members of the conversation.
func DefaultSystemPrompt(p types.Participant, all []types.Participant) string {
	var others []string
	for _, o := range all {
		if o.ID != p.ID && o.Enabled {
			others = append(others, o.DisplayName)
		}
	}
	if len(others) == 0 {
		return fmt.Sprintf("You are %s, a participant in a conversation.", p.DisplayName)
	}
	return fmt.Sprintf("You are %s, a participant in a group conversation alongside %s.", p.DisplayName, strings.Join(others, ", "))
}

// Executor runs one turn at a time for one session: RunTurn and
// RetrySpeaker both refuse to start a second turn for a session that
// already has one in flight, tracked in active.
type Executor struct {
	store       types.Store
	toolExec    types.ToolExecutor
	permissions types.PermissionManager
	evaluator   *speaker.Evaluator
	turnMgr     *turnmgr.Manager
	summarizer  *summarizer.Summarizer
	cfg         Config

	mu     sync.Mutex
	active map[string]bool // sessionID -> a turn is currently running

	disabledMu sync.Mutex
	disabled   map[string]bool // participantID -> permanently disabled after an auth failure
}

// acquire claims sessionID for one turn, returning false if one is
// already in flight.
func (ex *Executor) acquire(sessionID string) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.active[sessionID] {
		return false
	}
	ex.active[sessionID] = true
	return true
}

func (ex *Executor) release(sessionID string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	delete(ex.active, sessionID)
}

// disableParticipant permanently removes a participant from
// evaluation and speaking for the remainder of the process, following
// an authentication failure. It reports whether this call is the one
// that newly disabled the participant, so the caller surfaces the
// error exactly once.
func (ex *Executor) disableParticipant(participantID string) bool {
	ex.disabledMu.Lock()
	defer ex.disabledMu.Unlock()
	if ex.disabled[participantID] {
		return false
	}
	ex.disabled[participantID] = true
	return true
}

func (ex *Executor) isDisabled(participantID string) bool {
	ex.disabledMu.Lock()
	defer ex.disabledMu.Unlock()
	return ex.disabled[participantID]
}

// liveParticipants drops participants disabled after an authentication
// failure from an otherwise-enabled roster.
func (ex *Executor) liveParticipants(participants []types.Participant) []types.Participant {
	live := make([]types.Participant, 0, len(participants))
	for _, p := range participants {
		if p.Enabled && ex.isDisabled(p.ID) {
			continue
		}
		live = append(live, p)
	}
	return live
}

// New constructs an Executor from its collaborators. permissions is
// expected to be a Manager scoped to this session's lifetime.
func New(
	store types.Store,
	toolExec types.ToolExecutor,
	permissions types.PermissionManager,
	evaluator *speaker.Evaluator,
	turnMgr *turnmgr.Manager,
	summ *summarizer.Summarizer,
	cfg Config,
) *Executor {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.ToolDeadline <= 0 {
		cfg.ToolDeadline = DefaultToolDeadline
	}
	if cfg.SystemPrompt == nil {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Executor{
		store:       store,
		toolExec:    toolExec,
		permissions: permissions,
		evaluator:   evaluator,
		turnMgr:     turnMgr,
		summarizer:  summ,
		cfg:         cfg,
		active:      make(map[string]bool),
		disabled:    make(map[string]bool),
	}
}

// RunTurn executes one full turn for session, given the currently
// enabled roster and the raw user message
// (which may carry @mentions). The returned stream is closed once
// TURN_COMPLETE, or a fatal error event, has been sent.
func (ex *Executor) RunTurn(ctx context.Context, session *types.Session, participants []types.Participant, userMessage string) types.EventStream {
	ch := make(chan types.Event, 32)
	turnID := uuid.NewString()
	if !ex.acquire(session.ID) {
		go func() {
			defer close(ch)
			ch <- errorEvent(turnID, "", types.ErrValidation, fmt.Sprintf("session %s already has a turn in flight", session.ID), true)
			ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
		}()
		return ch
	}
	go func() {
		defer ex.release(session.ID)
		ex.runTurn(ctx, session, participants, userMessage, turnID, ch)
	}()
	return ch
}

func (ex *Executor) runTurn(ctx context.Context, session *types.Session, participants []types.Participant, userMessage string, turnID string, ch chan<- types.Event) {
	defer close(ch)
	sessionID := session.ID

	history, err := ex.loadHistory(ctx, sessionID)
	if err != nil {
		ch <- errorEvent(turnID, "", types.ErrFatal, fmt.Sprintf("loading history: %v", err), false)
		return
	}

	knownIDs := make([]string, 0, len(participants))
	for _, p := range participants {
		knownIDs = append(knownIDs, p.ID)
	}
	forced, clean := mention.Parse(userMessage, knownIDs)

	userMsg := types.Message{
		ID:        types.NewMessageID(),
		SessionID: sessionID,
		Role:      types.RoleUser,
		Content:   clean,
		CreatedAt: time.Now(),
	}
	if err := ex.store.AppendMessage(ctx, sessionID, userMsg); err != nil {
		ch <- errorEvent(turnID, "", types.ErrFatal, fmt.Sprintf("persisting user message: %v", err), false)
		return
	}
	history = append(history, userMsg)

	// EVALUATING: announce the fan-out, then run it. Participants
	// disabled after an earlier authentication failure are dropped
	// from the roster entirely rather than evaluated and silenced.
	live := ex.liveParticipants(participants)
	ch <- types.Event{Type: types.EventThinking, TurnID: turnID}
	for _, p := range live {
		ch <- types.Event{Type: types.EventEvaluating, ParticipantID: p.ID, TurnID: turnID}
	}
	decisions := ex.evaluator.EvaluateAll(ctx, live, history, clean, nil, forced)
	for _, d := range decisions {
		if d.Errored && d.Reason == speaker.ReasonAuthentication && ex.disableParticipant(d.ParticipantID) {
			logging.Turn("session %s: participant %s disabled after authentication failure", sessionID, d.ParticipantID)
			ch <- errorEvent(turnID, d.ParticipantID, types.ErrAuthentication, "authentication failed; participant disabled for the rest of the process", false)
		}
	}

	// ANNOUNCING
	for _, d := range decisions {
		if d.ShouldSpeak {
			ch <- types.Event{Type: types.EventWillSpeak, ParticipantID: d.ParticipantID, Confidence: d.Confidence, Reason: d.Reason, TurnID: turnID}
		} else {
			ch <- types.Event{Type: types.EventWillStaySilent, ParticipantID: d.ParticipantID, Reason: d.Reason, TurnID: turnID}
		}
	}

	order := ex.turnMgr.Order(sessionID, decisions)
	if len(order) == 0 {
		logging.Turn("session %s: all participants stayed silent", sessionID)
		ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
		return
	}

	byID := make(map[string]types.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	toolDescriptors := ex.toolExec.List()
	toolDefs := buildToolDefinitions(toolDescriptors)
	levelByTool := permissionLevels(toolDescriptors)

	for _, d := range order {
		p, ok := byID[d.ParticipantID]
		if !ok {
			continue
		}
		history, _ = ex.runSpeaker(ctx, turnID, session, p, participants, history, toolDefs, levelByTool, ch)
	}

	ex.summarizer.MaybeSummarize(ctx, sessionID, history)

	ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
}

// RetrySpeaker re-runs a single speaker at the tail of the session,
// outside the speaker-evaluation phase, as if it had been in the prior
// turn's speaking set.
func (ex *Executor) RetrySpeaker(ctx context.Context, session *types.Session, participants []types.Participant, participantID string) types.EventStream {
	ch := make(chan types.Event, 32)
	turnID := uuid.NewString()
	if !ex.acquire(session.ID) {
		go func() {
			defer close(ch)
			ch <- errorEvent(turnID, participantID, types.ErrValidation, fmt.Sprintf("session %s already has a turn in flight", session.ID), true)
			ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
		}()
		return ch
	}
	go func() {
		defer ex.release(session.ID)
		defer close(ch)

		var target types.Participant
		found := false
		for _, p := range participants {
			if p.ID == participantID {
				target = p
				found = true
				break
			}
		}
		if !found {
			ch <- errorEvent(turnID, participantID, types.ErrValidation, fmt.Sprintf("unknown participant: %s", participantID), false)
			ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
			return
		}
		if ex.isDisabled(participantID) {
			ch <- errorEvent(turnID, participantID, types.ErrAuthentication, fmt.Sprintf("participant %s is disabled after an authentication failure", participantID), false)
			ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
			return
		}

		history, err := ex.loadHistory(ctx, session.ID)
		if err != nil {
			ch <- errorEvent(turnID, participantID, types.ErrFatal, fmt.Sprintf("loading history: %v", err), false)
			return
		}

		toolDescriptors := ex.toolExec.List()
		toolDefs := buildToolDefinitions(toolDescriptors)
		levelByTool := permissionLevels(toolDescriptors)

		history, _ = ex.runSpeaker(ctx, turnID, session, target, participants, history, toolDefs, levelByTool, ch)
		ex.summarizer.MaybeSummarize(ctx, session.ID, history)
		ch <- types.Event{Type: types.EventTurnComplete, TurnID: turnID}
	}()
	return ch
}

// loadHistory loads the full ordered session history and marks messages
// covered by the active summary as superseded (types.Message.Superseded
// is deliberately not a stored column; see types.Message's doc comment —
// it is recomputed here from the summary's persisted range each time).
func (ex *Executor) loadHistory(ctx context.Context, sessionID string) ([]types.Message, error) {
	history, err := ex.store.LoadMessages(ctx, sessionID, nil, 0)
	if err != nil {
		return nil, err
	}
	latest, err := ex.store.LatestSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return history, nil
	}
	superseded := summarizer.SupersededIDs(history, *latest)
	if len(superseded) == 0 {
		return history, nil
	}
	set := make(map[string]bool, len(superseded))
	for _, id := range superseded {
		set[id] = true
	}
	for i := range history {
		if set[history[i].ID] {
			history[i].Superseded = true
		}
	}
	return history, nil
}

func buildToolDefinitions(descriptors []types.ToolDescriptor) []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, types.ToolDefinition{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}
	return defs
}

func permissionLevels(descriptors []types.ToolDescriptor) map[string]types.PermissionLevel {
	levels := make(map[string]types.PermissionLevel, len(descriptors))
	for _, d := range descriptors {
		levels[d.Name] = d.PermissionLevel
	}
	return levels
}

func errorEvent(turnID, participantID string, kind types.ErrorKind, message string, recoverable bool) types.Event {
	return types.Event{
		Type:          types.EventError,
		ParticipantID: participantID,
		Kind:          kind,
		Message:       message,
		Recoverable:   recoverable,
		TurnID:        turnID,
	}
}
