package turn

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/goleak"

	"orchestra/internal/llmclient"
	"orchestra/internal/permission"
	"orchestra/internal/speaker"
	"orchestra/internal/store"
	"orchestra/internal/summarizer"
	"orchestra/internal/tools"
	"orchestra/internal/turnmgr"
	"orchestra/internal/types"
)

// TestMain ensures RunTurn's and RetrySpeaker's producer goroutines exit
// once their event stream is fully drained in every test below.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// evalMaxTokens is the MaxTokens the Speaker Evaluator always sets on its
// own Generate calls, letting a test Mock tell an evaluation prompt apart
// from a real speaking turn (whose MaxTokens comes from the participant).
const evalMaxTokens = 150

func newHarness(t *testing.T) (*Executor, *store.SQLiteStore) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	registry := tools.NewRegistry()
	perms := permission.New(permission.Config{SessionID: "sess"})
	eval := speaker.New(speaker.DefaultConfig())
	mgr := turnmgr.New(turnmgr.StrategyConfidence, nil)
	summ := summarizer.New(summarizer.Config{Threshold: 1 << 30}, llmclient.NewMock(), s)

	ex := New(s, registry, perms, eval, mgr, summ, DefaultConfig())
	return ex, s
}

// speakScript returns a Responder that makes the evaluator say "yes" and
// echoes a fixed reply for the real speaking call.
func speakScript(reply string) llmclient.Responder {
	return func(req types.GenerateRequest) (*types.ModelResponse, error) {
		if req.MaxTokens == evalMaxTokens {
			return &types.ModelResponse{Text: `{"should_speak": true, "confidence": 0.9, "reason": "test"}`, StopReason: types.StopEndTurn}, nil
		}
		return &types.ModelResponse{Text: reply, StopReason: types.StopEndTurn}, nil
	}
}

func silentScript() llmclient.Responder {
	return func(req types.GenerateRequest) (*types.ModelResponse, error) {
		return &types.ModelResponse{Text: `{"should_speak": false, "confidence": 0.9, "reason": "nothing to add"}`, StopReason: types.StopEndTurn}, nil
	}
}

func drain(ch types.EventStream) []types.Event {
	var out []types.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestRunTurnHappyPath(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "demo", "/work")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	alice := llmclient.NewMock()
	alice.Respond = speakScript("hello from alice")
	participants := []types.Participant{
		{ID: "alice", DisplayName: "Alice", Enabled: true, MaxTokens: 2000, Client: alice},
	}

	events := drain(ex.RunTurn(ctx, sess, participants, "hi everyone"))

	var sawComplete, sawResponse bool
	for _, ev := range events {
		if ev.Type == types.EventResponseComplete && ev.ParticipantID == "alice" {
			sawResponse = true
			if ev.Response.Text != "hello from alice" {
				t.Errorf("unexpected response text: %q", ev.Response.Text)
			}
		}
		if ev.Type == types.EventTurnComplete {
			sawComplete = true
		}
	}
	if !sawResponse {
		t.Error("expected a RESPONSE_COMPLETE event for alice")
	}
	if !sawComplete {
		t.Error("expected a TURN_COMPLETE event")
	}

	loaded, err := s.LoadMessages(ctx, sess.ID, nil, 0)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected user + assistant message persisted, got %d", len(loaded))
	}
}

func TestRunTurnAllSilentShortCircuits(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	bob := llmclient.NewMock()
	bob.Respond = silentScript()
	participants := []types.Participant{
		{ID: "bob", DisplayName: "Bob", Enabled: true, MaxTokens: 2000, Client: bob},
	}

	events := drain(ex.RunTurn(ctx, sess, participants, "anyone there?"))

	for _, ev := range events {
		if ev.Type == types.EventResponseStart || ev.Type == types.EventResponseComplete {
			t.Fatalf("did not expect a speaking event, got %v", ev.Type)
		}
	}
	if got := events[len(events)-1].Type; got != types.EventTurnComplete {
		t.Fatalf("expected the last event to be TURN_COMPLETE, got %v", got)
	}
}

func TestRunTurnToolCallRoundTrip(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:            "echo",
		Description:     "echoes its input argument",
		PermissionLevel: types.PermissionSafe,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("echoed: %v", args["text"]), nil
		},
	})
	ex.toolExec = registry

	calls := 0
	alice := llmclient.NewMock()
	alice.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		if req.MaxTokens == evalMaxTokens {
			return &types.ModelResponse{Text: `{"should_speak": true, "confidence": 1.0}`, StopReason: types.StopEndTurn}, nil
		}
		calls++
		if calls == 1 {
			return &types.ModelResponse{
				ToolInvocations: []types.ToolInvocation{{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}}},
				StopReason:      types.StopToolUse,
			}, nil
		}
		return &types.ModelResponse{Text: "done", StopReason: types.StopEndTurn}, nil
	}
	participants := []types.Participant{
		{ID: "alice", DisplayName: "Alice", Enabled: true, MaxTokens: 2000, Client: alice},
	}

	events := drain(ex.RunTurn(ctx, sess, participants, "use the echo tool"))

	var sawExecuting, sawResult bool
	for _, ev := range events {
		if ev.Type == types.EventToolExecuting {
			sawExecuting = true
		}
		if ev.Type == types.EventToolResult {
			sawResult = true
			if ev.Result.Content != "echoed: hi" {
				t.Errorf("unexpected tool result: %+v", ev.Result)
			}
		}
	}
	if !sawExecuting || !sawResult {
		t.Fatalf("expected TOOL_EXECUTING and TOOL_RESULT events, got %d events", len(events))
	}
	if calls != 2 {
		t.Fatalf("expected the model to be called twice (tool request + re-prompt), got %d", calls)
	}
}

func TestRunTurnPermissionAskBlocksUntilReply(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:            "delete_file",
		Description:     "deletes a file",
		PermissionLevel: types.PermissionCautious,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "deleted", nil
		},
	})
	ex.toolExec = registry

	calls := 0
	alice := llmclient.NewMock()
	alice.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		if req.MaxTokens == evalMaxTokens {
			return &types.ModelResponse{Text: `{"should_speak": true, "confidence": 1.0}`, StopReason: types.StopEndTurn}, nil
		}
		calls++
		if calls == 1 {
			return &types.ModelResponse{
				ToolInvocations: []types.ToolInvocation{{ID: "call_1", Name: "delete_file", Arguments: map[string]any{"path": "x"}}},
				StopReason:      types.StopToolUse,
			}, nil
		}
		return &types.ModelResponse{Text: "done", StopReason: types.StopEndTurn}, nil
	}
	participants := []types.Participant{
		{ID: "alice", DisplayName: "Alice", Enabled: true, MaxTokens: 2000, Client: alice},
	}

	ch := ex.RunTurn(ctx, sess, participants, "delete the file")

	var events []types.Event
	var approved bool
	for ev := range ch {
		events = append(events, ev)
		if ev.Type == types.EventToolPermissionRequest && !approved {
			approved = true
			ev.Reply <- types.PermissionReply{Allow: true, RememberForSession: true}
		}
	}

	var sawResult bool
	for _, ev := range events {
		if ev.Type == types.EventToolResult {
			sawResult = true
			if ev.Result.IsError {
				t.Errorf("expected the approved tool call to succeed, got error result: %+v", ev.Result)
			}
		}
	}
	if !approved {
		t.Fatal("expected a TOOL_PERMISSION_REQUEST event")
	}
	if !sawResult {
		t.Fatal("expected a TOOL_RESULT event after approval")
	}
}

func TestRunTurnToolIterationLimit(t *testing.T) {
	ex, s := newHarness(t)
	ex.cfg.MaxToolIterations = 2
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	registry := tools.NewRegistry()
	registry.MustRegister(&tools.Tool{
		Name:            "loop",
		PermissionLevel: types.PermissionSafe,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "again", nil
		},
	})
	ex.toolExec = registry

	alice := llmclient.NewMock()
	alice.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		if req.MaxTokens == evalMaxTokens {
			return &types.ModelResponse{Text: `{"should_speak": true, "confidence": 1.0}`, StopReason: types.StopEndTurn}, nil
		}
		// Always asks for another tool call, never stopping on its own.
		return &types.ModelResponse{
			ToolInvocations: []types.ToolInvocation{{ID: "call_n", Name: "loop", Arguments: nil}},
			StopReason:      types.StopToolUse,
		}, nil
	}
	participants := []types.Participant{
		{ID: "alice", DisplayName: "Alice", Enabled: true, MaxTokens: 2000, Client: alice},
	}

	events := drain(ex.RunTurn(ctx, sess, participants, "keep looping"))

	var sawLimitError bool
	for _, ev := range events {
		if ev.Type == types.EventError && ev.Kind == types.ErrTurnLimit {
			sawLimitError = true
		}
	}
	if !sawLimitError {
		t.Fatal("expected an ERROR{kind=turn_limit} event once the iteration cap was hit")
	}
}

func TestRetrySpeakerRunsOutsideEvaluation(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	alice := llmclient.NewMock()
	alice.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		return &types.ModelResponse{Text: "retried answer", StopReason: types.StopEndTurn}, nil
	}
	participants := []types.Participant{
		{ID: "alice", DisplayName: "Alice", Enabled: true, MaxTokens: 2000, Client: alice},
	}

	events := drain(ex.RetrySpeaker(ctx, sess, participants, "alice"))

	var sawResponse, sawComplete bool
	for _, ev := range events {
		if ev.Type == types.EventEvaluating {
			t.Fatal("RetrySpeaker must not run the evaluation phase")
		}
		if ev.Type == types.EventResponseComplete {
			sawResponse = true
		}
		if ev.Type == types.EventTurnComplete {
			sawComplete = true
		}
	}
	if !sawResponse || !sawComplete {
		t.Fatalf("expected a response and a completion event, got %d events", len(events))
	}
}

func TestRunTurnRefusesConcurrentTurnForSameSession(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	started := make(chan struct{})
	unblock := make(chan struct{})
	alice := llmclient.NewMock()
	alice.Respond = func(req types.GenerateRequest) (*types.ModelResponse, error) {
		if req.MaxTokens == evalMaxTokens {
			close(started)
			<-unblock
			return &types.ModelResponse{Text: `{"should_speak": true, "confidence": 1.0}`, StopReason: types.StopEndTurn}, nil
		}
		return &types.ModelResponse{Text: "done", StopReason: types.StopEndTurn}, nil
	}
	participants := []types.Participant{
		{ID: "alice", DisplayName: "Alice", Enabled: true, MaxTokens: 2000, Client: alice},
	}

	first := ex.RunTurn(ctx, sess, participants, "first message")
	<-started

	second := drain(ex.RunTurn(ctx, sess, participants, "second message"))
	var sawBusyError bool
	for _, ev := range second {
		if ev.Type == types.EventError && ev.Kind == types.ErrValidation {
			sawBusyError = true
		}
	}
	if !sawBusyError {
		t.Fatal("expected the second concurrent RunTurn to be refused with a validation error")
	}

	close(unblock)
	drain(first)
}

func TestRetrySpeakerUnknownParticipant(t *testing.T) {
	ex, s := newHarness(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "demo", "/work")

	events := drain(ex.RetrySpeaker(ctx, sess, nil, "ghost"))

	var sawError bool
	for _, ev := range events {
		if ev.Type == types.EventError && ev.Kind == types.ErrValidation {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected a validation error for an unknown participant id")
	}
}
