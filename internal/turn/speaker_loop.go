package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"orchestra/internal/llmclient"
	"orchestra/internal/logging"
	"orchestra/internal/permission"
	"orchestra/internal/types"
	"orchestra/internal/window"
)

// maxConcurrentToolCalls bounds how many of one assistant message's
// tool invocations run at once.
const maxConcurrentToolCalls = 4

// runSpeaker drives one participant's full SPEAKER_LOOP iteration: stream
// a model call, execute any requested tools via the Tool Loop, re-prompt
// with results, and repeat until the model
// stops requesting tools or the iteration limit is hit. It returns the
// (possibly grown) history and whether the speaker completed normally
// (false on an unrecoverable transport/evaluation error) — later
// speakers see this speaker's contribution simply by reading the grown
// history during their own context assembly, with no separate channel
// needed.
func (ex *Executor) runSpeaker(
	ctx context.Context,
	turnID string,
	session *types.Session,
	p types.Participant,
	allParticipants []types.Participant,
	history []types.Message,
	toolDefs []types.ToolDefinition,
	levelByTool map[string]types.PermissionLevel,
	ch chan<- types.Event,
) ([]types.Message, bool) {
	ch <- types.Event{Type: types.EventResponseStart, ParticipantID: p.ID, TurnID: turnID}

	systemPrompt := ex.cfg.SystemPrompt(p, allParticipants)
	iteration := 0

	descByTool := make(map[string]string, len(toolDefs))
	for _, td := range toolDefs {
		descByTool[td.Name] = td.Description
	}

	for {
		iteration++
		if iteration > ex.cfg.MaxToolIterations {
			logging.Turn("session %s: participant %s hit the tool iteration limit (%d)", session.ID, p.ID, ex.cfg.MaxToolIterations)
			ch <- errorEvent(turnID, p.ID, types.ErrTurnLimit, fmt.Sprintf("tool iteration limit (%d) reached", ex.cfg.MaxToolIterations), true)
			return history, false
		}

		summary, err := ex.store.LatestSummary(ctx, session.ID)
		if err != nil {
			ch <- errorEvent(turnID, p.ID, types.ErrFatal, fmt.Sprintf("loading summary: %v", err), true)
			return history, false
		}

		win := window.Assemble(window.Input{
			Participant:  p,
			SystemPrompt: systemPrompt,
			Summary:      summary,
			History:      history,
			Budget:       p.MaxTokens,
		})

		resp, err := ex.streamOne(ctx, turnID, p, win.Messages, toolDefs, ch)
		if err != nil {
			kind := llmclient.ClassifyError(err)
			if kind == types.ErrAuthentication {
				ex.disableParticipant(p.ID)
			}
			ch <- errorEvent(turnID, p.ID, kind, err.Error(), kind != types.ErrAuthentication)
			return history, false
		}

		assistantMsg := types.Message{
			ID:              types.NewMessageID(),
			SessionID:       session.ID,
			Role:            types.RoleAssistant,
			AuthorModelID:   p.ID,
			Content:         resp.Text,
			ToolInvocations: resp.ToolInvocations,
			Usage:           resp.Usage,
			CreatedAt:       time.Now(),
		}
		if err := ex.store.AppendMessage(ctx, session.ID, assistantMsg); err != nil {
			ch <- errorEvent(turnID, p.ID, types.ErrFatal, fmt.Sprintf("persisting response: %v", err), true)
			return history, false
		}
		history = append(history, assistantMsg)

		if resp.StopReason != types.StopToolUse || len(resp.ToolInvocations) == 0 {
			ch <- types.Event{Type: types.EventResponseComplete, ParticipantID: p.ID, Response: resp, TurnID: turnID}
			return history, true
		}

		toolMsg := ex.runToolLoop(ctx, turnID, session.ID, p, resp.ToolInvocations, levelByTool, descByTool, ch)
		history = append(history, toolMsg)
		if err := ex.store.AppendMessage(ctx, session.ID, toolMsg); err != nil {
			ch <- errorEvent(turnID, p.ID, types.ErrFatal, fmt.Sprintf("persisting tool results: %v", err), true)
			return history, false
		}
		// Loop back for a fresh model call with the tool results in context.
	}
}

// streamOne makes one streamed model call, forwarding RESPONSE_CHUNK and
// TOOL_CALL events as they arrive, and returns the fully assembled
// ModelResponse.
func (ex *Executor) streamOne(ctx context.Context, turnID string, p types.Participant, messages []types.Message, toolDefs []types.ToolDefinition, ch chan<- types.Event) (*types.ModelResponse, error) {
	req := types.GenerateRequest{Messages: messages, Tools: toolDefs, MaxTokens: p.MaxTokens}
	chunks, err := p.Client.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	var final *types.ModelResponse
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			ch <- types.Event{Type: types.EventResponseChunk, ParticipantID: p.ID, Text: chunk.Text, TurnID: turnID}
		}
		if chunk.ToolInvocation != nil {
			inv := *chunk.ToolInvocation
			ch <- types.Event{Type: types.EventToolCall, ParticipantID: p.ID, Invocation: &inv, TurnID: turnID}
		}
		if chunk.Done {
			final = chunk.Response
		}
	}
	if final == nil {
		final = &types.ModelResponse{Text: text.String(), StopReason: types.StopEndTurn}
	}
	return final, nil
}

// runToolLoop executes every invocation in one assistant message's
// per-iteration protocol and returns the resulting tool role message.
func (ex *Executor) runToolLoop(
	ctx context.Context,
	turnID, sessionID string,
	p types.Participant,
	invocations []types.ToolInvocation,
	levelByTool map[string]types.PermissionLevel,
	descByTool map[string]string,
	ch chan<- types.Event,
) types.Message {
	results := make([]types.ToolResult, len(invocations))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentToolCalls)

	for i, inv := range invocations {
		i, inv := i, inv
		eg.Go(func() error {
			results[i] = ex.runOneTool(egCtx, turnID, sessionID, p, inv, levelByTool, descByTool, ch)
			return nil
		})
	}
	_ = eg.Wait()

	return types.Message{
		ID:            types.NewMessageID(),
		SessionID:     sessionID,
		Role:          types.RoleTool,
		AuthorModelID: p.ID,
		ToolResults:   results,
		CreatedAt:     time.Now(),
	}
}

// runOneTool resolves permission for and executes a single invocation,
// emitting its TOOL_EXECUTING/TOOL_RESULT events. It is the unit of
// work the bounded worker pool in runToolLoop fans out.
func (ex *Executor) runOneTool(
	ctx context.Context,
	turnID, sessionID string,
	p types.Participant,
	inv types.ToolInvocation,
	levelByTool map[string]types.PermissionLevel,
	descByTool map[string]string,
	ch chan<- types.Event,
) types.ToolResult {
	level, known := levelByTool[inv.Name]
	if !known {
		result := types.ToolResult{InvocationID: inv.ID, Content: "unknown_tool", IsError: true}
		ch <- types.Event{Type: types.EventToolResult, ParticipantID: p.ID, Result: &result, TurnID: turnID}
		return result
	}

	decision := ex.permissions.Check(p.ID, inv.Name, level)
	if decision == types.PermissionAsk {
		decision = ex.resolvePermission(ctx, turnID, sessionID, p, inv, level, descByTool[inv.Name], ch)
	}

	if decision != types.PermissionApprove {
		result := types.ToolResult{InvocationID: inv.ID, Content: "permission denied", IsError: true}
		ch <- types.Event{Type: types.EventToolResult, ParticipantID: p.ID, Result: &result, TurnID: turnID}
		return result
	}

	ch <- types.Event{Type: types.EventToolExecuting, ParticipantID: p.ID, InvocationID: inv.ID, TurnID: turnID}
	result, _ := ex.toolExec.Execute(ctx, inv.Name, inv.Arguments, ex.cfg.ToolDeadline)
	if result == nil {
		result = &types.ToolResult{Content: "tool executor returned no result", IsError: true}
	}
	result.InvocationID = inv.ID
	ch <- types.Event{Type: types.EventToolResult, ParticipantID: p.ID, Result: result, TurnID: turnID}
	return *result
}

// resolvePermission emits a TOOL_PERMISSION_REQUEST and blocks on the
// UI collaborator's reply, or on ctx cancellation. An approved
// CAUTIOUS/DANGEROUS decision that the UI
// asked to remember is recorded with the Permission Manager so later
// checks in this session see a cached grant (a DANGEROUS tool's own
// Check never consults that cache, so the record is harmless there).
func (ex *Executor) resolvePermission(ctx context.Context, turnID, sessionID string, p types.Participant, inv types.ToolInvocation, level types.PermissionLevel, toolDescription string, ch chan<- types.Event) types.PermissionDecision {
	reply := make(chan types.PermissionReply, 1)
	invCopy := inv
	req := permission.Request{
		ParticipantID:   p.ID,
		ToolName:        inv.Name,
		Arguments:       inv.Arguments,
		PermissionLevel: level,
		Description:     toolDescription,
		Timestamp:       time.Now(),
	}
	ch <- types.Event{
		Type:          types.EventToolPermissionRequest,
		ParticipantID: p.ID,
		Invocation:    &invCopy,
		Level:         level,
		Reply:         reply,
		Message:       req.Format(),
		TurnID:        turnID,
	}

	select {
	case r := <-reply:
		if !r.Allow {
			return types.PermissionDeny
		}
		if r.RememberForSession {
			ex.permissions.Record(sessionID, inv.Name, types.PermissionApprove)
		}
		return types.PermissionApprove
	case <-ctx.Done():
		return types.PermissionDeny
	}
}
