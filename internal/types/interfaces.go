package types

import (
	"context"
	"time"
)

// LLMClient is the Model Client collaborator interface. Each participant
// holds one implementation; transport, retry, and wire-format translation
// are the implementation's concern, not the core's.
type LLMClient interface {
	Generate(ctx context.Context, req GenerateRequest) (*ModelResponse, error)
	GenerateStream(ctx context.Context, req GenerateRequest) (StreamChunks, error)
	CountTokens(text string) int
	IsAvailable(ctx context.Context) bool
}

// ToolDefinition describes a tool the model may invoke, translated into
// whatever wire shape the provider expects by the LLMClient implementation.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any // JSON-Schema-shaped parameter description
}

// GenerateRequest bundles everything a Model Client needs for one call.
type GenerateRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// StopReason mirrors the provider's finish_reason in a provider-neutral form.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopError     StopReason = "error"
)

// ModelResponse is a complete, non-streamed model turn.
type ModelResponse struct {
	Text            string
	ToolInvocations []ToolInvocation
	StopReason      StopReason
	Usage           Usage
}

// StreamChunk is one increment of a streamed model turn.
type StreamChunk struct {
	// Text is non-empty incremental text, surfaced as a RESPONSE_CHUNK event.
	Text string
	// ToolInvocation is set when the provider has finished emitting one
	// complete tool call (providers stream tool-call arguments
	// incrementally; the LLMClient implementation is responsible for
	// buffering and emitting a whole ToolInvocation here).
	ToolInvocation *ToolInvocation
	// Done marks the final chunk; Response carries the fully assembled
	// result (equivalent to what Generate would have returned).
	Done     bool
	Response *ModelResponse
	Err      error
}

// StreamChunks is a channel of StreamChunk, closed by the producer once a
// Done chunk (or an error) has been sent.
type StreamChunks <-chan StreamChunk

// ErrorKind classifies a recoverable or fatal failure.
type ErrorKind string

const (
	ErrTransport      ErrorKind = "transport"
	ErrAuthentication ErrorKind = "authentication"
	ErrRateLimit      ErrorKind = "rate_limit"
	ErrValidation     ErrorKind = "validation"
	ErrPermission     ErrorKind = "permission"
	ErrParse          ErrorKind = "parse"
	ErrTurnLimit      ErrorKind = "turn_limit"
	ErrFatal          ErrorKind = "fatal"
)

// PermissionLevel governs when a tool call requires user approval.
type PermissionLevel string

const (
	PermissionSafe      PermissionLevel = "safe"
	PermissionCautious  PermissionLevel = "cautious"
	PermissionDangerous PermissionLevel = "dangerous"
	PermissionBlocked   PermissionLevel = "blocked"
)

// PermissionDecision is the Permission Manager's verdict for one request.
type PermissionDecision string

const (
	PermissionApprove PermissionDecision = "approve"
	PermissionDeny    PermissionDecision = "deny"
	PermissionAsk     PermissionDecision = "ask"
)

// PermissionManager is the Permission Manager collaborator interface.
type PermissionManager interface {
	Check(participantID, toolName string, level PermissionLevel) PermissionDecision
	Record(sessionID, toolName string, decision PermissionDecision)
}

// PermissionReply is what the UI collaborator returns for a
// TOOL_PERMISSION_REQUEST event.
type PermissionReply struct {
	Allow              bool
	RememberForSession bool
}

// ToolExecutor is the Tool Executor collaborator interface.
type ToolExecutor interface {
	List() []ToolDescriptor
	Execute(ctx context.Context, name string, args map[string]any, deadline time.Duration) (*ToolResult, error)
}

// ToolDescriptor describes one registered tool for LLM tool-calling and
// for permission-level lookup.
type ToolDescriptor struct {
	Name            string
	Description     string
	Schema          map[string]any
	PermissionLevel PermissionLevel
}

// Store is the Persistence Layer collaborator interface.
type Store interface {
	CreateSession(ctx context.Context, name, projectRoot string) (*Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	AppendMessagesBatch(ctx context.Context, sessionID string, msgs []Message) error
	SetPin(ctx context.Context, messageID string, pinned bool) error
	LoadMessages(ctx context.Context, sessionID string, since *time.Time, limit int) ([]Message, error)
	Search(ctx context.Context, sessionID, query string) ([]Message, error)
	AddSummary(ctx context.Context, summary Summary) error
	LatestSummary(ctx context.Context, sessionID string) (*Summary, error)
}
