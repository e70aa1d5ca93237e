package types

// EventType discriminates the Event sum type emitted by the Turn Executor.
// Every variant carries only the fields documented there.
type EventType string

const (
	EventThinking              EventType = "thinking"
	EventEvaluating            EventType = "evaluating"
	EventWillSpeak             EventType = "will_speak"
	EventWillStaySilent        EventType = "will_stay_silent"
	EventResponseStart         EventType = "response_start"
	EventResponseChunk         EventType = "response_chunk"
	EventResponseComplete      EventType = "response_complete"
	EventToolCall              EventType = "tool_call"
	EventToolExecuting         EventType = "tool_executing"
	EventToolPermissionRequest EventType = "tool_permission_request"
	EventToolResult            EventType = "tool_result"
	EventError                 EventType = "error"
	EventTurnComplete          EventType = "turn_complete"
)

// Event is a single emission on the Turn Executor's event stream. It is a
// closed discriminated union: Type selects which of the payload fields
// below are meaningful, avoiding a heterogeneous map.
type Event struct {
	Type EventType

	// Common to most participant-scoped events.
	ParticipantID string

	// EventWillSpeak / EventWillStaySilent
	Confidence float64
	Reason     string

	// EventResponseChunk
	Text string

	// EventResponseComplete
	Response *ModelResponse

	// EventToolCall / EventToolExecuting / EventToolPermissionRequest / EventToolResult
	Invocation   *ToolInvocation
	InvocationID string
	Level        PermissionLevel
	Result       *ToolResult

	// Reply is set only on EventToolPermissionRequest. The UI collaborator
	// sends exactly one PermissionReply on it; the Turn Executor blocks
	// reading it (or ctx cancellation) before proceeding.
	Reply chan PermissionReply

	// EventError. Also carries a formatted permission.Request on
	// EventToolPermissionRequest for UI display.
	Kind        ErrorKind
	Message     string
	Recoverable bool

	// TurnID scopes the event to one turn so a long-lived UI subscriber
	// spanning several turns can group events.
	TurnID string
}

// EventStream is the Turn Executor's event channel, closed by the
// producer once TURN_COMPLETE (or a fatal, non-recoverable error) has
// been sent.
type EventStream <-chan Event
