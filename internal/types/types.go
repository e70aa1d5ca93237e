// Package types defines the shared data model for the conversation
// orchestration core: participants, messages, sessions, summaries, tool
// invocations/results, speaker decisions, and the event stream emitted by
// the Turn Executor.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Participant is a configured model acting as a group-chat member.
type Participant struct {
	ID          string
	DisplayName string
	Color       string
	Enabled     bool
	MaxTokens   int
	Client      LLMClient
}

// Usage captures token usage and a rough cost estimate for one model call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostEstimateUSD  float64
}

// ToolInvocation is a single tool call requested by a model.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult carries the outcome of executing a ToolInvocation.
type ToolResult struct {
	InvocationID string
	Content      string
	IsError      bool
	DurationMs   int64
}

// Message is an immutable, append-only record within a Session.
//
// Pinned is the only attribute that may change after creation; every other
// field is fixed at construction time.
type Message struct {
	ID              string
	SessionID       string
	Role            Role
	AuthorModelID   string // set for assistant/tool messages
	Content         string
	ToolInvocations []ToolInvocation
	ToolResults     []ToolResult
	Usage           Usage
	Pinned          bool
	CreatedAt       time.Time
	// Superseded marks a message as covered by an active summary; it
	// remains in storage but is excluded from context assembly unless
	// pinned. The Turn Executor recomputes this from the active summary's
	// range each time it loads history rather than persisting it as its
	// own column.
	Superseded bool
}

// NewMessageID generates a fresh message id.
func NewMessageID() string { return "msg_" + uuid.NewString() }

// Session is a logical conversation.
type Session struct {
	ID          string
	Name        string
	ProjectRoot string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    map[string]string
	Archived    bool
}

// NewSessionID generates a fresh session id.
func NewSessionID() string { return "sess_" + uuid.NewString() }

// SummaryKind distinguishes a partial compression from a full rebuild.
type SummaryKind string

const (
	SummaryIncremental SummaryKind = "incremental"
	SummaryFull        SummaryKind = "full"
)

// Summary is a derived, compressed stand-in for a contiguous message range.
type Summary struct {
	ID             string
	SessionID      string
	Kind           SummaryKind
	Content        string
	FirstMessageID string
	LastMessageID  string
	TokenCount     int
	CreatedAt      time.Time
}

// NewSummaryID generates a fresh summary id.
func NewSummaryID() string { return "sum_" + uuid.NewString() }

// SpeakerDecision is the Speaker Evaluator's verdict for one participant.
type SpeakerDecision struct {
	ParticipantID string
	ShouldSpeak   bool
	Confidence    float64
	Reason        string
	Forced        bool
	// Mentioned is true if this participant was named by an @mention in
	// the triggering user message (the Turn Manager's confidence strategy
	// sorts mentioned participants ahead of all others).
	Mentioned bool
	// Errored marks a decision produced after a transport error or
	// deadline expiry, so the UI can surface a failure distinctly from a
	// genuine choice to stay silent.
	Errored bool
}
