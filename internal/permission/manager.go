// Package permission implements the Permission Manager collaborator:
// it decides, for each tool invocation, whether the Tool Loop may
// proceed, must ask the UI collaborator, or must refuse outright, and
// remembers CAUTIOUS-tool grants for the lifetime of one session.
package permission

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"orchestra/internal/logging"
	"orchestra/internal/types"
)

// Config configures a Manager.
type Config struct {
	// SessionID is the session this Manager's grant cache is scoped to.
	// A fresh Manager is constructed per session by cmd/orchestra and
	// handed to the Turn Executor (turn.New) rather than shared across
	// sessions.
	SessionID string

	// AutoApprove, when true, approves everything including
	// DANGEROUS and BLOCKED overrides — intended for tests and
	// scripted/batch runs, never the interactive default.
	AutoApprove bool

	// Overrides replaces a tool's declared PermissionLevel with a
	// different one, keyed by tool name.
	Overrides map[string]types.PermissionLevel

	// Blocked lists tool names that are never allowed regardless of
	// their declared level.
	Blocked []string
}

// Manager is the Permission Manager collaborator. It is safe for
// concurrent use; a single turn can run several tool invocations from
// different participants that check permission concurrently.
type Manager struct {
	sessionID   string
	autoApprove bool

	mu        sync.RWMutex
	overrides map[string]types.PermissionLevel
	blocked   map[string]bool

	grants *cache.Cache // toolName -> struct{}, scoped to this session's lifetime
}

// New creates a Manager for one session.
func New(cfg Config) *Manager {
	overrides := make(map[string]types.PermissionLevel, len(cfg.Overrides))
	for k, v := range cfg.Overrides {
		overrides[k] = v
	}
	blocked := make(map[string]bool, len(cfg.Blocked))
	for _, name := range cfg.Blocked {
		blocked[name] = true
	}
	return &Manager{
		sessionID:   cfg.SessionID,
		autoApprove: cfg.AutoApprove,
		overrides:   overrides,
		blocked:     blocked,
		grants:      cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// effectiveLevel applies a per-tool override on top of a tool's
// declared permission level.
func (m *Manager) effectiveLevel(toolName string, declared types.PermissionLevel) types.PermissionLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if lvl, ok := m.overrides[toolName]; ok {
		return lvl
	}
	return declared
}

func (m *Manager) isBlocked(toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blocked[toolName]
}

// Check implements types.PermissionManager:
//
//	SAFE:      auto-approve, no caching needed.
//	CAUTIOUS:  approved if this session already granted it; otherwise ask.
//	DANGEROUS: always ask, never cached.
//	BLOCKED:   deny without asking.
//
// participantID identifies who is requesting the tool call; it does
// not affect the grant cache, which is scoped to the whole session —
// one participant's grant covers every participant's subsequent calls
// to that tool, so a tool is asked about at most once per session.
func (m *Manager) Check(participantID, toolName string, level types.PermissionLevel) types.PermissionDecision {
	if m.isBlocked(toolName) {
		logging.Permission("tool %s blocked (requested by %s)", toolName, participantID)
		return types.PermissionDeny
	}

	effective := m.effectiveLevel(toolName, level)

	if m.autoApprove {
		logging.Permission("tool %s auto-approved (requested by %s)", toolName, participantID)
		return types.PermissionApprove
	}

	switch effective {
	case types.PermissionBlocked:
		return types.PermissionDeny
	case types.PermissionSafe:
		return types.PermissionApprove
	case types.PermissionCautious:
		if _, granted := m.grants.Get(toolName); granted {
			logging.PermissionDebug("tool %s has a session grant, skipping ask (requested by %s)", toolName, participantID)
			return types.PermissionApprove
		}
		return types.PermissionAsk
	default: // DANGEROUS and anything unrecognized ask every call
		return types.PermissionAsk
	}
}

// Record implements types.PermissionManager. It persists an Approve
// decision into the session grant cache so a subsequent Check for the
// same tool skips asking again, per the CAUTIOUS rule above. A Deny
// or Ask decision is not cached — there is nothing to remember.
//
// sessionID is expected to match the session this Manager was
// constructed for; a mismatch is logged but not treated as an error,
// since a single process may run several sessions concurrently and
// accidentally share a Manager reference.
func (m *Manager) Record(sessionID, toolName string, decision types.PermissionDecision) {
	if sessionID != "" && sessionID != m.sessionID {
		logging.Permission("permission record for session %s routed to manager owned by session %s", sessionID, m.sessionID)
	}
	if decision != types.PermissionApprove {
		return
	}
	m.grants.Set(toolName, struct{}{}, cache.NoExpiration)
	logging.PermissionDebug("recorded session grant for tool %s", toolName)
}

// RevokeGrant removes a tool's session grant, e.g. if the UI
// collaborator wants to force a re-ask.
func (m *Manager) RevokeGrant(toolName string) {
	m.grants.Delete(toolName)
}

// ClearGrants drops every session grant this Manager holds.
func (m *Manager) ClearGrants() {
	m.grants.Flush()
}

// Block adds toolName to the blocked set, overriding any declared or
// overridden permission level.
func (m *Manager) Block(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[toolName] = true
	m.grants.Delete(toolName)
}

// Unblock removes toolName from the blocked set.
func (m *Manager) Unblock(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, toolName)
}

// SetOverride replaces toolName's effective permission level.
func (m *Manager) SetOverride(toolName string, level types.PermissionLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[toolName] = level
}

// Request describes one pending ask-the-UI permission decision,
// formatted the way the Turn Executor attaches it to a
// TOOL_PERMISSION_REQUEST event.
type Request struct {
	ParticipantID   string
	ToolName        string
	Arguments       map[string]any
	PermissionLevel types.PermissionLevel
	Description     string
	Timestamp       time.Time
}

// Format renders a Request for display to the UI collaborator.
func (r Request) Format() string {
	lines := []string{
		fmt.Sprintf("Tool: %s", r.ToolName),
		fmt.Sprintf("Level: %s", r.PermissionLevel),
		fmt.Sprintf("Description: %s", r.Description),
		"Arguments:",
	}
	for k, v := range r.Arguments {
		s := fmt.Sprintf("%v", v)
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", k, s))
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
