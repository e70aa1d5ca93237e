// Package store implements the Persistence Layer collaborator: sessions,
// the append-only message log, pins, summaries, and a simple keyword
// search, backed by a single SQLite file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"orchestra/internal/logging"
	"orchestra/internal/types"
)

var _ types.Store = (*SQLiteStore)(nil)

// SQLiteStore implements types.Store on top of a single SQLite database:
// directory creation, WAL mode, busy_timeout, synchronous=NORMAL, and a
// single *sql.DB guarded by a sync.RWMutex, with a schema built for this
// domain's data model.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open creates (or reopens) a SQLiteStore at path, creating the containing
// directory and the schema if necessary.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	timer := logging.StartTimer(logging.CategoryStore, "migrate")
	defer timer.Stop()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		project_root TEXT NOT NULL,
		metadata     TEXT NOT NULL DEFAULT '{}',
		archived     INTEGER NOT NULL DEFAULT 0,
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role             TEXT NOT NULL,
		author_model_id  TEXT NOT NULL DEFAULT '',
		content          TEXT NOT NULL DEFAULT '',
		tool_invocations TEXT NOT NULL DEFAULT '[]',
		tool_results     TEXT NOT NULL DEFAULT '[]',
		prompt_tokens    INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost_estimate_usd REAL NOT NULL DEFAULT 0,
		pinned           INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_created
		ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS summaries (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		kind             TEXT NOT NULL,
		content          TEXT NOT NULL,
		first_message_id TEXT NOT NULL,
		last_message_id  TEXT NOT NULL,
		token_count      INTEGER NOT NULL DEFAULT 0,
		created_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_session_created
		ON summaries(session_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, name, projectRoot string) (*types.Session, error) {
	sess := &types.Session{
		ID:          types.NewSessionID(),
		Name:        name,
		ProjectRoot: projectRoot,
		Metadata:    map[string]string{},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	metaJSON, err := json.Marshal(sess.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, project_root, metadata, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.Name, sess.ProjectRoot, string(metaJSON), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	logging.Store("session created: id=%s name=%q", sess.ID, sess.Name)
	return sess, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg types.Message) error {
	return s.AppendMessagesBatch(ctx, sessionID, []types.Message{msg})
}

// AppendMessagesBatch inserts all msgs in a single transaction, so a
// multi-participant turn's messages land atomically even if the process
// dies partway through writing them.
func (s *SQLiteStore) AppendMessagesBatch(ctx context.Context, sessionID string, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (
			id, session_id, role, author_model_id, content,
			tool_invocations, tool_results,
			prompt_tokens, completion_tokens, cost_estimate_usd,
			pinned, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		invJSON, err := json.Marshal(m.ToolInvocations)
		if err != nil {
			return fmt.Errorf("store: marshal tool invocations: %w", err)
		}
		resJSON, err := json.Marshal(m.ToolResults)
		if err != nil {
			return fmt.Errorf("store: marshal tool results: %w", err)
		}
		if m.ID == "" {
			m.ID = types.NewMessageID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		_, err = stmt.ExecContext(ctx,
			m.ID, sessionID, string(m.Role), m.AuthorModelID, m.Content,
			string(invJSON), string(resJSON),
			m.Usage.PromptTokens, m.Usage.CompletionTokens, m.Usage.CostEstimateUSD,
			boolToInt(m.Pinned), m.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: insert message %s: %w", m.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now(), sessionID); err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	logging.StoreDebug("appended %d message(s) to session %s", len(msgs), sessionID)
	return nil
}

func (s *SQLiteStore) SetPin(ctx context.Context, messageID string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE messages SET pinned = ? WHERE id = ?`, boolToInt(pinned), messageID)
	if err != nil {
		return fmt.Errorf("store: set pin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set pin rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: message %s: %w", messageID, types.ErrMessageNotFound)
	}
	return nil
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, sessionID string, since *time.Time, limit int) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, session_id, role, author_model_id, content,
			tool_invocations, tool_results,
			prompt_tokens, completion_tokens, cost_estimate_usd,
			pinned, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if since != nil {
		query += " AND created_at > ?"
		args = append(args, *since)
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: load messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Search performs a simple case-insensitive substring match over message
// content, as no full-text index exists for this domain's data volume.
func (s *SQLiteStore) Search(ctx context.Context, sessionID, query string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, author_model_id, content,
			tool_invocations, tool_results,
			prompt_tokens, completion_tokens, cost_estimate_usd,
			pinned, created_at
		FROM messages
		WHERE session_id = ? AND content LIKE ? ESCAPE '\'
		ORDER BY created_at ASC`,
		sessionID, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) AddSummary(ctx context.Context, summary types.Summary) error {
	if summary.ID == "" {
		summary.ID = types.NewSummaryID()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, session_id, kind, content, first_message_id, last_message_id, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		summary.ID, summary.SessionID, string(summary.Kind), summary.Content,
		summary.FirstMessageID, summary.LastMessageID, summary.TokenCount, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: add summary: %w", err)
	}
	logging.Store("summary added: id=%s session=%s kind=%s", summary.ID, summary.SessionID, summary.Kind)
	return nil
}

func (s *SQLiteStore) LatestSummary(ctx context.Context, sessionID string) (*types.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, content, first_message_id, last_message_id, token_count, created_at
		FROM summaries WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)

	var sum types.Summary
	var kind string
	err := row.Scan(&sum.ID, &sum.SessionID, &kind, &sum.Content, &sum.FirstMessageID, &sum.LastMessageID, &sum.TokenCount, &sum.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest summary: %w", err)
	}
	sum.Kind = types.SummaryKind(kind)
	return &sum, nil
}

// ListSessions returns non-archived sessions, most recently updated first.
// It is not part of types.Store: only the CLI's session-management
// commands need it, so it's exposed on the concrete type instead of
// widening the collaborator interface for every caller.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, project_root, metadata, archived, created_at, updated_at
		FROM sessions WHERE archived = 0 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []types.Session
	for rows.Next() {
		var sess types.Session
		var metaJSON string
		var archived int
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.ProjectRoot, &metaJSON, &archived, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sess.Archived = archived != 0
		if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal session metadata for %s: %w", sess.ID, err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one session by id, or nil if it doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, project_root, metadata, archived, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess types.Session
	var metaJSON string
	var archived int
	err := row.Scan(&sess.ID, &sess.Name, &sess.ProjectRoot, &metaJSON, &archived, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	sess.Archived = archived != 0
	if err := json.Unmarshal([]byte(metaJSON), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("store: unmarshal session metadata for %s: %w", sess.ID, err)
	}
	return &sess, nil
}

func scanMessages(rows *sql.Rows) ([]types.Message, error) {
	var out []types.Message
	for rows.Next() {
		var m types.Message
		var role string
		var invJSON, resJSON string
		var pinned int
		err := rows.Scan(&m.ID, &m.SessionID, &role, &m.AuthorModelID, &m.Content,
			&invJSON, &resJSON,
			&m.Usage.PromptTokens, &m.Usage.CompletionTokens, &m.Usage.CostEstimateUSD,
			&pinned, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Role = types.Role(role)
		m.Pinned = pinned != 0
		if err := json.Unmarshal([]byte(invJSON), &m.ToolInvocations); err != nil {
			return nil, fmt.Errorf("store: unmarshal tool invocations for %s: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(resJSON), &m.ToolResults); err != nil {
			return nil, fmt.Errorf("store: unmarshal tool results for %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
