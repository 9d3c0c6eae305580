package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps readers off the writers' path under webhook bursts.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		pending_intent TEXT,
		pending_confidence REAL NOT NULL DEFAULT 0,
		slots_json TEXT NOT NULL,
		turn_counter INTEGER NOT NULL DEFAULT 0,
		last_message_id TEXT,
		ambiguous_turns INTEGER NOT NULL DEFAULT 0,
		last_action_id TEXT,
		language TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS action_records (
		action_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		intent TEXT NOT NULL,
		params_json TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_action_records_session ON action_records(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, state, pending_intent, pending_confidence,
		       slots_json, turn_counter, last_message_id, ambiguous_turns,
		       last_action_id, language, created_at, updated_at, expires_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var sess domain.Session
	var state string
	var pendingIntent, lastMessageID, lastActionID, language sql.NullString
	var slotsJSON string
	var createdAt, updatedAt, expiresAt int64

	err := row.Scan(
		&sess.SessionID, &state, &pendingIntent, &sess.PendingConfidence,
		&slotsJSON, &sess.TurnCounter, &lastMessageID, &sess.AmbiguousTurns,
		&lastActionID, &language, &createdAt, &updatedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.State = domain.SessionState(state)
	sess.PendingIntent = pendingIntent.String
	sess.LastMessageID = lastMessageID.String
	sess.LastActionID = lastActionID.String
	sess.Language = language.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)

	sess.Slots = make(map[string]domain.FilledSlot)
	if slotsJSON != "" {
		if err := json.Unmarshal([]byte(slotsJSON), &sess.Slots); err != nil {
			return nil, fmt.Errorf("decode session slots: %w", err)
		}
	}

	return &sess, nil
}

// SaveSession creates or replaces a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	slotsJSON, err := json.Marshal(session.Slots)
	if err != nil {
		return fmt.Errorf("encode session slots: %w", err)
	}

	query := `
	INSERT INTO sessions (
		session_id, state, pending_intent, pending_confidence, slots_json,
		turn_counter, last_message_id, ambiguous_turns, last_action_id,
		language, created_at, updated_at, expires_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		state = excluded.state,
		pending_intent = excluded.pending_intent,
		pending_confidence = excluded.pending_confidence,
		slots_json = excluded.slots_json,
		turn_counter = excluded.turn_counter,
		last_message_id = excluded.last_message_id,
		ambiguous_turns = excluded.ambiguous_turns,
		last_action_id = excluded.last_action_id,
		language = excluded.language,
		updated_at = excluded.updated_at,
		expires_at = excluded.expires_at`

	_, err = s.db.ExecContext(ctx, query,
		session.SessionID, string(session.State), nullable(session.PendingIntent),
		session.PendingConfidence, string(slotsJSON), session.TurnCounter,
		nullable(session.LastMessageID), session.AmbiguousTurns,
		nullable(session.LastActionID), nullable(session.Language),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(), session.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its action records.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.withBusyRetry(ctx, "delete session", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM action_records WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session actions: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// GetAction retrieves an action record by ID.
func (s *SQLiteStore) GetAction(ctx context.Context, actionID string) (*domain.ActionRecord, error) {
	query := `
		SELECT action_id, session_id, intent, params_json, status, reason,
		       created_at, updated_at
		FROM action_records WHERE action_id = ?`

	row := s.db.QueryRowContext(ctx, query, actionID)

	var rec domain.ActionRecord
	var status string
	var reason sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.ActionID, &rec.SessionID, &rec.Intent, &rec.ParamsJSON,
		&status, &reason, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan action record: %w", err)
	}

	rec.Status = domain.ActionStatus(status)
	rec.Reason = reason.String
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

// PutAction inserts a new action record.
func (s *SQLiteStore) PutAction(ctx context.Context, record *domain.ActionRecord) error {
	query := `
		INSERT INTO action_records (
			action_id, session_id, intent, params_json, status, reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		record.ActionID, record.SessionID, record.Intent, record.ParamsJSON,
		string(record.Status), nullable(record.Reason),
		record.CreatedAt.Unix(), record.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert action record: %w", err)
	}
	return nil
}

// UpdateActionStatus applies a status transition to an existing record.
func (s *SQLiteStore) UpdateActionStatus(ctx context.Context, actionID string, status domain.ActionStatus, reason string) error {
	query := `UPDATE action_records SET status = ?, reason = ?, updated_at = ? WHERE action_id = ?`
	result, err := s.db.ExecContext(ctx, query,
		string(status), nullable(reason), time.Now().Unix(), actionID)
	if err != nil {
		return fmt.Errorf("update action status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("action record %s not found", actionID)
	}
	return nil
}

// CleanupExpired removes sessions whose TTL elapsed and stale action records.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, now time.Time, actionRetention time.Duration) (int64, int64, error) {
	sessRes, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, now.Unix())
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	sessions, err := sessRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}

	actRes, err := s.db.ExecContext(ctx,
		`DELETE FROM action_records WHERE updated_at < ?`, now.Add(-actionRetention).Unix())
	if err != nil {
		return sessions, 0, fmt.Errorf("cleanup stale action records: %w", err)
	}
	actions, err := actRes.RowsAffected()
	if err != nil {
		return sessions, 0, fmt.Errorf("stale action records rows affected: %w", err)
	}

	return sessions, actions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withBusyRetry retries a write a bounded number of times when SQLite
// reports a lock conflict.
func (s *SQLiteStore) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusyError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("sqlite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// isBusyError reports whether the error is a SQLite lock conflict
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
