// Package store provides session and action-record persistence plus the
// per-session mutual exclusion the dialogue pipeline relies on.
package store

import (
	"context"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
)

// Repository is the single writer for Session and ActionRecord data. The
// dialogue layer never mutates persisted state except through this API.
type Repository interface {
	// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// SaveSession creates or replaces a session record.
	SaveSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session and its action records.
	DeleteSession(ctx context.Context, sessionID string) error

	// GetAction retrieves an action record by its deterministic ID.
	// Returns (nil, nil) when absent.
	GetAction(ctx context.Context, actionID string) (*domain.ActionRecord, error)

	// PutAction inserts a new action record.
	PutAction(ctx context.Context, record *domain.ActionRecord) error

	// UpdateActionStatus applies a status transition to an existing record.
	UpdateActionStatus(ctx context.Context, actionID string, status domain.ActionStatus, reason string) error

	// CleanupExpired removes sessions whose TTL elapsed before now and
	// action records older than the retention window.
	CleanupExpired(ctx context.Context, now time.Time, actionRetention time.Duration) (sessions, actions int64, err error)

	// Ping verifies connectivity to the backing database.
	Ping(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}
