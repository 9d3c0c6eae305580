// Package domain contains core domain types for the voicebank service.
package domain

import (
	"time"
)

// SessionState is the dialogue state of a conversation.
type SessionState string

const (
	// StateIdle means no intent is pending; the next message may start one.
	StateIdle SessionState = "IDLE"
	// StateAwaitingSlot means an intent is pending and required slots are unfilled.
	StateAwaitingSlot SessionState = "AWAITING_SLOT"
	// StateAwaitingConfirmation means all required slots are filled and the
	// user must confirm before anything touches the ledger.
	StateAwaitingConfirmation SessionState = "AWAITING_CONFIRMATION"
	// StateExecuting means the dispatcher is being invoked for this session.
	// It is never persisted between turns; a session observed in EXECUTING on
	// load indicates a crash mid-dispatch and is reset to IDLE.
	StateExecuting SessionState = "EXECUTING"
	// StateTerminal is the momentary post-dispatch state before IDLE.
	StateTerminal SessionState = "TERMINAL"
)

// FilledSlot is one collected parameter with its provenance.
type FilledSlot struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	FilledTurn int64   `json:"filled_turn"`
}

// Session is one ongoing conversation for one user. The session ID is derived
// from the WhatsApp sender number, so there is exactly one session per user.
type Session struct {
	SessionID string
	State     SessionState
	// PendingIntent and PendingConfidence identify the single intent
	// mid-flight; the confidence feeds the new-intent takeover tie-break.
	PendingIntent     string
	PendingConfidence float64
	Slots map[string]FilledSlot
	// TurnCounter is the provider timestamp of the last consumed message.
	// Timestamps have one-second granularity, so LastMessageID disambiguates
	// a retry of the last message from a second message in the same second.
	TurnCounter    int64
	LastMessageID  string
	AmbiguousTurns int
	LastActionID   string
	Language       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExpiresAt         time.Time
}

// NewSession returns a fresh IDLE session for the given user.
func NewSession(sessionID string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		SessionID: sessionID,
		State:     StateIdle,
		Slots:     make(map[string]FilledSlot),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the session's TTL has elapsed. An expired session
// is discarded on next access, never silently reused.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Touch advances the lifecycle timestamps after a processed turn.
func (s *Session) Touch(now time.Time, ttl time.Duration) {
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// ClearPending drops the pending intent and all collected slots, returning
// the session to IDLE. Turn counter and action history survive.
func (s *Session) ClearPending() {
	s.State = StateIdle
	s.PendingIntent = ""
	s.PendingConfidence = 0
	s.Slots = make(map[string]FilledSlot)
	s.AmbiguousTurns = 0
}

// HasPending reports whether an intent is mid-flight.
func (s *Session) HasPending() bool {
	return s.PendingIntent != "" &&
		(s.State == StateAwaitingSlot || s.State == StateAwaitingConfirmation)
}

// SlotCompleteTurn returns the latest turn at which any of the named slots
// was filled. The dispatcher folds this into the action ID so that an
// unchanged slot set always yields the same ID across re-confirmations.
func (s *Session) SlotCompleteTurn(names []string) int64 {
	var max int64
	for _, name := range names {
		if slot, ok := s.Slots[name]; ok && slot.FilledTurn > max {
			max = slot.FilledTurn
		}
	}
	return max
}
