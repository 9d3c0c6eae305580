package domain

import (
	"time"
)

// ActionStatus is the lifecycle state of a dispatched ledger action.
type ActionStatus string

const (
	// ActionSubmitted means the record exists but the ledger outcome is unknown.
	ActionSubmitted ActionStatus = "SUBMITTED"
	// ActionConfirmed means the ledger accepted the action.
	ActionConfirmed ActionStatus = "CONFIRMED"
	// ActionFailed means the ledger rejected the action or the call failed.
	ActionFailed ActionStatus = "FAILED"
)

// ActionRecord is the immutable fact that a ledger call was dispatched.
// Only Status and Reason change after creation, driven by the ledger's
// response. Records are kept for the life of the session to answer
// duplicate-dispatch checks.
type ActionRecord struct {
	ActionID   string
	SessionID  string
	Intent     string
	ParamsJSON string
	Status     ActionStatus
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
