package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionBusy means the session lock could not be acquired within the
// configured bound. The caller answers with a transient "busy" response
// instead of queueing the message behind a stuck turn.
var ErrSessionBusy = errors.New("session busy")

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// SessionLocks serializes all processing per session ID. Turns for different
// sessions run fully in parallel; two concurrent webhook deliveries for the
// same user cannot race on slots or state.
type SessionLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// NewSessionLocks creates an empty lock registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{entries: make(map[string]*lockEntry)}
}

// Acquire takes the lock for sessionID, waiting at most wait. On success the
// returned release function must be called exactly once.
func (l *SessionLocks) Acquire(ctx context.Context, sessionID string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[sessionID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		return func() {
			<-entry.sem
			l.put(sessionID, entry)
		}, nil
	case <-timer.C:
		l.put(sessionID, entry)
		return nil, ErrSessionBusy
	case <-ctx.Done():
		l.put(sessionID, entry)
		return nil, ctx.Err()
	}
}

// put drops one reference and evicts the entry once nobody holds or waits on
// it, keeping the registry bounded by the number of active conversations.
func (l *SessionLocks) put(sessionID string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, sessionID)
	}
	l.mu.Unlock()
}
