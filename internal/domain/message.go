package domain

import (
	"time"
)

// InboundMessage is one voice or text message delivered by the messaging
// channel. Turn is assigned by the channel adapter from the provider's
// per-message timestamp, which is monotonic per sender; a webhook retry
// carries the same Turn and is discarded as stale.
type InboundMessage struct {
	UserID     string
	MessageID  string
	Turn       int64
	AudioID    string
	AudioURL   string
	Text       string
	Language   string
	ReceivedAt time.Time
}

// OutboundMessage is the reply sent back through the messaging channel.
type OutboundMessage struct {
	UserID string
	Text   string
}
