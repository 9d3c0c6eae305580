package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
)

// webhookPayload mirrors the subset of the Graph webhook envelope we consume.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"audio"`
	Voice *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"voice"`
}

// ParseWebhook extracts inbound messages from a webhook body. Messages of
// types we do not handle (reactions, statuses, stickers) are skipped. The
// provider's per-message unix timestamp becomes the turn number: it is
// monotonic per sender and identical across provider retries, which makes
// retries naturally idempotent.
func ParseWebhook(body []byte) ([]domain.InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var msgs []domain.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				inbound, ok := toInbound(m)
				if !ok {
					continue
				}
				msgs = append(msgs, inbound)
			}
		}
	}
	return msgs, nil
}

func toInbound(m webhookMessage) (domain.InboundMessage, bool) {
	turn, err := strconv.ParseInt(m.Timestamp, 10, 64)
	if err != nil || m.From == "" {
		return domain.InboundMessage{}, false
	}

	inbound := domain.InboundMessage{
		UserID:     m.From,
		MessageID:  m.ID,
		Turn:       turn,
		ReceivedAt: time.Unix(turn, 0),
	}

	switch m.Type {
	case "text":
		if m.Text == nil {
			return domain.InboundMessage{}, false
		}
		inbound.Text = m.Text.Body
	case "audio":
		if m.Audio == nil {
			return domain.InboundMessage{}, false
		}
		inbound.AudioID = m.Audio.ID
	case "voice":
		if m.Voice == nil {
			return domain.InboundMessage{}, false
		}
		inbound.AudioID = m.Voice.ID
	default:
		return domain.InboundMessage{}, false
	}
	return inbound, true
}
