// Package whatsapp is the channel adapter: it parses provider webhooks into
// inbound messages, resolves voice-note media, and sends replies.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/speech"
	"github.com/google/uuid"
)

// Sender delivers outbound messages to the user.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// MediaFetcher resolves and downloads a voice note by provider media ID.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) (*speech.Audio, error)
}

// Client talks to the WhatsApp Business (Graph) API.
type Client struct {
	baseURL string
	token   string
	phoneID string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig holds the provider settings for Client.
type ClientConfig struct {
	BaseURL string
	Token   string
	PhoneID string
	Timeout time.Duration
}

// NewClient creates a WhatsApp API client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		phoneID: cfg.PhoneID,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type textPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Send delivers one text reply. Each send carries a locally generated trace ID
// so provider-side delivery can be correlated with our logs.
func (c *Client) Send(ctx context.Context, msg domain.OutboundMessage) error {
	traceID := uuid.NewString()

	payload := textPayload{
		MessagingProduct: "whatsapp",
		To:               msg.UserID,
		Type:             "text",
	}
	payload.Text.Body = msg.Text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outbound request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-ID", traceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("outbound message rejected",
			"user_id", msg.UserID, "status", resp.StatusCode,
			"trace_id", traceID, "detail", string(detail))
		return fmt.Errorf("whatsapp send returned status %d", resp.StatusCode)
	}

	c.logger.Info("outbound message sent", "user_id", msg.UserID, "trace_id", traceID)
	return nil
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// FetchMedia resolves a media ID to its download URL and pulls the bytes.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) (*speech.Audio, error) {
	info, err := c.mediaInfo(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, speech.MaxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}

	return &speech.Audio{
		Data:     data,
		MimeType: info.MimeType,
		Filename: "voice-" + mediaID,
	}, nil
}

func (c *Client) mediaInfo(ctx context.Context, mediaID string) (*mediaInfo, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media lookup returned status %d", resp.StatusCode)
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media %s has no download URL", mediaID)
	}
	return &info, nil
}
