// Package ledger bridges completed intents to the Bafoka blockchain API,
// with idempotent dispatch protection against duplicate confirmations.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DispatchKind classifies dispatch failures.
type DispatchKind string

const (
	// DispatchRejected means the ledger refused the action (business rule,
	// e.g. insufficient balance).
	DispatchRejected DispatchKind = "REJECTED"
	// DispatchNetwork means the ledger call failed in transport.
	DispatchNetwork DispatchKind = "NETWORK"
)

// DispatchError is a failed ledger submission. It is always surfaced to the
// user and never retried automatically.
type DispatchError struct {
	Kind   DispatchKind
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %s", e.Kind, e.Reason)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// AsDispatchError unwraps err into a *DispatchError if possible.
func AsDispatchError(err error) (*DispatchError, bool) {
	var derr *DispatchError
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}

// SubmitResult is the ledger's answer to an accepted action.
type SubmitResult struct {
	Data json.RawMessage
}

// Client submits actions to the community-currency ledger. The action ID is
// passed as an idempotency key so a repeated submission has no effect beyond
// the first.
type Client interface {
	SubmitAction(ctx context.Context, endpoint, method string, params map[string]string, actionID string) (*SubmitResult, error)
}

// BafokaConfig configures the Bafoka API client.
type BafokaConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// BafokaClient is the HTTPS JSON client for the Bafoka ledger API.
type BafokaClient struct {
	cfg    BafokaConfig
	client *http.Client
	logger *slog.Logger
}

// NewBafokaClient builds the ledger client.
func NewBafokaClient(cfg BafokaConfig, logger *slog.Logger) *BafokaClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &BafokaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type rejectionBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// SubmitAction posts the action to the given Bafoka endpoint. A 2xx response
// is acceptance; a 4xx response is a business rejection with a reason;
// anything else is a transport failure.
func (c *BafokaClient) SubmitAction(ctx context.Context, endpoint, method string, params map[string]string, actionID string) (*SubmitResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, &DispatchError{Kind: DispatchNetwork, Reason: "encode request", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &DispatchError{Kind: DispatchNetwork, Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", actionID)

	c.logger.Info("submitting ledger action", "endpoint", endpoint, "action_id", actionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &DispatchError{Kind: DispatchNetwork, Reason: "ledger unreachable", Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close ledger response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DispatchError{Kind: DispatchNetwork, Reason: "read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &SubmitResult{Data: payload}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var rej rejectionBody
		reason := fmt.Sprintf("ledger rejected action (%d)", resp.StatusCode)
		if err := json.Unmarshal(payload, &rej); err == nil {
			for _, candidate := range []string{rej.Reason, rej.Message, rej.Error} {
				if candidate != "" {
					reason = candidate
					break
				}
			}
		}
		return nil, &DispatchError{Kind: DispatchRejected, Reason: reason}
	default:
		return nil, &DispatchError{Kind: DispatchNetwork,
			Reason: fmt.Sprintf("ledger returned %d", resp.StatusCode)}
	}
}
