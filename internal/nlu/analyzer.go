// Package nlu adapts the external language-model service into validated
// structured extractions. Malformed model output never propagates past this
// package.
package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/schema"
)

// Analyzer is the upstream NLU call. Implementations return the model's raw
// structured output; parsing and validation belong to the Extractor.
type Analyzer interface {
	Analyze(ctx context.Context, text string, contextSlots map[string]domain.FilledSlot) (json.RawMessage, error)
}

// GroqConfig configures the Groq chat-completions client.
type GroqConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GroqClient calls the Groq chat-completions API with a strict-JSON banking
// prompt, mirroring the upstream NLU contract.
type GroqClient struct {
	cfg          GroqConfig
	systemPrompt string
	client       *http.Client
	logger       *slog.Logger
}

// NewGroqClient builds a Groq-backed Analyzer. The system prompt's intent
// vocabulary is derived from the registry so a schema edit cannot
// desynchronize the two.
func NewGroqClient(cfg GroqConfig, registry *schema.Registry, logger *slog.Logger) *GroqClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.1-8b-instant"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &GroqClient{
		cfg:          cfg,
		systemPrompt: buildSystemPrompt(registry),
		client:       &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the utterance plus accumulated slot context to the model and
// returns the raw JSON object the model produced.
func (c *GroqClient) Analyze(ctx context.Context, text string, contextSlots map[string]domain.FilledSlot) (json.RawMessage, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: 0.1,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: buildUserPrompt(text, contextSlots)},
		},
	}
	req.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ExtractionError{Kind: UpstreamError, Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/openai/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &ExtractionError{Kind: UpstreamError, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &ExtractionError{Kind: UpstreamTimeout, Err: err}
		}
		return nil, &ExtractionError{Kind: UpstreamError, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close NLU response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ExtractionError{Kind: UpstreamError, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ExtractionError{Kind: UpstreamError,
			Err: fmt.Errorf("nlu service returned %d: %s", resp.StatusCode, truncate(payload, 200))}
	}

	var chat chatResponse
	if err := json.Unmarshal(payload, &chat); err != nil {
		return nil, &ExtractionError{Kind: MalformedResponse, Err: fmt.Errorf("decode completion: %w", err)}
	}
	if len(chat.Choices) == 0 {
		return nil, &ExtractionError{Kind: MalformedResponse, Err: fmt.Errorf("completion has no choices")}
	}
	return json.RawMessage(chat.Choices[0].Message.Content), nil
}

func buildUserPrompt(text string, contextSlots map[string]domain.FilledSlot) string {
	if len(contextSlots) == 0 {
		return "Request: " + text
	}
	collected := make(map[string]string, len(contextSlots))
	for name, slot := range contextSlots {
		collected[name] = slot.Value
	}
	ctxJSON, err := json.Marshal(collected)
	if err != nil {
		return "Request: " + text
	}
	return fmt.Sprintf("Request: %s\n\nPreviously collected parameters: %s", text, ctxJSON)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// buildSystemPrompt assembles the banking prompt around the registry's
// canonical intent names plus the meta intents the dialogue machine consumes.
func buildSystemPrompt(registry *schema.Registry) string {
	names := registry.Names()
	vocab := make([]string, 0, len(names)+4)
	for _, name := range names {
		vocab = append(vocab, strings.ToLower(name))
	}
	vocab = append(vocab, "confirm", "deny", "cancel", "unknown")
	return fmt.Sprintf(bankingPromptTemplate, strings.Join(vocab, "|"))
}

const bankingPromptTemplate = `You are a banking voice assistant for the Bafoka community currency.
Analyze the user's request and respond with ONE strict JSON object:
{
  "intent": "%s",
  "confidence": 0.0-1.0,
  "language": "fr|en",
  "parameters": {"name": "value"} or {"name": {"value": "...", "confidence": 0.0-1.0}},
  "response": "natural reply in the user's language"
}
Rules:
- NEVER invent missing parameters.
- "confirm"/"deny" are for yes/no answers to a pending confirmation.
- "cancel" is for explicit requests to abort the current operation.
- Phone numbers are Cameroonian (6XXXXXXXX).
- Respond ONLY with valid JSON.`
