package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/schema"
)

// Meta intents produced by the model for confirmation handling. They are not
// registered in the intent schema; the dialogue machine consumes them
// directly.
const (
	IntentConfirm = "CONFIRM"
	IntentDeny    = "DENY"
	IntentCancel  = "CANCEL"
)

var metaIntents = map[string]string{
	"confirm": IntentConfirm, "yes": IntentConfirm, "oui": IntentConfirm,
	"deny": IntentDeny, "no": IntentDeny, "non": IntentDeny,
	"cancel": IntentCancel, "annuler": IntentCancel, "reset": IntentCancel,
}

// ExtractorConfig bounds the adapter's retry behavior.
type ExtractorConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	// OnRetry, when set, is invoked once per retried attempt.
	OnRetry func()
}

// Extractor turns raw model output into a validated ExtractionResult. It owns
// the bounded retry policy for transient upstream failures; callers see a
// definitive result or a definitive error, never a partial transition.
type Extractor struct {
	analyzer Analyzer
	registry *schema.Registry
	cfg      ExtractorConfig
	logger   *slog.Logger
}

// NewExtractor builds the adapter around an Analyzer and the intent registry.
func NewExtractor(analyzer Analyzer, registry *schema.Registry, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	return &Extractor{analyzer: analyzer, registry: registry, cfg: cfg, logger: logger}
}

// modelOutput is the shape the banking prompt asks the model to produce.
// Parameters may be plain scalars or {value, confidence} objects.
type modelOutput struct {
	Intent     string                     `json:"intent"`
	Confidence float64                    `json:"confidence"`
	Language   string                     `json:"language"`
	Parameters map[string]json.RawMessage `json:"parameters"`
	Response   string                     `json:"response"`
}

// Extract runs the NLU call with bounded retries and validates the output.
// UPSTREAM_TIMEOUT and UPSTREAM_ERROR are retried at most cfg.MaxRetries
// times with exponential backoff; MALFORMED_RESPONSE surfaces immediately.
func (e *Extractor) Extract(ctx context.Context, text string, contextSlots map[string]domain.FilledSlot) (*domain.ExtractionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if e.cfg.OnRetry != nil {
				e.cfg.OnRetry()
			}
			delay := e.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			e.logger.Debug("retrying NLU extraction", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &ExtractionError{Kind: UpstreamTimeout, Err: ctx.Err()}
			}
		}

		raw, err := e.analyzer.Analyze(ctx, text, contextSlots)
		if err != nil {
			xerr, ok := AsExtractionError(err)
			if !ok {
				xerr = &ExtractionError{Kind: UpstreamError, Err: err}
			}
			if !xerr.Transient() {
				return nil, xerr
			}
			lastErr = xerr
			continue
		}

		result, err := e.parse(raw)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, lastErr
}

func (e *Extractor) parse(raw json.RawMessage) (*domain.ExtractionResult, error) {
	var out modelOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ExtractionError{Kind: MalformedResponse, Err: fmt.Errorf("decode model output: %w", err)}
	}

	result := &domain.ExtractionResult{
		Slots:             make(map[string]domain.SlotValue),
		OverallConfidence: out.Confidence,
		Language:          out.Language,
		Reply:             out.Response,
	}

	var spec *schema.IntentSpec
	if canonical, ok := metaIntents[normalizeIntentKey(out.Intent)]; ok {
		result.Intent = canonical
	} else if s, ok := e.registry.Lookup(out.Intent); ok {
		spec = s
		result.Intent = s.Name
	}
	// Unresolved intents stay empty: the machine treats them as unrecognized.

	for name, rawValue := range out.Parameters {
		value, confidence := decodeParameter(rawValue, out.Confidence)
		if value == "" {
			continue
		}
		slotType := schema.TypeText
		if spec != nil {
			slotSpec, declared := spec.SlotByName(name)
			if !declared {
				// Parameters outside the intent's schema are noise.
				continue
			}
			slotType = slotSpec.Type
		}
		normalized, err := schema.ValidateSlot(slotType, value)
		if err != nil {
			// Partial extraction is expected: drop the bad value, keep the rest.
			e.logger.Warn("dropping invalid slot value",
				"slot", name, "type", string(slotType), "error", err)
			continue
		}
		result.Slots[name] = domain.SlotValue{Value: normalized, Confidence: confidence}
	}

	return result, nil
}

// decodeParameter accepts scalar values or {value, confidence} objects.
func decodeParameter(raw json.RawMessage, fallbackConfidence float64) (string, float64) {
	var obj struct {
		Value      json.RawMessage `json:"value"`
		Confidence float64         `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != nil {
		return decodeScalar(obj.Value), obj.Confidence
	}
	return decodeScalar(raw), fallbackConfidence
}

func decodeScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func normalizeIntentKey(intent string) string {
	return strings.ToLower(strings.TrimSpace(intent))
}
