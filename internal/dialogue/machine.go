// Package dialogue implements the conversation state machine and the
// per-turn orchestration around it.
package dialogue

import (
	"log/slog"

	"github.com/bafoka-labs/voicebank/internal/decision"
	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/nlu"
	"github.com/bafoka-labs/voicebank/internal/schema"
)

// MachineConfig holds the dialogue tuning parameters. All values are
// deployment-configurable; the defaults reflect current business tolerances.
type MachineConfig struct {
	// IntentThreshold is the minimum overall confidence to start an intent.
	IntentThreshold float64
	// TakeoverMargin is how far a new intent's confidence must exceed the
	// pending one before the pending intent is abandoned.
	TakeoverMargin float64
	// MaxAmbiguousTurns bounds confirmation re-prompts before giving up.
	MaxAmbiguousTurns int
}

// DefaultMachineConfig returns the default dialogue tuning.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		IntentThreshold:   0.6,
		TakeoverMargin:    0.2,
		MaxAmbiguousTurns: 2,
	}
}

// Machine is the dialogue state machine: a total transition function from
// (session state, extraction) to the next system action. It mutates only the
// in-memory session handed to it; persistence and every side effect belong
// to the caller, which holds the session lock.
type Machine struct {
	registry *schema.Registry
	cfg      MachineConfig
	logger   *slog.Logger
}

// NewMachine builds a dialogue machine over the intent registry.
func NewMachine(registry *schema.Registry, cfg MachineConfig, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IntentThreshold <= 0 {
		cfg.IntentThreshold = 0.6
	}
	if cfg.MaxAmbiguousTurns <= 0 {
		cfg.MaxAmbiguousTurns = 2
	}
	return &Machine{registry: registry, cfg: cfg, logger: logger}
}

// Advance applies one extraction to the session and decides the next system
// action. The utterance is the normalized transcript, used only for the
// confirmation keyword fallback.
func (m *Machine) Advance(s *domain.Session, x *domain.ExtractionResult, utterance string) decision.Decision {
	if x.Language != "" {
		s.Language = x.Language
	}

	// An explicit cancel resets the conversation from any state.
	if x.Intent == nlu.IntentCancel {
		if s.HasPending() {
			m.logger.Info("pending intent cancelled by user",
				"session_id", s.SessionID, "intent", s.PendingIntent, "turn", s.TurnCounter)
		}
		s.ClearPending()
		return decision.Decision{Kind: decision.Cancelled}
	}

	switch s.State {
	case domain.StateAwaitingSlot:
		return m.advanceAwaitingSlot(s, x)
	case domain.StateAwaitingConfirmation:
		return m.advanceAwaitingConfirmation(s, x, utterance)
	default:
		// IDLE, and any residue of TERMINAL/EXECUTING left by a crash.
		s.State = domain.StateIdle
		return m.advanceIdle(s, x)
	}
}

func (m *Machine) advanceIdle(s *domain.Session, x *domain.ExtractionResult) decision.Decision {
	spec, ok := m.registry.Lookup(x.Intent)
	if !ok || x.OverallConfidence < m.cfg.IntentThreshold {
		return decision.Decision{Kind: decision.Clarify, Reply: x.Reply}
	}
	return m.start(s, spec, x)
}

func (m *Machine) advanceAwaitingSlot(s *domain.Session, x *domain.ExtractionResult) decision.Decision {
	if dec, taken := m.takeover(s, x); taken {
		return dec
	}

	spec, ok := m.registry.Lookup(s.PendingIntent)
	if !ok {
		// The schema no longer declares the pending intent; recover cleanly.
		m.logger.Warn("pending intent missing from schema, resetting",
			"session_id", s.SessionID, "intent", s.PendingIntent)
		s.ClearPending()
		return decision.Decision{Kind: decision.Clarify}
	}

	m.merge(s, spec, x)

	if spec.Complete(s.Slots) {
		s.State = domain.StateAwaitingConfirmation
		s.AmbiguousTurns = 0
		return decision.Decision{Kind: decision.Confirm, Intent: spec}
	}
	return decision.Decision{Kind: decision.AskSlot, Intent: spec, Slot: spec.FirstMissing(s.Slots)}
}

func (m *Machine) advanceAwaitingConfirmation(s *domain.Session, x *domain.ExtractionResult, utterance string) decision.Decision {
	spec, ok := m.registry.Lookup(s.PendingIntent)
	if !ok {
		m.logger.Warn("pending intent missing from schema, resetting",
			"session_id", s.SessionID, "intent", s.PendingIntent)
		s.ClearPending()
		return decision.Decision{Kind: decision.Clarify}
	}

	switch classifyConfirmation(x, utterance) {
	case confirmYes:
		s.State = domain.StateExecuting
		return decision.Decision{Kind: decision.Execute, Intent: spec}

	case confirmNo:
		s.ClearPending()
		return decision.Decision{Kind: decision.Denied}

	default:
		// A corrected slot value takes precedence over ambiguity: re-confirm
		// with the updated values.
		if m.merge(s, spec, x) {
			s.AmbiguousTurns = 0
			return decision.Decision{Kind: decision.Confirm, Intent: spec}
		}
		if dec, taken := m.takeover(s, x); taken {
			return dec
		}

		s.AmbiguousTurns++
		if s.AmbiguousTurns >= m.cfg.MaxAmbiguousTurns {
			m.logger.Info("confirmation abandoned after ambiguous answers",
				"session_id", s.SessionID, "intent", s.PendingIntent, "turns", s.AmbiguousTurns)
			s.ClearPending()
			return decision.Decision{Kind: decision.GiveUp}
		}
		return decision.Decision{Kind: decision.Confirm, Intent: spec, Reprompt: true}
	}
}

// start begins a new intent from a clean pending state.
func (m *Machine) start(s *domain.Session, spec *schema.IntentSpec, x *domain.ExtractionResult) decision.Decision {
	s.PendingIntent = spec.Name
	s.PendingConfidence = x.OverallConfidence
	s.AmbiguousTurns = 0
	s.Slots = make(map[string]domain.FilledSlot)
	m.merge(s, spec, x)

	if spec.Complete(s.Slots) {
		s.State = domain.StateAwaitingConfirmation
		return decision.Decision{Kind: decision.Confirm, Intent: spec}
	}
	s.State = domain.StateAwaitingSlot
	return decision.Decision{Kind: decision.AskSlot, Intent: spec, Slot: spec.FirstMissing(s.Slots)}
}

// takeover decides whether an extraction that looks like a brand-new intent
// should displace the pending one. Slot-fill interpretation wins unless the
// new intent clears both the start threshold and the pending confidence plus
// the configured margin. Abandonment is logged and surfaced to the user.
func (m *Machine) takeover(s *domain.Session, x *domain.ExtractionResult) (decision.Decision, bool) {
	spec, ok := m.registry.Lookup(x.Intent)
	if !ok || spec.Name == s.PendingIntent {
		return decision.Decision{}, false
	}
	if x.OverallConfidence < m.cfg.IntentThreshold ||
		x.OverallConfidence <= s.PendingConfidence+m.cfg.TakeoverMargin {
		return decision.Decision{}, false
	}

	abandoned := s.PendingIntent
	m.logger.Info("pending intent abandoned for new intent",
		"session_id", s.SessionID, "abandoned", abandoned, "new", spec.Name,
		"pending_confidence", s.PendingConfidence, "new_confidence", x.OverallConfidence)

	s.ClearPending()
	dec := m.start(s, spec, x)
	dec.AbandonedIntent = abandoned
	return dec, true
}

// merge folds extracted slots into the session. Every value is re-validated
// against the pending intent's slot type here: the extractor can only apply
// the type rule when the model names the intent, and slot-fill turns are
// usually labelled unknown. A new non-empty value overwrites an existing one
// unless its confidence is strictly lower, in which case the existing value
// is kept and the conflict logged. Re-stating an unchanged value never
// advances FilledTurn, so the action ID stays stable across repeated
// confirmations. Returns whether any slot value changed.
func (m *Machine) merge(s *domain.Session, spec *schema.IntentSpec, x *domain.ExtractionResult) bool {
	changed := false
	for name, value := range x.Slots {
		slotSpec, declared := spec.SlotByName(name)
		if !declared {
			continue
		}
		normalized, err := schema.ValidateSlot(slotSpec.Type, value.Value)
		if err != nil {
			m.logger.Warn("dropping invalid slot value",
				"session_id", s.SessionID, "slot", name,
				"type", string(slotSpec.Type), "error", err)
			continue
		}
		existing, exists := s.Slots[name]
		if exists {
			if existing.Value == normalized {
				if value.Confidence > existing.Confidence {
					existing.Confidence = value.Confidence
					s.Slots[name] = existing
				}
				continue
			}
			if value.Confidence < existing.Confidence {
				m.logger.Info("keeping higher-confidence slot value",
					"session_id", s.SessionID, "slot", name,
					"kept", existing.Value, "kept_confidence", existing.Confidence,
					"rejected", normalized, "rejected_confidence", value.Confidence)
				continue
			}
		}
		s.Slots[name] = domain.FilledSlot{
			Value:      normalized,
			Confidence: value.Confidence,
			FilledTurn: s.TurnCounter,
		}
		changed = true
	}
	return changed
}
