package dialogue

import (
	"log/slog"
	"testing"
	"time"

	"github.com/bafoka-labs/voicebank/internal/decision"
	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/nlu"
	"github.com/bafoka-labs/voicebank/internal/schema"
)

func testMachine(t *testing.T) *Machine {
	t.Helper()
	registry, err := schema.Load("")
	if err != nil {
		t.Fatalf("failed to load embedded schema: %v", err)
	}
	return NewMachine(registry, DefaultMachineConfig(), slog.Default())
}

func newTestSession() *domain.Session {
	return domain.NewSession("237650000001", time.Now(), 30*time.Minute)
}

func extraction(intent string, confidence float64, slots map[string]string) *domain.ExtractionResult {
	x := &domain.ExtractionResult{
		Intent:            intent,
		OverallConfidence: confidence,
		Slots:             make(map[string]domain.SlotValue),
	}
	for name, value := range slots {
		x.Slots[name] = domain.SlotValue{Value: value, Confidence: confidence}
	}
	return x
}

func TestFullySlottedIntentGoesToConfirmation(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	dec := m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{
		"amount": "500", "recipient": "Marie",
	}), "send 500 to Marie")

	if dec.Kind != decision.Confirm {
		t.Fatalf("expected confirm decision, got %s", dec.Kind)
	}
	if s.State != domain.StateAwaitingConfirmation {
		t.Fatalf("expected AWAITING_CONFIRMATION, got %s", s.State)
	}
	prompt := dec.Intent.ConfirmPrompt("en", s.Slots)
	if prompt != "Confirm transfer of 500 to Marie?" {
		t.Fatalf("unexpected confirmation prompt: %q", prompt)
	}
}

func TestConfirmedIntentExecutes(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{
		"amount": "500", "recipient": "Marie",
	}), "send 500 to Marie")

	s.TurnCounter = 2
	dec := m.Advance(s, extraction(nlu.IntentConfirm, 0.95, nil), "yes")

	if dec.Kind != decision.Execute {
		t.Fatalf("expected execute decision, got %s", dec.Kind)
	}
	if s.State != domain.StateExecuting {
		t.Fatalf("expected EXECUTING, got %s", s.State)
	}
}

func TestMissingSlotIsPromptedInOrder(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	dec := m.Advance(s, extraction("TRANSFER", 0.8, nil), "I want to send money")

	if dec.Kind != decision.AskSlot {
		t.Fatalf("expected ask_slot decision, got %s", dec.Kind)
	}
	if dec.Slot.Name != "amount" {
		t.Fatalf("expected first missing slot amount, got %s", dec.Slot.Name)
	}
	if s.State != domain.StateAwaitingSlot {
		t.Fatalf("expected AWAITING_SLOT, got %s", s.State)
	}

	s.TurnCounter = 2
	dec = m.Advance(s, extraction("", 0.5, map[string]string{"amount": "500"}), "500")
	if dec.Kind != decision.AskSlot || dec.Slot.Name != "recipient" {
		t.Fatalf("expected prompt for recipient, got %s/%v", dec.Kind, dec.Slot)
	}

	s.TurnCounter = 3
	dec = m.Advance(s, extraction("", 0.5, map[string]string{"recipient": "Marie"}), "Marie")
	if dec.Kind != decision.Confirm {
		t.Fatalf("expected confirm once all slots filled, got %s", dec.Kind)
	}
}

func TestLowConfidenceIntentAsksForClarification(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	dec := m.Advance(s, extraction("TRANSFER", 0.4, nil), "mumble")
	if dec.Kind != decision.Clarify {
		t.Fatalf("expected clarify decision, got %s", dec.Kind)
	}
	if s.State != domain.StateIdle {
		t.Fatalf("expected session to stay IDLE, got %s", s.State)
	}
}

func TestAmbiguousConfirmationIsBounded(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{
		"amount": "500", "recipient": "Marie",
	}), "send 500 to Marie")

	s.TurnCounter = 2
	dec := m.Advance(s, extraction("", 0.3, nil), "maybe later")
	if dec.Kind != decision.Confirm || !dec.Reprompt {
		t.Fatalf("expected reprompt after first ambiguous answer, got %+v", dec)
	}

	s.TurnCounter = 3
	dec = m.Advance(s, extraction("", 0.3, nil), "what")
	if dec.Kind != decision.GiveUp {
		t.Fatalf("expected give_up after second ambiguous answer, got %s", dec.Kind)
	}
	if s.State != domain.StateIdle || s.PendingIntent != "" {
		t.Fatalf("expected pending intent cleared, got state=%s intent=%q", s.State, s.PendingIntent)
	}
}

func TestDenialClearsPendingIntent(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{
		"amount": "500", "recipient": "Marie",
	}), "send 500 to Marie")

	s.TurnCounter = 2
	dec := m.Advance(s, extraction(nlu.IntentDeny, 0.9, nil), "no")
	if dec.Kind != decision.Denied {
		t.Fatalf("expected denied decision, got %s", dec.Kind)
	}
	if s.HasPending() {
		t.Fatal("expected no pending intent after denial")
	}
}

func TestCancelResetsFromAnyState(t *testing.T) {
	t.Parallel()
	m := testMachine(t)

	for _, state := range []domain.SessionState{
		domain.StateAwaitingSlot, domain.StateAwaitingConfirmation,
	} {
		s := newTestSession()
		s.TurnCounter = 1
		m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{"amount": "500"}), "send 500")
		s.State = state

		s.TurnCounter = 2
		dec := m.Advance(s, extraction(nlu.IntentCancel, 0.9, nil), "cancel")
		if dec.Kind != decision.Cancelled {
			t.Fatalf("state %s: expected cancelled, got %s", state, dec.Kind)
		}
		if s.State != domain.StateIdle || s.PendingIntent != "" {
			t.Fatalf("state %s: expected clean IDLE session", state)
		}
	}
}

func TestHigherConfidenceIntentTakesOver(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.65, nil), "send money")

	s.TurnCounter = 2
	dec := m.Advance(s, extraction("BALANCE_QUERY", 0.95, nil), "what is my balance")

	if dec.AbandonedIntent != "TRANSFER" {
		t.Fatalf("expected TRANSFER to be abandoned, got %q", dec.AbandonedIntent)
	}
	if s.PendingIntent != "BALANCE_QUERY" {
		t.Fatalf("expected pending BALANCE_QUERY, got %q", s.PendingIntent)
	}
}

func TestMarginalNewIntentDoesNotTakeOver(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.8, nil), "send money")

	s.TurnCounter = 2
	dec := m.Advance(s, extraction("BALANCE_QUERY", 0.85, nil), "balance")

	if dec.AbandonedIntent != "" {
		t.Fatalf("expected no takeover within margin, got abandoned %q", dec.AbandonedIntent)
	}
	if s.PendingIntent != "TRANSFER" {
		t.Fatalf("expected TRANSFER to stay pending, got %q", s.PendingIntent)
	}
}

func TestLowerConfidenceValueNeverOverwrites(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{"amount": "500"}), "send 500")

	s.TurnCounter = 2
	x := &domain.ExtractionResult{
		Intent:            "",
		OverallConfidence: 0.3,
		Slots: map[string]domain.SlotValue{
			"amount": {Value: "900", Confidence: 0.3},
		},
	}
	m.Advance(s, x, "900")

	if got := s.Slots["amount"].Value; got != "500" {
		t.Fatalf("expected lower-confidence value rejected, slot is %q", got)
	}
}

func TestRestatedValueKeepsFilledTurn(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 3

	m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{
		"amount": "500", "recipient": "Marie",
	}), "send 500 to Marie")

	filledTurn := s.Slots["amount"].FilledTurn

	s.TurnCounter = 4
	m.Advance(s, extraction("", 0.9, map[string]string{"amount": "500"}), "500 I said")

	if got := s.Slots["amount"].FilledTurn; got != filledTurn {
		t.Fatalf("restating an unchanged value moved FilledTurn from %d to %d", filledTurn, got)
	}
}

func TestInvalidSlotValueDroppedOnSlotFillTurn(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.8, nil), "I want to send money")

	// Slot-fill turns usually come back with an unrecognized intent, so the
	// type rule must be enforced at merge time, not only in the extractor.
	for _, bad := range []string{"-50", "0", "fifty"} {
		s.TurnCounter++
		dec := m.Advance(s, extraction("", 0.5, map[string]string{"amount": bad}), bad)
		if dec.Kind != decision.AskSlot || dec.Slot.Name != "amount" {
			t.Fatalf("amount %q: expected re-prompt for amount, got %s/%v", bad, dec.Kind, dec.Slot)
		}
		if _, ok := s.Slots["amount"]; ok {
			t.Fatalf("amount %q: invalid value entered the session", bad)
		}
	}

	s.TurnCounter++
	dec := m.Advance(s, extraction("", 0.5, map[string]string{"amount": "500"}), "500")
	if dec.Kind != decision.AskSlot || dec.Slot.Name != "recipient" {
		t.Fatalf("expected valid amount accepted and recipient prompted, got %s/%v", dec.Kind, dec.Slot)
	}
	if got := s.Slots["amount"].Value; got != "500" {
		t.Fatalf("expected amount 500, got %q", got)
	}
}

func TestCorrectedSlotDuringConfirmationReconfirms(t *testing.T) {
	t.Parallel()
	m := testMachine(t)
	s := newTestSession()
	s.TurnCounter = 1

	m.Advance(s, extraction("TRANSFER", 0.9, map[string]string{
		"amount": "500", "recipient": "Marie",
	}), "send 500 to Marie")

	s.TurnCounter = 2
	dec := m.Advance(s, extraction("", 0.9, map[string]string{"amount": "700"}), "make it 700")

	if dec.Kind != decision.Confirm {
		t.Fatalf("expected re-confirmation after correction, got %s", dec.Kind)
	}
	if got := s.Slots["amount"].Value; got != "700" {
		t.Fatalf("expected corrected amount 700, got %q", got)
	}
	if s.AmbiguousTurns != 0 {
		t.Fatalf("expected ambiguous counter reset, got %d", s.AmbiguousTurns)
	}
}
