package respond

import (
	"strings"
	"testing"
	"time"

	"github.com/bafoka-labs/voicebank/internal/decision"
	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/schema"
)

func testSpec(t *testing.T, name string) *schema.IntentSpec {
	t.Helper()
	registry, err := schema.Load("")
	if err != nil {
		t.Fatalf("failed to load embedded schema: %v", err)
	}
	spec, ok := registry.Lookup(name)
	if !ok {
		t.Fatalf("intent %s missing from embedded schema", name)
	}
	return spec
}

func sessionWith(lang string) *domain.Session {
	s := domain.NewSession("237650000001", time.Now(), 30*time.Minute)
	s.Language = lang
	return s
}

func TestComposeConfirmUsesSessionLanguage(t *testing.T) {
	t.Parallel()
	c := NewComposer("en")
	spec := testSpec(t, "TRANSFER")

	s := sessionWith("fr")
	s.Slots = map[string]domain.FilledSlot{
		"amount":    {Value: "500"},
		"recipient": {Value: "Marie"},
	}

	got := c.Compose(decision.Decision{Kind: decision.Confirm, Intent: spec}, s)
	if got != "Confirmer le transfert de 500 à Marie ?" {
		t.Fatalf("unexpected french confirmation: %q", got)
	}
}

func TestComposeRepromptPrefixesYesNo(t *testing.T) {
	t.Parallel()
	c := NewComposer("en")
	spec := testSpec(t, "TRANSFER")

	s := sessionWith("en")
	s.Slots = map[string]domain.FilledSlot{
		"amount":    {Value: "500"},
		"recipient": {Value: "Marie"},
	}

	got := c.Compose(decision.Decision{Kind: decision.Confirm, Intent: spec, Reprompt: true}, s)
	if !strings.HasPrefix(got, "Please answer yes or no. ") {
		t.Fatalf("expected reprompt prefix, got %q", got)
	}
	if !strings.Contains(got, "Confirm transfer of 500 to Marie?") {
		t.Fatalf("expected confirmation to follow, got %q", got)
	}
}

func TestComposeAskSlotMentionsAbandonedIntent(t *testing.T) {
	t.Parallel()
	c := NewComposer("en")
	spec := testSpec(t, "TRANSFER")

	got := c.Compose(decision.Decision{
		Kind:            decision.AskSlot,
		Intent:          spec,
		Slot:            &spec.Slots[0],
		AbandonedIntent: "BALANCE_QUERY",
	}, sessionWith("en"))

	if !strings.HasPrefix(got, "I dropped your previous request. ") {
		t.Fatalf("expected abandonment prefix, got %q", got)
	}
	if !strings.Contains(got, "What amount should I send?") {
		t.Fatalf("expected slot prompt, got %q", got)
	}
}

func TestComposeClarifyPrefersModelReply(t *testing.T) {
	t.Parallel()
	c := NewComposer("en")

	got := c.Compose(decision.Decision{Kind: decision.Clarify, Reply: "Did you mean a transfer?"}, sessionWith("en"))
	if got != "Did you mean a transfer?" {
		t.Fatalf("expected model reply to pass through, got %q", got)
	}

	got = c.Compose(decision.Decision{Kind: decision.Clarify}, sessionWith("en"))
	if !strings.Contains(got, "did not understand") {
		t.Fatalf("expected default clarification, got %q", got)
	}
}

func TestComposeOutcome(t *testing.T) {
	t.Parallel()
	c := NewComposer("en")
	spec := testSpec(t, "TRANSFER")
	s := sessionWith("en")

	confirmed := &domain.ActionRecord{Status: domain.ActionConfirmed}
	if got := c.ComposeOutcome(s, spec, confirmed); got != "Transfer completed." {
		t.Fatalf("unexpected success message: %q", got)
	}

	failed := &domain.ActionRecord{Status: domain.ActionFailed, Reason: "insufficient balance"}
	got := c.ComposeOutcome(s, spec, failed)
	if !strings.Contains(got, "insufficient balance") {
		t.Fatalf("expected failure reason surfaced, got %q", got)
	}

	pending := &domain.ActionRecord{Status: domain.ActionSubmitted}
	got = c.ComposeOutcome(s, spec, pending)
	if !strings.Contains(got, "still being processed") {
		t.Fatalf("expected in-flight message, got %q", got)
	}
}

func TestUnknownLanguageFallsBackToDefault(t *testing.T) {
	t.Parallel()
	c := NewComposer("fr")
	s := sessionWith("sw")

	got := c.Compose(decision.Decision{Kind: decision.Cancelled}, s)
	if got != "D'accord, j'ai annulé l'opération en cours." {
		t.Fatalf("expected french fallback, got %q", got)
	}
}

func TestTranscriptionFailureKeys(t *testing.T) {
	t.Parallel()
	c := NewComposer("en")
	s := sessionWith("en")

	if got := c.TranscriptionFailure(s, "no_speech"); !strings.Contains(got, "could not hear") {
		t.Fatalf("unexpected no_speech message: %q", got)
	}
	if got := c.TranscriptionFailure(s, "bad_audio"); !strings.Contains(got, "audio file") {
		t.Fatalf("unexpected bad_audio message: %q", got)
	}
	if got := c.TranscriptionFailure(s, "upstream"); !strings.Contains(got, "transcribe") {
		t.Fatalf("unexpected fallback message: %q", got)
	}
}
