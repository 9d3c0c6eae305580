package nlu

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bafoka-labs/voicebank/internal/schema"
)

func TestSystemPromptFollowsRegistry(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "intents.yaml")
	yaml := `intents:
  - name: LOAN_REQUEST
    endpoint: /api/loan
    confirm:
      en: "Request a loan of {amount}?"
    success:
      en: "Loan requested."
    slots:
      - name: amount
        type: amount
        prompt:
          en: "How much do you need?"
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	registry, err := schema.Load(path)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}

	prompt := buildSystemPrompt(registry)
	if !strings.Contains(prompt, "loan_request") {
		t.Fatalf("prompt does not advertise the registry intent: %q", prompt)
	}
	if !strings.Contains(prompt, "confirm|deny|cancel|unknown") {
		t.Fatalf("prompt lost the meta intents: %q", prompt)
	}
}

func TestSystemPromptVocabularyResolvesViaLookup(t *testing.T) {
	t.Parallel()

	registry, err := schema.Load("")
	if err != nil {
		t.Fatalf("load embedded schema: %v", err)
	}

	// Every executable intent the prompt advertises must round-trip through
	// the registry, or the extractor would discard what the model returns.
	for _, name := range registry.Names() {
		advertised := strings.ToLower(name)
		spec, ok := registry.Lookup(advertised)
		if !ok {
			t.Fatalf("advertised intent %q does not resolve", advertised)
		}
		if spec.Name != name {
			t.Fatalf("advertised intent %q resolves to %q, want %q", advertised, spec.Name, name)
		}
	}
}
