package schema

import (
	"testing"

	"github.com/bafoka-labs/voicebank/internal/domain"
)

func TestLoadEmbeddedSchema(t *testing.T) {
	t.Parallel()

	registry, err := Load("")
	if err != nil {
		t.Fatalf("failed to load embedded schema: %v", err)
	}

	for _, name := range []string{"TRANSFER", "BALANCE_QUERY", "BILL_PAYMENT", "ADD_BENEFICIARY", "ACCOUNT_CREATION"} {
		if _, ok := registry.Lookup(name); !ok {
			t.Errorf("embedded schema missing intent %s", name)
		}
	}
}

func TestLookupResolvesAliasesCaseInsensitively(t *testing.T) {
	t.Parallel()

	registry, err := Load("")
	if err != nil {
		t.Fatalf("failed to load embedded schema: %v", err)
	}

	for _, alias := range []string{"transfer", "FAIRE_VIREMENT", " virement ", "Send_Money"} {
		spec, ok := registry.Lookup(alias)
		if !ok {
			t.Fatalf("alias %q did not resolve", alias)
		}
		if spec.Name != "TRANSFER" {
			t.Fatalf("alias %q resolved to %s", alias, spec.Name)
		}
	}

	if _, ok := registry.Lookup("unknown_thing"); ok {
		t.Fatal("unexpected resolution of unknown intent")
	}
}

func TestFirstMissingFollowsSchemaOrder(t *testing.T) {
	t.Parallel()

	registry, _ := Load("")
	spec, _ := registry.Lookup("ACCOUNT_CREATION")

	filled := map[string]domain.FilledSlot{}
	if missing := spec.FirstMissing(filled); missing == nil || missing.Name != "full_name" {
		t.Fatalf("expected full_name first, got %v", missing)
	}

	filled["full_name"] = domain.FilledSlot{Value: "Jean Kamga"}
	if missing := spec.FirstMissing(filled); missing == nil || missing.Name != "phone_number" {
		t.Fatalf("expected phone_number next, got %v", missing)
	}

	filled["phone_number"] = domain.FilledSlot{Value: "650000001"}
	filled["age"] = domain.FilledSlot{Value: "30"}
	filled["sex"] = domain.FilledSlot{Value: "M"}
	if !spec.Complete(filled) {
		t.Fatal("expected intent to be complete")
	}
}

func TestConfirmPromptSubstitutesSlots(t *testing.T) {
	t.Parallel()

	registry, _ := Load("")
	spec, _ := registry.Lookup("TRANSFER")

	filled := map[string]domain.FilledSlot{
		"amount":    {Value: "500"},
		"recipient": {Value: "Marie"},
	}

	if got := spec.ConfirmPrompt("en", filled); got != "Confirm transfer of 500 to Marie?" {
		t.Fatalf("unexpected english prompt: %q", got)
	}
	if got := spec.ConfirmPrompt("fr", filled); got != "Confirmer le transfert de 500 à Marie ?" {
		t.Fatalf("unexpected french prompt: %q", got)
	}
	// Unknown language falls back to English.
	if got := spec.ConfirmPrompt("sw", filled); got != "Confirm transfer of 500 to Marie?" {
		t.Fatalf("unexpected fallback prompt: %q", got)
	}
}

func TestValidateSlot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		typ     SlotType
		in      string
		want    string
		wantErr bool
	}{
		{"positive amount", TypeAmount, "500", "500", false},
		{"comma decimal amount", TypeAmount, "12,5", "12.5", false},
		{"zero amount", TypeAmount, "0", "", true},
		{"negative amount", TypeAmount, "-3", "", true},
		{"non-numeric amount", TypeAmount, "beaucoup", "", true},

		{"local phone", TypePhone, "650000001", "650000001", false},
		{"international phone", TypePhone, "+237650000001", "650000001", false},
		{"spaced phone", TypePhone, "6 50 00 00 01", "650000001", false},
		{"bare country code phone", TypePhone, "237650000001", "650000001", false},
		{"short phone", TypePhone, "65000", "", true},
		{"wrong prefix phone", TypePhone, "750000001", "", true},

		{"recipient as phone", TypeRecipient, "+237650000001", "650000001", false},
		{"recipient as name", TypeRecipient, "Marie", "Marie", false},
		{"empty recipient", TypeRecipient, "  ", "", true},

		{"adult age", TypeAge, "30", "30", false},
		{"minor age", TypeAge, "17", "", true},
		{"implausible age", TypeAge, "121", "", true},

		{"sex M", TypeSex, "homme", "M", false},
		{"sex F", TypeSex, "FEMME", "F", false},
		{"sex unknown", TypeSex, "x", "", true},

		{"reference", TypeReference, "FACT-2024-001", "FACT-2024-001", false},
		{"reference with spaces", TypeReference, "FACT 001", "", true},

		{"free text", TypeText, "Jean Kamga", "Jean Kamga", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateSlot(tt.typ, tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ValidateSlot(%s, %q) = %q, want %q", tt.typ, tt.in, got, tt.want)
			}
		})
	}
}
