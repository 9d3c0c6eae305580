package normalize

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "  envoie   500  ", "envoie 500"},
		{"strips french hesitations", "euh alors envoie 500 donc voilà", "envoie 500"},
		{"strips english hesitations", "um send uh money", "send money"},
		{"maps french number words", "envoie cinq cent", "envoie 5 100"},
		{"maps simple number word", "envoie cinq", "envoie 5"},
		{"normalizes euros", "500 euros à Marie", "500 EUR à Marie"},
		{"normalizes francs", "500 francs cfa", "500 FCFA FCFA"},
		{"empty input", "   ", ""},
		{"only hesitations", "euh euh hem", ""},
		{"keeps punctuation on words", "oui, envoie!", "oui, envoie!"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
