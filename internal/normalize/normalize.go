// Package normalize cleans raw transcript text before NLU analysis.
package normalize

import (
	"regexp"
	"strings"
)

// Hesitation fillers removed from transcripts. French first; the upstream
// user base speaks French, English variants cover the second language.
var hesitations = map[string]struct{}{
	"euh": {}, "ah": {}, "hem": {}, "alors": {}, "donc": {}, "voilà": {}, "bon": {},
	"uh": {}, "um": {}, "er": {}, "hmm": {}, "well": {},
}

// Spelled-out numbers mapped to digits, per the original transcript cleaner.
var numberWords = map[string]string{
	"un": "1", "deux": "2", "trois": "3", "quatre": "4", "cinq": "5",
	"six": "6", "sept": "7", "huit": "8", "neuf": "9", "dix": "10",
	"vingt": "20", "trente": "30", "quarante": "40", "cinquante": "50",
	"cent": "100", "mille": "1000", "million": "1000000",
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5",
	"ten": "10", "twenty": "20", "fifty": "50", "hundred": "100", "thousand": "1000",
}

var (
	eurPattern  = regexp.MustCompile(`(?i)\b(euros?|eur)\b`)
	fcfaPattern = regexp.MustCompile(`(?i)\b(francs?|fcfa|cfa)\b`)
	spaces      = regexp.MustCompile(`\s+`)
)

// Normalize cleans a raw transcript: collapses whitespace, strips hesitation
// fillers, maps spelled-out numbers to digits, and normalizes currency
// mentions. Deterministic and total; empty output means the transcription
// carried no usable speech and must be treated as a transcription failure by
// the caller, never as a valid empty utterance.
func Normalize(raw string) string {
	text := spaces.ReplaceAllString(strings.TrimSpace(raw), " ")
	if text == "" {
		return ""
	}

	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		bare := strings.ToLower(strings.Trim(w, ".,!?;:"))
		if _, skip := hesitations[bare]; skip {
			continue
		}
		if digits, ok := numberWords[bare]; ok {
			kept = append(kept, digits)
			continue
		}
		kept = append(kept, w)
	}
	text = strings.Join(kept, " ")

	text = eurPattern.ReplaceAllString(text, "EUR")
	text = fcfaPattern.ReplaceAllString(text, "FCFA")

	return strings.TrimSpace(text)
}
