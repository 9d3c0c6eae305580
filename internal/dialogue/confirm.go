package dialogue

import (
	"strings"

	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/nlu"
)

// confirmation is the classification of an answer to a pending confirmation.
type confirmation int

const (
	confirmAmbiguous confirmation = iota
	confirmYes
	confirmNo
)

var affirmativeWords = map[string]struct{}{
	"yes": {}, "ok": {}, "okay": {}, "sure": {}, "confirm": {}, "confirmed": {},
	"oui": {}, "confirme": {}, "confirmer": {}, "d'accord": {}, "daccord": {},
}

var negativeWords = map[string]struct{}{
	"no": {}, "non": {}, "nope": {}, "stop": {},
	"annule": {}, "annuler": {}, "cancel": {},
}

// classifyConfirmation decides whether an utterance answers a pending
// confirmation. The model's meta intent wins; a keyword scan over the
// normalized utterance is the fallback for short answers the model labels
// as unknown. An utterance matching both directions stays ambiguous.
func classifyConfirmation(x *domain.ExtractionResult, utterance string) confirmation {
	switch x.Intent {
	case nlu.IntentConfirm:
		return confirmYes
	case nlu.IntentDeny:
		return confirmNo
	}

	var yes, no bool
	for _, w := range strings.Fields(strings.ToLower(utterance)) {
		w = strings.Trim(w, ".,!?;:")
		if _, ok := affirmativeWords[w]; ok {
			yes = true
		}
		if _, ok := negativeWords[w]; ok {
			no = true
		}
	}
	switch {
	case yes && !no:
		return confirmYes
	case no && !yes:
		return confirmNo
	default:
		return confirmAmbiguous
	}
}
