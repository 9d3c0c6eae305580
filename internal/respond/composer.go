// Package respond renders dialogue decisions into user-facing messages.
package respond

import (
	"github.com/bafoka-labs/voicebank/internal/decision"
	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/schema"
)

// phrases are the fixed message templates keyed by language.
var phrases = map[string]map[string]string{
	"en": {
		"clarify":              "Sorry, I did not understand. You can ask for a transfer, your balance, a bill payment, a new beneficiary, or a new account.",
		"cancelled":            "Okay, I cancelled the current operation.",
		"denied":               "Okay, I will not proceed.",
		"give_up":              "I could not tell whether that was a yes or a no, so I cancelled the pending operation. Please start again.",
		"reprompt":             "Please answer yes or no. ",
		"abandoned":            "I dropped your previous request. ",
		"busy":                 "I am still processing your previous message. Please try again in a moment.",
		"no_speech":            "I could not hear anything in that voice note. Please try again.",
		"bad_audio":            "I could not process that audio file. Please send a standard voice note.",
		"transcription_failed": "I could not transcribe your voice note. Please try again.",
		"extraction_failed":    "I am having trouble understanding requests right now. Please try again in a moment.",
		"dispatch_failed":      "Sorry, the operation failed: ",
		"dispatch_pending":     "Your previous request is still being processed. I will not submit it twice.",
	},
	"fr": {
		"clarify":              "Désolé, je n'ai pas compris. Vous pouvez demander un transfert, votre solde, un paiement de facture, un nouveau bénéficiaire ou un nouveau compte.",
		"cancelled":            "D'accord, j'ai annulé l'opération en cours.",
		"denied":               "D'accord, je ne continue pas.",
		"give_up":              "Je n'ai pas pu déterminer si c'était oui ou non, donc j'ai annulé l'opération en attente. Veuillez recommencer.",
		"reprompt":             "Veuillez répondre par oui ou par non. ",
		"abandoned":            "J'ai abandonné votre demande précédente. ",
		"busy":                 "Je traite encore votre message précédent. Veuillez réessayer dans un instant.",
		"no_speech":            "Je n'ai rien entendu dans ce message vocal. Veuillez réessayer.",
		"bad_audio":            "Je n'ai pas pu traiter ce fichier audio. Veuillez envoyer un message vocal standard.",
		"transcription_failed": "Je n'ai pas pu transcrire votre message vocal. Veuillez réessayer.",
		"extraction_failed":    "J'ai du mal à comprendre les demandes en ce moment. Veuillez réessayer dans un instant.",
		"dispatch_failed":      "Désolé, l'opération a échoué : ",
		"dispatch_pending":     "Votre demande précédente est encore en cours de traitement. Je ne la soumettrai pas deux fois.",
	},
}

// Composer renders decisions and outcomes as user-facing text.
type Composer struct {
	defaultLang string
}

// NewComposer builds a composer with the given fallback language.
func NewComposer(defaultLang string) *Composer {
	if _, ok := phrases[defaultLang]; !ok {
		defaultLang = "en"
	}
	return &Composer{defaultLang: defaultLang}
}

// Language picks the reply language for a session.
func (c *Composer) Language(session *domain.Session) string {
	if _, ok := phrases[session.Language]; ok {
		return session.Language
	}
	return c.defaultLang
}

func (c *Composer) phrase(lang, key string) string {
	if msg, ok := phrases[lang][key]; ok {
		return msg
	}
	return phrases["en"][key]
}

// Compose renders a non-execute decision.
func (c *Composer) Compose(dec decision.Decision, session *domain.Session) string {
	lang := c.Language(session)

	var prefix string
	if dec.AbandonedIntent != "" {
		prefix = c.phrase(lang, "abandoned")
	}

	switch dec.Kind {
	case decision.Clarify:
		if dec.Reply != "" {
			return dec.Reply
		}
		return c.phrase(lang, "clarify")
	case decision.AskSlot:
		return prefix + dec.Slot.PromptFor(lang)
	case decision.Confirm:
		if dec.Reprompt {
			prefix += c.phrase(lang, "reprompt")
		}
		return prefix + dec.Intent.ConfirmPrompt(lang, session.Slots)
	case decision.Cancelled:
		return c.phrase(lang, "cancelled")
	case decision.Denied:
		return c.phrase(lang, "denied")
	case decision.GiveUp:
		return c.phrase(lang, "give_up")
	default:
		return c.phrase(lang, "clarify")
	}
}

// ComposeOutcome renders the result of a dispatched action.
func (c *Composer) ComposeOutcome(session *domain.Session, spec *schema.IntentSpec, record *domain.ActionRecord) string {
	lang := c.Language(session)
	switch record.Status {
	case domain.ActionConfirmed:
		return spec.SuccessMessage(lang)
	case domain.ActionSubmitted:
		return c.phrase(lang, "dispatch_pending")
	default:
		return c.phrase(lang, "dispatch_failed") + record.Reason
	}
}

// Busy is the transient reply when the session lock is held.
func (c *Composer) Busy(session *domain.Session) string {
	return c.phrase(c.Language(session), "busy")
}

// TranscriptionFailure renders a transcription error for the user.
func (c *Composer) TranscriptionFailure(session *domain.Session, key string) string {
	lang := c.Language(session)
	switch key {
	case "no_speech", "bad_audio":
		return c.phrase(lang, key)
	default:
		return c.phrase(lang, "transcription_failed")
	}
}

// ExtractionFailure is the reply when NLU retries are exhausted.
func (c *Composer) ExtractionFailure(session *domain.Session) string {
	return c.phrase(c.Language(session), "extraction_failed")
}
