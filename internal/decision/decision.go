// Package decision defines the state machine's per-turn output. It sits
// below both the dialogue engine that produces decisions and the response
// composer that renders them.
package decision

import (
	"github.com/bafoka-labs/voicebank/internal/schema"
)

// Kind names the next system action chosen by the state machine.
type Kind string

const (
	// Clarify asks the user to rephrase an unrecognized utterance.
	Clarify Kind = "clarify"
	// AskSlot prompts for the next missing required slot.
	AskSlot Kind = "ask_slot"
	// Confirm asks the user to confirm the fully-slotted intent.
	Confirm Kind = "confirm"
	// Execute hands the session to the action dispatcher.
	Execute Kind = "execute"
	// Cancelled acknowledges an explicit cancel.
	Cancelled Kind = "cancelled"
	// Denied acknowledges a negative confirmation.
	Denied Kind = "denied"
	// GiveUp abandons a confirmation after too many ambiguous answers.
	GiveUp Kind = "give_up"
)

// Decision is the state machine's output for one turn. The response composer
// turns it into user-facing text.
type Decision struct {
	Kind   Kind
	Intent *schema.IntentSpec
	// Slot is set for AskSlot.
	Slot *schema.SlotSpec
	// AbandonedIntent names a pending intent that was dropped in favor of a
	// new one this turn.
	AbandonedIntent string
	// Reprompt marks a repeated confirmation after an ambiguous answer.
	Reprompt bool
	// Reply carries the model's suggested clarification text, if any.
	Reply string
}
