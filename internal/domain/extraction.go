package domain

// SlotValue is one raw extracted parameter before schema validation.
type SlotValue struct {
	Value      string
	Confidence float64
}

// ExtractionResult is the structured output of one NLU call. It is consumed
// by the dialogue machine within the turn that produced it and never
// persisted.
type ExtractionResult struct {
	// Intent is the candidate canonical intent name, or empty when the
	// utterance was not recognized.
	Intent string
	// Slots maps slot name to the validated extracted value. Values that
	// failed schema validation have already been dropped by the extractor.
	Slots map[string]SlotValue
	// OverallConfidence is the model's scalar confidence in the intent.
	OverallConfidence float64
	// Language is the detected utterance language ("fr" or "en").
	Language string
	// Reply is the model's suggested natural-language response, used only
	// for clarification prompts when no intent was recognized.
	Reply string
}
