package nlu

import (
	"errors"
	"fmt"
)

// ErrorKind classifies extraction failures for retry policy.
type ErrorKind string

const (
	// UpstreamTimeout means the NLU call did not return within its deadline.
	UpstreamTimeout ErrorKind = "UPSTREAM_TIMEOUT"
	// UpstreamError means the NLU service returned a failure response.
	UpstreamError ErrorKind = "UPSTREAM_ERROR"
	// MalformedResponse means the model output could not be parsed into a
	// structured result. Not transient: retrying the same prompt yields the
	// same parsing defect.
	MalformedResponse ErrorKind = "MALFORMED_RESPONSE"
)

// ExtractionError is a failed NLU extraction with its retry classification.
type ExtractionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %s: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth a bounded retry.
func (e *ExtractionError) Transient() bool {
	return e.Kind == UpstreamTimeout || e.Kind == UpstreamError
}

// AsExtractionError unwraps err into an *ExtractionError if possible.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var xerr *ExtractionError
	if errors.As(err, &xerr) {
		return xerr, true
	}
	return nil, false
}
