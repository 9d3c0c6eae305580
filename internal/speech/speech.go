// Package speech adapts the external speech-to-text service.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// MaxAudioBytes is the largest voice note accepted anywhere in the pipeline.
const MaxAudioBytes int64 = 10 << 20

// ErrorKind classifies transcription failures.
type ErrorKind string

const (
	// UnsupportedFormat means the audio format or size is outside the
	// accepted envelope.
	UnsupportedFormat ErrorKind = "UNSUPPORTED_FORMAT"
	// NoSpeechDetected means the audio decoded but carried no usable speech.
	NoSpeechDetected ErrorKind = "NO_SPEECH_DETECTED"
	// UpstreamFailure means the transcription service call failed.
	UpstreamFailure ErrorKind = "UPSTREAM_FAILURE"
)

// TranscriptionError is a failed transcription with its classification.
type TranscriptionError struct {
	Kind ErrorKind
	Err  error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription %s: %v", e.Kind, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// AsTranscriptionError unwraps err into a *TranscriptionError if possible.
func AsTranscriptionError(err error) (*TranscriptionError, bool) {
	var terr *TranscriptionError
	if errors.As(err, &terr) {
		return terr, true
	}
	return nil, false
}

// Audio is one voice note ready for transcription.
type Audio struct {
	Data     []byte
	MimeType string
	Filename string
}

// Transcription is the STT result before normalization.
type Transcription struct {
	Text       string
	Language   string
	Confidence float64
}

// Transcriber converts a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, language string) (*Transcription, error)
}
