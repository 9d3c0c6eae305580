package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// WhisperConfig configures the hosted Whisper transcription client.
type WhisperConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxAudioSize int64
	Formats      []string
}

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint
// (Groq hosts whisper-large-v3 behind this shape).
type WhisperClient struct {
	cfg     WhisperConfig
	client  *http.Client
	formats map[string]struct{}
	logger  *slog.Logger
}

// NewWhisperClient builds the STT client.
func NewWhisperClient(cfg WhisperConfig, logger *slog.Logger) *WhisperClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAudioSize <= 0 {
		cfg.MaxAudioSize = MaxAudioBytes
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []string{"mp3", "wav", "ogg", "m4a", "webm"}
	}
	formats := make(map[string]struct{}, len(cfg.Formats))
	for _, f := range cfg.Formats {
		formats[strings.ToLower(f)] = struct{}{}
	}
	return &WhisperClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		formats: formats,
		logger:  logger,
	}
}

// Transcribe uploads the voice note and returns the transcript. The format
// and size gate runs before any network call.
func (c *WhisperClient) Transcribe(ctx context.Context, audio Audio, language string) (*Transcription, error) {
	if int64(len(audio.Data)) > c.cfg.MaxAudioSize {
		return nil, &TranscriptionError{Kind: UnsupportedFormat,
			Err: fmt.Errorf("audio size %d exceeds limit %d", len(audio.Data), c.cfg.MaxAudioSize)}
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(audio.Filename), "."))
	if ext == "" {
		ext = extensionFromMime(audio.MimeType)
	}
	if _, ok := c.formats[ext]; !ok {
		return nil, &TranscriptionError{Kind: UnsupportedFormat,
			Err: fmt.Errorf("audio format %q not accepted", ext)}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", audio.Filename)
	if err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
	}
	if err := mw.WriteField("model", c.cfg.Model); err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
	}
	if language != "" && language != "auto" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/openai/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close transcription response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TranscriptionError{Kind: UpstreamFailure,
			Err: fmt.Errorf("stt service returned %d", resp.StatusCode)}
	}

	var out struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &TranscriptionError{Kind: UpstreamFailure, Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, &TranscriptionError{Kind: NoSpeechDetected,
			Err: fmt.Errorf("empty transcript")}
	}

	return &Transcription{Text: out.Text, Language: out.Language, Confidence: 0.5}, nil
}

func extensionFromMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "mp3"
	case strings.Contains(mimeType, "wav"):
		return "wav"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"):
		return "m4a"
	case strings.Contains(mimeType, "webm"):
		return "webm"
	}
	return ""
}
