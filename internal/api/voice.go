package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bafoka-labs/voicebank/internal/dialogue"
	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/normalize"
	"github.com/bafoka-labs/voicebank/internal/speech"
	"github.com/bafoka-labs/voicebank/internal/whatsapp"
	"github.com/go-chi/chi/v5"
)

// maxWebhookBody bounds the webhook payload we are willing to parse.
const maxWebhookBody = 1 << 20

// webhookTimeout bounds background processing of one webhook delivery.
const webhookTimeout = 60 * time.Second

// VoiceHandler exposes the conversation pipeline over HTTP.
type VoiceHandler struct {
	svc         *dialogue.Service
	sender      whatsapp.Sender
	transcriber speech.Transcriber
	extractor   dialogue.IntentExtractor
	verifyToken string
	logger      *slog.Logger
}

// NewVoiceHandler creates the voice API handler.
func NewVoiceHandler(svc *dialogue.Service, sender whatsapp.Sender, transcriber speech.Transcriber,
	extractor dialogue.IntentExtractor, verifyToken string, logger *slog.Logger) *VoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceHandler{
		svc:         svc,
		sender:      sender,
		transcriber: transcriber,
		extractor:   extractor,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

// RegisterRoutes registers the voice API routes.
func (h *VoiceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.VerifyWebhook)
	r.Post("/webhook", h.Webhook)

	r.Post("/voice/process", h.Process)
	r.Post("/voice/transcribe", h.Transcribe)
	r.Post("/voice/analyze", h.Analyze)
	r.Get("/voice/session/{userID}", h.GetSession)
	r.Delete("/voice/session/{userID}", h.DeleteSession)
}

// VerifyWebhook answers the provider's subscription handshake.
func (h *VoiceHandler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		Error(w, http.StatusForbidden, "verification failed")
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(q.Get("hub.challenge"))); err != nil {
		h.logger.Debug("failed to write webhook challenge", "error", err)
	}
}

// Webhook ingests provider deliveries. The provider retries on anything but a
// fast 200, so messages are processed in the background and the delivery is
// acknowledged immediately. A retried delivery re-enters the pipeline and is
// discarded by the stale-turn check.
func (h *VoiceHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read body")
		return
	}

	msgs, err := whatsapp.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("unparseable webhook payload", "error", err)
		// Acknowledge anyway: the provider will retry malformed payloads
		// forever otherwise.
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, msg := range msgs {
		go h.process(msg)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *VoiceHandler) process(msg domain.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	reply, err := h.svc.HandleMessage(ctx, msg)
	if err != nil {
		h.logger.Error("turn processing failed",
			"user_id", msg.UserID, "turn", msg.Turn, "error", err)
		return
	}
	if reply == nil {
		return
	}
	if err := h.sender.Send(ctx, *reply); err != nil {
		h.logger.Error("failed to deliver reply",
			"user_id", msg.UserID, "turn", msg.Turn, "error", err)
	}
}

type processRequest struct {
	UserID  string `json:"user_id"`
	Turn    int64  `json:"turn"`
	Text    string `json:"text"`
	AudioID string `json:"audio_id"`
}

type processResponse struct {
	Reply string `json:"reply"`
	State string `json:"state"`
}

// Process runs one turn synchronously and returns the reply instead of
// sending it through the messaging channel. Useful for integration testing
// and non-WhatsApp frontends.
func (h *VoiceHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Turn == 0 {
		req.Turn = time.Now().Unix()
	}

	msg := domain.InboundMessage{
		UserID:     req.UserID,
		Turn:       req.Turn,
		Text:       req.Text,
		AudioID:    req.AudioID,
		ReceivedAt: time.Now(),
	}
	reply, err := h.svc.HandleMessage(r.Context(), msg)
	if err != nil {
		h.logger.Error("turn processing failed", "user_id", req.UserID, "error", err)
		Error(w, http.StatusInternalServerError, "processing failed")
		return
	}
	if reply == nil {
		Error(w, http.StatusConflict, "stale turn")
		return
	}

	session, err := h.svc.Session(r.Context(), req.UserID)
	state := ""
	if err == nil && session != nil {
		state = string(session.State)
	}
	JSON(w, http.StatusOK, processResponse{Reply: reply.Text, State: state})
}

// Transcribe converts an uploaded voice note to text without touching any
// session.
func (h *VoiceHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(speech.MaxAudioBytes); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, speech.MaxAudioBytes+1))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read file")
		return
	}

	audio := speech.Audio{
		Data:     data,
		MimeType: header.Header.Get("Content-Type"),
		Filename: header.Filename,
	}
	transcription, err := h.transcriber.Transcribe(r.Context(), audio, r.FormValue("language"))
	if err != nil {
		if terr, ok := speech.AsTranscriptionError(err); ok {
			switch terr.Kind {
			case speech.UnsupportedFormat:
				Error(w, http.StatusUnsupportedMediaType, "unsupported audio format")
			case speech.NoSpeechDetected:
				Error(w, http.StatusUnprocessableEntity, "no speech detected")
			default:
				Error(w, http.StatusBadGateway, "transcription service failed")
			}
			return
		}
		Error(w, http.StatusInternalServerError, "transcription failed")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"text":     transcription.Text,
		"language": transcription.Language,
	})
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// Analyze runs normalization and intent extraction on a text snippet without
// advancing any conversation. Diagnostic endpoint.
func (h *VoiceHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	utterance := normalize.Normalize(req.Text)
	if utterance == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.extractor.Extract(r.Context(), utterance, nil)
	if err != nil {
		h.logger.Error("analysis failed", "error", err)
		Error(w, http.StatusBadGateway, "analysis failed")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"normalized": utterance,
		"intent":     result.Intent,
		"confidence": result.OverallConfidence,
		"language":   result.Language,
		"slots":      result.Slots,
	})
}

type sessionView struct {
	SessionID     string            `json:"session_id"`
	State         string            `json:"state"`
	PendingIntent string            `json:"pending_intent,omitempty"`
	Slots         map[string]string `json:"slots"`
	TurnCounter   int64             `json:"turn_counter"`
	Language      string            `json:"language,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

// GetSession returns the user's current conversation state.
func (h *VoiceHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	session, err := h.svc.Session(r.Context(), userID)
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil || session.Expired(time.Now()) {
		Error(w, http.StatusNotFound, "no active session")
		return
	}

	slots := make(map[string]string, len(session.Slots))
	for name, slot := range session.Slots {
		slots[name] = slot.Value
	}
	JSON(w, http.StatusOK, sessionView{
		SessionID:     session.SessionID,
		State:         string(session.State),
		PendingIntent: session.PendingIntent,
		Slots:         slots,
		TurnCounter:   session.TurnCounter,
		Language:      session.Language,
		ExpiresAt:     session.ExpiresAt,
	})
}

// DeleteSession resets the user's conversation.
func (h *VoiceHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.svc.ResetSession(r.Context(), userID); err != nil {
		Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
