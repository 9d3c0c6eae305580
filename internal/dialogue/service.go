package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bafoka-labs/voicebank/internal/convlog"
	"github.com/bafoka-labs/voicebank/internal/decision"
	"github.com/bafoka-labs/voicebank/internal/domain"
	"github.com/bafoka-labs/voicebank/internal/metrics"
	"github.com/bafoka-labs/voicebank/internal/monitor"
	"github.com/bafoka-labs/voicebank/internal/normalize"
	"github.com/bafoka-labs/voicebank/internal/respond"
	"github.com/bafoka-labs/voicebank/internal/speech"
	"github.com/bafoka-labs/voicebank/internal/store"
)

// IntentExtractor produces a validated extraction for one utterance.
type IntentExtractor interface {
	Extract(ctx context.Context, text string, contextSlots map[string]domain.FilledSlot) (*domain.ExtractionResult, error)
}

// ActionDispatcher submits a confirmed intent to the ledger exactly once.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, session *domain.Session) (*domain.ActionRecord, error)
}

// MediaFetcher downloads a voice note by provider media ID.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) (*speech.Audio, error)
}

// ServiceConfig holds the orchestrator tunables.
type ServiceConfig struct {
	SessionTTL time.Duration
	LockWait   time.Duration
}

// Service runs one full conversation turn: lock, load, transcribe, extract,
// advance, dispatch, persist, reply. Everything between Acquire and release
// holds the session lock, so the machine and dispatcher see a consistent
// session.
type Service struct {
	repo        store.Repository
	locks       *store.SessionLocks
	media       MediaFetcher
	transcriber speech.Transcriber
	extractor   IntentExtractor
	machine     *Machine
	dispatcher  ActionDispatcher
	composer    *respond.Composer
	hub         *monitor.Hub
	convlog     *convlog.Logger
	metrics     *metrics.Metrics
	cfg         ServiceConfig
	logger      *slog.Logger
}

// NewService wires the turn orchestrator.
func NewService(
	repo store.Repository,
	locks *store.SessionLocks,
	media MediaFetcher,
	transcriber speech.Transcriber,
	extractor IntentExtractor,
	machine *Machine,
	dispatcher ActionDispatcher,
	composer *respond.Composer,
	hub *monitor.Hub,
	logger *convlog.Logger,
	m *metrics.Metrics,
	cfg ServiceConfig,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	return &Service{
		repo:        repo,
		locks:       locks,
		media:       media,
		transcriber: transcriber,
		extractor:   extractor,
		machine:     machine,
		dispatcher:  dispatcher,
		composer:    composer,
		hub:         hub,
		convlog:     logger,
		metrics:     m,
		cfg:         cfg,
		logger:      log,
	}
}

// HandleMessage processes one inbound message end to end and returns the
// reply to send, or nil when the message is stale and warrants no reply.
func (s *Service) HandleMessage(ctx context.Context, msg domain.InboundMessage) (*domain.OutboundMessage, error) {
	start := time.Now()
	sessionID := msg.UserID

	release, err := s.locks.Acquire(ctx, sessionID, s.cfg.LockWait)
	if err != nil {
		if errors.Is(err, store.ErrSessionBusy) {
			s.metrics.LockBusyTotal.Inc()
			s.logger.Warn("session lock busy, rejecting turn",
				"session_id", sessionID, "turn", msg.Turn)
			busy := s.composer.Busy(&domain.Session{Language: msg.Language})
			return &domain.OutboundMessage{UserID: msg.UserID, Text: busy}, nil
		}
		return nil, err
	}
	defer release()

	now := time.Now()
	session, err := s.loadSession(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}

	// A webhook retry or an out-of-order delivery carries a turn the session
	// has already consumed; processing it again would double-apply slot
	// updates. Turns are provider timestamps with one-second granularity, so
	// an equal turn with a new message ID is a second message sent in the
	// same second, not a retry.
	if staleTurn(session, msg) {
		s.logger.Info("discarding stale turn",
			"session_id", sessionID, "turn", msg.Turn, "current", session.TurnCounter,
			"message_id", msg.MessageID)
		return nil, nil
	}
	session.TurnCounter = msg.Turn
	if msg.MessageID != "" {
		session.LastMessageID = msg.MessageID
	}

	inputKind := "text"
	if msg.AudioID != "" || msg.AudioURL != "" {
		inputKind = "voice"
	}
	s.metrics.TurnsTotal.WithLabelValues(inputKind).Inc()

	text, failKey := s.resolveText(ctx, session, msg)
	if failKey != "" {
		s.metrics.TranscriptionFailures.WithLabelValues(failKey).Inc()
		reply := s.composer.TranscriptionFailure(session, failKey)
		return s.finish(ctx, session, msg, inputKind, "transcription_failed", "", reply, start, now)
	}

	utterance := normalize.Normalize(text)
	if utterance == "" {
		s.metrics.TranscriptionFailures.WithLabelValues("no_speech").Inc()
		reply := s.composer.TranscriptionFailure(session, "no_speech")
		return s.finish(ctx, session, msg, inputKind, "transcription_failed", "", reply, start, now)
	}

	s.logEvent(session, msg, "inbound", "user_message", "", utterance)

	extraction, err := s.extractor.Extract(ctx, utterance, session.Slots)
	if err != nil {
		s.logger.Error("intent extraction failed",
			"session_id", sessionID, "turn", msg.Turn, "error", err)
		reply := s.composer.ExtractionFailure(session)
		return s.finish(ctx, session, msg, inputKind, "extraction_failed", "", reply, start, now)
	}

	dec := s.machine.Advance(session, extraction, utterance)
	s.metrics.DecisionsTotal.WithLabelValues(string(dec.Kind)).Inc()

	var reply, actionID string
	if dec.Kind == decision.Execute {
		reply, actionID = s.execute(ctx, session, dec)
	} else {
		reply = s.composer.Compose(dec, session)
	}

	return s.finish(ctx, session, msg, inputKind, string(dec.Kind), actionID, reply, start, now)
}

// staleTurn reports whether the session already consumed this message. An
// equal turn is a replay only when the message ID matches the last one seen
// (or is absent, as on the synchronous API where the turn is a counter).
func staleTurn(session *domain.Session, msg domain.InboundMessage) bool {
	if msg.Turn != session.TurnCounter {
		return msg.Turn < session.TurnCounter
	}
	return msg.MessageID == "" || msg.MessageID == session.LastMessageID
}

// loadSession returns the user's live session, replacing an expired or
// crash-residue one with a fresh IDLE session. Expiry is lazy: the sweeper
// only reclaims storage.
func (s *Service) loadSession(ctx context.Context, sessionID string, now time.Time) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return domain.NewSession(sessionID, now, s.cfg.SessionTTL), nil
	}
	if session.Expired(now) {
		s.logger.Info("session expired, starting fresh",
			"session_id", sessionID, "expired_at", session.ExpiresAt)
		fresh := domain.NewSession(sessionID, now, s.cfg.SessionTTL)
		fresh.Language = session.Language
		return fresh, nil
	}
	return session, nil
}

// resolveText yields the raw utterance for the turn: the text body as-is, or
// the transcript of the attached voice note. A non-empty failKey means the
// turn ends with the corresponding user-facing failure message.
func (s *Service) resolveText(ctx context.Context, session *domain.Session, msg domain.InboundMessage) (text, failKey string) {
	if msg.Text != "" {
		return msg.Text, ""
	}
	if msg.AudioID == "" && msg.AudioURL == "" {
		return "", "no_speech"
	}

	audio, err := s.media.FetchMedia(ctx, msg.AudioID)
	if err != nil {
		s.logger.Warn("voice note download failed",
			"session_id", session.SessionID, "media_id", msg.AudioID, "error", err)
		return "", "bad_audio"
	}

	transcription, err := s.transcriber.Transcribe(ctx, *audio, session.Language)
	if err != nil {
		if terr, ok := speech.AsTranscriptionError(err); ok {
			s.logger.Warn("transcription failed",
				"session_id", session.SessionID, "kind", string(terr.Kind), "error", err)
			switch terr.Kind {
			case speech.UnsupportedFormat:
				return "", "bad_audio"
			case speech.NoSpeechDetected:
				return "", "no_speech"
			}
		}
		return "", "upstream"
	}

	if transcription.Language != "" {
		session.Language = transcription.Language
	}
	return transcription.Text, ""
}

// execute runs the dispatcher for a confirmed intent and returns the outcome
// reply. The session always leaves EXECUTING before persistence.
func (s *Service) execute(ctx context.Context, session *domain.Session, dec decision.Decision) (reply, actionID string) {
	record, err := s.dispatcher.Dispatch(ctx, session)
	if record == nil {
		// Internal failure before any ledger call; nothing was submitted.
		s.logger.Error("dispatch failed before submission",
			"session_id", session.SessionID, "intent", session.PendingIntent, "error", err)
		record = &domain.ActionRecord{
			Status: domain.ActionFailed,
			Reason: "internal error",
		}
	}
	s.metrics.DispatchTotal.WithLabelValues(string(record.Status)).Inc()

	session.State = domain.StateTerminal
	reply = s.composer.ComposeOutcome(session, dec.Intent, record)
	session.ClearPending()
	if record.ActionID != "" {
		session.LastActionID = record.ActionID
	}
	return reply, record.ActionID
}

// finish persists the session, emits observability events, and wraps the
// reply. Every processed turn exits through here.
func (s *Service) finish(ctx context.Context, session *domain.Session, msg domain.InboundMessage,
	inputKind, decisionKind, actionID, reply string, start, now time.Time) (*domain.OutboundMessage, error) {

	session.Touch(now, s.cfg.SessionTTL)
	if err := s.repo.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logEvent(session, msg, "outbound", "assistant_reply", decisionKind, reply)

	latency := time.Since(start)
	s.metrics.TurnDuration.Observe(latency.Seconds())
	s.hub.Publish(monitor.TurnEvent{
		UserID:    session.SessionID,
		Turn:      session.TurnCounter,
		InputKind: inputKind,
		Intent:    session.PendingIntent,
		State:     string(session.State),
		Decision:  decisionKind,
		ActionID:  actionID,
		LatencyMS: latency.Milliseconds(),
	})

	s.logger.Info("turn processed",
		"session_id", session.SessionID, "turn", session.TurnCounter,
		"input", inputKind, "decision", decisionKind, "state", string(session.State),
		"latency_ms", latency.Milliseconds())

	return &domain.OutboundMessage{UserID: msg.UserID, Text: reply}, nil
}

func (s *Service) logEvent(session *domain.Session, msg domain.InboundMessage,
	direction, eventType, decisionKind, content string) {
	s.convlog.Log(convlog.Event{
		UserID:     msg.UserID,
		SessionID:  session.SessionID,
		Direction:  direction,
		EventType:  eventType,
		Turn:       session.TurnCounter,
		Intent:     session.PendingIntent,
		State:      string(session.State),
		Decision:   decisionKind,
		ContentRaw: content,
	})
}

// ResetSession drops the user's conversation entirely.
func (s *Service) ResetSession(ctx context.Context, userID string) error {
	release, err := s.locks.Acquire(ctx, userID, s.cfg.LockWait)
	if err != nil {
		return err
	}
	defer release()
	return s.repo.DeleteSession(ctx, userID)
}

// Session returns the user's current session, or nil when none exists.
func (s *Service) Session(ctx context.Context, userID string) (*domain.Session, error) {
	return s.repo.GetSession(ctx, userID)
}
