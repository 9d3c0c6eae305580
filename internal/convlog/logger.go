// Package convlog writes per-session NDJSON transcripts of conversations for
// offline review. Logging is fire-and-forget: events are queued and written by
// a background worker so a slow disk never delays a reply.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Config controls NDJSON conversation logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one logged conversation step.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"event_type"`
	Turn       int64     `json:"turn,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	State      string    `json:"state,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	ContentRaw string    `json:"content_raw,omitempty"`
	Content    string    `json:"content,omitempty"`
}

// Logger is the queued conversation logger. A nil or disabled logger is safe
// to call and does nothing.
type Logger struct {
	cfg    Config
	logger *slog.Logger

	queue chan Event
	done  chan struct{}

	mu    sync.Mutex
	files map[string]*os.File
}

// New creates a conversation logger. Returns a disabled no-op logger when the
// config disables logging.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = 1000
	}

	l.queue = make(chan Event, cfg.QueueSize)
	l.done = make(chan struct{})
	l.files = make(map[string]*os.File)
	go l.run()
	return l, nil
}

// Log enqueues an event. Drops it when the queue is full rather than blocking
// the turn pipeline.
func (l *Logger) Log(event Event) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Content = cleanForReadability(event.ContentRaw)

	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID, "event_type", event.EventType)
	}
}

// Close drains the queue and closes all open log files.
func (l *Logger) Close() error {
	if l == nil || !l.cfg.Enabled {
		return nil
	}
	close(l.queue)
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = make(map[string]*os.File)
	return firstErr
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Error("failed to write conversation log event",
				"user_id", event.UserID, "error", err)
		}
	}
}

func (l *Logger) write(event Event) error {
	f, err := l.file(event.UserID, event.SessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

func (l *Logger) file(userID, sessionID string) (*os.File, error) {
	key := userID + "/" + sessionID

	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(l.cfg.Dir, sanitize(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create user log dir: %w", err)
	}
	path := filepath.Join(dir, sanitize(sessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	l.files[key] = f
	return f, nil
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._+-]`)

// sanitize keeps user-controlled IDs from escaping the log directory.
func sanitize(id string) string {
	id = unsafePathChars.ReplaceAllString(id, "_")
	if id == "" {
		return "unknown"
	}
	return id
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// cleanForReadability strips control sequences and collapses whitespace so
// transcripts read cleanly.
func cleanForReadability(raw string) string {
	clean := ansiEscape.ReplaceAllString(raw, "")
	clean = strings.ReplaceAll(clean, "\r", "")
	return strings.TrimSpace(clean)
}
