// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port   string
	DBPath string

	// SessionTTL is how long a conversation survives without a new message.
	SessionTTL time.Duration
	// ActionRetention is how long completed action records are kept.
	ActionRetention time.Duration
	// LockWait bounds how long a turn waits for its session lock before the
	// user is told to retry.
	LockWait time.Duration

	// IntentSchemaPath overrides the embedded intent registry when set.
	IntentSchemaPath string
	DefaultLanguage  string

	IntentThreshold   float64
	TakeoverMargin    float64
	MaxAmbiguousTurns int

	Groq     GroqConfig
	Bafoka   BafokaConfig
	WhatsApp WhatsAppConfig

	MonitorOrigin string
	FrontendURL   string

	ConversationLog ConversationLogConfig
}

// GroqConfig holds the speech and language model upstream settings.
type GroqConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// BafokaConfig holds the ledger API settings.
type BafokaConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// WhatsAppConfig holds the messaging provider settings.
type WhatsAppConfig struct {
	BaseURL     string
	Token       string
	PhoneID     string
	VerifyToken string
	Timeout     time.Duration
}

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./data/voicebank.db"),

		SessionTTL:      getEnvDuration("SESSION_TTL", 30*time.Minute),
		ActionRetention: getEnvDuration("ACTION_RETENTION", 24*time.Hour),
		LockWait:        getEnvDuration("SESSION_LOCK_WAIT", 2*time.Second),

		IntentSchemaPath: getEnv("INTENT_SCHEMA_PATH", ""),
		DefaultLanguage:  getEnv("DEFAULT_LANGUAGE", "fr"),

		IntentThreshold:   getEnvFloat("INTENT_THRESHOLD", 0.6),
		TakeoverMargin:    getEnvFloat("INTENT_TAKEOVER_MARGIN", 0.2),
		MaxAmbiguousTurns: getEnvInt("MAX_AMBIGUOUS_TURNS", 2),

		Groq: GroqConfig{
			APIKey:     getEnv("GROQ_API_KEY", ""),
			BaseURL:    getEnv("GROQ_BASE_URL", "https://api.groq.com"),
			Model:      getEnv("GROQ_MODEL", "llama-3.1-8b-instant"),
			Timeout:    getEnvDuration("GROQ_TIMEOUT", 10*time.Second),
			MaxRetries: getEnvInt("GROQ_MAX_RETRIES", 2),
		},
		Bafoka: BafokaConfig{
			BaseURL: getEnv("BAFOKA_BASE_URL", ""),
			APIKey:  getEnv("BAFOKA_API_KEY", ""),
			Timeout: getEnvDuration("BAFOKA_TIMEOUT", 15*time.Second),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:     getEnv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v19.0"),
			Token:       getEnv("WHATSAPP_TOKEN", ""),
			PhoneID:     getEnv("WHATSAPP_PHONE_ID", ""),
			VerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
			Timeout:     getEnvDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		},

		MonitorOrigin: getEnv("MONITOR_ORIGIN", ""),
		FrontendURL:   getEnv("FRONTEND_URL", ""),

		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.IntentThreshold <= 0 || c.IntentThreshold > 1 {
		return fmt.Errorf("INTENT_THRESHOLD must be in (0, 1]")
	}
	if c.TakeoverMargin < 0 {
		return fmt.Errorf("INTENT_TAKEOVER_MARGIN cannot be negative")
	}
	if c.MaxAmbiguousTurns <= 0 {
		return fmt.Errorf("MAX_AMBIGUOUS_TURNS must be > 0")
	}
	if c.Bafoka.BaseURL == "" {
		return fmt.Errorf("BAFOKA_BASE_URL cannot be empty")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
