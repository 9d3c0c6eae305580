// Voicebank - voice-driven WhatsApp banking assistant for the Bafoka ledger.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bafoka-labs/voicebank/internal/api"
	"github.com/bafoka-labs/voicebank/internal/config"
	"github.com/bafoka-labs/voicebank/internal/convlog"
	"github.com/bafoka-labs/voicebank/internal/dialogue"
	"github.com/bafoka-labs/voicebank/internal/ledger"
	"github.com/bafoka-labs/voicebank/internal/metrics"
	"github.com/bafoka-labs/voicebank/internal/middleware"
	"github.com/bafoka-labs/voicebank/internal/monitor"
	"github.com/bafoka-labs/voicebank/internal/nlu"
	"github.com/bafoka-labs/voicebank/internal/respond"
	"github.com/bafoka-labs/voicebank/internal/schema"
	"github.com/bafoka-labs/voicebank/internal/speech"
	"github.com/bafoka-labs/voicebank/internal/store"
	"github.com/bafoka-labs/voicebank/internal/whatsapp"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	registry, err := schema.Load(cfg.IntentSchemaPath)
	if err != nil {
		slog.Error("Failed to load intent schema", "error", err)
		os.Exit(1)
	}
	slog.Info("Intent schema loaded", "intents", registry.Names())

	m := metrics.New()

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Upstream clients.
	transcriber := speech.NewWhisperClient(speech.WhisperConfig{
		BaseURL: cfg.Groq.BaseURL,
		APIKey:  cfg.Groq.APIKey,
	}, logger)

	analyzer := nlu.NewGroqClient(nlu.GroqConfig{
		BaseURL: cfg.Groq.BaseURL,
		APIKey:  cfg.Groq.APIKey,
		Model:   cfg.Groq.Model,
		Timeout: cfg.Groq.Timeout,
	}, registry, logger)

	extractor := nlu.NewExtractor(analyzer, registry, nlu.ExtractorConfig{
		MaxRetries: cfg.Groq.MaxRetries,
		OnRetry:    m.NLURetriesTotal.Inc,
	}, logger)

	ledgerClient := ledger.NewBafokaClient(ledger.BafokaConfig{
		BaseURL: cfg.Bafoka.BaseURL,
		APIKey:  cfg.Bafoka.APIKey,
		Timeout: cfg.Bafoka.Timeout,
	}, logger)
	dispatcher := ledger.NewDispatcher(repo, ledgerClient, registry, logger)

	waClient := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL: cfg.WhatsApp.BaseURL,
		Token:   cfg.WhatsApp.Token,
		PhoneID: cfg.WhatsApp.PhoneID,
		Timeout: cfg.WhatsApp.Timeout,
	}, logger)

	// Conversation pipeline.
	machine := dialogue.NewMachine(registry, dialogue.MachineConfig{
		IntentThreshold:   cfg.IntentThreshold,
		TakeoverMargin:    cfg.TakeoverMargin,
		MaxAmbiguousTurns: cfg.MaxAmbiguousTurns,
	}, logger)
	composer := respond.NewComposer(cfg.DefaultLanguage)
	hub := monitor.NewHub(logger)
	locks := store.NewSessionLocks()

	svc := dialogue.NewService(repo, locks, waClient, transcriber, extractor,
		machine, dispatcher, composer, hub, conversationLogger, m,
		dialogue.ServiceConfig{
			SessionTTL: cfg.SessionTTL,
			LockWait:   cfg.LockWait,
		}, logger)

	// Handlers.
	voiceHandler := api.NewVoiceHandler(svc, waClient, transcriber, extractor,
		cfg.WhatsApp.VerifyToken, logger)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := monitor.NewWebSocketHandler(hub, cfg.MonitorOrigin, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)
	voiceHandler.RegisterRoutes(r)

	r.Handle("/metrics", m.Handler())
	r.Get("/ws/monitor", wsHandler.ServeHTTP)

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // monitor WebSocket streams indefinitely
		IdleTimeout:  120 * time.Second,
	}

	// Start background sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartSweeper(ctx, repo, cfg.ActionRetention)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL, "action_retention", cfg.ActionRetention)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
