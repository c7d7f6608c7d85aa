package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinquery/clinquery/internal/api"
	"github.com/clinquery/clinquery/internal/audit"
	auditpostgres "github.com/clinquery/clinquery/internal/audit/postgres"
	"github.com/clinquery/clinquery/internal/auth"
	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/compose"
	"github.com/clinquery/clinquery/internal/config"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/observability"
	duckdbengine "github.com/clinquery/clinquery/internal/query/duckdb"
	"github.com/clinquery/clinquery/internal/schema"
	"github.com/clinquery/clinquery/internal/session"
	s3store "github.com/clinquery/clinquery/internal/storage/s3"
	"github.com/clinquery/clinquery/internal/voice"
)

func main() {
	cfg, err := config.LoadFromEnv("clinquery-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	engine, err := duckdbengine.OpenOrEmpty(cfg.Store.Path, duckdbengine.Options{
		MaxRows: cfg.Store.MaxRows,
		Timeout: cfg.Store.ExecutionTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	descriptor := schema.Describe(ctx, engine, cfg.Store.SchemaSampleRows, logger)
	if descriptor.Empty() {
		logger.Warn("store has no tables; every question will be rejected", slog.String("path", cfg.Store.Path))
	}
	logger.Info("schema loaded", slog.Int("tables", len(descriptor.Tables)), slog.Int64("rows", descriptor.TotalRows()))

	completer, err := completion.New(ctx, cfg.AI)
	if err != nil {
		logger.Error("failed to initialize completion provider", slog.Any("error", err))
		os.Exit(1)
	}
	if closer, ok := completer.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	synthesizer, err := nl2sql.NewSynthesizer(completer, nl2sql.Config{
		Temperature:  cfg.AI.SynthesisTemperature,
		MaxTokens:    cfg.AI.SynthesisMaxTokens,
		HistoryTurns: cfg.AI.HistoryTurns,
		SampleRows:   cfg.Store.SchemaSampleRows,
	})
	if err != nil {
		logger.Error("failed to initialize synthesizer", slog.Any("error", err))
		os.Exit(1)
	}
	composer := compose.NewComposer(completer, compose.Config{
		Enabled:     cfg.AI.CompositionEnabled,
		Temperature: cfg.AI.CompositionTemperature,
		MaxTokens:   cfg.AI.CompositionMaxTokens,
		MaxRows:     cfg.AI.CompositionMaxRows,
		MaxColumns:  cfg.AI.CompositionMaxColumns,
	})

	readiness := []api.ReadinessCheck{engine.Ping, api.CheckObjectStoreConfig(cfg)}
	if engine.Path() != "" {
		readiness = append(readiness, api.CheckStoreFile(cfg))
	}

	var sink audit.Sink = audit.Nop{}
	var recorder audit.ArchiveRecorder
	if cfg.Audit.DSN != "" {
		auditDB, err := auditpostgres.Open(ctx, auditpostgres.DBConfigFrom(cfg.Audit))
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func(db *sql.DB) { _ = db.Close() }(auditDB)
		repo := auditpostgres.NewRepository(auditDB)
		sink, recorder = repo, repo
		readiness = append(readiness, repo.HealthCheck)
	}

	manager := &session.Manager{MaxSessions: cfg.Session.MaxSessions, Logger: logger}
	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(ctx, s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		manager.Archiver = &session.Archiver{ObjectStore: objectStore, Recorder: recorder}
	}

	deps := api.Dependencies{
		Logger:   logger,
		Sessions: manager,
		Turns: &session.Pipeline{
			Synthesizer:  synthesizer,
			Engine:       engine,
			Composer:     composer,
			Schema:       descriptor,
			Audit:        sink,
			Logger:       logger,
			HistoryTurns: cfg.AI.HistoryTurns,
		},
		Schema:            descriptor,
		Stats:             engine,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		MaxAudioBytes:     cfg.Voice.MaxAudioBytes,
		DefaultVoice:      cfg.Voice.DefaultVoice,
	}
	if cfg.Voice.Enabled {
		speech, err := voice.NewOpenAI(voice.OpenAIConfig{
			BaseURL:            cfg.Voice.BaseURL,
			APIKey:             cfg.Voice.APIKey,
			TranscriptionModel: cfg.Voice.TranscriptionModel,
			SpeechModel:        cfg.Voice.SpeechModel,
			DefaultVoice:       cfg.Voice.DefaultVoice,
			Language:           cfg.Voice.Language,
			Timeout:            cfg.Voice.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize voice provider", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Transcriber = speech
		deps.Speaker = speech
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("provider", cfg.AI.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-sigCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
	manager.CloseAll(shutdownCtx)
}
