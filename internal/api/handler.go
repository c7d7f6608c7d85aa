package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinquery/clinquery/internal/auth"
	"github.com/clinquery/clinquery/internal/config"
	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/observability"
	"github.com/clinquery/clinquery/internal/schema"
	"github.com/clinquery/clinquery/internal/session"
	"github.com/clinquery/clinquery/internal/voice"
)

type ReadinessCheck func(ctx context.Context) error

// SessionRegistry is the session lifecycle surface the API drives.
type SessionRegistry interface {
	Create() (*session.Session, error)
	Get(id string) (*session.Session, error)
	List() []session.Summary
	Close(ctx context.Context, id string) (session.CloseResult, error)
}

type TurnRunner interface {
	Ask(ctx context.Context, s *session.Session, question nl2sql.Question) (ledger.Entry, error)
}

// DistinctCounter backs the patient total on the data overview.
type DistinctCounter interface {
	CountDistinct(ctx context.Context, column string, tables []string) (int64, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Sessions          SessionRegistry
	Turns             TurnRunner
	Schema            schema.Descriptor
	Stats             DistinctCounter
	Transcriber       voice.Transcriber
	Speaker           voice.Speaker
	DefaultVoice      string
	MaxAudioBytes     int64
	Clock             func() time.Time
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	clinician := func(h http.HandlerFunc) http.Handler { return auth.RequireRole(auth.RoleClinician, h) }
	routes := map[string]http.Handler{
		"POST /v1/sessions": clinician(func(w http.ResponseWriter, r *http.Request) {
			handleCreateSession(deps, w, r)
		}),
		"GET /v1/sessions": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleListSessions(deps, w, r)
		}),
		"POST /v1/sessions/{id}/turns": clinician(func(w http.ResponseWriter, r *http.Request) {
			handleAsk(deps, w, r)
		}),
		"POST /v1/sessions/{id}/voice": clinician(func(w http.ResponseWriter, r *http.Request) {
			handleVoiceTurn(deps, w, r)
		}),
		"GET /v1/sessions/{id}/turns": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleListTurns(deps, w, r)
		}),
		"DELETE /v1/sessions/{id}": clinician(func(w http.ResponseWriter, r *http.Request) {
			handleCloseSession(deps, w, r)
		}),
		"POST /v1/speech": clinician(func(w http.ResponseWriter, r *http.Request) {
			handleSpeech(deps, w, r)
		}),
		"GET /v1/schema": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleSchema(deps, w, r)
		}),
		"GET /v1/examples": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"categories": ExampleQuestions})
		}),
	}

	protect := func(h http.Handler) http.Handler { return h }
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			missing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
			protect = func(http.Handler) http.Handler { return missing }
		} else {
			protect = deps.AuthMiddleware
		}
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, protect(handler))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckStoreFile(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Store.Path == "" {
			return errors.New("store path is not configured")
		}
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			return errors.New("store file is not available")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
