// Package api exposes the question pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/engine"
	"github.com/askdb/askdb/internal/guardrail"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/store"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the engine surface the handlers need. Narrowed to an interface
// so handler tests can fake the whole pipeline.
type Pipeline interface {
	Ask(ctx context.Context, question string) (engine.Answer, error)
	Translate(ctx context.Context, question string) (nl2sql.Candidate, error)
	Validate(sqlText string) guardrail.Result
	Execute(ctx context.Context, question, sqlText, source string) (engine.Answer, error)
	Snapshot() (schema.Model, error)
	RefreshSchema(ctx context.Context) (schema.Model, error)
	SaveAnalysis(ctx context.Context, name, question, sqlText string) (store.Analysis, error)
	ListAnalyses(ctx context.Context) ([]store.Analysis, error)
	LoadAnalysis(ctx context.Context, name string) (store.Analysis, error)
	DeleteAnalysis(ctx context.Context, name string) error
	RunAnalysis(ctx context.Context, name string) (engine.Answer, error)
	History(limit int) []engine.HistoryEntry
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
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

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleGetSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/schema/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleRefreshSchema(deps, w, r)
	})
	protected.HandleFunc("POST /v1/ask", func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})
	protected.HandleFunc("POST /v1/translate", func(w http.ResponseWriter, r *http.Request) {
		handleTranslate(deps, w, r)
	})
	protected.HandleFunc("POST /v1/validate", func(w http.ResponseWriter, r *http.Request) {
		handleValidate(deps, w, r)
	})
	protected.HandleFunc("POST /v1/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecute(deps, w, r)
	})
	protected.HandleFunc("GET /v1/analyses", func(w http.ResponseWriter, r *http.Request) {
		handleListAnalyses(deps, w, r)
	})
	protected.HandleFunc("PUT /v1/analyses/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleSaveAnalysis(deps, w, r)
	})
	protected.HandleFunc("GET /v1/analyses/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleGetAnalysis(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/analyses/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteAnalysis(deps, w, r)
	})
	protected.HandleFunc("POST /v1/analyses/{name}/run", func(w http.ResponseWriter, r *http.Request) {
		handleRunAnalysis(deps, w, r)
	})
	protected.HandleFunc("GET /v1/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})
	protected.HandleFunc("POST /v1/export", func(w http.ResponseWriter, r *http.Request) {
		handleExport(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/schema", protectedHandler)
	mux.Handle("POST /v1/schema/refresh", protectedHandler)
	mux.Handle("POST /v1/ask", protectedHandler)
	mux.Handle("POST /v1/translate", protectedHandler)
	mux.Handle("POST /v1/validate", protectedHandler)
	mux.Handle("POST /v1/execute", protectedHandler)
	mux.Handle("GET /v1/analyses", protectedHandler)
	mux.Handle("PUT /v1/analyses/{name}", protectedHandler)
	mux.Handle("GET /v1/analyses/{name}", protectedHandler)
	mux.Handle("DELETE /v1/analyses/{name}", protectedHandler)
	mux.Handle("POST /v1/analyses/{name}/run", protectedHandler)
	mux.Handle("GET /v1/history", protectedHandler)
	mux.Handle("POST /v1/export", protectedHandler)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
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

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		// Auth disabled: no identity, no role enforcement.
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return &roleError{role: role}
}

type roleError struct {
	role string
}

func (e *roleError) Error() string {
	return "missing required role " + e.role
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
