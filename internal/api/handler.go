package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datapulse/datapulse/internal/analysis"
	"github.com/datapulse/datapulse/internal/config"
	"github.com/datapulse/datapulse/internal/observability"
	"github.com/datapulse/datapulse/internal/sandbox"
	"github.com/datapulse/datapulse/internal/session"
)

type Dependencies struct {
	Logger     *slog.Logger
	Registry   *session.Registry
	Sandbox    *sandbox.Manager
	Analysis   *analysis.Service
	DemoSchema string
	DemoTables []string
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/schema/tables", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"schema": deps.DemoSchema,
			"tables": deps.DemoTables,
		})
	})

	mux.HandleFunc("GET /v1/cache/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := deps.Analysis.CacheStats()
		writeJSON(w, http.StatusOK, map[string]any{
			"size":        stats.Size,
			"max_entries": stats.MaxEntries,
			"ttl_seconds": int(stats.TTL.Seconds()),
		})
	})
	mux.HandleFunc("POST /v1/cache/clear", func(w http.ResponseWriter, _ *http.Request) {
		deps.Analysis.ClearCache()
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
	})

	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(deps, w, r)
	})
	mux.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(deps, w, r)
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSession(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sessions/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		handleResetSession(deps, w, r)
	})
	mux.HandleFunc("POST /v1/sessions/{id}/upload/tabular", func(w http.ResponseWriter, r *http.Request) {
		handleUploadTabular(cfg, deps, w, r)
	})
	mux.HandleFunc("POST /v1/sessions/{id}/upload/database", func(w http.ResponseWriter, r *http.Request) {
		handleUploadDatabase(cfg, deps, w, r)
	})
	mux.HandleFunc("POST /v1/sessions/{id}/analyze", func(w http.ResponseWriter, r *http.Request) {
		handleAnalyze(deps, w, r)
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware(mux),
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
