package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/queryforge/queryforge/internal/audit"
	"github.com/queryforge/queryforge/internal/auth"
	"github.com/queryforge/queryforge/internal/bindings"
	"github.com/queryforge/queryforge/internal/config"
	"github.com/queryforge/queryforge/internal/intent"
	"github.com/queryforge/queryforge/internal/observability"
	"github.com/queryforge/queryforge/internal/pipeline"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Pipeline          *pipeline.Pipeline
	Registry          *bindings.Registry
	Parser            intent.Parser
	Audit             audit.Trail

	// AuthMiddleware, when set, guards every route that can touch data.
	// Health, readiness, and metrics stay open for probes and scrapes.
	AuthMiddleware func(http.Handler) http.Handler
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
	protected.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		handleQuery(deps, w, r)
	})
	protected.HandleFunc("POST /v1/query/stream", func(w http.ResponseWriter, r *http.Request) {
		handleQueryStream(deps, w, r)
	})
	protected.HandleFunc("POST /v1/nlq", func(w http.ResponseWriter, r *http.Request) {
		handleNLQ(deps, w, r)
	})
	protected.HandleFunc("GET /v1/bindings", func(w http.ResponseWriter, r *http.Request) {
		handleListBindings(deps, w, r)
	})
	reloadHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleReloadBindings(deps, w, r)
	})
	if deps.AuthMiddleware != nil {
		protected.Handle("POST /v1/bindings/reload", auth.RequireRole(auth.RoleRegistryAdmin, reloadHandler))
	} else {
		protected.Handle("POST /v1/bindings/reload", reloadHandler)
	}
	protected.HandleFunc("GET /v1/audit/{task}", func(w http.ResponseWriter, r *http.Request) {
		handleAuditTrail(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if deps.AuthMiddleware != nil {
		protectedHandler = deps.AuthMiddleware(protected)
	}
	mux.Handle("/v1/", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CheckBindingsLoaded(registry *bindings.Registry) ReadinessCheck {
	return func(_ context.Context) error {
		if registry == nil || registry.Active() == nil {
			return errors.New("binding registry is not loaded")
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
