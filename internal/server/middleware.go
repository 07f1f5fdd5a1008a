// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/assistd-org/assistd/internal/server/requestctx"
	"github.com/assistd-org/assistd/internal/server/response"
)

// Middleware defines a HTTP middleware component.
type Middleware func(http.Handler) http.Handler

// chainMiddleware applies the supplied middlewares in order to the provided handler.
func chainMiddleware(h http.Handler, chain ...Middleware) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i] == nil {
			continue
		}
		h = chain[i](h)
	}
	return h
}

// loggingMiddleware records request metadata using slog.
func loggingMiddleware(cfg Config) Middleware {
	logger := newLogger(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			reqLogger := logger.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			route := templateRoute(r.URL.Path)
			ctx := requestctx.WithRoute(r.Context(), route)
			ctx = requestctx.WithLogger(ctx, reqLogger)
			next.ServeHTTP(recorder, r.WithContext(ctx))
			attrs := []any{
				slog.Int("status", recorder.status),
				slog.String("route", route),
				slog.Duration("duration", time.Since(start)),
			}
			if principal, ok := requestctx.Principal(ctx); ok {
				attrs = append(attrs, slog.String("principal", principal))
			}
			reqLogger.Info("request", attrs...)
		})
	}
}

// corsMiddleware allows localhost origins in dev mode only.
func corsMiddleware(cfg Config) Middleware {
	if !cfg.Dev {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1")) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, Last-Event-ID")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware enforces the static bearer token when one is configured.
// Health probes stay unauthenticated so supervisors can poll them.
func authMiddleware(cfg Config) Middleware {
	if cfg.Token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			token, err := parseAuthorization(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer realm=\"assistd\"")
				response.Write(w, response.New(http.StatusUnauthorized, "unauthorized", response.WithDetail(err.Error())))
				return
			}
			if err := checkToken(token, cfg.Token); err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer realm=\"assistd\"")
				response.Write(w, response.New(http.StatusUnauthorized, "unauthorized"))
				return
			}
			ctx := requestctx.WithPrincipal(r.Context(), principalForToken(token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func templateRoute(path string) string {
	switch {
	case path == "":
		return "/"
	case path == "/healthz":
		return "/healthz"
	case path == "/health/storage":
		return "/health/storage"
	case path == "/tasks":
		return "/tasks"
	case path == "/plans":
		return "/plans"
	case strings.HasPrefix(path, "/plans/"):
		switch {
		case strings.HasSuffix(path, ":accept"):
			return "/plans/{id}:accept"
		case strings.HasSuffix(path, ":reject"):
			return "/plans/{id}:reject"
		case strings.HasSuffix(path, ":continue"):
			return "/plans/{id}:continue"
		case strings.HasSuffix(path, ":abort"):
			return "/plans/{id}:abort"
		case strings.HasSuffix(path, "/events"):
			return "/plans/{id}/events"
		default:
			return "/plans/{id}"
		}
	case strings.HasPrefix(path, "/commands/"):
		if strings.HasSuffix(path, ":confirm") {
			return "/commands/{id}:confirm"
		}
		return path
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Flush() {
	if flusher, ok := s.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func newLogger(cfg Config) *slog.Logger {
	var handler slog.Handler
	switch strings.ToLower(cfg.Log) {
	case "json":
		handler = slog.NewJSONHandler(cfg.StdOut, nil)
	default:
		handler = slog.NewTextHandler(cfg.StdOut, nil)
	}
	return slog.New(handler)
}
