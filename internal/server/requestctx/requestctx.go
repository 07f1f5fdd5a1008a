package requestctx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}
type routeKey struct{}
type principalKey struct{}

var (
	ctxLoggerKey    = &loggerKey{}
	ctxRouteKey     = &routeKey{}
	ctxPrincipalKey = &principalKey{}
)

// WithLogger stores the request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLoggerKey, logger)
}

// Logger extracts the request-scoped logger from context, if present.
func Logger(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(ctxLoggerKey).(*slog.Logger)
	return logger
}

// WithRoute annotates the context with the templated route string.
func WithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxRouteKey, route)
}

// Route extracts the templated route string stored on the context, if any.
func Route(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	route, _ := ctx.Value(ctxRouteKey).(string)
	if route == "" {
		return "", false
	}
	return route, true
}

// WithPrincipal stores the authenticated principal identifier on the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	if principal == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxPrincipalKey, principal)
}

// Principal retrieves the authenticated principal identifier from context.
func Principal(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	principal, _ := ctx.Value(ctxPrincipalKey).(string)
	if principal == "" {
		return "", false
	}
	return principal, true
}
