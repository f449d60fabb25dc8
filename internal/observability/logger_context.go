// Package observability carries request-scoped loggers and correlation ids through contexts.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// requestIDContextKey stores the originating request id so queue workers,
// providers and the orchestrator can correlate their logs.
type requestIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if lg, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext retrieves the request id from the context, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if rid, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return rid
	}
	return ""
}

// ContextWithAnalysis derives a context whose logger is tagged with the
// analysis id and, when present, the originating request id.
func ContextWithAnalysis(ctx context.Context, analysisID string, attrs ...any) context.Context {
	lg := LoggerFromContext(ctx).With(slog.String("analysis_id", analysisID))
	if rid := RequestIDFromContext(ctx); rid != "" && rid != analysisID {
		lg = lg.With(slog.String("request_id", rid))
	}
	if len(attrs) > 0 {
		lg = lg.With(attrs...)
	}
	return ContextWithLogger(ctx, lg)
}
