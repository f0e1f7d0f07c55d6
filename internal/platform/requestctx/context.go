// Package requestctx carries per-request values (logger, trace, provenance) between the HTTP
// middleware and the services that log or audit on behalf of a request.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey     struct{}
	traceKey      struct{}
	provenanceKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context parsed from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Provenance records where a request came from. The audit recorder falls back to it when a
// record does not carry its own IP, user agent or request id.
type Provenance struct {
	IPAddress string
	UserAgent string
	RequestID string
}

func with[K any, V any](ctx context.Context, key K, value V) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func get[K any, V any](ctx context.Context, key K) (V, bool) {
	var zero V
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(V)
	return v, ok
}

// WithLogger stores logger on ctx; nil stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey{}, logger)
}

// Logger returns the request-scoped logger or the shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := get[loggerKey, *zap.Logger](ctx, loggerKey{}); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger returns when none is attached.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return get[traceKey, TraceInfo](ctx, traceKey{})
}

// TraceID returns the trace id, or "" outside a traced request.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return with(ctx, provenanceKey{}, p)
}

// ProvenanceFrom returns the request provenance, zero-valued when absent.
func ProvenanceFrom(ctx context.Context) Provenance {
	p, _ := get[provenanceKey, Provenance](ctx, provenanceKey{})
	return p
}
