package observability

import (
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// Field limits applied to client controlled values before they reach logs or audit records.
const (
	maxPathLen      = 180
	maxUserAgentLen = 256
	maxAddrLen      = 64
)

// InjectLoggerMiddleware stores the base logger on the request context.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

// ProvenanceMiddleware records client address, user agent and request id for the audit trail.
// Mount it after chi's RequestID and RealIP.
func ProvenanceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestctx.WithProvenance(r.Context(), requestctx.Provenance{
			IPAddress: remoteHost(r.RemoteAddr),
			UserAgent: sanitize(r.UserAgent(), maxUserAgentLen),
			RequestID: middleware.GetReqID(r.Context()),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLoggerMiddleware writes one access log line per request and annotates the server span
// with the matched route and status. 5xx and panics log at error, 4xx at warn.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := scopedLogger(r)
			r = r.WithContext(requestctx.WithLogger(r.Context(), logger))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			started := time.Now()

			defer func() {
				if p := recover(); p != nil {
					logAccess(logger, r, rec, started, true)
					panic(p)
				}
				logAccess(logger, r, rec, started, false)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// scopedLogger tags the context logger with request and trace ids. The
// logging.googleapis.com/trace key lets Cloud Logging group lines under the trace.
func scopedLogger(r *http.Request) *zap.Logger {
	ctx := r.Context()
	info, _ := requestctx.Trace(ctx)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", sanitize(r.Method, 10)),
		zap.String("path", sanitize(r.URL.Path, maxPathLen)),
		zap.String("trace_id", info.TraceID),
	}
	if info.ProjectID != "" && info.TraceID != "" {
		fields = append(fields, zap.String("logging.googleapis.com/trace", "projects/"+info.ProjectID+"/traces/"+info.TraceID))
	}
	return requestctx.Logger(ctx).With(fields...)
}

func logAccess(logger *zap.Logger, r *http.Request, rec *statusRecorder, started time.Time, panicked bool) {
	status := rec.status
	if panicked && status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}
	route := routePattern(r)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}

	fields := []zap.Field{
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(started)),
		zap.Int64("bytes", rec.bytes),
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		fields = append(fields, zap.String("user_id", sanitize(identity.UID, 64)), zap.String("role", identity.PrimaryRole()))
	}

	level := zap.InfoLevel
	switch {
	case status >= http.StatusInternalServerError:
		level = zap.ErrorLevel
	case status >= http.StatusBadRequest:
		level = zap.WarnLevel
	}
	if ce := logger.Check(level, "request completed"); ce != nil {
		ce.Write(fields...)
	}
}

// RecoveryMiddleware turns a handler panic into a logged stack trace and a 500 envelope.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				switch p {
				case nil:
					return
				case http.ErrAbortHandler:
					panic(p)
				}
				logger := requestctx.Logger(r.Context())
				if logger == requestctx.NoopLogger() {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL.Path == "" {
		return "/"
	}
	return sanitize(r.URL.Path, maxPathLen)
}

func remoteHost(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitize(addr, maxAddrLen)
}

// sanitize drops control characters and keeps at most limit runes.
func sanitize(value string, limit int) string {
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}
