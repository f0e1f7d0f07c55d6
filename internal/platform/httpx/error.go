// Package httpx holds the JSON envelope helpers shared by every HTTP handler.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// envelopeKeys cannot be overridden by Details.
var envelopeKeys = map[string]struct{}{
	"error":      {},
	"message":    {},
	"status":     {},
	"request_id": {},
	"trace_id":   {},
}

// Error is the API error envelope. Details are merged into the top level of the body.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an envelope; a zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, maxCodeLen),
		Message: singleLine(message, maxMessageLen),
		Status:  status,
	}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithDetails returns a copy of e carrying extra fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = maps.Clone(details)
	return e
}

// WriteError renders err, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := make(map[string]any, len(err.Details)+5)
	for key, value := range err.Details {
		if _, reserved := envelopeKeys[key]; !reserved {
			body[key] = value
		}
	}
	body["error"] = err.Code
	body["message"] = err.Message
	body["status"] = status
	if id := singleLine(middleware.GetReqID(ctx), maxIDLen); id != "" {
		body["request_id"] = id
	}
	if id := singleLine(requestctx.TraceID(ctx), maxIDLen); id != "" {
		body["trace_id"] = id
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// singleLine collapses whitespace runs and truncates to limit bytes.
func singleLine(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
