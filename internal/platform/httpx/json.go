package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxJSONBodyBytes is the body cap applied when DecodeJSON receives no explicit limit.
const MaxJSONBodyBytes = 1 << 20

var (
	// ErrEmptyBody is returned for a missing or whitespace-only body.
	ErrEmptyBody = errors.New("httpx: request body is empty")
	// ErrBodyTooLarge is returned when the body exceeds the limit.
	ErrBodyTooLarge = errors.New("httpx: request body too large")
	// ErrInvalidJSON is returned when the body is not a single well-formed JSON value matching dst.
	ErrInvalidJSON = errors.New("httpx: invalid json body")
)

// DecodeJSON reads at most limit bytes and strictly decodes them into dst, rejecting unknown
// fields and trailing data.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if r == nil || r.Body == nil {
		return ErrEmptyBody
	}
	if limit <= 0 {
		limit = MaxJSONBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if int64(len(data)) > limit {
		return ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyBody
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected trailing data", ErrInvalidJSON)
	}
	return nil
}

// WriteJSON encodes payload with the given status. A nil payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
