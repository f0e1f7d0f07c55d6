// Package idempotency makes mutating endpoints safe to retry: a repeated Idempotency-Key from
// the same caller replays the first response instead of creating a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long completed responses remain replayable.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle of a stored key: pending while the handler runs, then completed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Outcome tells the middleware what to do with a claimed key.
type Outcome int

const (
	// Acquired: the caller owns the key and runs the handler.
	Acquired Outcome = iota
	// Replay: a completed response exists and is sent back as-is.
	Replay
	// InFlight: another request holds the key.
	InFlight
)

// ErrFingerprintMismatch means the key was first used for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome Outcome
	Record  Record
}

// Record is the persisted state of one key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the HTTP response captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists claims and responses. Keys arrive already scoped to the caller.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)),
	}
}

// classify decides the outcome for a live record held by someone else.
func classify(existing Record, fingerprint string) (Claim, error) {
	switch {
	case existing.Fingerprint != fingerprint:
		return Claim{}, ErrFingerprintMismatch
	case existing.Status == StatusCompleted:
		return Claim{Outcome: Replay, Record: existing}, nil
	default:
		return Claim{Outcome: InFlight, Record: existing}, nil
	}
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// storageKey hashes the scoped key so raw client keys never reach storage.
func storageKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var unreplayableHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Date":              true,
	"Keep-Alive":        true,
	"Trailer":           true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// replayableHeaders drops hop-by-hop and per-response headers before storage.
func replayableHeaders(header http.Header) map[string][]string {
	var out map[string][]string
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if unreplayableHeaders[name] {
			continue
		}
		if out == nil {
			out = make(map[string][]string, len(header))
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}
