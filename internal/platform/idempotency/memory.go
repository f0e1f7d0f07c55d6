package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process memory for tests and memory:// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	id, now := storageKey(key), now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[id]; ok && !existing.expired(now) {
		return classify(existing, fingerprint)
	}
	record := pendingRecord(key, fingerprint, now, ttl)
	s.records[id] = record
	return Claim{Outcome: Acquired, Record: record}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id, now := storageKey(key), now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	switch {
	case !ok:
		record = pendingRecord(key, fingerprint, now, ttl)
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = replayableHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttlOrDefault(ttl))
	s.records[id] = record
	return nil
}

// Release forgets a pending key so the client can retry; another caller's record is left alone.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := storageKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[id].Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, record := range s.records {
		if limit > 0 && purged == limit {
			break
		}
		if record.expired(now) {
			delete(s.records, id)
			purged++
		}
	}
	return purged, nil
}
