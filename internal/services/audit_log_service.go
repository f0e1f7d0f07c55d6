package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	auditIDPrefix       = "aud_"
	defaultHasherPrefix = "sha256:"
	defaultStatsWindow  = 24 * time.Hour
	maxStatsWindow      = 31 * 24 * time.Hour
	auditMeterName      = "github.com/hanko-field/storefront/internal/services/audit"
)

type auditLogService struct {
	repo     repositories.AuditLogRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
	hashSalt string
	failures metric.Int64Counter
}

// AuditLogServiceDeps bundles constructor inputs for the audit trail recorder.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	HashSalt    string
	Meter       metric.Meter
}

// NewAuditLogService creates an audit recorder backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = newULID
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(auditMeterName)
	}
	failures, err := meter.Int64Counter("audit.record.failures", metric.WithDescription("Audit entries that could not be stored"))
	if err != nil {
		return nil, fmt.Errorf("audit log service: register metric: %w", err)
	}

	return &auditLogService{
		repo:     deps.Repository,
		clock:    func() time.Time { return clock().UTC() },
		newID:    newID,
		logger:   logger,
		hashSalt: deps.HashSalt,
		failures: failures,
	}, nil
}

// Record stores the minimal diff between Before and After. Nothing is written when no field
// changed. Storage failures are logged and counted, never returned.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	action := sanitizeText(record.Action, 64)
	entityType := sanitizeText(record.EntityType, 64)
	entityID := sanitizeText(record.EntityID, 128)
	if action == "" || entityType == "" || entityID == "" {
		s.logger(ctx, "audit.record.skipped", map[string]any{
			"reason": "missing action or entity",
			"action": action,
			"entity": entityType,
		})
		return
	}

	diff := computeDiff(record.Before, record.After)
	if len(diff) == 0 {
		return
	}

	entry := s.buildEntry(ctx, record, diff)
	entry.Action = action
	entry.EntityType = entityType
	entry.EntityID = entityID

	if err := s.repo.Append(ctx, entry); err != nil {
		s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
		s.logger(ctx, "audit.record.failed", map[string]any{
			"action": action,
			"entity": entityType,
			"id":     entityID,
			"error":  err.Error(),
		})
	}
}

// List returns audit entries newest first. Operators only.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	if err := requireOperator(filter.Actor); err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		return domain.CursorPage[AuditLogEntry]{}, validationError("date range start must not be after its end")
	}
	page, err := s.repo.List(ctx, repositories.AuditLogFilter{
		ActorID:    strings.TrimSpace(filter.ActorID),
		EntityType: strings.TrimSpace(filter.EntityType),
		EntityID:   strings.TrimSpace(filter.EntityID),
		Action:     strings.TrimSpace(filter.Action),
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[AuditLogEntry]{}, mapRepositoryError("audit_log.list", err)
	}
	return page, nil
}

// Stats aggregates the trailing window. A non-positive window means the last 24 hours.
func (s *auditLogService) Stats(ctx context.Context, actor Actor, window time.Duration) (AuditStats, error) {
	if err := requireOperator(actor); err != nil {
		return AuditStats{}, err
	}
	if window <= 0 {
		window = defaultStatsWindow
	}
	if window > maxStatsWindow {
		return AuditStats{}, validationError("stats window must not exceed %s", maxStatsWindow)
	}
	to := s.clock()
	stats, err := s.repo.Stats(ctx, to.Add(-window), to)
	if err != nil {
		return AuditStats{}, mapRepositoryError("audit_log.stats", err)
	}
	return stats, nil
}

func (s *auditLogService) buildEntry(ctx context.Context, record AuditLogRecord, diff map[string]domain.AuditDiff) domain.AuditLogEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}

	provenance := requestctx.ProvenanceFrom(ctx)
	ip := firstNonEmpty(record.IPAddress, provenance.IPAddress)
	userAgent := firstNonEmpty(record.UserAgent, provenance.UserAgent)
	requestID := firstNonEmpty(record.RequestID, provenance.RequestID)

	entry := domain.AuditLogEntry{
		ID:         auditIDPrefix + s.newID(),
		ActorID:    strings.TrimSpace(record.Actor.ID),
		ActorEmail: sanitizeText(record.Actor.Email, 254),
		ActorName:  sanitizeText(record.Actor.Name, 128),
		EntityName: sanitizeText(record.EntityName, 256),
		Diff:       diff,
		UserAgent:  sanitizeText(userAgent, 256),
		RequestID:  sanitizeText(requestID, 128),
		CreatedAt:  occurred.UTC(),
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		entry.IPHash = defaultHasherPrefix + s.hashString(ip)
	}
	return entry
}

func (s *auditLogService) hashString(value string) string {
	sum := sha256.Sum256([]byte(s.hashSalt + value))
	return hex.EncodeToString(sum[:])
}

// computeDiff returns the fields whose values differ between before and after. A key present on
// one side only is reported with nil on the other.
func computeDiff(before, after map[string]any) map[string]domain.AuditDiff {
	diff := make(map[string]domain.AuditDiff)
	for key, prev := range before {
		next := after[key]
		if sameValue(prev, next) {
			continue
		}
		diff[key] = domain.AuditDiff{Before: prev, After: next}
	}
	for key, next := range after {
		if _, ok := before[key]; ok {
			continue
		}
		if next == nil {
			continue
		}
		diff[key] = domain.AuditDiff{Before: nil, After: next}
	}
	return diff
}

func sameValue(a, b any) bool {
	left, errL := json.Marshal(a)
	right, errR := json.Marshal(b)
	if errL != nil || errR != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(left, right)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
