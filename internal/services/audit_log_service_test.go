package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
	"github.com/hanko-field/storefront/internal/repositories"
)

type stubAuditRepo struct {
	appendFn func(context.Context, domain.AuditLogEntry) error
	statsFn  func(context.Context, time.Time, time.Time) (domain.AuditStats, error)
	entries  []domain.AuditLogEntry
	filters  []repositories.AuditLogFilter
}

func (s *stubAuditRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, entry)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubAuditRepo) List(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	s.filters = append(s.filters, filter)
	return domain.CursorPage[domain.AuditLogEntry]{Items: s.entries}, nil
}

func (s *stubAuditRepo) Stats(ctx context.Context, from, to time.Time) (domain.AuditStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, from, to)
	}
	return domain.AuditStats{From: from, To: to}, nil
}

func newTestAuditService(t *testing.T, repo *stubAuditRepo, logger func(context.Context, string, map[string]any)) AuditLogService {
	t.Helper()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01TEST" },
		Logger:      logger,
		HashSalt:    "pepper",
	})
	if err != nil {
		t.Fatalf("new audit service: %v", err)
	}
	return svc
}

func TestAuditRecord_StoresOnlyChangedFields(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := newTestAuditService(t, repo, nil)

	svc.Record(context.Background(), AuditLogRecord{
		Actor:      testAdmin,
		Action:     "order.status.update",
		EntityType: "order",
		EntityID:   "ord_1",
		EntityName: "MG5X-AAAAA",
		Before:     map[string]any{"order_status": "pending", "total": 1000, "tags": []string{"a"}, "note": "x"},
		After:      map[string]any{"order_status": "shipped", "total": 1000, "tags": []string{"a"}, "carrier": "dhl"},
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID != "aud_01TEST" || entry.ActorID != testAdmin.ID || entry.ActorEmail != testAdmin.Email {
		t.Fatalf("unexpected entry header %+v", entry)
	}
	if len(entry.Diff) != 3 {
		t.Fatalf("expected 3 changed fields, got %+v", entry.Diff)
	}
	if d := entry.Diff["order_status"]; d.Before != "pending" || d.After != "shipped" {
		t.Fatalf("unexpected order_status diff %+v", d)
	}
	if d := entry.Diff["note"]; d.Before != "x" || d.After != nil {
		t.Fatalf("removed key must diff to nil, got %+v", d)
	}
	if d := entry.Diff["carrier"]; d.Before != nil || d.After != "dhl" {
		t.Fatalf("added key must diff from nil, got %+v", d)
	}
}

func TestAuditRecord_NoDiffWritesNothing(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := newTestAuditService(t, repo, nil)

	svc.Record(context.Background(), AuditLogRecord{
		Actor:      testAdmin,
		Action:     "order.status.update",
		EntityType: "order",
		EntityID:   "ord_1",
		Before:     map[string]any{"order_status": "pending", "count": 1},
		After:      map[string]any{"order_status": "pending", "count": 1.0},
	})
	svc.Record(context.Background(), AuditLogRecord{Action: "noop", EntityType: "order", EntityID: "ord_1"})

	if len(repo.entries) != 0 {
		t.Fatalf("expected no entries, got %+v", repo.entries)
	}
}

func TestAuditRecord_SwallowsStorageFailures(t *testing.T) {
	repo := &stubAuditRepo{appendFn: func(context.Context, domain.AuditLogEntry) error {
		return repositories.NewError("audit_log.append", repositories.ErrorKindUnavailable, "down", nil)
	}}
	var events []string
	svc := newTestAuditService(t, repo, func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	})

	svc.Record(context.Background(), AuditLogRecord{
		Action: "order.status.update", EntityType: "order", EntityID: "ord_1",
		Before: map[string]any{"order_status": "pending"},
		After:  map[string]any{"order_status": "shipped"},
	})

	if len(events) != 1 || events[0] != "audit.record.failed" {
		t.Fatalf("expected failure to be logged, got %v", events)
	}
}

func TestAuditRecord_UsesRequestProvenance(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := newTestAuditService(t, repo, nil)
	ctx := requestctx.WithProvenance(context.Background(), requestctx.Provenance{
		IPAddress: "203.0.113.9",
		UserAgent: "curl/8.0",
		RequestID: "req-1",
	})

	svc.Record(ctx, AuditLogRecord{
		Action: "inventory.restock", EntityType: "product", EntityID: "prod_1",
		Before: map[string]any{"stock": 1},
		After:  map[string]any{"stock": 5},
	})

	entry := repo.entries[0]
	if entry.UserAgent != "curl/8.0" || entry.RequestID != "req-1" {
		t.Fatalf("expected provenance copied, got %+v", entry)
	}
	if !strings.HasPrefix(entry.IPHash, "sha256:") || strings.Contains(entry.IPHash, "203.0.113.9") {
		t.Fatalf("expected hashed ip, got %q", entry.IPHash)
	}
	if entry.ActorID != "" {
		t.Fatalf("expected system actor, got %q", entry.ActorID)
	}
}

func TestAuditList_OperatorsOnly(t *testing.T) {
	repo := &stubAuditRepo{}
	svc := newTestAuditService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.List(ctx, AuditLogFilter{Actor: testCustomer}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	from := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(-time.Hour)
	if _, err := svc.List(ctx, AuditLogFilter{Actor: testAdmin, DateRange: domain.RangeQuery[time.Time]{From: &from, To: &to}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation for inverted range, got %v", err)
	}
	if _, err := svc.List(ctx, AuditLogFilter{Actor: testAdmin, ActorID: " staff_1 ", EntityType: "order", Action: "order.status.update"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	got := repo.filters[len(repo.filters)-1]
	if got.ActorID != "staff_1" || got.EntityType != "order" || got.Action != "order.status.update" {
		t.Fatalf("unexpected repository filter %+v", got)
	}
}

func TestAuditStats_DefaultsToLastDay(t *testing.T) {
	var gotFrom, gotTo time.Time
	repo := &stubAuditRepo{statsFn: func(_ context.Context, from, to time.Time) (domain.AuditStats, error) {
		gotFrom, gotTo = from, to
		return domain.AuditStats{From: from, To: to, Total: 2}, nil
	}}
	svc := newTestAuditService(t, repo, nil)

	stats, err := svc.Stats(context.Background(), testAdmin, 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || gotTo.Sub(gotFrom) != 24*time.Hour {
		t.Fatalf("expected 24h window, got %s..%s", gotFrom, gotTo)
	}
	if _, err := svc.Stats(context.Background(), testCustomer, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Stats(context.Background(), testAdmin, 90*24*time.Hour); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation for oversized window, got %v", err)
	}
}

func TestAuditStats_CountsSystemActor(t *testing.T) {
	env := newTestEnv(t)
	order := createTestOrder(t, env)
	ctx := context.Background()
	env.now = time.Now().UTC()

	if _, err := env.orders.SetOrderStatus(ctx, SetOrderStatusCommand{Actor: testAdmin, OrderID: order.ID, Status: domain.OrderStatusProcessing}); err != nil {
		t.Fatalf("set status: %v", err)
	}
	env.audit.Record(ctx, AuditLogRecord{
		Action: "order.payment.paid", EntityType: "order", EntityID: order.ID,
		Before: map[string]any{"payment_status": "pending"},
		After:  map[string]any{"payment_status": "paid"},
	})

	stats, err := env.audit.Stats(ctx, testAdmin, time.Hour)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.ByActor[testAdmin.ID] != 1 || stats.ByActor[repositories.SystemActor] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.ByEntityType["order"] != 2 {
		t.Fatalf("unexpected entity counts %+v", stats.ByEntityType)
	}
}
