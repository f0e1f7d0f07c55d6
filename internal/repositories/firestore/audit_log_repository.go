// Package firestore hosts the Firestore-backed append-only audit log sink.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

const auditLogsCollection = "auditLogs"

// AuditLogRepository appends audit entries to a Firestore collection. Documents are created
// with Create so an existing id is never overwritten.
type AuditLogRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs the Firestore audit sink.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository: firestore provider is required")
	}
	return &AuditLogRepository{provider: provider}, nil
}

type auditDiffDocument struct {
	Before any `firestore:"before"`
	After  any `firestore:"after"`
}

type auditLogDocument struct {
	ActorID    string                       `firestore:"actorId"`
	ActorEmail string                       `firestore:"actorEmail,omitempty"`
	ActorName  string                       `firestore:"actorName,omitempty"`
	Action     string                       `firestore:"action"`
	EntityType string                       `firestore:"entityType"`
	EntityID   string                       `firestore:"entityId"`
	EntityName string                       `firestore:"entityName,omitempty"`
	Diff       map[string]auditDiffDocument `firestore:"diff"`
	IPHash     string                       `firestore:"ipHash,omitempty"`
	UserAgent  string                       `firestore:"userAgent,omitempty"`
	RequestID  string                       `firestore:"requestId,omitempty"`
	CreatedAt  time.Time                    `firestore:"createdAt"`
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit log repository: id is required")
	}
	coll, err := r.provider.Collection(ctx, auditLogsCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Create(ctx, encodeAuditLog(entry)); err != nil {
		return pfirestore.WrapError("audit_logs.append", err)
	}
	return nil
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)

	coll, err := r.provider.Collection(ctx, auditLogsCollection)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	q := coll.Query
	switch actor := strings.TrimSpace(filter.ActorID); actor {
	case "":
	case repositories.SystemActor:
		q = q.Where("actorId", "==", "")
	default:
		q = q.Where("actorId", "==", actor)
	}
	if v := strings.TrimSpace(filter.EntityType); v != "" {
		q = q.Where("entityType", "==", v)
	}
	if v := strings.TrimSpace(filter.EntityID); v != "" {
		q = q.Where("entityId", "==", v)
	}
	if v := strings.TrimSpace(filter.Action); v != "" {
		q = q.Where("action", "==", v)
	}
	if from := filter.DateRange.From; from != nil {
		q = q.Where("createdAt", ">=", from.UTC())
	}
	if to := filter.DateRange.To; to != nil {
		q = q.Where("createdAt", "<=", to.UTC())
	}
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
	}
	q = q.Limit(pageSize + 1)

	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("audit_logs.list", err)
	}

	items := make([]domain.AuditLogEntry, 0, len(docs))
	for _, snap := range docs {
		entry, err := decodeAuditLog(snap)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
		items = append(items, entry)
	}

	page := domain.CursorPage[domain.AuditLogEntry]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// Stats scans the window and counts locally; Firestore aggregation queries cannot group.
func (r *AuditLogRepository) Stats(ctx context.Context, from, to time.Time) (domain.AuditStats, error) {
	coll, err := r.provider.Collection(ctx, auditLogsCollection)
	if err != nil {
		return domain.AuditStats{}, err
	}
	iter := coll.Where("createdAt", ">=", from.UTC()).Where("createdAt", "<=", to.UTC()).
		Select("actorId", "action", "entityType").Documents(ctx)
	defer iter.Stop()

	stats := domain.AuditStats{
		From:         from.UTC(),
		To:           to.UTC(),
		ByAction:     map[string]int{},
		ByEntityType: map[string]int{},
		ByActor:      map[string]int{},
	}
	for {
		snap, err := iter.Next()
		if err != nil {
			if isDone(err) {
				break
			}
			return domain.AuditStats{}, pfirestore.WrapError("audit_logs.stats", err)
		}
		var doc auditLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.AuditStats{}, pfirestore.WrapError("audit_logs.stats", err)
		}
		actor := doc.ActorID
		if actor == "" {
			actor = repositories.SystemActor
		}
		stats.Total++
		stats.ByAction[doc.Action]++
		stats.ByEntityType[doc.EntityType]++
		stats.ByActor[actor]++
	}
	return stats, nil
}

func encodeAuditLog(entry domain.AuditLogEntry) auditLogDocument {
	diff := make(map[string]auditDiffDocument, len(entry.Diff))
	for field, change := range entry.Diff {
		diff[field] = auditDiffDocument{Before: change.Before, After: change.After}
	}
	return auditLogDocument{
		ActorID:    entry.ActorID,
		ActorEmail: entry.ActorEmail,
		ActorName:  entry.ActorName,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		EntityName: entry.EntityName,
		Diff:       diff,
		IPHash:     entry.IPHash,
		UserAgent:  entry.UserAgent,
		RequestID:  entry.RequestID,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func decodeAuditLog(snap *firestore.DocumentSnapshot) (domain.AuditLogEntry, error) {
	var doc auditLogDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.AuditLogEntry{}, pfirestore.WrapError("audit_logs.decode", err)
	}
	diff := make(map[string]domain.AuditDiff, len(doc.Diff))
	for field, change := range doc.Diff {
		diff[field] = domain.AuditDiff{Before: change.Before, After: change.After}
	}
	return domain.AuditLogEntry{
		ID:         snap.Ref.ID,
		ActorID:    doc.ActorID,
		ActorEmail: doc.ActorEmail,
		ActorName:  doc.ActorName,
		Action:     doc.Action,
		EntityType: doc.EntityType,
		EntityID:   doc.EntityID,
		EntityName: doc.EntityName,
		Diff:       diff,
		IPHash:     doc.IPHash,
		UserAgent:  doc.UserAgent,
		RequestID:  doc.RequestID,
		CreatedAt:  doc.CreatedAt.UTC(),
	}, nil
}

func isDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
