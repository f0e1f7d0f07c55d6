package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

const auditLogColumns = `audit_logs.id, audit_logs.actor_id, audit_logs.actor_email, audit_logs.actor_name,
	audit_logs.action, audit_logs.entity_type, audit_logs.entity_id, audit_logs.entity_name, audit_logs.diff,
	audit_logs.ip_hash, audit_logs.user_agent, audit_logs.request_id, audit_logs.created_at`

// AuditLogRepository appends and queries audit entries in Postgres. The table rejects
// UPDATE and DELETE through a trigger.
type AuditLogRepository struct {
	db *sql.DB
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs an AuditLogRepository.
func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	diff, err := json.Marshal(entry.Diff)
	if err != nil {
		return fmt.Errorf("audit append: encode diff: %w", err)
	}
	const query = `INSERT INTO audit_logs (
		id, actor_id, actor_email, actor_name, action, entity_type, entity_id, entity_name,
		diff, ip_hash, user_agent, request_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	// Audit entries are written on the pool, outside any caller transaction, so a rollback of the
	// audited operation never erases its trail and an audit failure never aborts it.
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, nullableText(entry.ActorID), entry.ActorEmail, entry.ActorName, entry.Action,
		entry.EntityType, entry.EntityID, entry.EntityName, diff, entry.IPHash, entry.UserAgent,
		entry.RequestID, entry.CreatedAt.UTC(),
	)
	return WrapError("audit_log.append", err)
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)

	var where whereBuilder
	if actor := strings.TrimSpace(filter.ActorID); actor != "" {
		if actor == repositories.SystemActor {
			where.add("audit_logs.actor_id IS NULL")
		} else {
			where.add("audit_logs.actor_id = ?", actor)
		}
	}
	if entityType := strings.TrimSpace(filter.EntityType); entityType != "" {
		where.add("audit_logs.entity_type = ?", entityType)
	}
	if entityID := strings.TrimSpace(filter.EntityID); entityID != "" {
		where.add("audit_logs.entity_id = ?", entityID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		where.add("audit_logs.action = ?", action)
	}
	if from := filter.DateRange.From; from != nil {
		where.add("audit_logs.created_at >= ?", from.UTC())
	}
	if to := filter.DateRange.To; to != nil {
		where.add("audit_logs.created_at <= ?", to.UTC())
	}
	where.keyset("audit_logs", cursor)

	query := `SELECT ` + auditLogColumns + ` FROM audit_logs` + where.sql() +
		` ORDER BY audit_logs.created_at DESC, audit_logs.id DESC` + where.limit(pageSize+1)

	rows, err := r.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, WrapError("audit_log.list", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditLogEntry, 0, pageSize)
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, WrapError("audit_log.list", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, WrapError("audit_log.list", err)
	}

	page := domain.CursorPage[domain.AuditLogEntry]{Items: entries}
	if len(entries) > pageSize {
		page.Items = entries[:pageSize]
		last := page.Items[pageSize-1]
		if page.NextPageToken, err = nextToken(true, last.CreatedAt, last.ID); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, err
		}
	}
	return page, nil
}

// Stats counts entries in [from, to] grouped independently by action, entity type and actor.
func (r *AuditLogRepository) Stats(ctx context.Context, from, to time.Time) (domain.AuditStats, error) {
	const query = `SELECT
			GROUPING(action), GROUPING(entity_type), GROUPING(actor_id),
			COALESCE(action, ''), COALESCE(entity_type, ''), COALESCE(actor_id, ''), COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY GROUPING SETS ((action), (entity_type), (actor_id), ())`

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return domain.AuditStats{}, WrapError("audit_log.stats", err)
	}
	defer rows.Close()

	stats := domain.AuditStats{
		From:         from.UTC(),
		To:           to.UTC(),
		ByAction:     map[string]int{},
		ByEntityType: map[string]int{},
		ByActor:      map[string]int{},
	}
	for rows.Next() {
		var (
			gAction, gEntity, gActor int
			action, entity, actor    string
			count                    int
		)
		if err := rows.Scan(&gAction, &gEntity, &gActor, &action, &entity, &actor, &count); err != nil {
			return domain.AuditStats{}, WrapError("audit_log.stats", err)
		}
		switch {
		case gAction == 0:
			stats.ByAction[action] = count
		case gEntity == 0:
			stats.ByEntityType[entity] = count
		case gActor == 0:
			if actor == "" {
				actor = repositories.SystemActor
			}
			stats.ByActor[actor] = count
		default:
			stats.Total = count
		}
	}
	if err := rows.Err(); err != nil {
		return domain.AuditStats{}, WrapError("audit_log.stats", err)
	}
	return stats, nil
}

func scanAuditLog(row rowScanner) (domain.AuditLogEntry, error) {
	var (
		entry   domain.AuditLogEntry
		actorID sql.NullString
		diff    []byte
	)
	err := row.Scan(
		&entry.ID, &actorID, &entry.ActorEmail, &entry.ActorName, &entry.Action, &entry.EntityType,
		&entry.EntityID, &entry.EntityName, &diff, &entry.IPHash, &entry.UserAgent, &entry.RequestID,
		&entry.CreatedAt,
	)
	if err != nil {
		return domain.AuditLogEntry{}, err
	}
	if len(diff) > 0 {
		if err := json.Unmarshal(diff, &entry.Diff); err != nil {
			return domain.AuditLogEntry{}, fmt.Errorf("decode diff: %w", err)
		}
	}
	entry.ActorID = actorID.String
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}
