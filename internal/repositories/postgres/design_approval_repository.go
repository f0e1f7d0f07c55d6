package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

const designApprovalColumns = `design_approvals.id, design_approvals.order_item_id, design_approvals.order_id,
	design_approvals.design_asset_ref, design_approvals.status, design_approvals.customer_feedback,
	design_approvals.revision_count, design_approvals.approved_at, design_approvals.uploaded_by,
	design_approvals.created_at, design_approvals.updated_at`

// DesignApprovalRepository persists design approvals in Postgres.
type DesignApprovalRepository struct {
	db *sql.DB
}

var _ repositories.DesignApprovalRepository = (*DesignApprovalRepository)(nil)

// NewDesignApprovalRepository constructs a DesignApprovalRepository.
func NewDesignApprovalRepository(db *sql.DB) *DesignApprovalRepository {
	return &DesignApprovalRepository{db: db}
}

func (r *DesignApprovalRepository) Insert(ctx context.Context, approval domain.DesignApproval) error {
	const query = `INSERT INTO design_approvals (
		id, order_item_id, order_id, design_asset_ref, status, customer_feedback,
		revision_count, approved_at, uploaded_by, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		approval.ID, approval.OrderItemID, approval.OrderID, nullString(approval.DesignAssetRef),
		string(approval.Status), nullString(approval.CustomerFeedback), approval.RevisionCount,
		nullTime(approval.ApprovedAt), approval.UploadedBy, approval.CreatedAt.UTC(), approval.UpdatedAt.UTC(),
	)
	return WrapError("design_approval.insert", err)
}

// Update overwrites the mutable fields. The revision counter is never lowered.
func (r *DesignApprovalRepository) Update(ctx context.Context, approval domain.DesignApproval) error {
	const query = `UPDATE design_approvals SET
		design_asset_ref = $2,
		status = $3,
		customer_feedback = $4,
		revision_count = GREATEST(revision_count, $5),
		approved_at = $6,
		uploaded_by = $7,
		updated_at = $8
		WHERE order_item_id = $1`

	res, err := conn(ctx, r.db).ExecContext(ctx, query,
		approval.OrderItemID, nullString(approval.DesignAssetRef), string(approval.Status),
		nullString(approval.CustomerFeedback), approval.RevisionCount, nullTime(approval.ApprovedAt),
		approval.UploadedBy, approval.UpdatedAt.UTC(),
	)
	if err != nil {
		return WrapError("design_approval.update", err)
	}
	return requireRow(res, "design_approval.update")
}

func (r *DesignApprovalRepository) FindByOrderItem(ctx context.Context, orderItemID string) (domain.DesignApproval, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+designApprovalColumns+` FROM design_approvals WHERE order_item_id = $1`, orderItemID)
	approval, err := scanDesignApproval(row)
	if err != nil {
		return domain.DesignApproval{}, WrapError("design_approval.find", err)
	}
	return approval, nil
}

func (r *DesignApprovalRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.DesignApproval, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `SELECT `+designApprovalColumns+` FROM design_approvals
		WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, WrapError("design_approval.list_by_order", err)
	}
	defer rows.Close()

	var out []domain.DesignApproval
	for rows.Next() {
		approval, err := scanDesignApproval(rows)
		if err != nil {
			return nil, WrapError("design_approval.list_by_order", err)
		}
		out = append(out, approval)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("design_approval.list_by_order", err)
	}
	return out, nil
}

func (r *DesignApprovalRepository) List(ctx context.Context, filter repositories.DesignApprovalFilter) (domain.CursorPage[domain.DesignApproval], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.DesignApproval]{}, err
	}
	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)

	var where whereBuilder
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		where.add("design_approvals.status = ANY(?)", pq.Array(statuses))
	}
	if orderID := strings.TrimSpace(filter.OrderID); orderID != "" {
		where.add("design_approvals.order_id = ?", orderID)
	}
	where.keyset("design_approvals", cursor)

	query := `SELECT ` + designApprovalColumns + ` FROM design_approvals` + where.sql() +
		` ORDER BY design_approvals.created_at DESC, design_approvals.id DESC` + where.limit(pageSize+1)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, where.args...)
	if err != nil {
		return domain.CursorPage[domain.DesignApproval]{}, WrapError("design_approval.list", err)
	}
	defer rows.Close()

	items := make([]domain.DesignApproval, 0, pageSize)
	for rows.Next() {
		approval, err := scanDesignApproval(rows)
		if err != nil {
			return domain.CursorPage[domain.DesignApproval]{}, WrapError("design_approval.list", err)
		}
		items = append(items, approval)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.DesignApproval]{}, WrapError("design_approval.list", err)
	}

	page := domain.CursorPage[domain.DesignApproval]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		last := page.Items[pageSize-1]
		if page.NextPageToken, err = nextToken(true, last.CreatedAt, last.ID); err != nil {
			return domain.CursorPage[domain.DesignApproval]{}, err
		}
	}
	return page, nil
}

func scanDesignApproval(row rowScanner) (domain.DesignApproval, error) {
	var (
		approval   domain.DesignApproval
		assetRef   sql.NullString
		status     string
		feedback   sql.NullString
		approvedAt sql.NullTime
	)
	err := row.Scan(
		&approval.ID, &approval.OrderItemID, &approval.OrderID, &assetRef, &status, &feedback,
		&approval.RevisionCount, &approvedAt, &approval.UploadedBy, &approval.CreatedAt, &approval.UpdatedAt,
	)
	if err != nil {
		return domain.DesignApproval{}, err
	}
	if approval.Status, err = domain.ParseDesignApprovalStatus(status); err != nil {
		return domain.DesignApproval{}, err
	}
	approval.DesignAssetRef = stringPtr(assetRef)
	approval.CustomerFeedback = stringPtr(feedback)
	approval.ApprovedAt = timePtr(approvedAt)
	approval.CreatedAt = approval.CreatedAt.UTC()
	approval.UpdatedAt = approval.UpdatedAt.UTC()
	return approval, nil
}
