package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	auditActionDesignUpload   = "design.upload"
	auditActionDesignApprove  = "design.approve"
	auditActionDesignRevision = "design.request_revision"
	auditEntityDesignApproval = "design_approval"

	maxFeedbackLength = 2000
)

// DesignApprovalServiceDeps bundles collaborators for the design approval service.
type DesignApprovalServiceDeps struct {
	Approvals     repositories.DesignApprovalRepository
	Orders        repositories.OrderRepository
	Assets        DesignAssetStore
	UnitOfWork    repositories.UnitOfWork
	Audit         AuditLogService
	Notifications *NotificationDispatcher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type designApprovalService struct {
	approvals     repositories.DesignApprovalRepository
	orders        repositories.OrderRepository
	assets        DesignAssetStore
	unitOfWork    repositories.UnitOfWork
	audit         AuditLogService
	notifications *NotificationDispatcher
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewDesignApprovalService wires dependencies into a DesignApprovalService.
func NewDesignApprovalService(deps DesignApprovalServiceDeps) (DesignApprovalService, error) {
	if deps.Approvals == nil {
		return nil, errors.New("design approval service: approval repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("design approval service: order repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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
	return &designApprovalService{
		approvals:     deps.Approvals,
		orders:        deps.Orders,
		assets:        deps.Assets,
		unitOfWork:    unit,
		audit:         deps.Audit,
		notifications: deps.Notifications,
		clock:         func() time.Time { return clock().UTC() },
		newID:         newID,
		logger:        logger,
	}, nil
}

// UploadDesign attaches artwork to an order item and hands it to the customer for review.
// Uploading over an approved design reopens it for approval.
func (s *designApprovalService) UploadDesign(ctx context.Context, cmd UploadDesignCommand) (DesignApproval, error) {
	if err := requireOperator(cmd.Actor); err != nil {
		return DesignApproval{}, err
	}
	itemID := strings.TrimSpace(cmd.OrderItemID)
	if itemID == "" {
		return DesignApproval{}, validationError("order item id is required")
	}
	if cmd.Asset == nil && strings.TrimSpace(cmd.AssetRef) == "" {
		return DesignApproval{}, validationError("design asset is required")
	}
	item, err := s.orders.FindItem(ctx, itemID)
	if err != nil {
		return DesignApproval{}, mapRepositoryError("order_item.get", err)
	}

	ref, err := s.storeAsset(ctx, item, cmd)
	if err != nil {
		return DesignApproval{}, err
	}

	var before, after DesignApproval
	now := s.clock()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.approvals.FindByOrderItem(txCtx, item.ID)
		switch {
		case repositories.IsNotFound(err):
			after = DesignApproval{
				ID:             designApprovalIDPrefix + s.newID(),
				OrderItemID:    item.ID,
				OrderID:        item.OrderID,
				DesignAssetRef: valuePtr(ref),
				Status:         domain.DesignStatusPendingApproval,
				UploadedBy:     cmd.Actor.ID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return mapRepositoryError("design_approval.insert", s.approvals.Insert(txCtx, after))
		case err != nil:
			return mapRepositoryError("design_approval.get", err)
		}
		before = existing
		after = existing
		after.DesignAssetRef = valuePtr(ref)
		after.Status = domain.DesignStatusPendingApproval
		after.CustomerFeedback = nil
		after.UploadedBy = cmd.Actor.ID
		after.UpdatedAt = now
		return mapRepositoryError("design_approval.update", s.approvals.Update(txCtx, after))
	})
	if err != nil {
		s.discardAsset(ctx, cmd, ref)
		return DesignApproval{}, err
	}

	s.logger(ctx, "design.uploaded", map[string]any{
		"orderItemId": item.ID,
		"approvalId":  after.ID,
		"revision":    after.RevisionCount,
	})
	s.recordAudit(ctx, cmd.Actor, auditActionDesignUpload, after, item.ProductName, approvalFields(before), approvalFields(after))
	if order, err := s.orders.FindByID(ctx, item.OrderID); err == nil {
		s.notify(ctx, NotificationEvent{Kind: NotificationDesignUploaded, Order: order, CurrentStatus: string(after.Status)})
	}
	return after, nil
}

func (s *designApprovalService) storeAsset(ctx context.Context, item OrderItem, cmd UploadDesignCommand) (string, error) {
	if cmd.Asset == nil {
		return strings.TrimSpace(cmd.AssetRef), nil
	}
	if s.assets == nil {
		return "", validationError("design asset uploads are not configured")
	}
	upload := *cmd.Asset
	upload.OrderID = item.OrderID
	upload.OrderItemID = item.ID
	ref, err := s.assets.Put(ctx, upload)
	if err != nil {
		if errors.Is(err, ErrValidation) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &PersistenceError{Op: "design_asset.put", Err: err}
	}
	return ref, nil
}

// discardAsset removes an object stored for an upload whose approval update failed.
// Pre-existing references passed by the caller are never touched.
func (s *designApprovalService) discardAsset(ctx context.Context, cmd UploadDesignCommand, ref string) {
	if cmd.Asset == nil || s.assets == nil {
		return
	}
	if err := s.assets.Delete(context.WithoutCancel(ctx), ref); err != nil {
		s.logger(ctx, "design.asset.orphaned", map[string]any{
			"orderItemId": cmd.OrderItemID,
			"assetRef":    ref,
			"error":       err.Error(),
		})
	}
}

// Approve records the customer's sign-off. Approving an approved design is a no-op.
func (s *designApprovalService) Approve(ctx context.Context, cmd DesignDecisionCommand) (DesignApproval, error) {
	if err := requireCustomer(cmd.Actor); err != nil {
		return DesignApproval{}, err
	}
	item, err := s.authorizeItem(ctx, cmd.Actor, cmd.OrderItemID, false)
	if err != nil {
		return DesignApproval{}, err
	}

	var before, after DesignApproval
	now := s.clock()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.approvals.FindByOrderItem(txCtx, item.ID)
		if err != nil {
			return mapRepositoryError("design_approval.get", err)
		}
		before, after = current, current
		if current.Status == domain.DesignStatusApproved {
			return nil
		}
		if !current.Status.CustomerCanDecide() {
			return ErrInvalidState
		}
		after.Status = domain.DesignStatusApproved
		if after.ApprovedAt == nil {
			after.ApprovedAt = valuePtr(now)
		}
		after.UpdatedAt = now
		return mapRepositoryError("design_approval.update", s.approvals.Update(txCtx, after))
	})
	if err != nil {
		return DesignApproval{}, err
	}
	s.recordAudit(ctx, cmd.Actor, auditActionDesignApprove, after, item.ProductName, approvalFields(before), approvalFields(after))
	return after, nil
}

// RequestRevision sends the design back to the operators with the customer's feedback.
func (s *designApprovalService) RequestRevision(ctx context.Context, cmd DesignDecisionCommand) (DesignApproval, error) {
	if err := requireCustomer(cmd.Actor); err != nil {
		return DesignApproval{}, err
	}
	feedback := sanitizeText(cmd.Feedback, maxFeedbackLength)
	if feedback == "" {
		return DesignApproval{}, validationError("feedback is required when requesting a revision")
	}
	item, err := s.authorizeItem(ctx, cmd.Actor, cmd.OrderItemID, false)
	if err != nil {
		return DesignApproval{}, err
	}

	var before, after DesignApproval
	now := s.clock()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.approvals.FindByOrderItem(txCtx, item.ID)
		if err != nil {
			return mapRepositoryError("design_approval.get", err)
		}
		if !current.Status.CustomerCanDecide() {
			return ErrInvalidState
		}
		before, after = current, current
		after.Status = domain.DesignStatusRevisionRequested
		after.CustomerFeedback = valuePtr(feedback)
		after.RevisionCount = current.RevisionCount + 1
		after.UpdatedAt = now
		return mapRepositoryError("design_approval.update", s.approvals.Update(txCtx, after))
	})
	if err != nil {
		return DesignApproval{}, err
	}
	s.logger(ctx, "design.revision_requested", map[string]any{
		"orderItemId": item.ID,
		"revision":    after.RevisionCount,
	})
	s.recordAudit(ctx, cmd.Actor, auditActionDesignRevision, after, item.ProductName, approvalFields(before), approvalFields(after))
	return after, nil
}

// ListPending returns approvals awaiting operator work: no artwork yet or a revision requested.
func (s *designApprovalService) ListPending(ctx context.Context, filter PendingDesignFilter) (domain.CursorPage[DesignApproval], error) {
	if err := requireOperator(filter.Actor); err != nil {
		return domain.CursorPage[DesignApproval]{}, err
	}
	page, err := s.approvals.List(ctx, repositories.DesignApprovalFilter{
		Statuses:   []domain.DesignApprovalStatus{domain.DesignStatusPendingDesign, domain.DesignStatusRevisionRequested},
		OrderID:    strings.TrimSpace(filter.OrderID),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[DesignApproval]{}, mapRepositoryError("design_approval.list", err)
	}
	return page, nil
}

func (s *designApprovalService) Get(ctx context.Context, actor Actor, orderItemID string) (DesignApproval, error) {
	if err := requireCustomer(actor); err != nil {
		return DesignApproval{}, err
	}
	item, err := s.authorizeItem(ctx, actor, orderItemID, true)
	if err != nil {
		return DesignApproval{}, err
	}
	approval, err := s.approvals.FindByOrderItem(ctx, item.ID)
	if err != nil {
		return DesignApproval{}, mapRepositoryError("design_approval.get", err)
	}
	return approval, nil
}

func (s *designApprovalService) ListForOrder(ctx context.Context, actor Actor, orderID string) ([]DesignApproval, error) {
	if err := requireCustomer(actor); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, validationError("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError("order.get", err)
	}
	if !actor.IsOperator() && order.CustomerID != actor.ID {
		return nil, ErrForbidden
	}
	approvals, err := s.approvals.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError("design_approval.list", err)
	}
	return approvals, nil
}

// authorizeItem resolves the parent order of an item and checks the actor owns it.
func (s *designApprovalService) authorizeItem(ctx context.Context, actor Actor, orderItemID string, allowOperator bool) (OrderItem, error) {
	orderItemID = strings.TrimSpace(orderItemID)
	if orderItemID == "" {
		return OrderItem{}, validationError("order item id is required")
	}
	item, err := s.orders.FindItem(ctx, orderItemID)
	if err != nil {
		return OrderItem{}, mapRepositoryError("order_item.get", err)
	}
	if allowOperator && actor.IsOperator() {
		return item, nil
	}
	order, err := s.orders.FindByID(ctx, item.OrderID)
	if err != nil {
		return OrderItem{}, mapRepositoryError("order.get", err)
	}
	if order.CustomerID != actor.ID {
		return OrderItem{}, ErrForbidden
	}
	return item, nil
}

func (s *designApprovalService) recordAudit(ctx context.Context, actor Actor, action string, approval DesignApproval, name string, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      actor,
		Action:     action,
		EntityType: auditEntityDesignApproval,
		EntityID:   approval.ID,
		EntityName: name,
		Before:     before,
		After:      after,
	})
}

func (s *designApprovalService) notify(ctx context.Context, event NotificationEvent) {
	if s.notifications == nil {
		return
	}
	s.notifications.Dispatch(ctx, event)
}

func (s *designApprovalService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

// approvalFields flattens the audited fields. A zero approval yields nil so creation is
// recorded against an empty before state.
func approvalFields(a DesignApproval) map[string]any {
	if a.ID == "" {
		return nil
	}
	fields := map[string]any{
		"status":         string(a.Status),
		"design_asset":   derefString(a.DesignAssetRef),
		"feedback":       derefString(a.CustomerFeedback),
		"revision_count": a.RevisionCount,
		"uploaded_by":    a.UploadedBy,
		"approved_at":    nil,
	}
	if a.ApprovedAt != nil {
		fields["approved_at"] = a.ApprovedAt.Format(time.RFC3339)
	}
	return fields
}
