package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubOrderService struct {
	createFn           func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn              func(context.Context, services.Actor, string) (services.Order, error)
	listFn             func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	setOrderStatusFn   func(context.Context, services.SetOrderStatusCommand) (services.Order, error)
	setPaymentStatusFn func(context.Context, services.SetPaymentStatusCommand) (services.Order, error)
	markPaidFn         func(context.Context, services.MarkPaidCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) SetOrderStatus(ctx context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
	if s.setOrderStatusFn != nil {
		return s.setOrderStatusFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) SetPaymentStatus(ctx context.Context, cmd services.SetPaymentStatusCommand) (services.Order, error) {
	if s.setPaymentStatusFn != nil {
		return s.setPaymentStatusFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) MarkPaid(ctx context.Context, cmd services.MarkPaidCommand) (services.Order, error) {
	if s.markPaidFn != nil {
		return s.markPaidFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubDesignService struct {
	uploadFn   func(context.Context, services.UploadDesignCommand) (services.DesignApproval, error)
	approveFn  func(context.Context, services.DesignDecisionCommand) (services.DesignApproval, error)
	revisionFn func(context.Context, services.DesignDecisionCommand) (services.DesignApproval, error)
	pendingFn  func(context.Context, services.PendingDesignFilter) (domain.CursorPage[services.DesignApproval], error)
	getFn      func(context.Context, services.Actor, string) (services.DesignApproval, error)
	forOrderFn func(context.Context, services.Actor, string) ([]services.DesignApproval, error)
}

func (s *stubDesignService) UploadDesign(ctx context.Context, cmd services.UploadDesignCommand) (services.DesignApproval, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, cmd)
	}
	return services.DesignApproval{}, errNotStubbed
}

func (s *stubDesignService) Approve(ctx context.Context, cmd services.DesignDecisionCommand) (services.DesignApproval, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.DesignApproval{}, errNotStubbed
}

func (s *stubDesignService) RequestRevision(ctx context.Context, cmd services.DesignDecisionCommand) (services.DesignApproval, error) {
	if s.revisionFn != nil {
		return s.revisionFn(ctx, cmd)
	}
	return services.DesignApproval{}, errNotStubbed
}

func (s *stubDesignService) ListPending(ctx context.Context, filter services.PendingDesignFilter) (domain.CursorPage[services.DesignApproval], error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, filter)
	}
	return domain.CursorPage[services.DesignApproval]{}, nil
}

func (s *stubDesignService) Get(ctx context.Context, actor services.Actor, itemID string) (services.DesignApproval, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, itemID)
	}
	return services.DesignApproval{}, errNotStubbed
}

func (s *stubDesignService) ListForOrder(ctx context.Context, actor services.Actor, orderID string) ([]services.DesignApproval, error) {
	if s.forOrderFn != nil {
		return s.forOrderFn(ctx, actor, orderID)
	}
	return nil, nil
}

type stubInventoryService struct {
	getFn     func(context.Context, services.Actor, string) (services.ProductStock, error)
	restockFn func(context.Context, services.RestockCommand) (services.ProductStock, error)
}

func (s *stubInventoryService) TryDecrement(context.Context, string, int) (domain.InventoryDecrement, error) {
	return domain.InventoryDecrement{}, errNotStubbed
}

func (s *stubInventoryService) GetStock(ctx context.Context, actor services.Actor, productID string) (services.ProductStock, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, productID)
	}
	return services.ProductStock{}, errNotStubbed
}

func (s *stubInventoryService) Restock(ctx context.Context, cmd services.RestockCommand) (services.ProductStock, error) {
	if s.restockFn != nil {
		return s.restockFn(ctx, cmd)
	}
	return services.ProductStock{}, errNotStubbed
}

type stubAuditService struct {
	listFn  func(context.Context, services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error)
	statsFn func(context.Context, services.Actor, time.Duration) (services.AuditStats, error)
}

func (s *stubAuditService) Record(context.Context, services.AuditLogRecord) {}

func (s *stubAuditService) List(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.AuditLogEntry]{}, nil
}

func (s *stubAuditService) Stats(ctx context.Context, actor services.Actor, window time.Duration) (services.AuditStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, actor, window)
	}
	return services.AuditStats{}, nil
}

var (
	_ services.OrderService          = (*stubOrderService)(nil)
	_ services.DesignApprovalService = (*stubDesignService)(nil)
	_ services.InventoryService      = (*stubInventoryService)(nil)
	_ services.AuditLogService       = (*stubAuditService)(nil)
)

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	identity := &auth.Identity{UID: uid, Email: uid + "@example.com", Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}
