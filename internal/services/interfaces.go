package services

import (
	"context"
	"io"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order          = domain.Order
	OrderItem      = domain.OrderItem
	DesignApproval = domain.DesignApproval
	AuditLogEntry  = domain.AuditLogEntry
	AuditStats     = domain.AuditStats
	ProductStock   = domain.ProductStock
	Pagination     = domain.Pagination
)

// OrderService owns order creation and the order/payment status state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	SetOrderStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	SetPaymentStatus(ctx context.Context, cmd SetPaymentStatusCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error)
}

// InventoryService exposes the stock ledger.
type InventoryService interface {
	// TryDecrement joins the caller's transaction when ctx carries one.
	TryDecrement(ctx context.Context, productID string, quantity int) (domain.InventoryDecrement, error)
	GetStock(ctx context.Context, actor Actor, productID string) (ProductStock, error)
	Restock(ctx context.Context, cmd RestockCommand) (ProductStock, error)
}

// DesignApprovalService drives the per-item design approval workflow.
type DesignApprovalService interface {
	UploadDesign(ctx context.Context, cmd UploadDesignCommand) (DesignApproval, error)
	Approve(ctx context.Context, cmd DesignDecisionCommand) (DesignApproval, error)
	RequestRevision(ctx context.Context, cmd DesignDecisionCommand) (DesignApproval, error)
	ListPending(ctx context.Context, filter PendingDesignFilter) (domain.CursorPage[DesignApproval], error)
	Get(ctx context.Context, actor Actor, orderItemID string) (DesignApproval, error)
	ListForOrder(ctx context.Context, actor Actor, orderID string) ([]DesignApproval, error)
}

// AuditLogService records and queries the administrative audit trail.
type AuditLogService interface {
	// Record never fails the caller; storage errors are logged.
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	Stats(ctx context.Context, actor Actor, window time.Duration) (AuditStats, error)
}

// DesignAssetStore persists uploaded design artwork and returns a retrievable reference.
type DesignAssetStore interface {
	Put(ctx context.Context, asset DesignAssetUpload) (string, error)
	Delete(ctx context.Context, ref string) error
}

// DesignAssetUpload carries raw artwork bytes for DesignAssetStore.
type DesignAssetUpload struct {
	OrderID     string
	OrderItemID string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// CustomerContact is the customer snapshot captured on the order.
type CustomerContact struct {
	Name  string
	Email string
	Phone string
}

// OrderItemInput is one cart line. Either ProductID or ProductName must be set; ad-hoc
// lines without a ProductID do not touch inventory.
type OrderItemInput struct {
	ProductID           string
	ProductName         string
	ProductImage        string
	UnitPrice           int64
	Quantity            int
	Customization       map[string]any
	CustomizationImages []string
	RequiresDesign      bool
}

// CreateOrderCommand is the validated cart payload submitted at checkout.
type CreateOrderCommand struct {
	Actor               Actor
	Customer            CustomerContact
	ShippingAddress     string
	ShippingAddressJSON map[string]any
	Items               []OrderItemInput
	Subtotal            int64
	ShippingCost        int64
	Discount            int64
	Total               int64
	Currency            string
	PaymentMethod       string
	Locale              string
}

// ReservationStatus reports what happened to the post-commit payment reservation.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationSkipped  ReservationStatus = "skipped"
	ReservationDegraded ReservationStatus = "degraded"
)

// CreateOrderResult is the committed order plus the reservation outcome.
type CreateOrderResult struct {
	Order       Order
	Reservation ReservationStatus
}

// OrderListFilter narrows order listings. Customers only ever see their own orders.
type OrderListFilter struct {
	Actor         Actor
	CustomerID    string
	OrderStatus   []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	DateRange     domain.RangeQuery[time.Time]
	Pagination    Pagination
}

// SetOrderStatusCommand moves an order to any fulfilment status.
type SetOrderStatusCommand struct {
	Actor   Actor
	OrderID string
	Status  domain.OrderStatus
}

// SetPaymentStatusCommand moves an order to any payment status.
type SetPaymentStatusCommand struct {
	Actor   Actor
	OrderID string
	Status  domain.PaymentStatus
}

// MarkPaidCommand is the authenticated payment provider callback.
type MarkPaidCommand struct {
	OrderID           string
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// RestockCommand adds stock to a product.
type RestockCommand struct {
	Actor     Actor
	ProductID string
	Quantity  int
}

// UploadDesignCommand attaches artwork to an order item. Either AssetRef or Asset is set.
type UploadDesignCommand struct {
	Actor       Actor
	OrderItemID string
	AssetRef    string
	Asset       *DesignAssetUpload
}

// DesignDecisionCommand is a customer approve or revision request.
type DesignDecisionCommand struct {
	Actor       Actor
	OrderItemID string
	Feedback    string
}

// PendingDesignFilter narrows the admin queue of approvals awaiting artwork.
type PendingDesignFilter struct {
	Actor      Actor
	OrderID    string
	Pagination Pagination
}

// AuditLogRecord describes one observed change. Before and After are flat field maps.
type AuditLogRecord struct {
	Actor      Actor
	Action     string
	EntityType string
	EntityID   string
	EntityName string
	Before     map[string]any
	After      map[string]any
	IPAddress  string
	UserAgent  string
	RequestID  string
	OccurredAt time.Time
}

// AuditLogFilter narrows audit listings.
type AuditLogFilter struct {
	Actor      Actor
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}
