package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Registry exposes repository constructors for dependency injection.
type Registry interface {
	Orders() OrderRepository
	Inventory() InventoryRepository
	DesignApprovals() DesignApprovalRepository
	AuditLogs() AuditLogRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary.
// Repositories invoked with the context passed to fn participate in the transaction;
// any error returned by fn rolls back every write made inside it.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers and their line items.
type OrderRepository interface {
	// Insert writes the order header only. Must return a conflict RepositoryError when the
	// order number is already taken.
	Insert(ctx context.Context, order domain.Order) error
	InsertItem(ctx context.Context, item domain.OrderItem) error
	// FindByID loads the header together with its items.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindItem(ctx context.Context, itemID string) (domain.OrderItem, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, orderID string, update OrderStatusUpdate) error
	AttachReservation(ctx context.Context, orderID string, reservationID string, at time.Time) error
}

// OrderListFilter narrows order listings. Empty fields are ignored.
type OrderListFilter struct {
	CustomerID    string
	OrderStatus   []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	DateRange     domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
}

// OrderStatusUpdate applies a single-row status change. Nil fields are left untouched.
type OrderStatusUpdate struct {
	OrderStatus       *domain.OrderStatus
	PaymentStatus     *domain.PaymentStatus
	ProviderPaymentID *string
	UpdatedAt         time.Time
}

// InventoryRepository owns per-product stock counters.
type InventoryRepository interface {
	// TryDecrement subtracts quantity only when enough stock remains, as one atomic
	// conditional write. OK is false when stock was insufficient; nothing changes then.
	TryDecrement(ctx context.Context, productID string, quantity int) (domain.InventoryDecrement, error)
	Get(ctx context.Context, productID string) (domain.ProductStock, error)
	Restock(ctx context.Context, productID string, quantity int, at time.Time) (domain.ProductStock, error)
}

// DesignApprovalRepository persists per-item design approvals.
type DesignApprovalRepository interface {
	// Insert must return a conflict RepositoryError when the order item already has a record.
	Insert(ctx context.Context, approval domain.DesignApproval) error
	Update(ctx context.Context, approval domain.DesignApproval) error
	FindByOrderItem(ctx context.Context, orderItemID string) (domain.DesignApproval, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.DesignApproval, error)
	List(ctx context.Context, filter DesignApprovalFilter) (domain.CursorPage[domain.DesignApproval], error)
}

// DesignApprovalFilter narrows design approval listings.
type DesignApprovalFilter struct {
	Statuses   []domain.DesignApprovalStatus
	OrderID    string
	Pagination domain.Pagination
}

// AuditLogRepository appends and queries immutable audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
	Stats(ctx context.Context, from, to time.Time) (domain.AuditStats, error)
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	ActorID    string
	EntityType string
	EntityID   string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// SystemActor is the actor filter value and aggregate key for entries recorded without an actor.
const SystemActor = "system"
