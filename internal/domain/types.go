package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Order is the header record of a single customer purchase.
// Monetary fields are minor currency units and are fixed at creation.
type Order struct {
	ID                   string
	OrderNumber          string
	CustomerID           string
	CustomerName         string
	CustomerEmail        string
	CustomerPhone        string
	ShippingAddress      string
	ShippingAddressJSON  map[string]any
	Subtotal             int64
	ShippingCost         int64
	Discount             int64
	Total                int64
	Currency             string
	PaymentMethod        string
	PaymentStatus        PaymentStatus
	OrderStatus          OrderStatus
	PaymentReservationID *string
	ProviderPaymentID    *string
	Items                []OrderItem
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderItem is one product line within an order. Name, image and price are
// snapshots taken at purchase time and never re-read from the catalog.
type OrderItem struct {
	ID                  string
	OrderID             string
	ProductID           *string
	ProductName         string
	ProductImage        string
	UnitPrice           int64
	Quantity            int
	Customization       map[string]any
	CustomizationImages []string
	RequiresDesign      bool
	CreatedAt           time.Time
}

// LineTotal returns quantity multiplied by the snapshotted unit price.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// DesignApproval tracks customer sign-off for the artwork produced for one order item.
type DesignApproval struct {
	ID               string
	OrderItemID      string
	OrderID          string
	DesignAssetRef   *string
	Status           DesignApprovalStatus
	CustomerFeedback *string
	RevisionCount    int
	ApprovedAt       *time.Time
	UploadedBy       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProductStock is the inventory counter attached to a catalog product.
type ProductStock struct {
	ProductID string
	Name      string
	Stock     int
	UpdatedAt time.Time
}

// InventoryDecrement reports the outcome of a conditional stock decrement.
type InventoryDecrement struct {
	OK        bool
	Remaining int
}

// AuditDiff holds the before/after values of one changed field.
type AuditDiff struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// AuditLogEntry is an immutable record of an administrative change.
// An empty ActorID denotes a system action.
type AuditLogEntry struct {
	ID         string
	ActorID    string
	ActorEmail string
	ActorName  string
	Action     string
	EntityType string
	EntityID   string
	EntityName string
	Diff       map[string]AuditDiff
	IPHash     string
	UserAgent  string
	RequestID  string
	CreatedAt  time.Time
}

// AuditStats aggregates audit entries recorded within a window.
type AuditStats struct {
	From         time.Time
	To           time.Time
	Total        int
	ByAction     map[string]int
	ByEntityType map[string]int
	ByActor      map[string]int
}

// HealthStatus enumerates readiness outcomes.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck captures a single dependency probe result.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probe results.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
