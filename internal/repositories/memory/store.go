// Package memory provides an in-process implementation of every repository. It backs
// API_DATABASE_URL=memory:// for local development and the service tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

type txKey struct{}

// Store keeps all state in maps guarded by a single mutex. Transactions are serialised and
// snapshot the relational state on begin; a failing transaction restores the snapshot.
// Audit entries sit outside the snapshot since they are never written transactionally.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	products  map[string]domain.ProductStock
	orders    map[string]domain.Order
	numbers   map[string]string
	items     map[string]domain.OrderItem
	approvals map[string]domain.DesignApproval
	audit     []domain.AuditLogEntry

	now func() time.Time

	orderRepo    *orderRepository
	invRepo      *inventoryRepository
	approvalRepo *designApprovalRepository
	auditRepo    *auditLogRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		products:  make(map[string]domain.ProductStock),
		orders:    make(map[string]domain.Order),
		numbers:   make(map[string]string),
		items:     make(map[string]domain.OrderItem),
		approvals: make(map[string]domain.DesignApproval),
		now:       time.Now,
	}
	s.orderRepo = &orderRepository{store: s}
	s.invRepo = &inventoryRepository{store: s}
	s.approvalRepo = &designApprovalRepository{store: s}
	s.auditRepo = &auditLogRepository{store: s}
	return s
}

func (s *Store) Orders() repositories.OrderRepository                   { return s.orderRepo }
func (s *Store) Inventory() repositories.InventoryRepository            { return s.invRepo }
func (s *Store) DesignApprovals() repositories.DesignApprovalRepository { return s.approvalRepo }
func (s *Store) AuditLogs() repositories.AuditLogRepository             { return s.auditRepo }

// SeedProduct creates or replaces a product stock counter.
func (s *Store) SeedProduct(productID, name string, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productID] = domain.ProductStock{ProductID: productID, Name: name, Stock: stock, UpdatedAt: s.now().UTC()}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

type snapshot struct {
	products  map[string]domain.ProductStock
	orders    map[string]domain.Order
	numbers   map[string]string
	items     map[string]domain.OrderItem
	approvals map[string]domain.DesignApproval
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		products:  cloneMap(s.products),
		orders:    cloneMap(s.orders),
		numbers:   cloneMap(s.numbers),
		items:     cloneMap(s.items),
		approvals: cloneMap(s.approvals),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = snap.products
	s.orders = snap.orders
	s.numbers = snap.numbers
	s.items = snap.items
	s.approvals = snap.approvals
}

// lockWrite takes the write lock. Writes outside a transaction also take txMu so that a
// concurrent rollback cannot discard them.
func (s *Store) lockWrite(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// inventory

type inventoryRepository struct {
	store *Store
}

func (r *inventoryRepository) TryDecrement(ctx context.Context, productID string, quantity int) (domain.InventoryDecrement, error) {
	if quantity <= 0 {
		return domain.InventoryDecrement{}, repositories.Conflict("inventory.decrement", "quantity must be positive")
	}
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.InventoryDecrement{}, repositories.NotFound("inventory.decrement", "product not found")
	}
	if product.Stock < quantity {
		return domain.InventoryDecrement{OK: false, Remaining: product.Stock}, nil
	}
	product.Stock -= quantity
	product.UpdatedAt = s.now().UTC()
	s.products[productID] = product
	return domain.InventoryDecrement{OK: true, Remaining: product.Stock}, nil
}

func (r *inventoryRepository) Get(_ context.Context, productID string) (domain.ProductStock, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.ProductStock{}, repositories.NotFound("inventory.get", "product not found")
	}
	return product, nil
}

func (r *inventoryRepository) Restock(ctx context.Context, productID string, quantity int, at time.Time) (domain.ProductStock, error) {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.ProductStock{}, repositories.NotFound("inventory.restock", "product not found")
	}
	if product.Stock+quantity < 0 {
		return domain.ProductStock{}, repositories.Conflict("inventory.restock", "stock cannot be negative")
	}
	product.Stock += quantity
	product.UpdatedAt = at.UTC()
	s.products[productID] = product
	return product, nil
}

// orders

type orderRepository struct {
	store *Store
}

func (r *orderRepository) Insert(ctx context.Context, order domain.Order) error {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	if _, exists := s.orders[order.ID]; exists {
		return repositories.Conflict("order.insert", "order id already exists")
	}
	if _, taken := s.numbers[order.OrderNumber]; taken {
		return repositories.Conflict("order.insert", "order number already exists")
	}
	order.Items = nil
	s.orders[order.ID] = order
	s.numbers[order.OrderNumber] = order.ID
	return nil
}

func (r *orderRepository) InsertItem(ctx context.Context, item domain.OrderItem) error {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	if _, ok := s.orders[item.OrderID]; !ok {
		return repositories.NotFound("order_item.insert", "order not found")
	}
	if _, exists := s.items[item.ID]; exists {
		return repositories.Conflict("order_item.insert", "order item already exists")
	}
	if item.Quantity <= 0 {
		return repositories.Conflict("order_item.insert", "quantity must be positive")
	}
	item.CustomizationImages = append([]string(nil), item.CustomizationImages...)
	s.items[item.ID] = item
	return nil
}

func (r *orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("order.find", "order not found")
	}
	order.Items = s.itemsFor(orderID)
	return order, nil
}

func (r *orderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	r.store.mu.RLock()
	id, ok := r.store.numbers[orderNumber]
	r.store.mu.RUnlock()
	if !ok {
		return domain.Order{}, repositories.NotFound("order.find_by_number", "order not found")
	}
	return r.FindByID(ctx, id)
}

func (r *orderRepository) FindItem(_ context.Context, itemID string) (domain.OrderItem, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return domain.OrderItem{}, repositories.NotFound("order_item.find", "order item not found")
	}
	return item, nil
}

func (r *orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer := strings.TrimSpace(filter.CustomerID)
	matches := make([]domain.Order, 0)
	for _, order := range s.orders {
		if customer != "" && order.CustomerID != customer {
			continue
		}
		if len(filter.OrderStatus) > 0 && !contains(filter.OrderStatus, order.OrderStatus) {
			continue
		}
		if len(filter.PaymentStatus) > 0 && !contains(filter.PaymentStatus, order.PaymentStatus) {
			continue
		}
		if !inRange(filter.DateRange, order.CreatedAt) || !cursor.After(order.CreatedAt, order.ID) {
			continue
		}
		matches = append(matches, order)
	}
	return paginate(matches, filter.Pagination.PageSize, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

func (r *orderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) error {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return repositories.NotFound("order.update_status", "order not found")
	}
	if update.OrderStatus != nil {
		order.OrderStatus = *update.OrderStatus
	}
	if update.PaymentStatus != nil {
		order.PaymentStatus = *update.PaymentStatus
	}
	if update.ProviderPaymentID != nil {
		id := *update.ProviderPaymentID
		order.ProviderPaymentID = &id
	}
	order.UpdatedAt = update.UpdatedAt.UTC()
	s.orders[orderID] = order
	return nil
}

func (r *orderRepository) AttachReservation(ctx context.Context, orderID string, reservationID string, at time.Time) error {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return repositories.NotFound("order.attach_reservation", "order not found")
	}
	id := reservationID
	order.PaymentReservationID = &id
	order.UpdatedAt = at.UTC()
	s.orders[orderID] = order
	return nil
}

func (s *Store) itemsFor(orderID string) []domain.OrderItem {
	var items []domain.OrderItem
	for _, item := range s.items {
		if item.OrderID == orderID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// design approvals

type designApprovalRepository struct {
	store *Store
}

func (r *designApprovalRepository) Insert(ctx context.Context, approval domain.DesignApproval) error {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	if _, ok := s.items[approval.OrderItemID]; !ok {
		return repositories.NotFound("design_approval.insert", "order item not found")
	}
	if _, exists := s.approvals[approval.OrderItemID]; exists {
		return repositories.Conflict("design_approval.insert", "design approval already exists")
	}
	s.approvals[approval.OrderItemID] = approval
	return nil
}

func (r *designApprovalRepository) Update(ctx context.Context, approval domain.DesignApproval) error {
	s := r.store
	unlock := s.lockWrite(ctx)
	defer unlock()
	current, ok := s.approvals[approval.OrderItemID]
	if !ok {
		return repositories.NotFound("design_approval.update", "design approval not found")
	}
	if approval.RevisionCount < current.RevisionCount {
		approval.RevisionCount = current.RevisionCount
	}
	approval.ID = current.ID
	approval.OrderID = current.OrderID
	approval.CreatedAt = current.CreatedAt
	s.approvals[approval.OrderItemID] = approval
	return nil
}

func (r *designApprovalRepository) FindByOrderItem(_ context.Context, orderItemID string) (domain.DesignApproval, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	approval, ok := s.approvals[orderItemID]
	if !ok {
		return domain.DesignApproval{}, repositories.NotFound("design_approval.find", "design approval not found")
	}
	return approval, nil
}

func (r *designApprovalRepository) ListByOrder(_ context.Context, orderID string) ([]domain.DesignApproval, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DesignApproval
	for _, approval := range s.approvals {
		if approval.OrderID == orderID {
			out = append(out, approval)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *designApprovalRepository) List(_ context.Context, filter repositories.DesignApprovalFilter) (domain.CursorPage[domain.DesignApproval], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.DesignApproval]{}, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderID := strings.TrimSpace(filter.OrderID)
	matches := make([]domain.DesignApproval, 0)
	for _, approval := range s.approvals {
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, approval.Status) {
			continue
		}
		if orderID != "" && approval.OrderID != orderID {
			continue
		}
		if !cursor.After(approval.CreatedAt, approval.ID) {
			continue
		}
		matches = append(matches, approval)
	}
	return paginate(matches, filter.Pagination.PageSize, func(a domain.DesignApproval) (time.Time, string) { return a.CreatedAt, a.ID })
}

// audit logs

type auditLogRepository struct {
	store *Store
}

func (r *auditLogRepository) Append(_ context.Context, entry domain.AuditLogEntry) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.audit {
		if existing.ID == entry.ID {
			return repositories.Conflict("audit_log.append", "audit entry already exists")
		}
	}
	entry.Diff = cloneMap(entry.Diff)
	s.audit = append(s.audit, entry)
	return nil
}

func (r *auditLogRepository) List(_ context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	actor := strings.TrimSpace(filter.ActorID)
	matches := make([]domain.AuditLogEntry, 0)
	for _, entry := range s.audit {
		switch {
		case actor == repositories.SystemActor && entry.ActorID != "":
			continue
		case actor != "" && actor != repositories.SystemActor && entry.ActorID != actor:
			continue
		case filter.EntityType != "" && entry.EntityType != filter.EntityType:
			continue
		case filter.EntityID != "" && entry.EntityID != filter.EntityID:
			continue
		case filter.Action != "" && entry.Action != filter.Action:
			continue
		case !inRange(filter.DateRange, entry.CreatedAt), !cursor.After(entry.CreatedAt, entry.ID):
			continue
		}
		matches = append(matches, entry)
	}
	return paginate(matches, filter.Pagination.PageSize, func(e domain.AuditLogEntry) (time.Time, string) { return e.CreatedAt, e.ID })
}

func (r *auditLogRepository) Stats(_ context.Context, from, to time.Time) (domain.AuditStats, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.AuditStats{
		From:         from.UTC(),
		To:           to.UTC(),
		ByAction:     map[string]int{},
		ByEntityType: map[string]int{},
		ByActor:      map[string]int{},
	}
	for _, entry := range s.audit {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		actor := entry.ActorID
		if actor == "" {
			actor = repositories.SystemActor
		}
		stats.Total++
		stats.ByAction[entry.Action]++
		stats.ByEntityType[entry.EntityType]++
		stats.ByActor[actor]++
	}
	return stats, nil
}

func paginate[T any](items []T, size int, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi > idj
		}
		return ti.After(tj)
	})
	pageSize := pagination.ClampPageSize(size)
	page := domain.CursorPage[T]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		createdAt, id := key(page.Items[pageSize-1])
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func contains[T comparable](values []T, target T) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func inRange(r domain.RangeQuery[time.Time], at time.Time) bool {
	if r.From != nil && at.Before(*r.From) {
		return false
	}
	if r.To != nil && at.After(*r.To) {
		return false
	}
	return true
}
