package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

const testSigningSecret = "whsec_test"

var (
	testCustomer = Actor{ID: "cust_1", Role: RoleCustomer, Email: "ana@example.com", Name: "Ana"}
	testStranger = Actor{ID: "cust_2", Role: RoleCustomer}
	testAdmin    = Actor{ID: "staff_1", Role: RoleAdmin, Email: "ops@example.com", Name: "Ops"}
)

type stubGateway struct {
	reserveFn func(context.Context, payments.ReservationRequest) (payments.Reservation, error)
	signer    *payments.Signer
	calls     atomic.Int32
	mu        sync.Mutex
	requests  []payments.ReservationRequest
}

func newStubGateway() *stubGateway {
	return &stubGateway{signer: payments.NewSigner(testSigningSecret)}
}

func (g *stubGateway) Reserve(ctx context.Context, req payments.ReservationRequest) (payments.Reservation, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.reserveFn != nil {
		return g.reserveFn(ctx, req)
	}
	return payments.Reservation{Provider: "stub", ProviderOrderID: "pi_" + req.IdempotencyKey, Status: "requires_capture"}, nil
}

func (g *stubGateway) VerifySignature(providerOrderID, providerPaymentID, signature string) bool {
	return g.signer.Verify(providerOrderID, providerPaymentID, signature)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []NotificationMessage
}

func (n *recordingNotifier) Notify(_ context.Context, msg NotificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.messages))
	for _, msg := range n.messages {
		out = append(out, msg.Kind)
	}
	return out
}

type testEnv struct {
	store      *memory.Store
	gateway    *stubGateway
	notifier   *recordingNotifier
	dispatcher *NotificationDispatcher
	audit      AuditLogService
	inventory  InventoryService
	orders     OrderService
	designs    DesignApprovalService
	now        time.Time
}

type envOption func(*OrderServiceDeps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memory.NewStore(),
		gateway:  newStubGateway(),
		notifier: &recordingNotifier{},
		now:      time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("%06d", seq.Add(1)) }

	var err error
	env.dispatcher, err = NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: env.notifier, Clock: clock, IDGenerator: ids})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	env.audit, err = NewAuditLogService(AuditLogServiceDeps{Repository: env.store.AuditLogs(), Clock: clock, IDGenerator: ids, HashSalt: "salt"})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	env.inventory, err = NewInventoryService(InventoryServiceDeps{Inventory: env.store.Inventory(), Audit: env.audit, Clock: clock})
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	deps := OrderServiceDeps{
		Orders:             env.store.Orders(),
		Products:           env.store.Inventory(),
		Inventory:          env.inventory,
		DesignApprovals:    env.store.DesignApprovals(),
		UnitOfWork:         env.store,
		Payments:           env.gateway,
		Audit:              env.audit,
		Notifications:      env.dispatcher,
		Clock:              clock,
		IDGenerator:        ids,
		ReservationTimeout: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.orders, err = NewOrderService(deps)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	env.designs, err = NewDesignApprovalService(DesignApprovalServiceDeps{
		Approvals:     env.store.DesignApprovals(),
		Orders:        env.store.Orders(),
		UnitOfWork:    env.store,
		Audit:         env.audit,
		Notifications: env.dispatcher,
		Clock:         clock,
		IDGenerator:   ids,
	})
	if err != nil {
		t.Fatalf("designs: %v", err)
	}
	return env
}

func (e *testEnv) waitNotifications(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.dispatcher.Wait(ctx); err != nil {
		t.Fatalf("wait notifications: %v", err)
	}
}

func validCart(items ...OrderItemInput) CreateOrderCommand {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return CreateOrderCommand{
		Actor:           testCustomer,
		Customer:        CustomerContact{Name: "Ana Silva", Email: "ana@example.com", Phone: "+91 98765 43210"},
		ShippingAddress: "12 MG Road, Bengaluru",
		Items:           items,
		Subtotal:        subtotal,
		ShippingCost:    500,
		Total:           subtotal + 500,
		Currency:        "INR",
		PaymentMethod:   "card",
	}
}

func productLine(productID string, qty int, price int64) OrderItemInput {
	return OrderItemInput{ProductID: productID, UnitPrice: price, Quantity: qty}
}
