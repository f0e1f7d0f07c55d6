package di

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/repositories/memory"
	"github.com/hanko-field/storefront/internal/services"
)

type capturingNotifier struct {
	mu    sync.Mutex
	kinds []services.NotificationKind
}

func (n *capturingNotifier) Notify(_ context.Context, msg services.NotificationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, msg.Kind)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		PSP: config.PSPConfig{
			SigningSecret:      "whsec_test",
			DefaultCurrency:    "INR",
			ReservationTimeout: time.Second,
		},
		Notifications: config.NotificationConfig{DispatchTimeout: time.Second},
		Security:      config.SecurityConfig{Environment: "test"},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), testConfig(), nil, Adapters{})
	require.Error(t, err)
}

func TestNewContainerWiresOrderFlow(t *testing.T) {
	store := memory.NewStore()
	store.SeedProduct("prod_a", "Brass Stamp", 3)
	notifier := &capturingNotifier{}

	container, err := NewContainer(context.Background(), testConfig(), store, Adapters{Notifier: notifier})
	require.NoError(t, err)
	require.NotNil(t, container.Services.Orders)
	require.NotNil(t, container.Services.Designs)
	assert.Nil(t, container.Services.System, "system service requires health checks")

	actor := services.Actor{ID: "cust_1", Role: services.RoleCustomer, Email: "ana@example.com"}
	result, err := container.Services.Orders.CreateOrder(context.Background(), services.CreateOrderCommand{
		Actor:           actor,
		Customer:        services.CustomerContact{Name: "Ana", Email: "ana@example.com", Phone: "+91 98765 43210"},
		ShippingAddress: "12 MG Road, Bengaluru",
		Items: []services.OrderItemInput{
			{ProductID: "prod_a", UnitPrice: 1500, Quantity: 2},
		},
		Subtotal: 3000,
		Total:    3000,
		Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, services.ReservationSkipped, result.Reservation)

	stock, err := container.Services.Inventory.GetStock(context.Background(), services.Actor{ID: "staff_1", Role: services.RoleAdmin}, "prod_a")
	require.NoError(t, err)
	assert.Equal(t, 1, stock.Stock)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, container.Close(ctx))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Contains(t, notifier.kinds, services.NotificationOrderCreated)
}

func TestNewContainerMarkPaidUsesDisabledGatewaySecret(t *testing.T) {
	store := memory.NewStore()
	store.SeedProduct("prod_a", "Brass Stamp", 1)
	cfg := testConfig()
	reserving := &fixedGateway{Gateway: payments.NewDisabledGateway(cfg.PSP.SigningSecret)}

	container, err := NewContainer(context.Background(), cfg, store, Adapters{Payments: reserving})
	require.NoError(t, err)

	result, err := container.Services.Orders.CreateOrder(context.Background(), services.CreateOrderCommand{
		Actor:           services.Actor{ID: "cust_1", Role: services.RoleCustomer},
		Customer:        services.CustomerContact{Name: "Ana", Email: "ana@example.com", Phone: "+91 98765 43210"},
		ShippingAddress: "12 MG Road",
		Items:           []services.OrderItemInput{{ProductID: "prod_a", UnitPrice: 900, Quantity: 1}},
		Subtotal:        900,
		Total:           900,
		Currency:        "INR",
	})
	require.NoError(t, err)
	require.Equal(t, services.ReservationReserved, result.Reservation)

	signature := payments.NewSigner(cfg.PSP.SigningSecret).Sign("pi_fixed", "pay_1")
	paid, err := container.Services.Orders.MarkPaid(context.Background(), services.MarkPaidCommand{
		OrderID:           result.Order.ID,
		ProviderOrderID:   "pi_fixed",
		ProviderPaymentID: "pay_1",
		Signature:         signature,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
}

func TestNewContainerBuildsSystemServiceFromChecks(t *testing.T) {
	store := memory.NewStore()
	container, err := NewContainer(context.Background(), testConfig(), store, Adapters{
		HealthChecks: []repositories.DependencyCheck{
			{Name: "database", Critical: true, Check: store.Ping},
			{Name: "notifications", Check: func(context.Context) error { return errors.New("broker down") }},
		},
		Build: services.BuildInfo{Version: "1.2.3"},
	})
	require.NoError(t, err)
	require.NotNil(t, container.Services.System)

	report, err := container.Services.System.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, "test", report.Environment)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, domain.HealthStatusOK, report.Checks["database"].Status)
}

type fixedGateway struct {
	payments.Gateway
}

func (fixedGateway) Reserve(context.Context, payments.ReservationRequest) (payments.Reservation, error) {
	return payments.Reservation{Provider: "fixed", ProviderOrderID: "pi_fixed", Status: "requires_capture"}, nil
}
