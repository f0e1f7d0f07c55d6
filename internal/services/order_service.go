package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/currency"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	orderIDPrefix          = "ord_"
	orderItemIDPrefix      = "itm_"
	designApprovalIDPrefix = "dap_"

	maxOrderNumberAttempts    = 3
	maxOrderItems             = 100
	maxItemQuantity           = 1000
	maxCustomizationImages    = 10
	defaultOrderCurrency      = "INR"
	defaultPaymentMethod      = "online"
	defaultReservationTimeout = 5 * time.Second

	auditActionOrderStatus   = "order.status.update"
	auditActionPaymentStatus = "order.payment_status.update"
	auditActionOrderPaid     = "order.payment.paid"
	auditEntityOrder         = "order"

	ordersMeterName = "github.com/hanko-field/storefront/internal/services/orders"
)

// offlinePaymentMethods never reserve funds with the payment provider.
var offlinePaymentMethods = map[string]struct{}{
	"cod":              {},
	"cash_on_delivery": {},
	"bank_transfer":    {},
}

var errOrderNumberTaken = errors.New("order number already taken")

// OrderServiceDeps bundles collaborators for the order service.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Products           repositories.InventoryRepository
	Inventory          InventoryService
	DesignApprovals    repositories.DesignApprovalRepository
	UnitOfWork         repositories.UnitOfWork
	Payments           payments.Gateway
	Audit              AuditLogService
	Notifications      *NotificationDispatcher
	OrderNumbers       func() string
	Clock              func() time.Time
	IDGenerator        func() string
	Logger             func(ctx context.Context, event string, fields map[string]any)
	DefaultCurrency    string
	ReservationTimeout time.Duration
	Meter              metric.Meter
}

type orderService struct {
	orders             repositories.OrderRepository
	products           repositories.InventoryRepository
	inventory          InventoryService
	approvals          repositories.DesignApprovalRepository
	unitOfWork         repositories.UnitOfWork
	payments           payments.Gateway
	audit              AuditLogService
	notifications      *NotificationDispatcher
	nextNumber         func() string
	clock              func() time.Time
	newID              func() string
	logger             func(context.Context, string, map[string]any)
	defaultCurrency    string
	reservationTimeout time.Duration
	reservations       metric.Int64Counter
}

// NewOrderService wires dependencies into an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	nextNumber := deps.OrderNumbers
	if nextNumber == nil {
		nextNumber = NewOrderNumberGenerator().Generate
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
	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = defaultOrderCurrency
	}
	if _, err := currency.ParseISO(defaultCurrency); err != nil {
		return nil, fmt.Errorf("order service: default currency %q: %w", defaultCurrency, err)
	}
	timeout := deps.ReservationTimeout
	if timeout <= 0 {
		timeout = defaultReservationTimeout
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(ordersMeterName)
	}
	reservations, err := meter.Int64Counter("payments.reservation.attempts", metric.WithDescription("Post-commit payment reservations by outcome"))
	if err != nil {
		return nil, fmt.Errorf("order service: register metric: %w", err)
	}

	return &orderService{
		orders:             deps.Orders,
		products:           deps.Products,
		inventory:          deps.Inventory,
		approvals:          deps.DesignApprovals,
		unitOfWork:         unit,
		payments:           deps.Payments,
		audit:              deps.Audit,
		notifications:      deps.Notifications,
		nextNumber:         nextNumber,
		clock:              func() time.Time { return clock().UTC() },
		newID:              newID,
		logger:             logger,
		defaultCurrency:    defaultCurrency,
		reservationTimeout: timeout,
		reservations:       reservations,
	}, nil
}

// CreateOrder validates the cart, persists header, items and stock decrements in one
// transaction and then attempts a best-effort payment reservation.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if err := requireCustomer(cmd.Actor); err != nil {
		return CreateOrderResult{}, err
	}
	order, err := s.buildOrder(ctx, cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	for attempt := 1; ; attempt++ {
		order.OrderNumber = s.nextNumber()
		err = s.persistOrder(ctx, order)
		if !errors.Is(err, errOrderNumberTaken) {
			break
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": order.OrderNumber,
			"attempt":     attempt,
		})
		if attempt >= maxOrderNumberAttempts {
			return CreateOrderResult{}, &PersistenceError{Op: "order.create", Err: err}
		}
	}
	if err != nil {
		return CreateOrderResult{}, err
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"items":       len(order.Items),
		"total":       order.Total,
	})

	reservation := s.reservePayment(ctx, &order)
	s.notify(ctx, NotificationEvent{Kind: NotificationOrderCreated, Order: order, Locale: cmd.Locale})

	return CreateOrderResult{Order: order, Reservation: reservation}, nil
}

func (s *orderService) persistOrder(ctx context.Context, order Order) error {
	header := order
	header.Items = nil
	return s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, header); err != nil {
			if repositories.IsConflict(err) {
				return errOrderNumberTaken
			}
			return mapRepositoryError("order.insert", err)
		}
		for _, item := range order.Items {
			if err := s.orders.InsertItem(txCtx, item); err != nil {
				return mapRepositoryError("order_item.insert", err)
			}
			if item.ProductID != nil {
				result, err := s.inventory.TryDecrement(txCtx, *item.ProductID, item.Quantity)
				if err != nil {
					return err
				}
				if !result.OK {
					return &InsufficientStockError{
						ProductID:   *item.ProductID,
						ProductName: item.ProductName,
						Requested:   item.Quantity,
						Available:   result.Remaining,
					}
				}
			}
			if item.RequiresDesign && s.approvals != nil {
				approval := domain.DesignApproval{
					ID:          designApprovalIDPrefix + s.newID(),
					OrderItemID: item.ID,
					OrderID:     order.ID,
					Status:      domain.DesignStatusPendingDesign,
					CreatedAt:   order.CreatedAt,
					UpdatedAt:   order.CreatedAt,
				}
				if err := s.approvals.Insert(txCtx, approval); err != nil {
					return mapRepositoryError("design_approval.insert", err)
				}
			}
		}
		return nil
	})
}

// reservePayment runs strictly after commit. Its outcome is reported but never returned as an
// error.
func (s *orderService) reservePayment(ctx context.Context, order *Order) ReservationStatus {
	outcome := ReservationSkipped
	defer func() {
		s.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}()

	if s.payments == nil || order.Total <= 0 {
		return outcome
	}
	if _, offline := offlinePaymentMethods[order.PaymentMethod]; offline {
		return outcome
	}

	reserveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.reservationTimeout)
	defer cancel()
	reservation, err := s.payments.Reserve(reserveCtx, payments.ReservationRequest{
		Amount:         order.Total,
		Currency:       order.Currency,
		IdempotencyKey: order.OrderNumber,
		Description:    "Order " + order.OrderNumber,
		Metadata: map[string]string{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
		},
	})
	switch {
	case errors.Is(err, payments.ErrNotConfigured):
		s.logger(ctx, "order.payment.reservation.skipped", map[string]any{
			"orderId": order.ID,
			"reason":  "provider not configured",
		})
		return outcome
	case err != nil:
		outcome = ReservationDegraded
		s.logger(ctx, "order.payment.reservation.failed", map[string]any{
			"orderId": order.ID,
			"error":   fmt.Errorf("%w: %w", ErrExternalServiceDegraded, err).Error(),
		})
		return outcome
	}

	if err := s.orders.AttachReservation(ctx, order.ID, reservation.ProviderOrderID, s.clock()); err != nil {
		outcome = ReservationDegraded
		s.logger(ctx, "order.payment.reservation.attach_failed", map[string]any{
			"orderId":       order.ID,
			"reservationId": reservation.ProviderOrderID,
			"error":         err.Error(),
		})
		return outcome
	}
	order.PaymentReservationID = valuePtr(reservation.ProviderOrderID)
	outcome = ReservationReserved
	return outcome
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	if err := requireCustomer(actor); err != nil {
		return Order{}, err
	}
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.IsOperator() && order.CustomerID != actor.ID {
		return Order{}, ErrForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if err := requireCustomer(filter.Actor); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		return domain.CursorPage[Order]{}, validationError("date range start must not be after its end")
	}
	customerID := strings.TrimSpace(filter.CustomerID)
	if !filter.Actor.IsOperator() {
		customerID = filter.Actor.ID
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		CustomerID:    customerID,
		OrderStatus:   filter.OrderStatus,
		PaymentStatus: filter.PaymentStatus,
		DateRange:     filter.DateRange,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError("order.list", err)
	}
	return page, nil
}

// SetOrderStatus accepts any target status; every change is audited with before and after.
func (s *orderService) SetOrderStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	if err := requireOperator(cmd.Actor); err != nil {
		return Order{}, err
	}
	status, err := domain.ParseOrderStatus(string(cmd.Status))
	if err != nil {
		return Order{}, validationError("unknown order status %q", cmd.Status)
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	previous := order.OrderStatus
	if previous == status {
		return order, nil
	}

	now := s.clock()
	if err := s.runInTx(ctx, func(txCtx context.Context) error {
		return mapRepositoryError("order.update_status", s.orders.UpdateStatus(txCtx, order.ID, repositories.OrderStatusUpdate{
			OrderStatus: &status,
			UpdatedAt:   now,
		}))
	}); err != nil {
		return Order{}, err
	}
	order.OrderStatus = status
	order.UpdatedAt = now

	s.recordAudit(ctx, cmd.Actor, auditActionOrderStatus, order,
		map[string]any{"order_status": string(previous)},
		map[string]any{"order_status": string(status)})
	s.notify(ctx, NotificationEvent{
		Kind:           NotificationOrderStatusChanged,
		Order:          order,
		PreviousStatus: string(previous),
		CurrentStatus:  string(status),
	})
	return order, nil
}

// SetPaymentStatus is the operator override for payment state, used for offline payments and
// refunds.
func (s *orderService) SetPaymentStatus(ctx context.Context, cmd SetPaymentStatusCommand) (Order, error) {
	if err := requireOperator(cmd.Actor); err != nil {
		return Order{}, err
	}
	status, err := domain.ParsePaymentStatus(string(cmd.Status))
	if err != nil {
		return Order{}, validationError("unknown payment status %q", cmd.Status)
	}
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	previous := order.PaymentStatus
	if previous == status {
		return order, nil
	}

	now := s.clock()
	if err := s.runInTx(ctx, func(txCtx context.Context) error {
		return mapRepositoryError("order.update_payment_status", s.orders.UpdateStatus(txCtx, order.ID, repositories.OrderStatusUpdate{
			PaymentStatus: &status,
			UpdatedAt:     now,
		}))
	}); err != nil {
		return Order{}, err
	}
	order.PaymentStatus = status
	order.UpdatedAt = now

	s.recordAudit(ctx, cmd.Actor, auditActionPaymentStatus, order,
		map[string]any{"payment_status": string(previous)},
		map[string]any{"payment_status": string(status)})
	if status == domain.PaymentStatusPaid {
		s.notify(ctx, NotificationEvent{Kind: NotificationOrderPaid, Order: order, CurrentStatus: string(status)})
	}
	return order, nil
}

// MarkPaid applies an authenticated provider callback. The signature is checked before the
// order is read, so a tampered callback never changes state.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	providerOrderID := strings.TrimSpace(cmd.ProviderOrderID)
	providerPaymentID := strings.TrimSpace(cmd.ProviderPaymentID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}
	if s.payments == nil || !s.payments.VerifySignature(providerOrderID, providerPaymentID, strings.TrimSpace(cmd.Signature)) {
		s.logger(ctx, "order.payment.signature_invalid", map[string]any{
			"orderId":         orderID,
			"providerOrderId": providerOrderID,
		})
		return Order{}, ErrSignatureInvalid
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentReservationID == nil || *order.PaymentReservationID != providerOrderID {
		return Order{}, validationError("provider order id does not match the order's payment reservation")
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		if derefString(order.ProviderPaymentID) == providerPaymentID {
			return order, nil
		}
		return Order{}, validationError("order is already paid by another payment")
	}

	previous := order.PaymentStatus
	paid := domain.PaymentStatusPaid
	now := s.clock()
	if err := s.runInTx(ctx, func(txCtx context.Context) error {
		return mapRepositoryError("order.mark_paid", s.orders.UpdateStatus(txCtx, order.ID, repositories.OrderStatusUpdate{
			PaymentStatus:     &paid,
			ProviderPaymentID: &providerPaymentID,
			UpdatedAt:         now,
		}))
	}); err != nil {
		return Order{}, err
	}
	order.PaymentStatus = paid
	order.ProviderPaymentID = valuePtr(providerPaymentID)
	order.UpdatedAt = now

	s.logger(ctx, "order.paid", map[string]any{
		"orderId":           order.ID,
		"providerPaymentId": providerPaymentID,
	})
	s.recordAudit(ctx, Actor{}, auditActionOrderPaid, order,
		map[string]any{"payment_status": string(previous), "provider_payment_id": nil},
		map[string]any{"payment_status": string(paid), "provider_payment_id": providerPaymentID})
	s.notify(ctx, NotificationEvent{Kind: NotificationOrderPaid, Order: order, CurrentStatus: string(paid)})
	return order, nil
}

func (s *orderService) buildOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Items) == 0 {
		return Order{}, validationError("order must contain at least one item")
	}
	if len(cmd.Items) > maxOrderItems {
		return Order{}, validationError("order must contain at most %d items", maxOrderItems)
	}

	name := sanitizeText(cmd.Customer.Name, 128)
	if name == "" {
		return Order{}, validationError("customer name is required")
	}
	phone, err := normalizePhone(cmd.Customer.Phone)
	if err != nil {
		return Order{}, err
	}
	email := strings.TrimSpace(cmd.Customer.Email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return Order{}, validationError("customer email is invalid")
		}
		email = strings.ToLower(addr.Address)
	}
	address := sanitizeText(cmd.ShippingAddress, 1024)
	if address == "" && len(cmd.ShippingAddressJSON) == 0 {
		return Order{}, validationError("shipping address is required")
	}

	for field, amount := range map[string]int64{
		"subtotal":     cmd.Subtotal,
		"shippingCost": cmd.ShippingCost,
		"discount":     cmd.Discount,
		"total":        cmd.Total,
	} {
		if amount < 0 {
			return Order{}, validationError("%s must not be negative", field)
		}
	}

	code := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if code == "" {
		code = s.defaultCurrency
	}
	if _, err := currency.ParseISO(code); err != nil {
		return Order{}, validationError("currency %q is not a valid ISO 4217 code", cmd.Currency)
	}
	method := strings.ToLower(sanitizeText(cmd.PaymentMethod, 32))
	if method == "" {
		method = defaultPaymentMethod
	}

	now := s.clock()
	order := Order{
		ID:                  orderIDPrefix + s.newID(),
		CustomerID:          cmd.Actor.ID,
		CustomerName:        name,
		CustomerEmail:       email,
		CustomerPhone:       phone,
		ShippingAddress:     address,
		ShippingAddressJSON: cmd.ShippingAddressJSON,
		Subtotal:            cmd.Subtotal,
		ShippingCost:        cmd.ShippingCost,
		Discount:            cmd.Discount,
		Total:               cmd.Total,
		Currency:            code,
		PaymentMethod:       method,
		PaymentStatus:       domain.PaymentStatusPending,
		OrderStatus:         domain.OrderStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var lineSum int64
	order.Items = make([]OrderItem, 0, len(cmd.Items))
	for i, input := range cmd.Items {
		item, err := s.buildItem(ctx, i, input, order.ID, now)
		if err != nil {
			return Order{}, err
		}
		line := item.LineTotal()
		if line > math.MaxInt64-lineSum {
			return Order{}, validationError("subtotal is out of range")
		}
		lineSum += line
		order.Items = append(order.Items, item)
	}
	if lineSum != cmd.Subtotal {
		return Order{}, validationError("subtotal %d does not match the sum of line items %d", cmd.Subtotal, lineSum)
	}
	if cmd.ShippingCost > math.MaxInt64-cmd.Subtotal {
		return Order{}, validationError("total is out of range")
	}
	if cmd.Subtotal+cmd.ShippingCost-cmd.Discount != cmd.Total {
		return Order{}, validationError("total must equal subtotal plus shipping minus discount")
	}
	return order, nil
}

func (s *orderService) buildItem(ctx context.Context, index int, input OrderItemInput, orderID string, now time.Time) (OrderItem, error) {
	productID := strings.TrimSpace(input.ProductID)
	name := sanitizeText(input.ProductName, 256)
	if productID == "" && name == "" {
		return OrderItem{}, validationError("items[%d]: product id or product name is required", index)
	}
	if input.Quantity < 1 || input.Quantity > maxItemQuantity {
		return OrderItem{}, validationError("items[%d]: quantity must be between 1 and %d", index, maxItemQuantity)
	}
	if input.UnitPrice < 0 {
		return OrderItem{}, validationError("items[%d]: unit price must not be negative", index)
	}
	if input.UnitPrice > math.MaxInt64/int64(input.Quantity) {
		return OrderItem{}, validationError("items[%d]: line total is out of range", index)
	}
	if productID != "" && name == "" && s.products != nil {
		product, err := s.products.Get(ctx, productID)
		switch {
		case repositories.IsNotFound(err):
			return OrderItem{}, validationError("items[%d]: product %s does not exist", index, productID)
		case err != nil:
			return OrderItem{}, mapRepositoryError("product.get", err)
		}
		name = product.Name
	}

	images := make([]string, 0, len(input.CustomizationImages))
	for _, ref := range input.CustomizationImages {
		if ref = strings.TrimSpace(ref); ref != "" {
			images = append(images, ref)
		}
	}
	if len(images) > maxCustomizationImages {
		return OrderItem{}, validationError("items[%d]: at most %d customization images are allowed", index, maxCustomizationImages)
	}

	item := OrderItem{
		ID:                  orderItemIDPrefix + s.newID(),
		OrderID:             orderID,
		ProductName:         name,
		ProductImage:        strings.TrimSpace(input.ProductImage),
		UnitPrice:           input.UnitPrice,
		Quantity:            input.Quantity,
		Customization:       input.Customization,
		CustomizationImages: images,
		RequiresDesign:      input.RequiresDesign,
		CreatedAt:           now,
	}
	if productID != "" {
		item.ProductID = valuePtr(productID)
	}
	return item, nil
}

func normalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", validationError("customer phone is required")
	}
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", validationError("customer phone contains invalid characters")
		}
	}
	if digits < 7 || digits > 15 {
		return "", validationError("customer phone must contain between 7 and 15 digits")
	}
	return phone, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError("order.get", err)
	}
	return order, nil
}

func (s *orderService) recordAudit(ctx context.Context, actor Actor, action string, order Order, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      actor,
		Action:     action,
		EntityType: auditEntityOrder,
		EntityID:   order.ID,
		EntityName: order.OrderNumber,
		Before:     before,
		After:      after,
	})
}

func (s *orderService) notify(ctx context.Context, event NotificationEvent) {
	if s.notifications == nil {
		return
	}
	s.notifications.Dispatch(ctx, event)
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
