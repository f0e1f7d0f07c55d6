package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxCreateOrderBodySize  = 256 * 1024
	defaultCheckoutLimit    = 10
	defaultCheckoutWindow   = time.Minute
	checkoutRateLimitedCode = "rate_limited"
)

// OrderHandlers exposes checkout and customer order endpoints.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	designs services.DesignApprovalService
	limiter *checkoutLimiter
	authed  []func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCheckoutRateLimit bounds order creation per customer. A non-positive limit disables it.
func WithCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newCheckoutLimiter(limit, window, clock)
	}
}

// WithAuthenticatedMiddlewares appends middleware that runs after authentication, such as
// idempotency key handling scoped to the caller.
func WithAuthenticatedMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.authed = append(h.authed, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, designs services.DesignApprovalService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:   authn,
		orders:  orders,
		designs: designs,
		limiter: newCheckoutLimiter(defaultCheckoutLimit, defaultCheckoutWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	for _, mw := range h.authed {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/designs", h.listOrderDesigns)
}

type createOrderRequest struct {
	Customer        customerRequest    `json:"customer"`
	ShippingAddress json.RawMessage    `json:"shipping_address"`
	Items           []orderItemRequest `json:"items"`
	Subtotal        int64              `json:"subtotal"`
	ShippingCost    int64              `json:"shipping_cost"`
	Discount        int64              `json:"discount"`
	Total           int64              `json:"total"`
	Currency        string             `json:"currency"`
	PaymentMethod   string             `json:"payment_method"`
	Locale          string             `json:"locale"`
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type orderItemRequest struct {
	ProductID           string         `json:"product_id"`
	ProductName         string         `json:"product_name"`
	ProductImage        string         `json:"product_image"`
	UnitPrice           int64          `json:"unit_price"`
	Quantity            int            `json:"quantity"`
	Customization       map[string]any `json:"customization"`
	CustomizationImages []string       `json:"customization_images"`
	RequiresDesign      bool           `json:"requires_design"`
}

type createOrderResponse struct {
	Order              orderPayload `json:"order"`
	PaymentReservation string       `json:"payment_reservation"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	OrderNumber          string             `json:"order_number"`
	CustomerID           string             `json:"customer_id"`
	Customer             customerRequest    `json:"customer"`
	ShippingAddress      string             `json:"shipping_address,omitempty"`
	ShippingAddressJSON  map[string]any     `json:"shipping_address_json,omitempty"`
	Totals               orderTotalsPayload `json:"totals"`
	Currency             string             `json:"currency"`
	PaymentMethod        string             `json:"payment_method"`
	PaymentStatus        string             `json:"payment_status"`
	OrderStatus          string             `json:"order_status"`
	PaymentReservationID string             `json:"payment_reservation_id,omitempty"`
	ProviderPaymentID    string             `json:"provider_payment_id,omitempty"`
	Items                []orderItemPayload `json:"items"`
	CreatedAt            string             `json:"created_at"`
	UpdatedAt            string             `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Shipping int64 `json:"shipping"`
	Discount int64 `json:"discount"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ID                  string         `json:"id"`
	ProductID           string         `json:"product_id,omitempty"`
	ProductName         string         `json:"product_name"`
	ProductImage        string         `json:"product_image,omitempty"`
	UnitPrice           int64          `json:"unit_price"`
	Quantity            int            `json:"quantity"`
	LineTotal           int64          `json:"line_total"`
	Customization       map[string]any `json:"customization,omitempty"`
	CustomizationImages []string       `json:"customization_images,omitempty"`
	RequiresDesign      bool           `json:"requires_design"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if allowed, wait := h.limiter.Allow(actor.ID); !allowed {
		w.Header().Set("Retry-After", retryAfterSeconds(wait))
		httpx.WriteError(ctx, w, httpx.NewError(checkoutRateLimitedCode, "too many orders, retry later", http.StatusTooManyRequests))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxCreateOrderBodySize, &req) {
		return
	}
	cmd, err := req.toCommand(actor)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Order:              buildOrderPayload(result.Order),
		PaymentReservation: string(result.Reservation),
	})
}

func (req createOrderRequest) toCommand(actor services.Actor) (services.CreateOrderCommand, error) {
	cmd := services.CreateOrderCommand{
		Actor: actor,
		Customer: services.CustomerContact{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
		Subtotal:      req.Subtotal,
		ShippingCost:  req.ShippingCost,
		Discount:      req.Discount,
		Total:         req.Total,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Locale:        req.Locale,
	}

	raw := bytes.TrimSpace(req.ShippingAddress)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &cmd.ShippingAddress); err != nil {
			return cmd, errInvalidShippingAddress
		}
	case raw[0] == '{':
		if err := json.Unmarshal(raw, &cmd.ShippingAddressJSON); err != nil {
			return cmd, errInvalidShippingAddress
		}
	default:
		return cmd, errInvalidShippingAddress
	}

	cmd.Items = make([]services.OrderItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID:           item.ProductID,
			ProductName:         item.ProductName,
			ProductImage:        item.ProductImage,
			UnitPrice:           item.UnitPrice,
			Quantity:            item.Quantity,
			Customization:       item.Customization,
			CustomizationImages: item.CustomizationImages,
			RequiresDesign:      item.RequiresDesign,
		})
	}
	return cmd, nil
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	filter, err := parseOrderListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Actor = actor
	filter.CustomerID = actor.ID

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderList(w, page)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrderDesigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.designs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("design_service_unavailable", "design approval service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	approvals, err := h.designs.ListForOrder(ctx, actor, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]designApprovalPayload, 0, len(approvals))
	for _, approval := range approvals {
		items = append(items, buildDesignApprovalPayload(approval))
	}
	writeJSONResponse(w, http.StatusOK, designApprovalListResponse{Items: items})
}

func parseOrderListFilter(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()
	var filter services.OrderListFilter

	for _, raw := range parseFilterValues(query["order_status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return filter, errInvalidStatusFilter
		}
		filter.OrderStatus = append(filter.OrderStatus, status)
	}
	for _, raw := range parseFilterValues(query["payment_status"]) {
		status, err := domain.ParsePaymentStatus(raw)
		if err != nil {
			return filter, errInvalidStatusFilter
		}
		filter.PaymentStatus = append(filter.PaymentStatus, status)
	}

	dateRange, err := parseDateRange(query, "created_after", "created_before")
	if err != nil {
		return filter, err
	}
	filter.DateRange = dateRange

	pagination, err := parsePagination(query)
	if err != nil {
		return filter, err
	}
	filter.Pagination = pagination
	return filter, nil
}

func writeOrderList(w http.ResponseWriter, page domain.CursorPage[services.Order]) {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		OrderStatus:   string(order.OrderStatus),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      strings.ToUpper(order.Currency),
		Total:         order.Total,
		ItemCount:     len(order.Items),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Customer: customerRequest{
			Name:  order.CustomerName,
			Email: order.CustomerEmail,
			Phone: order.CustomerPhone,
		},
		ShippingAddress:     order.ShippingAddress,
		ShippingAddressJSON: order.ShippingAddressJSON,
		Totals: orderTotalsPayload{
			Subtotal: order.Subtotal,
			Shipping: order.ShippingCost,
			Discount: order.Discount,
			Total:    order.Total,
		},
		Currency:             strings.ToUpper(order.Currency),
		PaymentMethod:        order.PaymentMethod,
		PaymentStatus:        string(order.PaymentStatus),
		OrderStatus:          string(order.OrderStatus),
		PaymentReservationID: derefString(order.PaymentReservationID),
		ProviderPaymentID:    derefString(order.ProviderPaymentID),
		Items:                make([]orderItemPayload, 0, len(order.Items)),
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:                  item.ID,
			ProductID:           derefString(item.ProductID),
			ProductName:         item.ProductName,
			ProductImage:        item.ProductImage,
			UnitPrice:           item.UnitPrice,
			Quantity:            item.Quantity,
			LineTotal:           item.LineTotal(),
			Customization:       item.Customization,
			CustomizationImages: item.CustomizationImages,
			RequiresDesign:      item.RequiresDesign,
		})
	}
	return payload
}
