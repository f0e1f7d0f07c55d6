package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const (
	maxWebhookBodySize     = 16 * 1024
	paymentSignatureHeader = "X-Payment-Signature"
)

// PaymentWebhookHandlers receives payment provider callbacks. Requests are authenticated by
// the HMAC signature rather than a bearer token.
type PaymentWebhookHandlers struct {
	orders services.OrderService
}

// NewPaymentWebhookHandlers constructs the webhook handlers.
func NewPaymentWebhookHandlers(orders services.OrderService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/paid", h.paymentPaid)
}

type paymentPaidRequest struct {
	OrderID           string `json:"order_id"`
	ProviderOrderID   string `json:"provider_order_id"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Signature         string `json:"signature"`
}

func (h *PaymentWebhookHandlers) paymentPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req paymentPaidRequest
	if !decodeJSONBody(w, r, maxWebhookBodySize, &req) {
		return
	}
	signature := strings.TrimSpace(req.Signature)
	if signature == "" {
		signature = strings.TrimSpace(r.Header.Get(paymentSignatureHeader))
	}

	order, err := h.orders.MarkPaid(ctx, services.MarkPaidCommand{
		OrderID:           req.OrderID,
		ProviderOrderID:   req.ProviderOrderID,
		ProviderPaymentID: req.ProviderPaymentID,
		Signature:         signature,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}
