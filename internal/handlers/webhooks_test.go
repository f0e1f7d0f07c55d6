package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/services"
)

func newWebhookRouter(orders services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewPaymentWebhookHandlers(orders).Routes)
	return router
}

func TestPaymentWebhookMarksPaid(t *testing.T) {
	var captured services.MarkPaidCommand
	orders := &stubOrderService{
		markPaidFn: func(_ context.Context, cmd services.MarkPaidCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, PaymentStatus: domain.PaymentStatusPaid}, nil
		},
	}
	router := newWebhookRouter(orders)

	body := `{"order_id":"ord_1","provider_order_id":"pi_1","provider_payment_id":"pay_1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/paid", strings.NewReader(body))
	req.Header.Set(paymentSignatureHeader, "abc123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Signature != "abc123" || captured.ProviderOrderID != "pi_1" || captured.ProviderPaymentID != "pay_1" {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	orders := &stubOrderService{
		markPaidFn: func(context.Context, services.MarkPaidCommand) (services.Order, error) {
			return services.Order{}, services.ErrSignatureInvalid
		},
	}
	router := newWebhookRouter(orders)

	body := `{"order_id":"ord_1","provider_order_id":"pi_1","provider_payment_id":"pay_1","signature":"bad"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/paid", strings.NewReader(body)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
