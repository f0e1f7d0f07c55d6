package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: domain.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"database": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"readyz", http.MethodGet, "/readyz", http.StatusOK},
		{"orders not implemented", http.MethodGet, "/api/v1/orders", http.StatusNotImplemented},
		{"admin not implemented", http.MethodPut, "/api/v1/admin/orders/ord_1/status", http.StatusNotImplemented},
		{"unknown route", http.MethodGet, "/api/v2/orders", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected json content type, got %s", ct)
			}
		})
	}
}

func TestNewRouter_MountsRegistrarsAndWebhookMiddleware(t *testing.T) {
	var webhookMiddlewareHit bool
	router := NewRouter(
		WithOrderRoutes(func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		}),
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/payments/paid", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
		}),
		WithWebhookMiddlewares(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				webhookMiddlewareHit = true
				next.ServeHTTP(w, r)
			})
		}),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected registrar route, got %d", rr.Code)
	}
	if webhookMiddlewareHit {
		t.Fatalf("webhook middleware must not run for order routes")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/paid", nil))
	if rr.Code != http.StatusAccepted || !webhookMiddlewareHit {
		t.Fatalf("expected webhook route behind middleware, got %d hit=%v", rr.Code, webhookMiddlewareHit)
	}
}
