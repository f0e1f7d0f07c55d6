package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/services"
)

func newAdminRouter(deps AdminDeps) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(deps).Routes)
	return router
}

func TestAdminSetOrderStatus(t *testing.T) {
	var captured services.SetOrderStatusCommand
	orders := &stubOrderService{
		setOrderStatusFn: func(_ context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
			captured = cmd
			return services.Order{ID: cmd.OrderID, OrderStatus: cmd.Status}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Orders: orders})

	req := withIdentity(httptest.NewRequest(http.MethodPut, "/admin/orders/ord_1/status", strings.NewReader(`{"status":"Shipped"}`)), "staff_1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status != domain.OrderStatusShipped || captured.OrderID != "ord_1" || captured.Actor.Role != services.RoleAdmin {
		t.Fatalf("unexpected command %+v", captured)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPut, "/admin/orders/ord_1/status", strings.NewReader(`{"status":"lost"}`)), "staff_1", auth.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown status, got %d", rr.Code)
	}
}

func TestAdminSetPaymentStatusMapsForbidden(t *testing.T) {
	orders := &stubOrderService{
		setPaymentStatusFn: func(_ context.Context, cmd services.SetPaymentStatusCommand) (services.Order, error) {
			if cmd.Actor.Role != services.RoleCustomer {
				t.Fatalf("expected customer role for identity without operator claims, got %s", cmd.Actor.Role)
			}
			return services.Order{}, services.ErrForbidden
		},
	}
	router := newAdminRouter(AdminDeps{Orders: orders})

	req := withIdentity(httptest.NewRequest(http.MethodPut, "/admin/orders/ord_1/payment-status", strings.NewReader(`{"status":"refunded"}`)), "cust_1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminUploadDesignJSON(t *testing.T) {
	var captured services.UploadDesignCommand
	designs := &stubDesignService{
		uploadFn: func(_ context.Context, cmd services.UploadDesignCommand) (services.DesignApproval, error) {
			captured = cmd
			ref := cmd.AssetRef
			return services.DesignApproval{ID: "dap_1", DesignAssetRef: &ref, Status: domain.DesignStatusPendingApproval}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Designs: designs})

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/admin/order-items/itm_1/design", strings.NewReader(`{"asset_ref":"gs://designs/v1.png"}`)), "staff_1", auth.RoleStaff)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.AssetRef != "gs://designs/v1.png" || captured.Asset != nil || captured.Actor.Role != services.RoleStaff {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestAdminUploadDesignMultipart(t *testing.T) {
	var gotName, gotBody, gotType string
	designs := &stubDesignService{
		uploadFn: func(_ context.Context, cmd services.UploadDesignCommand) (services.DesignApproval, error) {
			if cmd.Asset == nil {
				t.Fatalf("expected raw asset")
			}
			data, _ := io.ReadAll(cmd.Asset.Body)
			gotName, gotBody, gotType = cmd.Asset.FileName, string(data), cmd.Asset.ContentType
			return services.DesignApproval{ID: "dap_1", Status: domain.DesignStatusPendingApproval}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Designs: designs})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "proof.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = writer.Close()

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/admin/order-items/itm_1/design", &buf), "staff_1", auth.RoleStaff)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotName != "proof.png" || gotBody != "png-bytes" || gotType != "application/octet-stream" {
		t.Fatalf("unexpected asset %q %q %q", gotName, gotBody, gotType)
	}
}

func TestAdminListPendingDesigns(t *testing.T) {
	var captured services.PendingDesignFilter
	designs := &stubDesignService{
		pendingFn: func(_ context.Context, filter services.PendingDesignFilter) (domain.CursorPage[services.DesignApproval], error) {
			captured = filter
			return domain.CursorPage[services.DesignApproval]{
				Items:         []services.DesignApproval{{ID: "dap_1", Status: domain.DesignStatusRevisionRequested}},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Designs: designs})

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/designs/pending?order_id=ord_1&page_size=5", nil), "staff_1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OrderID != "ord_1" || captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var resp designApprovalListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAdminRestock(t *testing.T) {
	var captured services.RestockCommand
	inventory := &stubInventoryService{
		restockFn: func(_ context.Context, cmd services.RestockCommand) (services.ProductStock, error) {
			captured = cmd
			return services.ProductStock{ProductID: cmd.ProductID, Stock: 15}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Inventory: inventory})

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/admin/inventory/prod_1/restock", strings.NewReader(`{"quantity":5}`)), "staff_1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prod_1" || captured.Quantity != 5 {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp stockResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil || resp.Stock != 15 {
		t.Fatalf("unexpected response %s err=%v", rr.Body.String(), err)
	}
}

func TestAdminListAuditLogs(t *testing.T) {
	var captured services.AuditLogFilter
	audit := &stubAuditService{
		listFn: func(_ context.Context, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
			captured = filter
			return domain.CursorPage[services.AuditLogEntry]{Items: []services.AuditLogEntry{{
				ID:         "aud_1",
				Action:     "order.status.update",
				EntityType: "order",
				EntityID:   "ord_1",
				Diff:       map[string]domain.AuditDiff{"order_status": {Before: "pending", After: "shipped"}},
			}}}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Audit: audit})

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/audit-logs?actor_id=staff_1&entity_type=order&action=order.status.update&from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z", nil), "staff_1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ActorID != "staff_1" || captured.EntityType != "order" || captured.Action != "order.status.update" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.DateRange.From == nil || captured.DateRange.To == nil {
		t.Fatalf("expected date range, got %+v", captured.DateRange)
	}
	var resp auditLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Diff["order_status"].After != "shipped" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAdminAuditStatsWindow(t *testing.T) {
	var gotWindow time.Duration
	audit := &stubAuditService{
		statsFn: func(_ context.Context, _ services.Actor, window time.Duration) (services.AuditStats, error) {
			gotWindow = window
			return services.AuditStats{Total: 3, ByAction: map[string]int{"design.approve": 3}}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Audit: audit})

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/audit-logs/stats?window=6h", nil), "staff_1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || gotWindow != 6*time.Hour {
		t.Fatalf("expected 200 with 6h window, got %d %s", rr.Code, gotWindow)
	}
	var resp auditStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Total != 3 || resp.ByActor == nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/admin/audit-logs/stats?window=soon", nil), "staff_1", auth.RoleAdmin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
