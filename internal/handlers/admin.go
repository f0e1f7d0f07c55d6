package handlers

import (
	"errors"
	"mime/multipart"
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
	maxStatusBodySize     = 4 * 1024
	maxDesignUploadBytes  = 20 << 20
	multipartMemoryBuffer = 8 << 20
	designUploadFormField = "file"
)

// AdminHandlers exposes back-office endpoints for staff and admins.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	designs   services.DesignApprovalService
	inventory services.InventoryService
	audit     services.AuditLogService
}

// AdminDeps bundles the services behind the admin endpoints.
type AdminDeps struct {
	Authenticator *auth.Authenticator
	Orders        services.OrderService
	Designs       services.DesignApprovalService
	Inventory     services.InventoryService
	Audit         services.AuditLogService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(deps AdminDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:     deps.Authenticator,
		orders:    deps.Orders,
		designs:   deps.Designs,
		inventory: deps.Inventory,
		audit:     deps.Audit,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Put("/orders/{orderID}/status", h.setOrderStatus)
	r.Put("/orders/{orderID}/payment-status", h.setPaymentStatus)

	r.Get("/designs/pending", h.listPendingDesigns)
	r.Post("/order-items/{itemID}/design", h.uploadDesign)

	r.Get("/inventory/{productID}", h.getStock)
	r.Post("/inventory/{productID}/restock", h.restock)

	r.Get("/audit-logs", h.listAuditLogs)
	r.Get("/audit-logs/stats", h.auditStats)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

type uploadDesignRequest struct {
	AssetRef string `json:"asset_ref"`
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

type stockResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Stock     int    `json:"stock"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type auditLogListResponse struct {
	Items         []auditLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type auditLogPayload struct {
	ID         string                      `json:"id"`
	ActorID    string                      `json:"actor_id,omitempty"`
	ActorEmail string                      `json:"actor_email,omitempty"`
	ActorName  string                      `json:"actor_name,omitempty"`
	Action     string                      `json:"action"`
	EntityType string                      `json:"entity_type"`
	EntityID   string                      `json:"entity_id"`
	EntityName string                      `json:"entity_name,omitempty"`
	Diff       map[string]domain.AuditDiff `json:"diff"`
	IPHash     string                      `json:"ip_hash,omitempty"`
	UserAgent  string                      `json:"user_agent,omitempty"`
	RequestID  string                      `json:"request_id,omitempty"`
	CreatedAt  string                      `json:"created_at"`
}

type auditStatsResponse struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	Total        int            `json:"total"`
	ByAction     map[string]int `json:"by_action"`
	ByEntityType map[string]int `json:"by_entity_type"`
	ByActor      map[string]int `json:"by_actor"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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
	filter.CustomerID = strings.TrimSpace(r.URL.Query().Get("customer_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderList(w, page)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, actor, strings.TrimSpace(chi.URLParam(r, "orderID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) setOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if !decodeJSONBody(w, r, maxStatusBodySize, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetOrderStatus(ctx, services.SetOrderStatusCommand{
		Actor:   actor,
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  status,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) setPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if !decodeJSONBody(w, r, maxStatusBodySize, &req) {
		return
	}
	status, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a known payment status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SetPaymentStatus(ctx, services.SetPaymentStatusCommand{
		Actor:   actor,
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Status:  status,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listPendingDesigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.designs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("design_service_unavailable", "design approval service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	pagination, err := parsePagination(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.designs.ListPending(ctx, services.PendingDesignFilter{
		Actor:      actor,
		OrderID:    strings.TrimSpace(r.URL.Query().Get("order_id")),
		Pagination: pagination,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]designApprovalPayload, 0, len(page.Items))
	for _, approval := range page.Items {
		items = append(items, buildDesignApprovalPayload(approval))
	}
	writeJSONResponse(w, http.StatusOK, designApprovalListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

// uploadDesign accepts either a JSON body with an existing asset reference or a multipart
// form carrying the artwork in the "file" field.
func (h *AdminHandlers) uploadDesign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.designs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("design_service_unavailable", "design approval service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	itemID, ok := requireItemID(w, r)
	if !ok {
		return
	}
	cmd := services.UploadDesignCommand{Actor: actor, OrderItemID: itemID}

	if strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxDesignUploadBytes+multipartMemoryBuffer)
		if err := r.ParseMultipartForm(multipartMemoryBuffer); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "design upload exceeds allowed size", http.StatusRequestEntityTooLarge))
				return
			}
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid multipart form", http.StatusBadRequest))
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()
		file, header, err := r.FormFile(designUploadFormField)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file field is required", http.StatusBadRequest))
			return
		}
		defer file.Close()
		cmd.Asset = designAssetFromForm(file, header)
	} else {
		var req uploadDesignRequest
		if !decodeJSONBody(w, r, maxStatusBodySize, &req) {
			return
		}
		cmd.AssetRef = req.AssetRef
	}

	approval, err := h.designs.UploadDesign(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, designApprovalResponse{Approval: buildDesignApprovalPayload(approval)})
}

func designAssetFromForm(file multipart.File, header *multipart.FileHeader) *services.DesignAssetUpload {
	return &services.DesignAssetUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	stock, err := h.inventory.GetStock(ctx, actor, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockResponse(stock))
}

func (h *AdminHandlers) restock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req restockRequest
	if !decodeJSONBody(w, r, maxStatusBodySize, &req) {
		return
	}
	stock, err := h.inventory.Restock(ctx, services.RestockCommand{
		Actor:     actor,
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockResponse(stock))
}

func buildStockResponse(stock services.ProductStock) stockResponse {
	return stockResponse{
		ProductID: stock.ProductID,
		Name:      stock.Name,
		Stock:     stock.Stock,
		UpdatedAt: formatTime(stock.UpdatedAt),
	}
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	dateRange, err := parseDateRange(query, "from", "to")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	pagination, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.audit.List(ctx, services.AuditLogFilter{
		Actor:      actor,
		ActorID:    query.Get("actor_id"),
		EntityType: query.Get("entity_type"),
		EntityID:   query.Get("entity_id"),
		Action:     query.Get("action"),
		DateRange:  dateRange,
		Pagination: pagination,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, auditLogPayload{
			ID:         entry.ID,
			ActorID:    entry.ActorID,
			ActorEmail: entry.ActorEmail,
			ActorName:  entry.ActorName,
			Action:     entry.Action,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			EntityName: entry.EntityName,
			Diff:       entry.Diff,
			IPHash:     entry.IPHash,
			UserAgent:  entry.UserAgent,
			RequestID:  entry.RequestID,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *AdminHandlers) auditStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var window time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "window must be a duration such as 24h", http.StatusBadRequest))
			return
		}
		window = parsed
	}

	stats, err := h.audit.Stats(ctx, actor, window)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, auditStatsResponse{
		From:         formatTime(stats.From),
		To:           formatTime(stats.To),
		Total:        stats.Total,
		ByAction:     nonNilCounts(stats.ByAction),
		ByEntityType: nonNilCounts(stats.ByEntityType),
		ByActor:      nonNilCounts(stats.ByActor),
	})
}

func nonNilCounts(counts map[string]int) map[string]int {
	if counts == nil {
		return map[string]int{}
	}
	return counts
}
