package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const maxDecisionBodySize = 8 * 1024

// DesignHandlers exposes the customer side of the design approval workflow.
type DesignHandlers struct {
	authn   *auth.Authenticator
	designs services.DesignApprovalService
}

// NewDesignHandlers constructs customer design approval handlers.
func NewDesignHandlers(authn *auth.Authenticator, designs services.DesignApprovalService) *DesignHandlers {
	return &DesignHandlers{authn: authn, designs: designs}
}

// Routes registers the /order-items endpoints.
func (h *DesignHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{itemID}/design", h.getDesign)
	r.Post("/{itemID}/design/approve", h.approveDesign)
	r.Post("/{itemID}/design/revision", h.requestRevision)
}

type designDecisionRequest struct {
	Feedback string `json:"feedback"`
}

type designApprovalResponse struct {
	Approval designApprovalPayload `json:"approval"`
}

type designApprovalListResponse struct {
	Items         []designApprovalPayload `json:"items"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

type designApprovalPayload struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	OrderItemID      string `json:"order_item_id"`
	Status           string `json:"status"`
	DesignAssetRef   string `json:"design_asset_ref,omitempty"`
	CustomerFeedback string `json:"customer_feedback,omitempty"`
	RevisionCount    int    `json:"revision_count"`
	UploadedBy       string `json:"uploaded_by,omitempty"`
	ApprovedAt       string `json:"approved_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

func (h *DesignHandlers) getDesign(w http.ResponseWriter, r *http.Request) {
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

	approval, err := h.designs.Get(ctx, actor, itemID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, designApprovalResponse{Approval: buildDesignApprovalPayload(approval)})
}

func (h *DesignHandlers) approveDesign(w http.ResponseWriter, r *http.Request) {
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

	approval, err := h.designs.Approve(ctx, services.DesignDecisionCommand{Actor: actor, OrderItemID: itemID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, designApprovalResponse{Approval: buildDesignApprovalPayload(approval)})
}

func (h *DesignHandlers) requestRevision(w http.ResponseWriter, r *http.Request) {
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
	var req designDecisionRequest
	if !decodeJSONBody(w, r, maxDecisionBodySize, &req) {
		return
	}

	approval, err := h.designs.RequestRevision(ctx, services.DesignDecisionCommand{
		Actor:       actor,
		OrderItemID: itemID,
		Feedback:    req.Feedback,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, designApprovalResponse{Approval: buildDesignApprovalPayload(approval)})
}

func requireItemID(w http.ResponseWriter, r *http.Request) (string, bool) {
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order item id is required", http.StatusBadRequest))
		return "", false
	}
	return itemID, true
}

func buildDesignApprovalPayload(approval services.DesignApproval) designApprovalPayload {
	return designApprovalPayload{
		ID:               approval.ID,
		OrderID:          approval.OrderID,
		OrderItemID:      approval.OrderItemID,
		Status:           string(approval.Status),
		DesignAssetRef:   derefString(approval.DesignAssetRef),
		CustomerFeedback: derefString(approval.CustomerFeedback),
		RevisionCount:    approval.RevisionCount,
		UploadedBy:       approval.UploadedBy,
		ApprovedAt:       formatTimePtr(approval.ApprovedAt),
		CreatedAt:        formatTime(approval.CreatedAt),
		UpdatedAt:        formatTime(approval.UpdatedAt),
	}
}
