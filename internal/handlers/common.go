package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

var (
	errInvalidShippingAddress = errors.New("shipping_address must be a string or an object")
	errInvalidStatusFilter    = errors.New("unknown status filter")
)

// actorFromRequest maps the authenticated identity onto the service actor. Operators are
// resolved with admin taking precedence over staff.
func actorFromRequest(r *http.Request) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return services.Actor{}, false
	}
	role := services.RoleCustomer
	switch identity.PrimaryRole() {
	case auth.RoleAdmin:
		role = services.RoleAdmin
	case auth.RoleStaff:
		role = services.RoleStaff
	}
	return services.Actor{
		ID:    strings.TrimSpace(identity.UID),
		Role:  role,
		Email: identity.Email,
		Name:  identity.Name,
	}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actor, true
}

// decodeJSONBody strictly decodes a bounded body. It writes the error response itself and
// reports whether decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	err := httpx.DecodeJSON(r, limit, dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httpx.ErrBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, httpx.ErrEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is empty", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
	}
	return false
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// writeServiceError maps the service error taxonomy onto HTTP responses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(map[string]any{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation not permitted", http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "storage temporarily unavailable, retry later", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("canceled", "request canceled", 499))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "failed to process request", http.StatusInternalServerError))
	}
}

func parsePagination(query url.Values) (services.Pagination, error) {
	params, err := pagination.ParseQuery(query)
	if err != nil {
		return services.Pagination{}, errors.New("page_size must be an integer")
	}
	return services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}, nil
}

func parseDateRange(query url.Values, fromKey, toKey string) (domain.RangeQuery[time.Time], error) {
	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get(fromKey)); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return dateRange, fmt.Errorf("%s must be a valid RFC3339 timestamp", fromKey)
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get(toKey)); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return dateRange, fmt.Errorf("%s must be a valid RFC3339 timestamp", toKey)
		}
		dateRange.To = &ts
	}
	return dateRange, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
