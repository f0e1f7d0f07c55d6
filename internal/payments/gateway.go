// Package payments adapts the external payment provider used to reserve funds for new orders
// and to authenticate payment callbacks.
package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned by Reserve when no provider credentials are configured.
	// Callers treat it as an intentional skip rather than a degraded provider.
	ErrNotConfigured = errors.New("payments: provider not configured")
	// ErrProviderUnavailable wraps transport failures and provider-side 5xx responses.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrRejected wraps requests the provider refused.
	ErrRejected = errors.New("payments: request rejected by provider")
)

// ReservationRequest describes funds to hold for an order.
type ReservationRequest struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Reservation is the provider handle for a not-yet-captured payment.
type Reservation struct {
	Provider        string
	ProviderOrderID string
	Status          string
	CreatedAt       time.Time
}

// Gateway is the payment reservation adapter consumed by the order service.
type Gateway interface {
	Reserve(ctx context.Context, req ReservationRequest) (Reservation, error)
	VerifySignature(providerOrderID, providerPaymentID, signature string) bool
}

func (r ReservationRequest) validate() error {
	if r.Amount <= 0 {
		return errors.New("payments: amount must be positive")
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		return errors.New("payments: currency must be an ISO 4217 code")
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return errors.New("payments: idempotency key is required")
	}
	return nil
}

// DisabledGateway is used when no provider is configured. Reservations are skipped while
// callback signatures are still verified when a signing secret exists.
type DisabledGateway struct {
	signer *Signer
}

// NewDisabledGateway constructs a gateway that never reserves.
func NewDisabledGateway(signingSecret string) *DisabledGateway {
	return &DisabledGateway{signer: NewSigner(signingSecret)}
}

func (g *DisabledGateway) Reserve(context.Context, ReservationRequest) (Reservation, error) {
	return Reservation{}, ErrNotConfigured
}

func (g *DisabledGateway) VerifySignature(providerOrderID, providerPaymentID, signature string) bool {
	return g.signer.Verify(providerOrderID, providerPaymentID, signature)
}
