package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/hanko-field/storefront/internal/platform/textutil"
)

const providerStripe = "stripe"

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	AccountID     string
	SigningSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time

	intents stripePaymentIntentAPI
}

// StripeGateway reserves funds with manual-capture PaymentIntents. The order number is used
// as the Stripe idempotency key so a retried reservation never creates a second intent.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	account string
	signer  *Signer
	clock   func() time.Time
	logger  StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		signer:  NewSigner(cfg.SigningSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reserve creates an uncaptured PaymentIntent for the amount.
func (g *StripeGateway) Reserve(ctx context.Context, req ReservationRequest) (Reservation, error) {
	if err := req.validate(); err != nil {
		return Reservation{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(strings.TrimSpace(req.IdempotencyKey))
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	for k, v := range textutil.BoundStringMap(req.Metadata, textutil.StripeMetadataLimits) {
		params.AddMetadata(k, v)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return Reservation{}, classifyStripeError(err)
	}

	g.logger(ctx, "payments.stripe.intent.reserved", map[string]any{
		"intentID":       intent.ID,
		"idempotencyKey": req.IdempotencyKey,
		"amount":         req.Amount,
		"currency":       strings.ToUpper(req.Currency),
	})

	createdAt := g.clock()
	if intent.Created > 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}
	return Reservation{
		Provider:        providerStripe,
		ProviderOrderID: intent.ID,
		Status:          string(intent.Status),
		CreatedAt:       createdAt,
	}, nil
}

// VerifySignature checks a payment callback signature.
func (g *StripeGateway) VerifySignature(providerOrderID, providerPaymentID, signature string) bool {
	return g.signer.Verify(providerOrderID, providerPaymentID, signature)
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if stripeErr.HTTPStatusCode > 0 {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
