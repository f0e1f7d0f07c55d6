package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator resolves bearer tokens into an Identity.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim reads roles from a custom claim other than "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each verifier call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token with 401. When roles are
// listed, identities holding none of them get 403.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = canonicalRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, apiErr := a.authenticate(r)
			if apiErr != nil {
				httpx.WriteError(r.Context(), w, apiErr)
				return
			}
			if len(required) > 0 && !slices.ContainsFunc(required, identity.HasRole) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request) (*Identity, *httpx.Error) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized)
	}
	if a == nil || a.verifier == nil {
		return nil, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized)
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, httpx.NewError(verificationFailureCode(err), "firebase id token verification failed", http.StatusUnauthorized)
	}
	return a.identityFromToken(token), nil
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:   token.UID,
		Email: stringClaim(token.Claims, "email"),
		Name:  stringClaim(token.Claims, "name"),
		Roles: claimRoles(token.Claims[a.roleClaim]),
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleCustomer}
	}
	return identity
}

func verificationFailureCode(err error) string {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		return "token_expired"
	case firebaseauth.IsIDTokenRevoked(err):
		return "token_revoked"
	default:
		return "invalid_token"
	}
}

// claimRoles accepts "admin", ["staff","admin"] or {"admin":true,"staff":false}. The
// result is lower-cased, de-duplicated and sorted.
func claimRoles(claim any) []string {
	var roles []string
	add := func(role string) {
		if role = canonicalRole(role); role != "" {
			roles = append(roles, role)
		}
	}
	switch v := claim.(type) {
	case string:
		add(v)
	case []string:
		for _, role := range v {
			add(role)
		}
	case []any:
		for _, item := range v {
			if role, ok := item.(string); ok {
				add(role)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if on, _ := enabled.(bool); on {
				add(role)
			}
		}
	}
	slices.Sort(roles)
	return slices.Compact(roles)
}

func stringClaim(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return strings.TrimSpace(v)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
