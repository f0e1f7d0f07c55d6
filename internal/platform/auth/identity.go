package auth

import (
	"context"
	"slices"
	"strings"
)

// Roles carried in the Firebase custom claim. Tokens without one belong to customers.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// privilege orders roles from most to least powerful.
var privilege = []string{RoleAdmin, RoleStaff, RoleCustomer}

// Identity is the verified caller attached to the request context.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	want := canonicalRole(role)
	return want != "" && slices.ContainsFunc(i.Roles, func(r string) bool {
		return canonicalRole(r) == want
	})
}

// PrimaryRole returns the most privileged known role held, falling back to customer.
func (i *Identity) PrimaryRole() string {
	for _, role := range privilege {
		if i.HasRole(role) {
			return role
		}
	}
	return RoleCustomer
}

// IsOperator reports whether the identity may use back-office routes.
func (i *Identity) IsOperator() bool {
	primary := i.PrimaryRole()
	return primary == RoleAdmin || primary == RoleStaff
}

type identityKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the authentication middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
