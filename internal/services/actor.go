package services

import "strings"

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Actor is the resolved caller supplied by the authentication layer. The zero value is the
// system actor.
type Actor struct {
	ID    string
	Role  string
	Email string
	Name  string
}

// IsSystem reports whether the actor carries no identity.
func (a Actor) IsSystem() bool {
	return strings.TrimSpace(a.ID) == ""
}

// IsOperator reports whether the actor may run back-office operations.
func (a Actor) IsOperator() bool {
	switch strings.ToLower(strings.TrimSpace(a.Role)) {
	case RoleAdmin, RoleStaff:
		return true
	}
	return false
}

func requireOperator(actor Actor) error {
	if actor.IsSystem() || !actor.IsOperator() {
		return ErrForbidden
	}
	return nil
}

func requireCustomer(actor Actor) error {
	if actor.IsSystem() {
		return ErrForbidden
	}
	return nil
}
