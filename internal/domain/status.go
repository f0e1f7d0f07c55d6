package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStatus is returned when a status string is not part of a closed enumeration.
var ErrUnknownStatus = errors.New("domain: unknown status")

// OrderStatus enumerates fulfilment states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// OrderStatuses lists every known order status.
func OrderStatuses() []OrderStatus {
	return append([]OrderStatus(nil), orderStatuses...)
}

// ParseOrderStatus converts a raw string into a known OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	value := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range orderStatuses {
		if value == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: order status %q", ErrUnknownStatus, raw)
}

// PaymentStatus enumerates payment states tracked independently of fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// ParsePaymentStatus converts a raw string into a known PaymentStatus.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	value := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range paymentStatuses {
		if value == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: payment status %q", ErrUnknownStatus, raw)
}

// DesignApprovalStatus enumerates the states of a design approval.
type DesignApprovalStatus string

const (
	DesignStatusPendingDesign     DesignApprovalStatus = "pending_design"
	DesignStatusPendingApproval   DesignApprovalStatus = "pending_approval"
	DesignStatusApproved          DesignApprovalStatus = "approved"
	DesignStatusRevisionRequested DesignApprovalStatus = "revision_requested"
)

var designApprovalStatuses = []DesignApprovalStatus{
	DesignStatusPendingDesign,
	DesignStatusPendingApproval,
	DesignStatusApproved,
	DesignStatusRevisionRequested,
}

// ParseDesignApprovalStatus converts a raw string into a known DesignApprovalStatus.
func ParseDesignApprovalStatus(raw string) (DesignApprovalStatus, error) {
	value := DesignApprovalStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, status := range designApprovalStatuses {
		if value == status {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: design approval status %q", ErrUnknownStatus, raw)
}

// AwaitingAdmin reports whether the approval needs an admin to produce artwork.
func (s DesignApprovalStatus) AwaitingAdmin() bool {
	return s == DesignStatusPendingDesign || s == DesignStatusRevisionRequested
}

// CustomerCanDecide reports whether a customer decision is accepted in this state.
// Approved is terminal for the current artwork; only a new upload reopens it.
func (s DesignApprovalStatus) CustomerCanDecide() bool {
	return s == DesignStatusPendingApproval
}
