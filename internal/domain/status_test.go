package domain

import (
	"errors"
	"testing"
)

func TestParseOrderStatus(t *testing.T) {
	cases := []struct {
		raw     string
		want    OrderStatus
		wantErr bool
	}{
		{raw: "pending", want: OrderStatusPending},
		{raw: " Shipped ", want: OrderStatusShipped},
		{raw: "CANCELLED", want: OrderStatusCancelled},
		{raw: "canceled", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseOrderStatus(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownStatus) {
				t.Fatalf("ParseOrderStatus(%q): expected ErrUnknownStatus, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseOrderStatus(%q): unexpected error %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseOrderStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParsePaymentStatusRejectsUnknown(t *testing.T) {
	if _, err := ParsePaymentStatus("authorized"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
	got, err := ParsePaymentStatus("Refunded")
	if err != nil || got != PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %q (%v)", got, err)
	}
}

func TestDesignApprovalStatusPredicates(t *testing.T) {
	if !DesignStatusPendingDesign.AwaitingAdmin() || !DesignStatusRevisionRequested.AwaitingAdmin() {
		t.Fatalf("pending_design and revision_requested must await admin")
	}
	if DesignStatusApproved.AwaitingAdmin() || DesignStatusPendingApproval.AwaitingAdmin() {
		t.Fatalf("approved and pending_approval must not await admin")
	}
	for _, status := range designApprovalStatuses {
		if status.CustomerCanDecide() != (status == DesignStatusPendingApproval) {
			t.Fatalf("unexpected CustomerCanDecide for %s", status)
		}
	}
	if _, err := ParseDesignApprovalStatus("rejected"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}
