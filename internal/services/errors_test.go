package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

func TestMapRepositoryError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: repositories.NotFound("order.find", "missing"), want: ErrNotFound},
		{name: "conflict", err: repositories.Conflict("order.insert", "dup"), want: ErrValidation},
		{name: "unavailable", err: repositories.NewError("order.insert", repositories.ErrorKindUnavailable, "connection refused", nil), want: ErrPersistence},
		{name: "page token", err: fmt.Errorf("%w: bad", pagination.ErrInvalidPageToken), want: ErrValidation},
		{name: "deadline", err: context.DeadlineExceeded, want: context.DeadlineExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapRepositoryError("op", tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
	if mapRepositoryError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestPersistenceErrorHidesStorageDetail(t *testing.T) {
	cause := errors.New(`pq: relation "orders" does not exist`)
	err := mapRepositoryError("order.insert", cause)
	if strings.Contains(err.Error(), "relation") {
		t.Fatalf("storage detail leaked: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must remain reachable for logs")
	}
}
