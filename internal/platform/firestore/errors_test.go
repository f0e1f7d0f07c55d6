package firestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/storefront/internal/repositories"
)

func TestWrapErrorKinds(t *testing.T) {
	cases := map[codes.Code]repositories.ErrorKind{
		codes.NotFound:          repositories.ErrorKindNotFound,
		codes.AlreadyExists:     repositories.ErrorKindConflict,
		codes.Aborted:           repositories.ErrorKindConflict,
		codes.Unavailable:       repositories.ErrorKindUnavailable,
		codes.ResourceExhausted: repositories.ErrorKindUnavailable,
		codes.PermissionDenied:  repositories.ErrorKindUnknown,
	}
	for code, want := range cases {
		err := WrapError("audit_logs.append", status.Error(code, "rpc failed"))

		var repoErr *repositories.Error
		require.ErrorAs(t, err, &repoErr, code.String())
		assert.Equal(t, want, repoErr.Kind, code.String())
		assert.Equal(t, "audit_logs.append", repoErr.Op)
	}
}

func TestWrapErrorPassThrough(t *testing.T) {
	assert.NoError(t, WrapError("op", nil))
	assert.ErrorIs(t, WrapError("op", context.Canceled), context.Canceled)
	assert.ErrorIs(t, WrapError("op", status.Error(codes.Canceled, "client went away")), context.Canceled)

	classified := repositories.NewError("audit_logs.list", repositories.ErrorKindConflict, "", nil)
	assert.Same(t, classified, WrapError("other", classified))
}
