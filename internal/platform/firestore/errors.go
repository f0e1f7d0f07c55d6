package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/storefront/internal/repositories"
)

var codeKinds = map[codes.Code]repositories.ErrorKind{
	codes.NotFound:           repositories.ErrorKindNotFound,
	codes.AlreadyExists:      repositories.ErrorKindConflict,
	codes.FailedPrecondition: repositories.ErrorKindConflict,
	codes.Aborted:            repositories.ErrorKindConflict,
	codes.Unavailable:        repositories.ErrorKindUnavailable,
	codes.ResourceExhausted:  repositories.ErrorKindUnavailable,
	codes.Internal:           repositories.ErrorKindUnavailable,
	codes.DeadlineExceeded:   repositories.ErrorKindUnavailable,
}

// WrapError turns a Firestore gRPC failure into a repository error. Context errors and
// errors that are already classified pass through.
func WrapError(op string, err error) error {
	var repoErr repositories.RepositoryError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.As(err, &repoErr):
		return err
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	kind, ok := codeKinds[code]
	if !ok {
		kind = repositories.ErrorKindUnknown
	}
	return repositories.NewError(op, kind, "", err)
}

func isDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
