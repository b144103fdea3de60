package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophid/internal/common"
	"github.com/dmitrijs2005/gophid/internal/server/verifier"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{common.ErrNotFound, codes.NotFound},
	{common.ErrInvalidArgument, codes.InvalidArgument},
	{common.ErrUnauthorized, codes.Unauthenticated},
	{common.ErrInvalidToken, codes.Unauthenticated},
	{common.ErrTokenExpired, codes.Unauthenticated},
	{common.ErrStaleSession, codes.Unauthenticated},
	{common.ErrThrottled, codes.ResourceExhausted},
	{common.ErrPasswordNotAllowed, codes.FailedPrecondition},
	{common.ErrPasswordRequired, codes.FailedPrecondition},
	{common.ErrAccountLocked, codes.PermissionDenied},
	{common.ErrPermissionDenied, codes.PermissionDenied},
	{common.ErrNotReady, codes.Unavailable},
	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// toStatus maps service errors onto gRPC status codes. Retryable backend
// failures become Unavailable; anything unrecognised is Internal and its text
// is not leaked.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if common.IsRetryable(err) {
		return status.Error(codes.Unavailable, "backend unavailable, retry later")
	}

	var verr *verifier.Error
	if errors.As(err, &verr) {
		switch verr.Kind {
		case verifier.KindTimeout:
			return status.Error(codes.DeadlineExceeded, verr.Error())
		case verifier.KindUnavailable:
			return status.Error(codes.Unavailable, verr.Error())
		default:
			return status.Error(codes.Unauthenticated, verr.Error())
		}
	}

	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	return status.Error(codes.Internal, "internal error")
}
