package grpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// ToStatus maps service errors to gRPC status errors. Infrastructure and
// unknown errors become a bare Internal so no detail leaks to clients.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, common.ErrorInternal), errors.Is(err, common.ErrIntegrity):
		return status.Error(codes.Internal, "internal error")
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrEmailInUse), errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrInvalidRefreshToken),
		errors.Is(err, common.ErrInvalidOrExpiredToken):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
