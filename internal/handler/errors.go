package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SinaHo/phone-auth-backend/internal/service"
)

const (
	msgInvalidRequest    = "Invalid request."
	msgInvalidCredential = "Access denied. Invalid code or phone number."
	msgInviteNotFound    = "Invalid invite code."
	msgAlreadyReferred   = "You have already used an invite code."
	msgSelfReferral      = "You cannot use your own invite code."
	msgNotFound          = "Not found."
	msgInternal          = "Internal server error."
)

// writeError translates a service error into an HTTP response. Unknown errors
// are logged and answered with 500.
func writeError(c echo.Context, logger *zap.SugaredLogger, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"message": msgInvalidRequest,
			"errors":  map[string]string{verr.Field: verr.Message},
		})
	case errors.Is(err, service.ErrInvalidCredential):
		return c.JSON(http.StatusForbidden, echo.Map{"message": msgInvalidCredential})
	case errors.Is(err, service.ErrInviteNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"message": msgInviteNotFound})
	case errors.Is(err, service.ErrAlreadyReferred):
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msgAlreadyReferred})
	case errors.Is(err, service.ErrSelfReferral):
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msgSelfReferral})
	case errors.Is(err, service.ErrPermissionDenied):
		return c.NoContent(http.StatusForbidden)
	case errors.Is(err, service.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"message": msgNotFound})
	default:
		logger.Errorw("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": msgInternal})
	}
}

// grpcError translates a service error into a gRPC status.
func grpcError(logger *zap.SugaredLogger, method string, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	case errors.Is(err, service.ErrInvalidCredential):
		return status.Error(codes.PermissionDenied, msgInvalidCredential)
	case errors.Is(err, service.ErrInviteNotFound):
		return status.Error(codes.NotFound, msgInviteNotFound)
	case errors.Is(err, service.ErrAlreadyReferred):
		return status.Error(codes.FailedPrecondition, msgAlreadyReferred)
	case errors.Is(err, service.ErrSelfReferral):
		return status.Error(codes.FailedPrecondition, msgSelfReferral)
	case errors.Is(err, service.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, service.ErrUserNotFound):
		return status.Error(codes.NotFound, msgNotFound)
	default:
		logger.Errorw("rpc failed", "method", method, "error", err)
		return status.Error(codes.Internal, msgInternal)
	}
}
