package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/types"
)

const internalServerError = "internal server error"

// writeServiceError maps a service error kind onto an HTTP status. Unknown
// errors are logged and hidden behind a generic message.
func writeServiceError(ctx echo.Context, logger logrus.FieldLogger, err error, operation string) error {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrWebhookRejected):
		return writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return writeError(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return writeError(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		return writeError(ctx, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return writeError(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrPaymentDeclined):
		return writeError(ctx, http.StatusPaymentRequired, err.Error())
	default:
		factory.LoggerWithContext(logger, ctx).WithError(err).Error(operation + " failed")
		return writeError(ctx, http.StatusInternalServerError, internalServerError)
	}
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
