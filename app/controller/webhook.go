package controller

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/types"
)

const (
	maxWebhookBodyBytes = 1 << 20

	headerStripeSignature   = "Stripe-Signature"
	headerCalendlySignature = "Calendly-Webhook-Signature"
	tbiOrderDataField       = "order_data"
)

// WebhookController answers 200 once an event is handled, 400 when it cannot
// be verified and 500 when the provider should deliver it again.
type WebhookController struct {
	webhookService *service.WebhookService
	logger         logrus.FieldLogger
}

func NewWebhookController(webhookService *service.WebhookService) *WebhookController {
	return &WebhookController{
		webhookService: webhookService,
		logger:         factory.NewModuleLogger("webhook-controller"),
	}
}

func (c *WebhookController) Stripe(ctx echo.Context) error {
	payload, err := readBody(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}
	signature := strings.TrimSpace(ctx.Request().Header.Get(headerStripeSignature))
	if signature == "" {
		return writeError(ctx, http.StatusBadRequest, "missing stripe signature")
	}

	if err := c.webhookService.HandleStripe(ctx.Request().Context(), payload, signature); err != nil {
		return c.writeWebhookError(ctx, err, "Stripe webhook")
	}
	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Received: true})
}

func (c *WebhookController) TBI(ctx echo.Context) error {
	orderData := strings.TrimSpace(ctx.FormValue(tbiOrderDataField))
	if orderData == "" {
		return writeError(ctx, http.StatusBadRequest, "order_data is required")
	}

	if err := c.webhookService.HandleTBI(ctx.Request().Context(), orderData); err != nil {
		return c.writeWebhookError(ctx, err, "TBI webhook")
	}
	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Received: true})
}

func (c *WebhookController) Calendly(ctx echo.Context) error {
	payload, err := readBody(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}
	signature := strings.TrimSpace(ctx.Request().Header.Get(headerCalendlySignature))
	if signature == "" {
		return writeError(ctx, http.StatusBadRequest, "missing calendly signature")
	}

	if err := c.webhookService.HandleCalendly(ctx.Request().Context(), payload, signature); err != nil {
		return c.writeWebhookError(ctx, err, "Calendly webhook")
	}
	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Received: true})
}

func (c *WebhookController) writeWebhookError(ctx echo.Context, err error, operation string) error {
	if errors.Is(err, service.ErrWebhookRejected) {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn(operation + " rejected")
		return writeError(ctx, http.StatusBadRequest, "invalid webhook")
	}
	factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(operation + " failed")
	return writeError(ctx, http.StatusInternalServerError, internalServerError)
}

func readBody(ctx echo.Context) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBodyBytes+1))
	if err != nil {
		return nil, errors.New("invalid request body")
	}
	if len(payload) > maxWebhookBodyBytes {
		return nil, errors.New("request body too large")
	}
	if len(payload) == 0 {
		return nil, errors.New("empty request body")
	}
	return payload, nil
}
