package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/mapper"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/types"
)

type SubscriptionController struct {
	subscriptionService *service.SubscriptionService
	logger              logrus.FieldLogger
}

func NewSubscriptionController(subscriptionService *service.SubscriptionService) *SubscriptionController {
	return &SubscriptionController{
		subscriptionService: subscriptionService,
		logger:              factory.NewModuleLogger("subscription-controller"),
	}
}

func (c *SubscriptionController) GetSubscription(ctx echo.Context) error {
	req, ok := c.subscriptionID(ctx)
	if !ok {
		return nil
	}

	item, err := c.subscriptionService.GetSubscription(ctx.Request().Context(), req.ID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get subscription")
	}
	return ctx.JSON(http.StatusOK, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

func (c *SubscriptionController) CancelSubscription(ctx echo.Context) error {
	req, err := types.NewCancelSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.subscriptionService.Cancel(ctx.Request().Context(), req.ID, req.CancelType)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Cancel subscription")
	}
	return ctx.JSON(http.StatusOK, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

func (c *SubscriptionController) SetOnHold(ctx echo.Context) error {
	req, ok := c.subscriptionID(ctx)
	if !ok {
		return nil
	}

	item, err := c.subscriptionService.SetOnHold(ctx.Request().Context(), req.ID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Set subscription on hold")
	}
	return ctx.JSON(http.StatusOK, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

func (c *SubscriptionController) RetryPayment(ctx echo.Context) error {
	req, ok := c.subscriptionID(ctx)
	if !ok {
		return nil
	}

	item, err := c.subscriptionService.RetryPayment(ctx.Request().Context(), req.ID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Retry subscription payment")
	}
	return ctx.JSON(http.StatusOK, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

func (c *SubscriptionController) GenerateUpdatePaymentToken(ctx echo.Context) error {
	req, ok := c.subscriptionID(ctx)
	if !ok {
		return nil
	}

	token, err := c.subscriptionService.GenerateUpdatePaymentToken(ctx.Request().Context(), req.ID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Generate update payment token")
	}
	return ctx.JSON(http.StatusCreated, mapper.UpdatePaymentTokenToResponse(token))
}

func (c *SubscriptionController) ValidateUpdateToken(ctx echo.Context) error {
	req, err := types.NewValidateUpdateTokenRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.subscriptionService.ValidateUpdateToken(ctx.Request().Context(), req.SubscriptionID, req.Token, entity.Scope(req.Type))
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Validate update payment token")
	}
	return ctx.JSON(http.StatusOK, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

func (c *SubscriptionController) UpdatePaymentMethod(ctx echo.Context) error {
	req, err := types.NewUpdatePaymentMethodRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.subscriptionService.UpdatePaymentMethod(ctx.Request().Context(), req.SetupIntentID, req.SubscriptionID, req.Token, entity.Scope(req.Type))
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Update payment method")
	}
	return ctx.JSON(http.StatusOK, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)})
}

// subscriptionID parses the :id path param and writes the 400 itself when it
// is invalid.
func (c *SubscriptionController) subscriptionID(ctx echo.Context) (*types.SubscriptionIDRequest, bool) {
	req, err := types.NewSubscriptionIDRequestFromContext(ctx)
	if err != nil {
		_ = writeError(ctx, http.StatusBadRequest, "invalid request")
		return nil, false
	}
	if err := req.Validate(); err != nil {
		_ = writeError(ctx, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return req, true
}
