package controller

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/mapper"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/types"
)

type PaymentLinkController struct {
	linkService *service.PaymentLinkService
	logger      logrus.FieldLogger
}

func NewPaymentLinkController(linkService *service.PaymentLinkService) *PaymentLinkController {
	return &PaymentLinkController{
		linkService: linkService,
		logger:      factory.NewModuleLogger("payment-link-controller"),
	}
}

func (c *PaymentLinkController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentLinkController) CreatePaymentLink(ctx echo.Context) error {
	req, err := types.NewCreatePaymentLinkRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	link, err := c.linkService.CreatePaymentLink(ctx.Request().Context(), req)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Create payment link")
	}

	return ctx.JSON(http.StatusCreated, &types.CreatePaymentLinkResponse{
		Data: mapper.PaymentLinkToResponse(link),
		URL:  c.linkService.CheckoutURL(link),
	})
}

func (c *PaymentLinkController) GetCheckout(ctx echo.Context) error {
	req, err := types.NewGetCheckoutRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	link, err := c.linkService.GetCheckout(ctx.Request().Context(), req.PublicID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Get checkout")
	}

	return ctx.JSON(http.StatusOK, &types.CheckoutResponse{Checkout: mapper.CheckoutFromPaymentLink(link)})
}

func (c *PaymentLinkController) InitiateCheckout(ctx echo.Context) error {
	req, err := types.NewInitiateCheckoutRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	order, redirectURL, err := c.linkService.InitiateCheckout(ctx.Request().Context(), req.PublicID, mapper.BillingDataToEntity(req.Billing))
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Initiate checkout")
	}

	return ctx.JSON(http.StatusOK, &types.InitiateCheckoutResponse{
		Order:       mapper.OrderToResponse(order),
		RedirectURL: redirectURL,
	})
}

func (c *PaymentLinkController) ConfirmBankTransfer(ctx echo.Context) error {
	req, err := types.NewConfirmBankTransferRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	order, err := c.linkService.ConfirmBankTransfer(ctx.Request().Context(), req.OrderID)
	if err != nil {
		return writeServiceError(ctx, c.logger, err, "Confirm bank transfer")
	}

	return ctx.JSON(http.StatusOK, &types.OrderResponse{Order: mapper.OrderToResponse(order)})
}
