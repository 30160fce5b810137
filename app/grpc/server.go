package grpc

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-billing/app/mapper"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	linkService         *service.PaymentLinkService
	subscriptionService *service.SubscriptionService
}

func NewServer(linkService *service.PaymentLinkService, subscriptionService *service.SubscriptionService) *Server {
	return &Server{linkService: linkService, subscriptionService: subscriptionService}
}

func (s *Server) Health(_ context.Context, _ *types.HealthRequest) (*types.HealthResponse, error) {
	return &types.HealthResponse{Status: "ok"}, nil
}

func (s *Server) CreatePaymentLink(ctx context.Context, req *types.CreatePaymentLinkRequest) (*types.CreatePaymentLinkResponse, error) {
	l := loggerWithContext(ctx)
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Create payment link validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	link, err := s.linkService.CreatePaymentLink(ctx, req)
	if err != nil {
		return nil, statusFromError(ctx, err, "Create payment link")
	}

	return &types.CreatePaymentLinkResponse{
		Data: mapper.PaymentLinkToResponse(link),
		URL:  s.linkService.CheckoutURL(link),
	}, nil
}

func (s *Server) GetCheckout(ctx context.Context, req *types.GetCheckoutRequest) (*types.CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	link, err := s.linkService.GetCheckout(ctx, req.PublicID)
	if err != nil {
		return nil, statusFromError(ctx, err, "Get checkout")
	}

	return &types.CheckoutResponse{Checkout: mapper.CheckoutFromPaymentLink(link)}, nil
}

func (s *Server) ConfirmBankTransfer(ctx context.Context, req *types.ConfirmBankTransferRequest) (*types.OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	order, err := s.linkService.ConfirmBankTransfer(ctx, req.OrderID)
	if err != nil {
		return nil, statusFromError(ctx, err, "Confirm bank transfer")
	}

	return &types.OrderResponse{Order: mapper.OrderToResponse(order)}, nil
}

func (s *Server) GetSubscription(ctx context.Context, req *types.SubscriptionIDRequest) (*types.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.subscriptionService.GetSubscription(ctx, req.ID)
	if err != nil {
		return nil, statusFromError(ctx, err, "Get subscription")
	}

	return &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)}, nil
}

func (s *Server) CancelSubscription(ctx context.Context, req *types.CancelSubscriptionRequest) (*types.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.subscriptionService.Cancel(ctx, req.ID, req.CancelType)
	if err != nil {
		return nil, statusFromError(ctx, err, "Cancel subscription")
	}

	return &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)}, nil
}

func (s *Server) SetSubscriptionOnHold(ctx context.Context, req *types.SubscriptionIDRequest) (*types.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.subscriptionService.SetOnHold(ctx, req.ID)
	if err != nil {
		return nil, statusFromError(ctx, err, "Set subscription on hold")
	}

	return &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)}, nil
}

func (s *Server) RetrySubscriptionPayment(ctx context.Context, req *types.SubscriptionIDRequest) (*types.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.subscriptionService.RetryPayment(ctx, req.ID)
	if err != nil {
		return nil, statusFromError(ctx, err, "Retry subscription payment")
	}

	return &types.SubscriptionResponse{Subscription: mapper.SubscriptionToResponse(item)}, nil
}

func (s *Server) GenerateUpdatePaymentToken(ctx context.Context, req *types.SubscriptionIDRequest) (*types.UpdatePaymentTokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	token, err := s.subscriptionService.GenerateUpdatePaymentToken(ctx, req.ID)
	if err != nil {
		return nil, statusFromError(ctx, err, "Generate update payment token")
	}

	return mapper.UpdatePaymentTokenToResponse(token), nil
}

func statusFromError(ctx context.Context, err error, operation string) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrPaymentDeclined):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		loggerWithContext(ctx).WithError(err).Error(operation + " failed")
		return status.Error(codes.Internal, "internal server error")
	}
}
