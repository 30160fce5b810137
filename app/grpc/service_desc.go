package grpc

import (
	"context"

	"github.com/vibast-solutions/ms-go-billing/app/types"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "billing.BillingService"

type BillingServiceServer interface {
	Health(context.Context, *types.HealthRequest) (*types.HealthResponse, error)
	CreatePaymentLink(context.Context, *types.CreatePaymentLinkRequest) (*types.CreatePaymentLinkResponse, error)
	GetCheckout(context.Context, *types.GetCheckoutRequest) (*types.CheckoutResponse, error)
	ConfirmBankTransfer(context.Context, *types.ConfirmBankTransferRequest) (*types.OrderResponse, error)
	GetSubscription(context.Context, *types.SubscriptionIDRequest) (*types.SubscriptionResponse, error)
	CancelSubscription(context.Context, *types.CancelSubscriptionRequest) (*types.SubscriptionResponse, error)
	SetSubscriptionOnHold(context.Context, *types.SubscriptionIDRequest) (*types.SubscriptionResponse, error)
	RetrySubscriptionPayment(context.Context, *types.SubscriptionIDRequest) (*types.SubscriptionResponse, error)
	GenerateUpdatePaymentToken(context.Context, *types.SubscriptionIDRequest) (*types.UpdatePaymentTokenResponse, error)
}

// ServiceDesc describes billing.BillingService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BillingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Health", BillingServiceServer.Health),
		unaryMethod("CreatePaymentLink", BillingServiceServer.CreatePaymentLink),
		unaryMethod("GetCheckout", BillingServiceServer.GetCheckout),
		unaryMethod("ConfirmBankTransfer", BillingServiceServer.ConfirmBankTransfer),
		unaryMethod("GetSubscription", BillingServiceServer.GetSubscription),
		unaryMethod("CancelSubscription", BillingServiceServer.CancelSubscription),
		unaryMethod("SetSubscriptionOnHold", BillingServiceServer.SetSubscriptionOnHold),
		unaryMethod("RetrySubscriptionPayment", BillingServiceServer.RetrySubscriptionPayment),
		unaryMethod("GenerateUpdatePaymentToken", BillingServiceServer.GenerateUpdatePaymentToken),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billing.proto",
}

func RegisterBillingServiceServer(registrar grpc.ServiceRegistrar, srv BillingServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the wire name of a BillingService method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryMethod[Req any, Resp any](name string, call func(BillingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(BillingServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
