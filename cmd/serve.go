package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-billing/app/controller"
	billinggrpc "github.com/vibast-solutions/ms-go-billing/app/grpc"
	"github.com/vibast-solutions/ms-go-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-billing/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the billing service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type httpControllers struct {
	links         *controller.PaymentLinkController
	subscriptions *controller.SubscriptionController
	webhooks      *controller.WebhookController
	cron          *controller.CronController
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, svc, cleanup := mustCreateServices()
	defer cleanup()

	if err := cfg.ValidateServe(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	metrics.MustRegister()

	controllers := httpControllers{
		links:         controller.NewPaymentLinkController(svc.links),
		subscriptions: controller.NewSubscriptionController(svc.subscriptions),
		webhooks:      controller.NewWebhookController(svc.webhooks),
		cron:          controller.NewCronController(svc.scheduler, cfg.Cron.Secret),
	}
	grpcBillingServer := billinggrpc.NewServer(svc.links, svc.subscriptions)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(controllers, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, healthSrv, lis := setupGRPCServer(cfg, grpcBillingServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")
	healthSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	controllers httpControllers,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(ensureRequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	registerPublicRoutes(e, controllers)

	internal := e.Group("/internal", internalAuthMiddleware.RequireInternalAccess(appServiceName))
	internal.POST("/payment-links", controllers.links.CreatePaymentLink)
	internal.POST("/orders/:id/confirm-bank-transfer", controllers.links.ConfirmBankTransfer)
	internal.GET("/subscriptions/:id", controllers.subscriptions.GetSubscription)
	internal.POST("/subscriptions/:id/cancel", controllers.subscriptions.CancelSubscription)
	internal.POST("/subscriptions/:id/hold", controllers.subscriptions.SetOnHold)
	internal.POST("/subscriptions/:id/retry-payment", controllers.subscriptions.RetryPayment)
	internal.POST("/subscriptions/:id/update-payment-token", controllers.subscriptions.GenerateUpdatePaymentToken)

	return e
}

// registerPublicRoutes wires the endpoints reached by customers, payment
// gateways and the scheduler. Each authenticates itself.
func registerPublicRoutes(e *echo.Echo, controllers httpControllers) {
	e.GET("/health", controllers.links.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	webhooks := e.Group("/webhooks")
	webhooks.POST("/stripe", controllers.webhooks.Stripe)
	webhooks.POST("/tbi", controllers.webhooks.TBI)
	webhooks.POST("/calendly", controllers.webhooks.Calendly)

	cron := e.Group("/cron")
	cron.GET("/cancel-expired-payments", controllers.cron.CancelExpiredPayments)
	cron.GET("/charge-deferred-payments", controllers.cron.ChargeDeferredPayments)
	cron.GET("/process-scheduled-cancellations", controllers.cron.ProcessScheduledCancellations)

	checkout := e.Group("/checkout")
	checkout.GET("/:publicId", controllers.links.GetCheckout)
	checkout.POST("/:publicId", controllers.links.InitiateCheckout)

	subscriptions := e.Group("/subscriptions")
	subscriptions.GET("/update-payment/validate", controllers.subscriptions.ValidateUpdateToken)
	subscriptions.POST("/update-payment", controllers.subscriptions.UpdatePaymentMethod)
}

// ensureRequestID keeps the caller's X-Request-ID or generates one, since
// gateways and browsers do not send it.
func ensureRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
				ctx.Request().Header.Set(echo.HeaderXRequestID, requestID)
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	billingServer *billinggrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, *health.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			billinggrpc.RecoveryInterceptor(),
			billinggrpc.SkipMethods(billinggrpc.RequestIDInterceptor(), healthpb.Health_Check_FullMethodName),
			billinggrpc.LoggingInterceptor(),
			billinggrpc.SkipMethods(internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName), healthpb.Health_Check_FullMethodName),
		),
	)
	billinggrpc.RegisterBillingServiceServer(grpcSrv, billingServer)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(billinggrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return grpcSrv, healthSrv, lis
}
