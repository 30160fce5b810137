//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	billinggrpc "github.com/vibast-solutions/ms-go-billing/app/grpc"
	"github.com/vibast-solutions/ms-go-billing/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultBillingHTTPBase = "http://localhost:48081"
	defaultBillingGRPCAddr = "localhost:49091"
)

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	return c.do(t, method, path, body, map[string]string{"X-API-Key": backofficeKey})
}

func (c *httpClient) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	reqBody := bytes.NewReader(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	return resp, bodyBytes
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func waitForGRPC(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("grpc service not ready at %s", addr)
}

func dialBillingGRPC(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(billinggrpc.CodecName)),
	)
	if err != nil {
		t.Fatalf("grpc dial failed: %v", err)
	}
	return conn
}

func grpcContextWithHeaders(apiKey, requestID string) context.Context {
	ctx := context.Background()
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}
	if apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-api-key", apiKey)
	}
	return ctx
}

func grpcRequestID(prefix string) string {
	return fmt.Sprintf("e2e-grpc-%s-%d", prefix, time.Now().UnixNano())
}

func TestBillingE2E(t *testing.T) {
	httpBase := os.Getenv("BILLING_HTTP_URL")
	if httpBase == "" {
		httpBase = defaultBillingHTTPBase
	}
	grpcAddr := os.Getenv("BILLING_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = defaultBillingGRPCAddr
	}

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}
	if err := waitForGRPC(grpcAddr, 30*time.Second); err != nil {
		t.Fatalf("grpc not ready: %v", err)
	}

	client := newHTTPClient(httpBase)
	conn := dialBillingGRPC(t, grpcAddr)
	defer conn.Close()

	t.Run("HTTPHealthGeneratesRequestID", func(t *testing.T) {
		resp, err := http.Get(httpBase + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatal("expected generated x-request-id header")
		}
	})

	t.Run("HTTPInternalUnauthorizedMissingAPIKey", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/internal/subscriptions/1", nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for missing x-api-key, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPInternalForbiddenInsufficientAccess", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/internal/subscriptions/1", nil, map[string]string{"X-API-Key": storefrontKey})
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 for insufficient access, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPValidationCreatePaymentLink", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/internal/payment-links", map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for invalid create request, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPSubscriptionNotFound", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/internal/subscriptions/999999", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPCheckoutNotFound", func(t *testing.T) {
		resp, body := client.do(t, http.MethodGet, "/checkout/"+uuid.NewString(), nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("HTTPCronWrongSecret", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodGet, "/cron/cancel-expired-payments", nil, map[string]string{"Authorization": "Bearer wrong"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPStripeWebhookBadSignature", func(t *testing.T) {
		resp, _ := client.do(t, http.MethodPost, "/webhooks/stripe", map[string]any{"id": "evt_e2e"}, map[string]string{"Stripe-Signature": "t=1,v1=bad"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("HTTPMetrics", func(t *testing.T) {
		resp, body := client.do(t, http.MethodGet, "/metrics", nil, nil)
		if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("go_goroutines")) {
			t.Fatalf("expected prometheus exposition, got %d", resp.StatusCode)
		}
	})

	t.Run("GRPCStandardHealthCheck", func(t *testing.T) {
		res, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: billinggrpc.ServiceName}, grpc.CallContentSubtype("proto"))
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("expected SERVING, got %s", res.GetStatus())
		}
	})

	t.Run("GRPCMissingRequestID", func(t *testing.T) {
		ctx := grpcContextWithHeaders(backofficeKey, "")
		err := conn.Invoke(ctx, billinggrpc.FullMethod("Health"), &types.HealthRequest{}, &types.HealthResponse{})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
		}
	})

	t.Run("GRPCUnauthorizedMissingAPIKey", func(t *testing.T) {
		ctx := grpcContextWithHeaders("", grpcRequestID("no-auth"))
		err := conn.Invoke(ctx, billinggrpc.FullMethod("Health"), &types.HealthRequest{}, &types.HealthResponse{})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("GRPCForbiddenInsufficientAccess", func(t *testing.T) {
		ctx := grpcContextWithHeaders(storefrontKey, grpcRequestID("forbidden"))
		err := conn.Invoke(ctx, billinggrpc.FullMethod("Health"), &types.HealthRequest{}, &types.HealthResponse{})
		if status.Code(err) != codes.PermissionDenied {
			t.Fatalf("expected PermissionDenied, got %v", err)
		}
	})

	t.Run("GRPCHealth", func(t *testing.T) {
		ctx := grpcContextWithHeaders(backofficeKey, grpcRequestID("health"))
		var res types.HealthResponse
		if err := conn.Invoke(ctx, billinggrpc.FullMethod("Health"), &types.HealthRequest{}, &res); err != nil {
			t.Fatalf("grpc health failed: %v", err)
		}
		if res.Status != "ok" {
			t.Fatalf("expected ok, got %q", res.Status)
		}
	})

	t.Run("GRPCGetSubscriptionNotFound", func(t *testing.T) {
		ctx := grpcContextWithHeaders(backofficeKey, grpcRequestID("not-found"))
		err := conn.Invoke(ctx, billinggrpc.FullMethod("GetSubscription"), &types.SubscriptionIDRequest{ID: 999999}, &types.SubscriptionResponse{})
		if status.Code(err) != codes.NotFound {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("GRPCValidationCancel", func(t *testing.T) {
		ctx := grpcContextWithHeaders(backofficeKey, grpcRequestID("validation"))
		err := conn.Invoke(ctx, billinggrpc.FullMethod("CancelSubscription"), &types.CancelSubscriptionRequest{ID: 1, CancelType: "later"}, &types.SubscriptionResponse{})
		if status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected InvalidArgument, got %v", err)
		}
	})
}
