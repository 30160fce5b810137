package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/setupintent"
	"github.com/stripe/stripe-go/v84/webhook"
)

const (
	stripeEventPaymentIntentSucceeded = "payment_intent.succeeded"
	stripeEventPaymentIntentFailed    = "payment_intent.payment_failed"

	MetadataPaymentLinkID  = "payment_link_id"
	MetadataSubscriptionID = "subscription_id"
)

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	SignatureToleranceSeconds int64
}

type StripeProvider struct {
	cfg StripeConfig
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	stripe.Key = strings.TrimSpace(cfg.SecretKey)

	return &StripeProvider{cfg: cfg}
}

func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, input *PaymentIntentInput) (*PaymentIntentOutput, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, fmt.Errorf("%w: stripe secret key is empty", ErrNotConfigured)
	}
	if input.AmountCents <= 0 {
		return nil, errors.New("payment intent amount must be > 0")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(input.AmountCents),
		Currency: stripe.String(strings.ToLower(input.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataPaymentLinkID, input.PaymentLinkPublicID)
	if input.Description != "" {
		params.Description = stripe.String(input.Description)
	}
	if input.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(input.CustomerEmail)
	}
	if input.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(input.IdempotencyKey)
	}

	var customerID *string
	if input.Recurring {
		id, err := p.createCustomer(ctx, input)
		if err != nil {
			return nil, err
		}
		customerID = &id
		params.Customer = stripe.String(id)
		params.SetupFutureUsage = stripe.String("off_session")
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapStripeError("create payment intent", err)
	}

	return &PaymentIntentOutput{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		CustomerID:      customerID,
	}, nil
}

// CancelPaymentIntent cancels an open intent. Missing intents count as canceled;
// an intent that already succeeded returns an error.
func (p *StripeProvider) CancelPaymentIntent(ctx context.Context, paymentIntentID string) error {
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil
		}
	}
	return wrapStripeError("cancel payment intent", err)
}

func (p *StripeProvider) ChargeOffSession(ctx context.Context, input *OffSessionChargeInput) (*ChargeOutput, error) {
	if strings.TrimSpace(input.CustomerID) == "" || strings.TrimSpace(input.PaymentMethodID) == "" {
		return &ChargeOutput{FailureReason: "no stored payment method"}, nil
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(input.AmountCents),
		Currency:      stripe.String(strings.ToLower(input.Currency)),
		Customer:      stripe.String(input.CustomerID),
		PaymentMethod: stripe.String(input.PaymentMethodID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata(MetadataSubscriptionID, fmt.Sprintf("%d", input.SubscriptionID))
	if input.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(input.IdempotencyKey)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return &ChargeOutput{FailureReason: declineReason(stripeErr)}, nil
		}
		return nil, wrapStripeError("charge off session", err)
	}

	out := &ChargeOutput{PaymentIntentID: intent.ID}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Succeeded = true
	case stripe.PaymentIntentStatusRequiresAction:
		out.FailureReason = "authentication required"
	default:
		out.FailureReason = "payment intent status " + string(intent.Status)
		if intent.LastPaymentError != nil {
			out.FailureReason = declineReason(intent.LastPaymentError)
		}
	}
	return out, nil
}

func (p *StripeProvider) GetSetupIntent(ctx context.Context, setupIntentID string) (*SetupIntent, error) {
	params := &stripe.SetupIntentParams{}
	params.Context = ctx
	intent, err := setupintent.Get(strings.TrimSpace(setupIntentID), params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, nil
		}
		return nil, wrapStripeError("get setup intent", err)
	}

	out := &SetupIntent{
		ID:        intent.ID,
		Succeeded: intent.Status == stripe.SetupIntentStatusSucceeded,
		Metadata:  intent.Metadata,
	}
	if intent.Customer != nil {
		out.CustomerID = intent.Customer.ID
	}
	if intent.PaymentMethod != nil {
		out.PaymentMethodID = intent.PaymentMethod.ID
	}
	return out, nil
}

// ParsePaymentIntentEvent verifies the signature before reading anything from
// the payload. Events that do not carry a payment intent return nil.
func (p *StripeProvider) ParsePaymentIntentEvent(payload []byte, signature string) (*PaymentIntentEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is empty", ErrNotConfigured)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                time.Duration(p.cfg.SignatureToleranceSeconds) * time.Second,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	if eventType != stripeEventPaymentIntentSucceeded && eventType != stripeEventPaymentIntentFailed {
		return &PaymentIntentEvent{EventID: event.ID, EventType: eventType}, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: missing event data", ErrInvalidPayload)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := &PaymentIntentEvent{
		EventID:         event.ID,
		EventType:       eventType,
		PaymentIntentID: intent.ID,
		AmountCents:     intent.Amount,
		Currency:        strings.ToUpper(string(intent.Currency)),
		Metadata:        intent.Metadata,
	}
	if intent.Customer != nil {
		out.CustomerID = intent.Customer.ID
	}
	if intent.PaymentMethod != nil {
		out.PaymentMethodID = intent.PaymentMethod.ID
	}
	if intent.LastPaymentError != nil {
		out.FailureReason = declineReason(intent.LastPaymentError)
	}
	return out, nil
}

func IsPaymentIntentSucceeded(event *PaymentIntentEvent) bool {
	return event != nil && event.EventType == stripeEventPaymentIntentSucceeded
}

func IsPaymentIntentFailed(event *PaymentIntentEvent) bool {
	return event != nil && event.EventType == stripeEventPaymentIntentFailed
}

func (p *StripeProvider) createCustomer(ctx context.Context, input *PaymentIntentInput) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if input.CustomerEmail != "" {
		params.Email = stripe.String(input.CustomerEmail)
	}
	if input.CustomerName != "" {
		params.Name = stripe.String(input.CustomerName)
	}
	params.AddMetadata(MetadataPaymentLinkID, input.PaymentLinkPublicID)
	if input.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(input.IdempotencyKey + ":customer")
	}

	created, err := customer.New(params)
	if err != nil {
		return "", wrapStripeError("create customer", err)
	}
	return created.ID, nil
}

func declineReason(stripeErr *stripe.Error) string {
	parts := make([]string, 0, 3)
	if stripeErr.Code != "" {
		parts = append(parts, string(stripeErr.Code))
	}
	if stripeErr.DeclineCode != "" {
		parts = append(parts, string(stripeErr.DeclineCode))
	}
	if stripeErr.Msg != "" {
		parts = append(parts, stripeErr.Msg)
	}
	if len(parts) == 0 {
		return "card declined"
	}
	return strings.Join(parts, ": ")
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe %s failed: status=%d code=%s request_id=%s: %w", op, stripeErr.HTTPStatusCode, stripeErr.Code, stripeErr.RequestID, err)
	}
	return fmt.Errorf("stripe %s failed: %w", op, err)
}
