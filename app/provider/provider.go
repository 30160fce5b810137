package provider

import (
	"errors"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrNotConfigured    = errors.New("provider is not configured")
)

type PaymentIntentInput struct {
	PaymentLinkPublicID string
	AmountCents         int64
	Currency            string
	Description         string
	CustomerEmail       string
	CustomerName        string
	// Recurring links need a Stripe customer and a card saved for off-session use.
	Recurring      bool
	IdempotencyKey string
}

type PaymentIntentOutput struct {
	PaymentIntentID string
	ClientSecret    string
	CustomerID      *string
}

type OffSessionChargeInput struct {
	SubscriptionID  uint64
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	IdempotencyKey  string
}

// ChargeOutput reports the result of a charge. A decline is not an error:
// Succeeded is false and FailureReason carries the gateway message.
type ChargeOutput struct {
	Succeeded       bool
	PaymentIntentID string
	FailureReason   string
}

type PaymentIntentEvent struct {
	EventID         string
	EventType       string
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
	FailureReason   string
}

type SetupIntent struct {
	ID              string
	Succeeded       bool
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

type LoanApplicationInput struct {
	OrderReference string
	AmountCents    int64
	Currency       string
	Description    string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
}

type LoanApplicationOutput struct {
	RedirectURL string
}

// TBIStatus is the decrypted TBI callback.
type TBIStatus struct {
	OrderID  string
	StatusID int
	Motive   string
}

const (
	TBIStatusRejected = 0
	TBIStatusApproved = 1
	TBIStatusPending  = 2
)

type CalendlyEvent struct {
	Event     string
	CreatedAt time.Time
}
