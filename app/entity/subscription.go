package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusOnHold    SubscriptionStatus = "on_hold"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusCompleted SubscriptionStatus = "completed"
)

// Terminal reports whether no further transition is possible.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusCompleted
}

type Subscription struct {
	ID uint64

	Scope         Scope
	MembershipID  uint64
	PaymentLinkID uint64
	ParentOrderID uint64

	Status            SubscriptionStatus
	PaymentMethodType PaymentMethodType

	Currency               string
	InstallmentAmountToPay decimal.Decimal
	RemainingAmountToPay   decimal.Decimal
	RemainingPayments      int32
	NextPaymentDate        *time.Time

	PaymentFailureCount      int32
	LastPaymentFailureReason *string

	ScheduledCancellationDate *time.Time

	UpdatePaymentTokenHash      *string
	UpdatePaymentTokenExpiresAt *time.Time

	StripeCustomerID      *string
	StripePaymentMethodID *string

	// Version is bumped on every update and guards concurrent writers.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
