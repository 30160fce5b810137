package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeParent         OrderType = "parent"
	OrderTypeRenewal        OrderType = "renewal"
	OrderTypeOneTimePayment OrderType = "one_time_payment"
)

type OrderStatus string

const (
	OrderStatusPendingCardPayment         OrderStatus = "pending_card_payment"
	OrderStatusPendingBankTransferPayment OrderStatus = "pending_bank_transfer_payment"
	OrderStatusPendingTBIPayment          OrderStatus = "pending_tbi_payment"
	OrderStatusCompleted                  OrderStatus = "completed"
	OrderStatusCancelled                  OrderStatus = "cancelled"
)

// Pending reports whether the order still waits for its payment.
func (s OrderStatus) Pending() bool {
	switch s {
	case OrderStatusPendingCardPayment, OrderStatusPendingBankTransferPayment, OrderStatusPendingTBIPayment:
		return true
	default:
		return false
	}
}

type BillingData struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	VatNumber   string `json:"vat_number,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`
}

type Order struct {
	ID uint64

	Scope          Scope
	PaymentLinkID  uint64
	MembershipID   *uint64
	SubscriptionID *uint64

	Type   OrderType
	Status OrderStatus

	// EventKey identifies the payment event that produced the order and is unique.
	EventKey              string
	StripePaymentIntentID *string

	Amount   decimal.Decimal
	Currency string

	BillingData BillingData

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
