package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Scope string

const (
	ScopeProduct   Scope = "product"
	ScopeExtension Scope = "extension"
)

type PaymentLinkType string

const (
	PaymentLinkTypeIntegral            PaymentLinkType = "integral"
	PaymentLinkTypeDeposit             PaymentLinkType = "deposit"
	PaymentLinkTypeInstallments        PaymentLinkType = "installments"
	PaymentLinkTypeInstallmentsDeposit PaymentLinkType = "installments_deposit"
)

// Recurring reports whether fulfilling a link of this type opens a subscription.
func (t PaymentLinkType) Recurring() bool {
	return t != PaymentLinkTypeIntegral
}

type PaymentMethodType string

const (
	PaymentMethodCard         PaymentMethodType = "card"
	PaymentMethodBankTransfer PaymentMethodType = "bank_transfer"
	PaymentMethodTBI          PaymentMethodType = "tbi"
)

type PaymentLinkStatus string

const (
	PaymentLinkStatusCreated    PaymentLinkStatus = "created"
	PaymentLinkStatusProcessing PaymentLinkStatus = "processing"
	PaymentLinkStatusSucceeded  PaymentLinkStatus = "succeeded"
	PaymentLinkStatusCanceled   PaymentLinkStatus = "canceled"
)

// Open reports whether the link can still be paid.
func (s PaymentLinkStatus) Open() bool {
	return s == PaymentLinkStatusCreated || s == PaymentLinkStatusProcessing
}

type PaymentLink struct {
	ID       uint64
	PublicID string

	Scope        Scope
	Type         PaymentLinkType
	ProductID    uint64
	ExtensionID  *uint64
	MembershipID *uint64

	PaymentSettingCode string
	Currency           string

	TotalAmountToPay        decimal.Decimal
	TotalAmountToPayInCents int64
	AmountDueNowInCents     int64

	DepositAmount                *decimal.Decimal
	RemainingAmountToPay         *decimal.Decimal
	InstallmentAmountToPay       *decimal.Decimal
	InstallmentsCount            *int32
	FirstPaymentDateAfterDeposit *time.Time

	ExtraTaxRate decimal.Decimal
	TvaRate      decimal.Decimal

	PaymentMethodType PaymentMethodType
	Status            PaymentLinkStatus
	ExpiresAt         time.Time

	StripePaymentIntentID *string
	StripeClientSecret    *string
	StripeCustomerID      *string

	CreatedByID   uint64
	CustomerEmail string
	CustomerName  string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}
