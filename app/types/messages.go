package types

import "encoding/json"

const (
	ScopeProduct   = "product"
	ScopeExtension = "extension"

	LinkTypeIntegral            = "integral"
	LinkTypeDeposit             = "deposit"
	LinkTypeInstallments        = "installments"
	LinkTypeInstallmentsDeposit = "installments_deposit"

	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodTBI          = "tbi"

	CancelTypeGraceful  = "graceful"
	CancelTypeImmediate = "immediate"
)

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type WebhookAckResponse struct {
	Received bool `json:"received"`
}

// CreatePaymentLinkRequest is a tagged union: Type selects which terms struct
// is decoded from the "terms" object.
type CreatePaymentLinkRequest struct {
	Scope              string `json:"scope" validate:"required,oneof=product extension"`
	Type               string `json:"type" validate:"required,oneof=integral deposit installments installments_deposit"`
	ProductID          uint64 `json:"product_id" validate:"required_if=Scope product"`
	ExtensionID        uint64 `json:"extension_id" validate:"required_if=Scope extension"`
	MembershipID       uint64 `json:"membership_id" validate:"required_if=Scope extension"`
	PaymentSettingCode string `json:"payment_setting_code" validate:"required,max=64"`
	PaymentMethodType  string `json:"payment_method_type" validate:"required,oneof=card bank_transfer tbi"`
	CustomerEmail      string `json:"customer_email" validate:"required,email,max=255"`
	CustomerName       string `json:"customer_name" validate:"required,max=255"`
	CreatedByID        uint64 `json:"created_by_id" validate:"required"`

	Terms PaymentLinkTerms `json:"-"`
}

// PaymentLinkTerms is implemented by the four per-type terms structs.
type PaymentLinkTerms interface {
	LinkType() string
}

type IntegralTerms struct{}

type DepositTerms struct {
	DepositAmount          string `json:"deposit_amount" validate:"required,numeric"`
	FirstPaymentOffsetDays *int   `json:"first_payment_offset_days,omitempty" validate:"omitempty,min=0,max=365"`
}

type InstallmentsTerms struct {
	InstallmentTierID uint64 `json:"installment_tier_id" validate:"required"`
}

type InstallmentsDepositTerms struct {
	InstallmentTierID      uint64 `json:"installment_tier_id" validate:"required"`
	DepositAmount          string `json:"deposit_amount" validate:"required,numeric"`
	FirstPaymentOffsetDays *int   `json:"first_payment_offset_days,omitempty" validate:"omitempty,min=0,max=365"`
}

func (IntegralTerms) LinkType() string            { return LinkTypeIntegral }
func (DepositTerms) LinkType() string             { return LinkTypeDeposit }
func (InstallmentsTerms) LinkType() string        { return LinkTypeInstallments }
func (InstallmentsDepositTerms) LinkType() string { return LinkTypeInstallmentsDeposit }

type PaymentLink struct {
	ID                           uint64 `json:"id"`
	PublicID                     string `json:"public_id"`
	Scope                        string `json:"scope"`
	Type                         string `json:"type"`
	ProductID                    uint64 `json:"product_id"`
	ExtensionID                  uint64 `json:"extension_id,omitempty"`
	MembershipID                 uint64 `json:"membership_id,omitempty"`
	PaymentSettingCode           string `json:"payment_setting_code"`
	Currency                     string `json:"currency"`
	TotalAmountToPay             string `json:"total_amount_to_pay"`
	TotalAmountToPayInCents      int64  `json:"total_amount_to_pay_in_cents"`
	AmountDueNowInCents          int64  `json:"amount_due_now_in_cents"`
	DepositAmount                string `json:"deposit_amount,omitempty"`
	RemainingAmountToPay         string `json:"remaining_amount_to_pay,omitempty"`
	InstallmentAmountToPay       string `json:"installment_amount_to_pay,omitempty"`
	InstallmentsCount            int32  `json:"installments_count,omitempty"`
	FirstPaymentDateAfterDeposit string `json:"first_payment_date_after_deposit,omitempty"`
	TvaRate                      string `json:"tva_rate"`
	ExtraTaxRate                 string `json:"extra_tax_rate"`
	PaymentMethodType            string `json:"payment_method_type"`
	Status                       string `json:"status"`
	ExpiresAt                    string `json:"expires_at"`
	StripePaymentIntentID        string `json:"stripe_payment_intent_id,omitempty"`
	StripeClientSecret           string `json:"stripe_client_secret,omitempty"`
	CreatedByID                  uint64 `json:"created_by_id"`
	CustomerEmail                string `json:"customer_email"`
	CustomerName                 string `json:"customer_name"`
	CreatedAt                    string `json:"created_at"`
	UpdatedAt                    string `json:"updated_at"`
}

type CreatePaymentLinkResponse struct {
	Data *PaymentLink `json:"data"`
	URL  string       `json:"url"`
}

type GetCheckoutRequest struct {
	PublicID string `json:"public_id" validate:"required,uuid"`
}

// Checkout is the public view of a payment link; it never exposes internal ids.
type Checkout struct {
	PublicID                     string `json:"public_id"`
	Type                         string `json:"type"`
	Scope                        string `json:"scope"`
	Currency                     string `json:"currency"`
	TotalAmountToPay             string `json:"total_amount_to_pay"`
	AmountDueNow                 string `json:"amount_due_now"`
	DepositAmount                string `json:"deposit_amount,omitempty"`
	InstallmentAmountToPay       string `json:"installment_amount_to_pay,omitempty"`
	InstallmentsCount            int32  `json:"installments_count,omitempty"`
	FirstPaymentDateAfterDeposit string `json:"first_payment_date_after_deposit,omitempty"`
	PaymentMethodType            string `json:"payment_method_type"`
	Status                       string `json:"status"`
	ExpiresAt                    string `json:"expires_at"`
	StripeClientSecret           string `json:"stripe_client_secret,omitempty"`
	CustomerEmail                string `json:"customer_email"`
	CustomerName                 string `json:"customer_name"`
}

type CheckoutResponse struct {
	Checkout *Checkout `json:"checkout"`
}

type BillingData struct {
	Name        string `json:"name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email,max=255"`
	Phone       string `json:"phone,omitempty" validate:"omitempty,max=32"`
	CompanyName string `json:"company_name,omitempty" validate:"omitempty,max=255"`
	VatNumber   string `json:"vat_number,omitempty" validate:"omitempty,max=64"`
	Address     string `json:"address,omitempty" validate:"omitempty,max=512"`
	City        string `json:"city,omitempty" validate:"omitempty,max=128"`
	Country     string `json:"country,omitempty" validate:"omitempty,len=2"`
}

type InitiateCheckoutRequest struct {
	PublicID string      `json:"public_id" validate:"required,uuid"`
	Billing  BillingData `json:"billing" validate:"required"`
}

type Order struct {
	ID                    uint64       `json:"id"`
	Scope                 string       `json:"scope"`
	PaymentLinkID         uint64       `json:"payment_link_id"`
	MembershipID          uint64       `json:"membership_id,omitempty"`
	SubscriptionID        uint64       `json:"subscription_id,omitempty"`
	Type                  string       `json:"type"`
	Status                string       `json:"status"`
	StripePaymentIntentID string       `json:"stripe_payment_intent_id,omitempty"`
	Amount                string       `json:"amount"`
	Currency              string       `json:"currency"`
	BillingData           *BillingData `json:"billing_data,omitempty"`
	CreatedAt             string       `json:"created_at"`
	UpdatedAt             string       `json:"updated_at"`
}

type InitiateCheckoutResponse struct {
	Order       *Order `json:"order"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

type ConfirmBankTransferRequest struct {
	OrderID uint64 `json:"order_id" validate:"required"`
}

type OrderResponse struct {
	Order *Order `json:"order"`
}

type SubscriptionIDRequest struct {
	ID uint64 `json:"id" validate:"required"`
}

type CancelSubscriptionRequest struct {
	ID         uint64 `json:"id" validate:"required"`
	CancelType string `json:"cancel_type" validate:"required,oneof=graceful immediate"`
}

type ValidateUpdateTokenRequest struct {
	SubscriptionID uint64 `json:"subscription_id" validate:"required"`
	Token          string `json:"token" validate:"required,len=64,hexadecimal"`
	Type           string `json:"type" validate:"required,oneof=product extension"`
}

type UpdatePaymentMethodRequest struct {
	SetupIntentID  string `json:"setup_intent_id" validate:"required,startswith=seti_"`
	SubscriptionID uint64 `json:"subscription_id" validate:"required"`
	Token          string `json:"token" validate:"required,len=64,hexadecimal"`
	Type           string `json:"type" validate:"required,oneof=product extension"`
}

type Subscription struct {
	ID                        uint64 `json:"id"`
	Scope                     string `json:"scope"`
	MembershipID              uint64 `json:"membership_id"`
	Status                    string `json:"status"`
	PaymentMethodType         string `json:"payment_method_type"`
	Currency                  string `json:"currency"`
	InstallmentAmountToPay    string `json:"installment_amount_to_pay"`
	RemainingAmountToPay      string `json:"remaining_amount_to_pay"`
	RemainingPayments         int32  `json:"remaining_payments"`
	NextPaymentDate           string `json:"next_payment_date,omitempty"`
	PaymentFailureCount       int32  `json:"payment_failure_count"`
	LastPaymentFailureReason  string `json:"last_payment_failure_reason,omitempty"`
	ScheduledCancellationDate string `json:"scheduled_cancellation_date,omitempty"`
	UpdatedAt                 string `json:"updated_at"`
}

type SubscriptionResponse struct {
	Subscription *Subscription `json:"subscription"`
}

type UpdatePaymentTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	URL       string `json:"url"`
}

type JobError struct {
	ID    uint64 `json:"id"`
	Error string `json:"error"`
}

type JobResultResponse struct {
	ProcessedCount int        `json:"processedCount"`
	SuccessCount   int        `json:"successCount"`
	Errors         []JobError `json:"errors"`
	Duration       int64      `json:"duration"`
}

type createPaymentLinkEnvelope struct {
	Scope              string          `json:"scope"`
	Type               string          `json:"type"`
	ProductID          uint64          `json:"product_id"`
	ExtensionID        uint64          `json:"extension_id"`
	MembershipID       uint64          `json:"membership_id"`
	PaymentSettingCode string          `json:"payment_setting_code"`
	PaymentMethodType  string          `json:"payment_method_type"`
	CustomerEmail      string          `json:"customer_email"`
	CustomerName       string          `json:"customer_name"`
	CreatedByID        uint64          `json:"created_by_id"`
	Terms              json.RawMessage `json:"terms"`
}
