package service

import (
	"context"

	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/settings"
)

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, input *provider.PaymentIntentInput) (*provider.PaymentIntentOutput, error)
	CancelPaymentIntent(ctx context.Context, paymentIntentID string) error
	ChargeOffSession(ctx context.Context, input *provider.OffSessionChargeInput) (*provider.ChargeOutput, error)
	GetSetupIntent(ctx context.Context, setupIntentID string) (*provider.SetupIntent, error)
}

type StripeEventParser interface {
	ParsePaymentIntentEvent(payload []byte, signature string) (*provider.PaymentIntentEvent, error)
}

type LoanGateway interface {
	CreateLoanApplication(ctx context.Context, input *provider.LoanApplicationInput) (*provider.LoanApplicationOutput, error)
	DecryptStatus(orderData string) (*provider.TBIStatus, error)
}

type CalendlyEventParser interface {
	ParseEvent(payload []byte, signatureHeader string) (*provider.CalendlyEvent, error)
}

type SettingsCatalog interface {
	Get(code string) (settings.PaymentSetting, error)
}
