package mapper

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/pricing"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/types"
)

const amountPlaces = 2

func PaymentLinkToResponse(item *entity.PaymentLink) *types.PaymentLink {
	if item == nil {
		return nil
	}

	return &types.PaymentLink{
		ID:                           item.ID,
		PublicID:                     item.PublicID,
		Scope:                        string(item.Scope),
		Type:                         string(item.Type),
		ProductID:                    item.ProductID,
		ExtensionID:                  derefUint64(item.ExtensionID),
		MembershipID:                 derefUint64(item.MembershipID),
		PaymentSettingCode:           item.PaymentSettingCode,
		Currency:                     item.Currency,
		TotalAmountToPay:             formatAmount(item.TotalAmountToPay),
		TotalAmountToPayInCents:      item.TotalAmountToPayInCents,
		AmountDueNowInCents:          item.AmountDueNowInCents,
		DepositAmount:                formatOptionalAmount(item.DepositAmount),
		RemainingAmountToPay:         formatOptionalAmount(item.RemainingAmountToPay),
		InstallmentAmountToPay:       formatOptionalAmount(item.InstallmentAmountToPay),
		InstallmentsCount:            derefInt32(item.InstallmentsCount),
		FirstPaymentDateAfterDeposit: formatOptionalTime(item.FirstPaymentDateAfterDeposit),
		TvaRate:                      item.TvaRate.String(),
		ExtraTaxRate:                 item.ExtraTaxRate.String(),
		PaymentMethodType:            string(item.PaymentMethodType),
		Status:                       string(item.Status),
		ExpiresAt:                    formatTime(item.ExpiresAt),
		StripePaymentIntentID:        derefString(item.StripePaymentIntentID),
		StripeClientSecret:           derefString(item.StripeClientSecret),
		CreatedByID:                  item.CreatedByID,
		CustomerEmail:                item.CustomerEmail,
		CustomerName:                 item.CustomerName,
		CreatedAt:                    formatTime(item.CreatedAt),
		UpdatedAt:                    formatTime(item.UpdatedAt),
	}
}

// CheckoutFromPaymentLink builds the public checkout view. The client secret
// is only exposed while the link can still be paid.
func CheckoutFromPaymentLink(item *entity.PaymentLink) *types.Checkout {
	if item == nil {
		return nil
	}

	checkout := &types.Checkout{
		PublicID:                     item.PublicID,
		Type:                         string(item.Type),
		Scope:                        string(item.Scope),
		Currency:                     item.Currency,
		TotalAmountToPay:             formatAmount(item.TotalAmountToPay),
		AmountDueNow:                 formatAmount(pricing.FromCents(item.AmountDueNowInCents)),
		DepositAmount:                formatOptionalAmount(item.DepositAmount),
		InstallmentAmountToPay:       formatOptionalAmount(item.InstallmentAmountToPay),
		InstallmentsCount:            derefInt32(item.InstallmentsCount),
		FirstPaymentDateAfterDeposit: formatOptionalTime(item.FirstPaymentDateAfterDeposit),
		PaymentMethodType:            string(item.PaymentMethodType),
		Status:                       string(item.Status),
		ExpiresAt:                    formatTime(item.ExpiresAt),
		CustomerEmail:                item.CustomerEmail,
		CustomerName:                 item.CustomerName,
	}
	if item.Status.Open() {
		checkout.StripeClientSecret = derefString(item.StripeClientSecret)
	}
	return checkout
}

func OrderToResponse(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	billing := types.BillingData{
		Name:        item.BillingData.Name,
		Email:       item.BillingData.Email,
		Phone:       item.BillingData.Phone,
		CompanyName: item.BillingData.CompanyName,
		VatNumber:   item.BillingData.VatNumber,
		Address:     item.BillingData.Address,
		City:        item.BillingData.City,
		Country:     item.BillingData.Country,
	}
	order := &types.Order{
		ID:                    item.ID,
		Scope:                 string(item.Scope),
		PaymentLinkID:         item.PaymentLinkID,
		MembershipID:          derefUint64(item.MembershipID),
		SubscriptionID:        derefUint64(item.SubscriptionID),
		Type:                  string(item.Type),
		Status:                string(item.Status),
		StripePaymentIntentID: derefString(item.StripePaymentIntentID),
		Amount:                formatAmount(item.Amount),
		Currency:              item.Currency,
		CreatedAt:             formatTime(item.CreatedAt),
		UpdatedAt:             formatTime(item.UpdatedAt),
	}
	if billing != (types.BillingData{}) {
		order.BillingData = &billing
	}
	return order
}

func BillingDataToEntity(item types.BillingData) entity.BillingData {
	return entity.BillingData{
		Name:        item.Name,
		Email:       item.Email,
		Phone:       item.Phone,
		CompanyName: item.CompanyName,
		VatNumber:   item.VatNumber,
		Address:     item.Address,
		City:        item.City,
		Country:     item.Country,
	}
}

func SubscriptionToResponse(item *entity.Subscription) *types.Subscription {
	if item == nil {
		return nil
	}

	return &types.Subscription{
		ID:                        item.ID,
		Scope:                     string(item.Scope),
		MembershipID:              item.MembershipID,
		Status:                    string(item.Status),
		PaymentMethodType:         string(item.PaymentMethodType),
		Currency:                  item.Currency,
		InstallmentAmountToPay:    formatAmount(item.InstallmentAmountToPay),
		RemainingAmountToPay:      formatAmount(item.RemainingAmountToPay),
		RemainingPayments:         item.RemainingPayments,
		NextPaymentDate:           formatOptionalTime(item.NextPaymentDate),
		PaymentFailureCount:       item.PaymentFailureCount,
		LastPaymentFailureReason:  derefString(item.LastPaymentFailureReason),
		ScheduledCancellationDate: formatOptionalTime(item.ScheduledCancellationDate),
		UpdatedAt:                 formatTime(item.UpdatedAt),
	}
}

func UpdatePaymentTokenToResponse(item *service.UpdatePaymentToken) *types.UpdatePaymentTokenResponse {
	if item == nil {
		return nil
	}
	return &types.UpdatePaymentTokenResponse{
		Token:     item.Token,
		ExpiresAt: formatTime(item.ExpiresAt),
		URL:       item.URL,
	}
}

// JobResultToResponse reports the duration in milliseconds.
func JobResultToResponse(item *service.JobResult) *types.JobResultResponse {
	if item == nil {
		return nil
	}

	errs := make([]types.JobError, 0, len(item.Errors))
	for _, e := range item.Errors {
		errs = append(errs, types.JobError{ID: e.ID, Error: e.Error})
	}
	return &types.JobResultResponse{
		ProcessedCount: item.ProcessedCount,
		SuccessCount:   item.SuccessCount,
		Errors:         errs,
		Duration:       item.Duration.Milliseconds(),
	}
}

func formatAmount(v decimal.Decimal) string {
	return pricing.Round(v).StringFixed(amountPlaces)
}

func formatOptionalAmount(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return formatAmount(*v)
}

func formatTime(v time.Time) string {
	return v.UTC().Format(time.RFC3339)
}

func formatOptionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return formatTime(*v)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

func derefUint64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
