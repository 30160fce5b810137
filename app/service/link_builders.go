package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/pricing"
	"github.com/vibast-solutions/ms-go-billing/app/settings"
	"github.com/vibast-solutions/ms-go-billing/app/types"
)

// linkTarget is the catalog entry a link sells, priced in the setting currency.
type linkTarget struct {
	scope        entity.Scope
	productID    uint64
	extensionID  *uint64
	membershipID *uint64
	name         string
	currency     string
	price        decimal.Decimal
}

// tierTargetID is the id installment tiers are attached to for this scope.
func (t *linkTarget) tierTargetID() uint64 {
	if t.scope == entity.ScopeExtension && t.extensionID != nil {
		return *t.extensionID
	}
	return t.productID
}

// linkPricing holds the derived amount fields of one link variant.
type linkPricing struct {
	total             decimal.Decimal
	dueNow            decimal.Decimal
	deposit           *decimal.Decimal
	remaining         *decimal.Decimal
	installment       *decimal.Decimal
	installmentsCount *int32
	offsetDays        *int
}

type linkBuildInput struct {
	target            *linkTarget
	setting           settings.PaymentSetting
	catalog           CatalogRepository
	defaultOffsetDays int
}

type linkBuilder func(ctx context.Context, in *linkBuildInput, terms types.PaymentLinkTerms) (*linkPricing, error)

var linkBuilders = map[entity.PaymentLinkType]linkBuilder{
	entity.PaymentLinkTypeIntegral:            buildIntegralLink,
	entity.PaymentLinkTypeDeposit:             buildDepositLink,
	entity.PaymentLinkTypeInstallments:        buildInstallmentsLink,
	entity.PaymentLinkTypeInstallmentsDeposit: buildInstallmentsDepositLink,
}

func buildIntegralLink(_ context.Context, in *linkBuildInput, _ types.PaymentLinkTerms) (*linkPricing, error) {
	total, err := pricing.TotalAmountToPay(in.target.price, in.setting.TvaRate, in.setting.ExtraTaxRate)
	if err != nil {
		return nil, pricingError(err)
	}
	return &linkPricing{total: total, dueNow: total}, nil
}

func buildDepositLink(_ context.Context, in *linkBuildInput, terms types.PaymentLinkTerms) (*linkPricing, error) {
	t, ok := terms.(*types.DepositTerms)
	if !ok {
		return nil, validationError("deposit terms are required")
	}
	deposit, err := pricing.ParseAmount(t.DepositAmount)
	if err != nil {
		return nil, pricingError(err)
	}

	split, err := pricing.DepositRemainingAmountToPay(in.target.price, deposit, in.setting.TvaRate, in.setting.ExtraTaxRate, in.setting.MinimumDepositAmount)
	if err != nil {
		return nil, pricingError(err)
	}

	offset := offsetDays(t.FirstPaymentOffsetDays, in.defaultOffsetDays)
	return &linkPricing{
		total:      split.TotalAmountToPay,
		dueNow:     split.DepositAmount,
		deposit:    &split.DepositAmount,
		remaining:  &split.RemainingAmountToPay,
		offsetDays: &offset,
	}, nil
}

func buildInstallmentsLink(ctx context.Context, in *linkBuildInput, terms types.PaymentLinkTerms) (*linkPricing, error) {
	t, ok := terms.(*types.InstallmentsTerms)
	if !ok {
		return nil, validationError("installments terms are required")
	}
	tier, price, err := resolveInstallmentTier(ctx, in, t.InstallmentTierID)
	if err != nil {
		return nil, err
	}

	split, err := pricing.InstallmentsAmountToPay(price, tier.InstallmentsCount, in.setting.TvaRate, in.setting.ExtraTaxRate)
	if err != nil {
		return nil, pricingError(err)
	}

	remaining := split.TotalAmountToPay.Sub(split.InstallmentAmountToPay)
	count := tier.InstallmentsCount
	return &linkPricing{
		total:             split.TotalAmountToPay,
		dueNow:            split.InstallmentAmountToPay,
		remaining:         &remaining,
		installment:       &split.InstallmentAmountToPay,
		installmentsCount: &count,
	}, nil
}

func buildInstallmentsDepositLink(ctx context.Context, in *linkBuildInput, terms types.PaymentLinkTerms) (*linkPricing, error) {
	t, ok := terms.(*types.InstallmentsDepositTerms)
	if !ok {
		return nil, validationError("installments deposit terms are required")
	}
	tier, price, err := resolveInstallmentTier(ctx, in, t.InstallmentTierID)
	if err != nil {
		return nil, err
	}
	deposit, err := pricing.ParseAmount(t.DepositAmount)
	if err != nil {
		return nil, pricingError(err)
	}

	split, err := pricing.InstallmentsDepositRemainingAmountToPay(price, tier.InstallmentsCount, deposit, in.setting.TvaRate, in.setting.ExtraTaxRate, in.setting.MinimumDepositAmount)
	if err != nil {
		return nil, pricingError(err)
	}

	offset := offsetDays(t.FirstPaymentOffsetDays, in.defaultOffsetDays)
	count := tier.InstallmentsCount
	return &linkPricing{
		total:             split.TotalAmountToPay,
		dueNow:            split.DepositAmount,
		deposit:           &split.DepositAmount,
		remaining:         &split.RemainingAmountToPay,
		installment:       &split.RemainingInstallmentAmountToPay,
		installmentsCount: &count,
		offsetDays:        &offset,
	}, nil
}

func resolveInstallmentTier(ctx context.Context, in *linkBuildInput, tierID uint64) (*entity.InstallmentTier, decimal.Decimal, error) {
	tier, err := in.catalog.FindInstallmentTier(ctx, tierID, in.target.scope, in.target.tierTargetID())
	if err != nil {
		return nil, decimal.Zero, err
	}
	if tier == nil {
		return nil, decimal.Zero, notFoundError("installment tier %d", tierID)
	}
	price, err := convertPrice(tier.PricePerInstallment, in.target.currency, in.setting)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return tier, price, nil
}

// convertPrice brings a catalog price into the setting currency. Only EUR
// catalog prices can be converted.
func convertPrice(amount decimal.Decimal, currency string, setting settings.PaymentSetting) (decimal.Decimal, error) {
	if currency == setting.Currency {
		return amount, nil
	}
	if currency != "EUR" {
		return decimal.Zero, validationError("cannot price %s catalog entry in %s", currency, setting.Currency)
	}
	converted, err := pricing.ConvertEURToRON(amount, setting.EURExchangeRate)
	if err != nil {
		return decimal.Zero, pricingError(err)
	}
	return converted, nil
}

func offsetDays(requested *int, fallback int) int {
	if requested != nil {
		return *requested
	}
	return fallback
}

func pricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrInvalidAmount),
		errors.Is(err, pricing.ErrDepositExceedsTotal),
		errors.Is(err, pricing.ErrDepositBelowMinimum),
		errors.Is(err, pricing.ErrInvalidInstallments):
		return validationError("%s", err.Error())
	default:
		return fmt.Errorf("pricing failed: %w", err)
	}
}
