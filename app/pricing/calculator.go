// Package pricing computes tax-inclusive amounts for payment links.
//
// Every amount is a decimal.Decimal and every rounding step goes through
// Round (half-up, two places), so totals, splits and cent conversions agree
// with each other exactly.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const amountPlaces int32 = 2

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDepositExceedsTotal = errors.New("deposit amount exceeds total amount to pay")
	ErrDepositBelowMinimum = errors.New("deposit amount is below the configured minimum")
	ErrInvalidInstallments = errors.New("installments count must be greater than 0")
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

type DepositSplit struct {
	DepositAmount        decimal.Decimal
	RemainingAmountToPay decimal.Decimal
	TotalAmountToPay     decimal.Decimal
}

type InstallmentsSplit struct {
	InstallmentAmountToPay decimal.Decimal
	TotalAmountToPay       decimal.Decimal
}

type InstallmentsDepositSplit struct {
	DepositAmount                   decimal.Decimal
	InstallmentAmountToPay          decimal.Decimal
	TotalAmountToPay                decimal.Decimal
	RemainingAmountToPay            decimal.Decimal
	RemainingInstallmentAmountToPay decimal.Decimal
}

// Round applies the shared rounding policy.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(amountPlaces)
}

// ParseAmount parses a decimal string such as "1190.00".
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not numeric", ErrInvalidAmount, raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, raw)
	}
	return amount, nil
}

// TotalAmountToPay returns price × (1 + tva/100) × (1 + extraTax/100).
func TotalAmountToPay(price, tvaRate, extraTaxRate decimal.Decimal) (decimal.Decimal, error) {
	if err := requireNonNegative(price, tvaRate, extraTaxRate); err != nil {
		return decimal.Zero, err
	}
	return Round(applyTaxes(price, tvaRate, extraTaxRate)), nil
}

// DepositRemainingAmountToPay splits the taxed price into the deposit paid at
// checkout and the remainder charged later.
func DepositRemainingAmountToPay(price, depositAmount, tvaRate, extraTaxRate, minimumDeposit decimal.Decimal) (*DepositSplit, error) {
	if err := requireNonNegative(price, depositAmount, tvaRate, extraTaxRate, minimumDeposit); err != nil {
		return nil, err
	}

	total, err := TotalAmountToPay(price, tvaRate, extraTaxRate)
	if err != nil {
		return nil, err
	}
	deposit, err := checkDeposit(depositAmount, total, minimumDeposit)
	if err != nil {
		return nil, err
	}

	return &DepositSplit{
		DepositAmount:        deposit,
		RemainingAmountToPay: total.Sub(deposit),
		TotalAmountToPay:     total,
	}, nil
}

// InstallmentsAmountToPay taxes one installment and multiplies it by the count.
func InstallmentsAmountToPay(pricePerInstallment decimal.Decimal, installmentsCount int32, tvaRate, extraTaxRate decimal.Decimal) (*InstallmentsSplit, error) {
	if err := requireNonNegative(pricePerInstallment, tvaRate, extraTaxRate); err != nil {
		return nil, err
	}
	if installmentsCount <= 0 {
		return nil, ErrInvalidInstallments
	}

	installment := Round(applyTaxes(pricePerInstallment, tvaRate, extraTaxRate))
	return &InstallmentsSplit{
		InstallmentAmountToPay: installment,
		TotalAmountToPay:       installment.Mul(decimal.NewFromInt32(installmentsCount)),
	}, nil
}

// InstallmentsDepositRemainingAmountToPay combines the installments total with
// a deposit. The remaining amount is charged in installment-sized payments.
func InstallmentsDepositRemainingAmountToPay(
	pricePerInstallment decimal.Decimal,
	installmentsCount int32,
	depositAmount, tvaRate, extraTaxRate, minimumDeposit decimal.Decimal,
) (*InstallmentsDepositSplit, error) {
	if err := requireNonNegative(depositAmount, minimumDeposit); err != nil {
		return nil, err
	}

	installments, err := InstallmentsAmountToPay(pricePerInstallment, installmentsCount, tvaRate, extraTaxRate)
	if err != nil {
		return nil, err
	}
	deposit, err := checkDeposit(depositAmount, installments.TotalAmountToPay, minimumDeposit)
	if err != nil {
		return nil, err
	}

	return &InstallmentsDepositSplit{
		DepositAmount:                   deposit,
		InstallmentAmountToPay:          installments.InstallmentAmountToPay,
		TotalAmountToPay:                installments.TotalAmountToPay,
		RemainingAmountToPay:            installments.TotalAmountToPay.Sub(deposit),
		RemainingInstallmentAmountToPay: installments.InstallmentAmountToPay,
	}, nil
}

// RemainingPaymentsCount returns how many installment-sized charges settle
// remaining. The last charge carries whatever is left.
func RemainingPaymentsCount(remaining, installment decimal.Decimal) int32 {
	if !remaining.IsPositive() || !installment.IsPositive() {
		return 0
	}
	return int32(remaining.Div(installment).Ceil().IntPart())
}

// NextChargeAmount is the amount due for the next scheduled charge.
func NextChargeAmount(remaining, installment decimal.Decimal, remainingPayments int32) decimal.Decimal {
	if remainingPayments <= 1 || installment.GreaterThan(remaining) {
		return Round(remaining)
	}
	return Round(installment)
}

// ToCents converts an amount to its integer minor-unit value.
func ToCents(amount decimal.Decimal) int64 {
	return Round(amount).Mul(hundred).IntPart()
}

// FromCents converts minor units back to an amount with two decimals.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -amountPlaces)
}

// ConvertEURToRON converts a EUR amount with the given exchange rate.
func ConvertEURToRON(amountEUR, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := requireNonNegative(amountEUR, rate); err != nil {
		return decimal.Zero, err
	}
	if rate.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: exchange rate must be positive", ErrInvalidAmount)
	}
	return Round(amountEUR.Mul(rate)), nil
}

func applyTaxes(price, tvaRate, extraTaxRate decimal.Decimal) decimal.Decimal {
	withTva := price.Mul(one.Add(tvaRate.Div(hundred)))
	return withTva.Mul(one.Add(extraTaxRate.Div(hundred)))
}

func checkDeposit(depositAmount, total, minimumDeposit decimal.Decimal) (decimal.Decimal, error) {
	deposit := Round(depositAmount)
	if !deposit.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	if deposit.GreaterThan(total) {
		return decimal.Zero, fmt.Errorf("%w: deposit=%s total=%s", ErrDepositExceedsTotal, deposit.StringFixed(amountPlaces), total.StringFixed(amountPlaces))
	}
	if deposit.LessThan(minimumDeposit) {
		return decimal.Zero, fmt.Errorf("%w: minimum=%s", ErrDepositBelowMinimum, minimumDeposit.StringFixed(amountPlaces))
	}
	return deposit, nil
}

func requireNonNegative(values ...decimal.Decimal) error {
	for _, v := range values {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, v.String())
		}
	}
	return nil
}
