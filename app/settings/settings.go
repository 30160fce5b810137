// Package settings holds per-market payment reference data.
package settings

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrSettingNotFound = errors.New("payment setting not found")

type PaymentSetting struct {
	Code                 string
	Currency             string
	TvaRate              decimal.Decimal
	ExtraTaxRate         decimal.Decimal
	MinimumDepositAmount decimal.Decimal
	// EURExchangeRate converts EUR catalog prices into Currency; zero when Currency is EUR.
	EURExchangeRate decimal.Decimal
}

type Catalog struct {
	settings map[string]PaymentSetting
}

type fileFormat struct {
	Settings []struct {
		Code                 string `yaml:"code"`
		Currency             string `yaml:"currency"`
		TvaRate              string `yaml:"tva_rate"`
		ExtraTaxRate         string `yaml:"extra_tax_rate"`
		MinimumDepositAmount string `yaml:"minimum_deposit_amount"`
		EURExchangeRate      string `yaml:"eur_exchange_rate"`
	} `yaml:"payment_settings"`
}

func NewCatalog(items ...PaymentSetting) *Catalog {
	c := &Catalog{settings: make(map[string]PaymentSetting, len(items))}
	for _, item := range items {
		c.settings[strings.ToLower(item.Code)] = item
	}
	return c
}

func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payment settings: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse payment settings: %w", err)
	}
	if len(doc.Settings) == 0 {
		return nil, errors.New("payment settings file has no entries")
	}

	items := make([]PaymentSetting, 0, len(doc.Settings))
	seen := make(map[string]struct{}, len(doc.Settings))
	for i, entry := range doc.Settings {
		code := strings.ToLower(strings.TrimSpace(entry.Code))
		if code == "" {
			return nil, fmt.Errorf("payment setting #%d: code is required", i)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("payment setting %q is defined twice", code)
		}
		seen[code] = struct{}{}

		currency := strings.ToUpper(strings.TrimSpace(entry.Currency))
		if len(currency) != 3 {
			return nil, fmt.Errorf("payment setting %q: currency must be 3 letters", code)
		}

		tva, err := parseRate(entry.TvaRate)
		if err != nil {
			return nil, fmt.Errorf("payment setting %q: tva_rate: %w", code, err)
		}
		extra, err := parseRate(entry.ExtraTaxRate)
		if err != nil {
			return nil, fmt.Errorf("payment setting %q: extra_tax_rate: %w", code, err)
		}
		minDeposit, err := parseRate(entry.MinimumDepositAmount)
		if err != nil {
			return nil, fmt.Errorf("payment setting %q: minimum_deposit_amount: %w", code, err)
		}
		fx, err := parseRate(entry.EURExchangeRate)
		if err != nil {
			return nil, fmt.Errorf("payment setting %q: eur_exchange_rate: %w", code, err)
		}
		if currency != "EUR" && fx.IsZero() {
			return nil, fmt.Errorf("payment setting %q: eur_exchange_rate is required for %s", code, currency)
		}

		items = append(items, PaymentSetting{
			Code:                 code,
			Currency:             currency,
			TvaRate:              tva,
			ExtraTaxRate:         extra,
			MinimumDepositAmount: minDeposit,
			EURExchangeRate:      fx,
		})
	}

	return NewCatalog(items...), nil
}

func (c *Catalog) Get(code string) (PaymentSetting, error) {
	item, ok := c.settings[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return PaymentSetting{}, fmt.Errorf("%w: %q", ErrSettingNotFound, code)
	}
	return item, nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if v.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	return v, nil
}
