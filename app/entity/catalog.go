package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID uint64

	Name                     string
	Price                    decimal.Decimal
	Currency                 string
	MembershipDurationMonths int32
	DelayedStartDate         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

type Extension struct {
	ID uint64

	ProductID       uint64
	Name            string
	Price           decimal.Decimal
	Currency        string
	ExtensionMonths int32

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

type InstallmentTier struct {
	ID uint64

	Scope               Scope
	TargetID            uint64
	PricePerInstallment decimal.Decimal
	InstallmentsCount   int32

	CreatedAt time.Time
	DeletedAt *time.Time
}
