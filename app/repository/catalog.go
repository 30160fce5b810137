package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
)

type CatalogRepository struct {
	db DBTX
}

func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) FindProductByID(ctx context.Context, id uint64) (*entity.Product, error) {
	query := `
		SELECT id, name, price, currency, membership_duration_months, delayed_start_date,
			created_at, updated_at, deleted_at
		FROM products
		WHERE id = ? AND deleted_at IS NULL
	`

	product := &entity.Product{}
	var delayedStart sql.NullTime
	var deletedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.Name,
		&product.Price,
		&product.Currency,
		&product.MembershipDurationMonths,
		&delayedStart,
		&product.CreatedAt,
		&product.UpdatedAt,
		&deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	product.DelayedStartDate = timePtrFromNull(delayedStart)
	product.DeletedAt = timePtrFromNull(deletedAt)
	return product, nil
}

func (r *CatalogRepository) FindExtensionByID(ctx context.Context, id uint64) (*entity.Extension, error) {
	query := `
		SELECT id, product_id, name, price, currency, extension_months,
			created_at, updated_at, deleted_at
		FROM extensions
		WHERE id = ? AND deleted_at IS NULL
	`

	extension := &entity.Extension{}
	var deletedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&extension.ID,
		&extension.ProductID,
		&extension.Name,
		&extension.Price,
		&extension.Currency,
		&extension.ExtensionMonths,
		&extension.CreatedAt,
		&extension.UpdatedAt,
		&deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	extension.DeletedAt = timePtrFromNull(deletedAt)
	return extension, nil
}

// FindInstallmentTier returns the tier configured for a product or extension.
func (r *CatalogRepository) FindInstallmentTier(ctx context.Context, id uint64, scope entity.Scope, targetID uint64) (*entity.InstallmentTier, error) {
	query := `
		SELECT id, scope, target_id, price_per_installment, installments_count, created_at, deleted_at
		FROM installment_tiers
		WHERE id = ? AND scope = ? AND target_id = ? AND deleted_at IS NULL
	`

	tier := &entity.InstallmentTier{}
	var deletedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, scope, targetID).Scan(
		&tier.ID,
		&tier.Scope,
		&tier.TargetID,
		&tier.PricePerInstallment,
		&tier.InstallmentsCount,
		&tier.CreatedAt,
		&deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tier.DeletedAt = timePtrFromNull(deletedAt)
	return tier, nil
}
