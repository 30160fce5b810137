package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
)

var ErrPaymentLinkAlreadyExists = errors.New("payment link already exists")

const paymentLinkColumns = `
	id, public_id, scope, type, product_id, extension_id, membership_id,
	payment_setting_code, currency,
	total_amount_to_pay, total_amount_to_pay_in_cents, amount_due_now_in_cents,
	deposit_amount, remaining_amount_to_pay, installment_amount_to_pay, installments_count,
	first_payment_date_after_deposit, extra_tax_rate, tva_rate,
	payment_method_type, status, expires_at,
	stripe_payment_intent_id, stripe_client_secret, stripe_customer_id,
	created_by_id, customer_email, customer_name,
	created_at, updated_at, deleted_at
`

type PaymentLinkRepository struct {
	db DBTX
}

func NewPaymentLinkRepository(db DBTX) *PaymentLinkRepository {
	return &PaymentLinkRepository{db: db}
}

func (r *PaymentLinkRepository) Create(ctx context.Context, link *entity.PaymentLink) error {
	query := `
		INSERT INTO payment_links (
			public_id, scope, type, product_id, extension_id, membership_id,
			payment_setting_code, currency,
			total_amount_to_pay, total_amount_to_pay_in_cents, amount_due_now_in_cents,
			deposit_amount, remaining_amount_to_pay, installment_amount_to_pay, installments_count,
			first_payment_date_after_deposit, extra_tax_rate, tva_rate,
			payment_method_type, status, expires_at,
			stripe_payment_intent_id, stripe_client_secret, stripe_customer_id,
			created_by_id, customer_email, customer_name,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		link.PublicID,
		link.Scope,
		link.Type,
		link.ProductID,
		nullableUint64Value(link.ExtensionID),
		nullableUint64Value(link.MembershipID),
		link.PaymentSettingCode,
		link.Currency,
		link.TotalAmountToPay,
		link.TotalAmountToPayInCents,
		link.AmountDueNowInCents,
		nullableDecimalValue(link.DepositAmount),
		nullableDecimalValue(link.RemainingAmountToPay),
		nullableDecimalValue(link.InstallmentAmountToPay),
		nullableInt32Value(link.InstallmentsCount),
		nullableTimeValue(link.FirstPaymentDateAfterDeposit),
		link.ExtraTaxRate,
		link.TvaRate,
		link.PaymentMethodType,
		link.Status,
		link.ExpiresAt,
		nullableStringValue(link.StripePaymentIntentID),
		nullableStringValue(link.StripeClientSecret),
		nullableStringValue(link.StripeCustomerID),
		link.CreatedByID,
		link.CustomerEmail,
		link.CustomerName,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentLinkAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	link.ID = uint64(id)
	return nil
}

func (r *PaymentLinkRepository) FindByID(ctx context.Context, id uint64) (*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE id = ? AND deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

func (r *PaymentLinkRepository) FindByPublicID(ctx context.Context, publicID string) (*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE public_id = ? AND deleted_at IS NULL LIMIT 1`
	return r.findOne(ctx, query, strings.TrimSpace(publicID))
}

func (r *PaymentLinkRepository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + ` FROM payment_links WHERE stripe_payment_intent_id = ? AND deleted_at IS NULL LIMIT 1`
	return r.findOne(ctx, query, strings.TrimSpace(paymentIntentID))
}

// TransitionStatus moves the link to `to` only while its status is one of `from`.
// It reports whether a row was changed.
func (r *PaymentLinkRepository) TransitionStatus(ctx context.Context, id uint64, from []entity.PaymentLinkStatus, to entity.PaymentLinkStatus, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	placeholders := make([]string, 0, len(from))
	args := make([]interface{}, 0, len(from)+3)
	args = append(args, to, now, id)
	for _, status := range from {
		placeholders = append(placeholders, "?")
		args = append(args, status)
	}

	query := `
		UPDATE payment_links SET status = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND status IN (` + strings.Join(placeholders, ", ") + `)
	`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PaymentLinkRepository) ListExpiredOpen(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentLink, error) {
	query := `SELECT ` + paymentLinkColumns + `
		FROM payment_links
		WHERE status IN (?, ?)
		  AND expires_at < ?
		  AND deleted_at IS NULL
		ORDER BY expires_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.PaymentLinkStatusCreated, entity.PaymentLinkStatusProcessing, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]*entity.PaymentLink, 0)
	for rows.Next() {
		item := &entity.PaymentLink{}
		if err := scanPaymentLink(rows, item); err != nil {
			return nil, err
		}
		links = append(links, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return links, nil
}

func (r *PaymentLinkRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.PaymentLink, error) {
	link := &entity.PaymentLink{}
	if err := scanPaymentLink(r.db.QueryRowContext(ctx, query, args...), link); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return link, nil
}

func scanPaymentLink(scan rowScanner, link *entity.PaymentLink) error {
	var extensionID sql.NullInt64
	var membershipID sql.NullInt64
	var depositAmount decimal.NullDecimal
	var remainingAmount decimal.NullDecimal
	var installmentAmount decimal.NullDecimal
	var installmentsCount sql.NullInt32
	var firstPaymentDate sql.NullTime
	var paymentIntentID sql.NullString
	var clientSecret sql.NullString
	var customerID sql.NullString
	var deletedAt sql.NullTime

	err := scan.Scan(
		&link.ID,
		&link.PublicID,
		&link.Scope,
		&link.Type,
		&link.ProductID,
		&extensionID,
		&membershipID,
		&link.PaymentSettingCode,
		&link.Currency,
		&link.TotalAmountToPay,
		&link.TotalAmountToPayInCents,
		&link.AmountDueNowInCents,
		&depositAmount,
		&remainingAmount,
		&installmentAmount,
		&installmentsCount,
		&firstPaymentDate,
		&link.ExtraTaxRate,
		&link.TvaRate,
		&link.PaymentMethodType,
		&link.Status,
		&link.ExpiresAt,
		&paymentIntentID,
		&clientSecret,
		&customerID,
		&link.CreatedByID,
		&link.CustomerEmail,
		&link.CustomerName,
		&link.CreatedAt,
		&link.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return err
	}

	link.ExtensionID = uint64PtrFromNull(extensionID)
	link.MembershipID = uint64PtrFromNull(membershipID)
	link.DepositAmount = decimalPtrFromNull(depositAmount)
	link.RemainingAmountToPay = decimalPtrFromNull(remainingAmount)
	link.InstallmentAmountToPay = decimalPtrFromNull(installmentAmount)
	link.InstallmentsCount = int32PtrFromNull(installmentsCount)
	link.FirstPaymentDateAfterDeposit = timePtrFromNull(firstPaymentDate)
	link.StripePaymentIntentID = stringPtrFromNull(paymentIntentID)
	link.StripeClientSecret = stringPtrFromNull(clientSecret)
	link.StripeCustomerID = stringPtrFromNull(customerID)
	link.DeletedAt = timePtrFromNull(deletedAt)

	return nil
}
