package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
)

var ErrStaleSubscription = errors.New("subscription was modified concurrently")

const subscriptionColumns = `
	id, scope, membership_id, payment_link_id, parent_order_id,
	status, payment_method_type, currency,
	installment_amount_to_pay, remaining_amount_to_pay, remaining_payments, next_payment_date,
	payment_failure_count, last_payment_failure_reason, scheduled_cancellation_date,
	update_payment_token_hash, update_payment_token_expires_at,
	stripe_customer_id, stripe_payment_method_id, version,
	created_at, updated_at, deleted_at
`

const liveByMembershipQuery = `SELECT ` + subscriptionColumns + `
	FROM subscriptions
	WHERE membership_id = ?
	  AND scope = ?
	  AND status NOT IN (?, ?)
	  AND deleted_at IS NULL
	ORDER BY id ASC
	LIMIT 1`

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, subscription *entity.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			scope, membership_id, payment_link_id, parent_order_id,
			status, payment_method_type, currency,
			installment_amount_to_pay, remaining_amount_to_pay, remaining_payments, next_payment_date,
			payment_failure_count, last_payment_failure_reason, scheduled_cancellation_date,
			update_payment_token_hash, update_payment_token_expires_at,
			stripe_customer_id, stripe_payment_method_id, version,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		subscription.Scope,
		subscription.MembershipID,
		subscription.PaymentLinkID,
		subscription.ParentOrderID,
		subscription.Status,
		subscription.PaymentMethodType,
		subscription.Currency,
		subscription.InstallmentAmountToPay,
		subscription.RemainingAmountToPay,
		subscription.RemainingPayments,
		nullableTimeValue(subscription.NextPaymentDate),
		subscription.PaymentFailureCount,
		nullableStringValue(subscription.LastPaymentFailureReason),
		nullableTimeValue(subscription.ScheduledCancellationDate),
		nullableStringValue(subscription.UpdatePaymentTokenHash),
		nullableTimeValue(subscription.UpdatePaymentTokenExpiresAt),
		nullableStringValue(subscription.StripeCustomerID),
		nullableStringValue(subscription.StripePaymentMethodID),
		subscription.CreatedAt,
		subscription.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	subscription.ID = uint64(id)
	subscription.Version = 1
	return nil
}

// Update writes the subscription only if nobody else changed it since it was
// read, then bumps Version. A lost race returns ErrStaleSubscription.
func (r *SubscriptionRepository) Update(ctx context.Context, subscription *entity.Subscription) error {
	query := `
		UPDATE subscriptions SET
			status = ?,
			installment_amount_to_pay = ?,
			remaining_amount_to_pay = ?,
			remaining_payments = ?,
			next_payment_date = ?,
			payment_failure_count = ?,
			last_payment_failure_reason = ?,
			scheduled_cancellation_date = ?,
			update_payment_token_hash = ?,
			update_payment_token_expires_at = ?,
			stripe_customer_id = ?,
			stripe_payment_method_id = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		subscription.Status,
		subscription.InstallmentAmountToPay,
		subscription.RemainingAmountToPay,
		subscription.RemainingPayments,
		nullableTimeValue(subscription.NextPaymentDate),
		subscription.PaymentFailureCount,
		nullableStringValue(subscription.LastPaymentFailureReason),
		nullableTimeValue(subscription.ScheduledCancellationDate),
		nullableStringValue(subscription.UpdatePaymentTokenHash),
		nullableTimeValue(subscription.UpdatePaymentTokenExpiresAt),
		nullableStringValue(subscription.StripeCustomerID),
		nullableStringValue(subscription.StripePaymentMethodID),
		subscription.UpdatedAt,
		subscription.ID,
		subscription.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleSubscription
	}
	subscription.Version++
	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id uint64) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ? AND deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

// FindLiveByMembership returns the non-terminal subscription of the given
// scope attached to a membership, if any.
func (r *SubscriptionRepository) FindLiveByMembership(ctx context.Context, membershipID uint64, scope entity.Scope) (*entity.Subscription, error) {
	return r.findOne(ctx, liveByMembershipQuery, membershipID, scope, entity.SubscriptionStatusCancelled, entity.SubscriptionStatusCompleted)
}

// FindLiveByMembershipForUpdate is FindLiveByMembership holding the index range
// lock, so a concurrent fulfillment cannot insert a second schedule.
func (r *SubscriptionRepository) FindLiveByMembershipForUpdate(ctx context.Context, membershipID uint64, scope entity.Scope) (*entity.Subscription, error) {
	return r.findOne(ctx, liveByMembershipQuery+` FOR UPDATE`, membershipID, scope, entity.SubscriptionStatusCancelled, entity.SubscriptionStatusCompleted)
}

// ListDueForCharge returns active subscriptions whose next payment is due,
// skipping those whose graceful cancellation lands on or before that payment.
func (r *SubscriptionRepository) ListDueForCharge(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = ?
		  AND next_payment_date IS NOT NULL
		  AND next_payment_date <= ?
		  AND remaining_payments > 0
		  AND (scheduled_cancellation_date IS NULL OR scheduled_cancellation_date > next_payment_date)
		  AND deleted_at IS NULL
		ORDER BY next_payment_date ASC
		LIMIT ?
	`
	return r.list(ctx, query, entity.SubscriptionStatusActive, now, limit)
}

func (r *SubscriptionRepository) ListDueCancellation(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE scheduled_cancellation_date IS NOT NULL
		  AND scheduled_cancellation_date <= ?
		  AND status IN (?, ?)
		  AND deleted_at IS NULL
		ORDER BY scheduled_cancellation_date ASC
		LIMIT ?
	`
	return r.list(ctx, query, now, entity.SubscriptionStatusActive, entity.SubscriptionStatusOnHold, limit)
}

func (r *SubscriptionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Subscription, 0)
	for rows.Next() {
		item := &entity.Subscription{}
		if err := scanSubscription(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *SubscriptionRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Subscription, error) {
	subscription := &entity.Subscription{}
	if err := scanSubscription(r.db.QueryRowContext(ctx, query, args...), subscription); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return subscription, nil
}

func scanSubscription(scan rowScanner, subscription *entity.Subscription) error {
	var nextPaymentDate sql.NullTime
	var failureReason sql.NullString
	var scheduledCancellation sql.NullTime
	var tokenHash sql.NullString
	var tokenExpiresAt sql.NullTime
	var customerID sql.NullString
	var paymentMethodID sql.NullString
	var deletedAt sql.NullTime

	err := scan.Scan(
		&subscription.ID,
		&subscription.Scope,
		&subscription.MembershipID,
		&subscription.PaymentLinkID,
		&subscription.ParentOrderID,
		&subscription.Status,
		&subscription.PaymentMethodType,
		&subscription.Currency,
		&subscription.InstallmentAmountToPay,
		&subscription.RemainingAmountToPay,
		&subscription.RemainingPayments,
		&nextPaymentDate,
		&subscription.PaymentFailureCount,
		&failureReason,
		&scheduledCancellation,
		&tokenHash,
		&tokenExpiresAt,
		&customerID,
		&paymentMethodID,
		&subscription.Version,
		&subscription.CreatedAt,
		&subscription.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return err
	}

	subscription.NextPaymentDate = timePtrFromNull(nextPaymentDate)
	subscription.LastPaymentFailureReason = stringPtrFromNull(failureReason)
	subscription.ScheduledCancellationDate = timePtrFromNull(scheduledCancellation)
	subscription.UpdatePaymentTokenHash = stringPtrFromNull(tokenHash)
	subscription.UpdatePaymentTokenExpiresAt = timePtrFromNull(tokenExpiresAt)
	subscription.StripeCustomerID = stringPtrFromNull(customerID)
	subscription.StripePaymentMethodID = stringPtrFromNull(paymentMethodID)
	subscription.DeletedAt = timePtrFromNull(deletedAt)

	return nil
}
