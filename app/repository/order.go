package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

const orderColumns = `
	id, scope, payment_link_id, membership_id, subscription_id,
	type, status, event_key, stripe_payment_intent_id,
	amount, currency, billing_data_json,
	created_at, updated_at, deleted_at
`

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *entity.Order) error {
	billingJSON, err := serializeJSON(order.BillingData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (
			scope, payment_link_id, membership_id, subscription_id,
			type, status, event_key, stripe_payment_intent_id,
			amount, currency, billing_data_json,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		order.Scope,
		order.PaymentLinkID,
		nullableUint64Value(order.MembershipID),
		nullableUint64Value(order.SubscriptionID),
		order.Type,
		order.Status,
		order.EventKey,
		nullableStringValue(order.StripePaymentIntentID),
		order.Amount,
		order.Currency,
		billingJSON,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrOrderAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	order.ID = uint64(id)
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order *entity.Order) error {
	billingJSON, err := serializeJSON(order.BillingData)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders SET
			membership_id = ?,
			subscription_id = ?,
			type = ?,
			status = ?,
			stripe_payment_intent_id = ?,
			amount = ?,
			billing_data_json = ?,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableUint64Value(order.MembershipID),
		nullableUint64Value(order.SubscriptionID),
		order.Type,
		order.Status,
		nullableStringValue(order.StripePaymentIntentID),
		order.Amount,
		billingJSON,
		order.UpdatedAt,
		order.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CompletePending marks a pending order completed. It reports false when the
// order was no longer pending, which means another delivery already claimed it.
func (r *OrderRepository) CompletePending(ctx context.Context, order *entity.Order) (bool, error) {
	billingJSON, err := serializeJSON(order.BillingData)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE orders SET
			type = ?,
			status = ?,
			stripe_payment_intent_id = ?,
			amount = ?,
			billing_data_json = ?,
			updated_at = ?
		WHERE id = ?
		  AND status IN (?, ?, ?)
		  AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		order.Type,
		entity.OrderStatusCompleted,
		nullableStringValue(order.StripePaymentIntentID),
		order.Amount,
		billingJSON,
		order.UpdatedAt,
		order.ID,
		entity.OrderStatusPendingCardPayment,
		entity.OrderStatusPendingBankTransferPayment,
		entity.OrderStatusPendingTBIPayment,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	order.Status = entity.OrderStatusCompleted
	return true, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ? AND deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

func (r *OrderRepository) FindByEventKey(ctx context.Context, eventKey string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE event_key = ? AND deleted_at IS NULL LIMIT 1`
	return r.findOne(ctx, query, eventKey)
}

// CancelPendingByPaymentLink cancels every order still waiting for payment on the link.
func (r *OrderRepository) CancelPendingByPaymentLink(ctx context.Context, paymentLinkID uint64, now time.Time) (int64, error) {
	query := `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE payment_link_id = ?
		  AND status IN (?, ?, ?)
		  AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		entity.OrderStatusCancelled,
		now,
		paymentLinkID,
		entity.OrderStatusPendingCardPayment,
		entity.OrderStatusPendingBankTransferPayment,
		entity.OrderStatusPendingTBIPayment,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OrderRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.Order, error) {
	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, args...), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return order, nil
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var membershipID sql.NullInt64
	var subscriptionID sql.NullInt64
	var paymentIntentID sql.NullString
	var billingJSON string
	var deletedAt sql.NullTime

	err := scan.Scan(
		&order.ID,
		&order.Scope,
		&order.PaymentLinkID,
		&membershipID,
		&subscriptionID,
		&order.Type,
		&order.Status,
		&order.EventKey,
		&paymentIntentID,
		&order.Amount,
		&order.Currency,
		&billingJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return err
	}

	order.MembershipID = uint64PtrFromNull(membershipID)
	order.SubscriptionID = uint64PtrFromNull(subscriptionID)
	order.StripePaymentIntentID = stringPtrFromNull(paymentIntentID)
	order.DeletedAt = timePtrFromNull(deletedAt)

	return parseJSON(billingJSON, &order.BillingData)
}
