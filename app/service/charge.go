package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/pricing"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
)

const maxFailureReasonLength = 1024

// SubscriptionCharger charges the stored payment method of a subscription and
// applies the resulting success or failure transition. The scheduler, manual
// retries and renewal webhooks all go through it.
type SubscriptionCharger struct {
	store        Store
	gateway      PaymentGateway
	periodMonths int
	logger       logrus.FieldLogger
	now          func() time.Time
}

func NewSubscriptionCharger(store Store, gateway PaymentGateway, periodMonths int) *SubscriptionCharger {
	return &SubscriptionCharger{
		store:        store,
		gateway:      gateway,
		periodMonths: periodMonths,
		logger:       factory.NewModuleLogger("subscription-charger"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Charge attempts the next payment. A decline is recorded on the subscription
// and reported as ErrPaymentDeclined; a gateway failure leaves it untouched.
func (c *SubscriptionCharger) Charge(ctx context.Context, subscription *entity.Subscription) error {
	if subscription.RemainingPayments <= 0 {
		return conflictError("subscription %d has no remaining payments", subscription.ID)
	}

	amount := pricing.NextChargeAmount(subscription.RemainingAmountToPay, subscription.InstallmentAmountToPay, subscription.RemainingPayments)
	out, err := c.gateway.ChargeOffSession(ctx, &provider.OffSessionChargeInput{
		SubscriptionID:  subscription.ID,
		AmountCents:     pricing.ToCents(amount),
		Currency:        subscription.Currency,
		CustomerID:      derefString(subscription.StripeCustomerID),
		PaymentMethodID: derefString(subscription.StripePaymentMethodID),
		IdempotencyKey:  chargeIdempotencyKey(subscription),
	})
	if err != nil {
		return gatewayError("charge off session", err)
	}

	if out.Succeeded {
		if _, err := c.ApplySuccess(ctx, subscription.ID, out.PaymentIntentID, amount); err != nil {
			return err
		}
		return nil
	}

	if err := c.ApplyFailure(ctx, subscription.ID, out.FailureReason); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrPaymentDeclined, out.FailureReason)
}

// ApplySuccess records a renewal order for the payment and advances the
// schedule. It returns false when the payment intent was already applied.
func (c *SubscriptionCharger) ApplySuccess(ctx context.Context, subscriptionID uint64, paymentIntentID string, amount decimal.Decimal) (bool, error) {
	if paymentIntentID == "" {
		return false, validationError("payment intent id is required")
	}

	now := c.now()
	applied := false
	err := c.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		existing, err := repos.Orders.FindByEventKey(ctx, paymentIntentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		subscription, err := repos.Subscriptions.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return notFoundError("subscription %d", subscriptionID)
		}

		order := &entity.Order{
			Scope:                 subscription.Scope,
			PaymentLinkID:         subscription.PaymentLinkID,
			MembershipID:          &subscription.MembershipID,
			SubscriptionID:        &subscription.ID,
			Type:                  entity.OrderTypeRenewal,
			Status:                entity.OrderStatusCompleted,
			EventKey:              paymentIntentID,
			StripePaymentIntentID: &paymentIntentID,
			Amount:                pricing.Round(amount),
			Currency:              subscription.Currency,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		parent, err := repos.Orders.FindByID(ctx, subscription.ParentOrderID)
		if err != nil {
			return err
		}
		if parent != nil {
			order.BillingData = parent.BillingData
		}
		if err := repos.Orders.Create(ctx, order); err != nil {
			if errors.Is(err, repository.ErrOrderAlreadyExists) {
				return errAlreadyFulfilled
			}
			return err
		}

		if subscription.Status.Terminal() {
			c.logger.WithFields(logrus.Fields{
				"subscription_id":   subscription.ID,
				"status":            subscription.Status,
				"payment_intent_id": paymentIntentID,
			}).Warn("Renewal payment received for a closed subscription")
			applied = true
			return nil
		}

		advanceSchedule(subscription, amount, c.periodMonths, now)
		if err := repos.Subscriptions.Update(ctx, subscription); err != nil {
			if errors.Is(err, repository.ErrStaleSubscription) {
				return conflictError("subscription %d changed concurrently", subscription.ID)
			}
			return err
		}
		applied = true
		return nil
	})
	if errors.Is(err, errAlreadyFulfilled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if applied {
		c.logger.WithFields(logrus.Fields{
			"subscription_id":   subscriptionID,
			"payment_intent_id": paymentIntentID,
			"amount":            pricing.Round(amount).StringFixed(2),
		}).Info("Subscription payment applied")
	}
	return applied, nil
}

// ApplyFailure counts a declined charge and puts the subscription on hold.
func (c *SubscriptionCharger) ApplyFailure(ctx context.Context, subscriptionID uint64, reason string) error {
	now := c.now()
	err := c.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		subscription, err := repos.Subscriptions.FindByID(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return notFoundError("subscription %d", subscriptionID)
		}
		if subscription.Status.Terminal() {
			return nil
		}

		trimmed := truncate(reason, maxFailureReasonLength)
		subscription.PaymentFailureCount++
		subscription.LastPaymentFailureReason = &trimmed
		subscription.Status = entity.SubscriptionStatusOnHold
		subscription.UpdatedAt = now
		if err := repos.Subscriptions.Update(ctx, subscription); err != nil {
			if errors.Is(err, repository.ErrStaleSubscription) {
				return conflictError("subscription %d changed concurrently", subscription.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"subscription_id": subscriptionID,
		"reason":          reason,
	}).Warn("Subscription payment failed, subscription put on hold")
	return nil
}

// advanceSchedule applies a successful payment to the subscription in place.
func advanceSchedule(subscription *entity.Subscription, amount decimal.Decimal, periodMonths int, now time.Time) {
	remaining := subscription.RemainingAmountToPay.Sub(pricing.Round(amount))
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	subscription.RemainingAmountToPay = remaining
	if subscription.RemainingPayments > 0 {
		subscription.RemainingPayments--
	}
	subscription.PaymentFailureCount = 0
	subscription.LastPaymentFailureReason = nil
	subscription.Status = entity.SubscriptionStatusActive
	subscription.UpdatedAt = now

	if subscription.RemainingPayments == 0 {
		subscription.Status = entity.SubscriptionStatusCompleted
		subscription.RemainingAmountToPay = decimal.Zero
		subscription.NextPaymentDate = nil
		subscription.ScheduledCancellationDate = nil
		return
	}

	base := now
	if subscription.NextPaymentDate != nil {
		base = *subscription.NextPaymentDate
	}
	next := addPeriod(base, periodMonths)
	if !next.After(now) {
		next = addPeriod(now, periodMonths)
	}
	subscription.NextPaymentDate = &next
}

// chargeIdempotencyKey is stable for one installment and one attempt, so a
// retried request never charges twice while a new attempt after a decline can.
func chargeIdempotencyKey(subscription *entity.Subscription) string {
	return fmt.Sprintf("subscription-%d-installment-%d-attempt-%d", subscription.ID, subscription.RemainingPayments, subscription.PaymentFailureCount)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// truncate cuts value to at most max bytes without splitting a rune.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
