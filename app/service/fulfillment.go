package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/pricing"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
	"github.com/vibast-solutions/ms-go-billing/config"
)

// errAlreadyFulfilled rolls back a fulfillment that lost a race against an
// identical delivery.
var errAlreadyFulfilled = errors.New("payment already fulfilled")

// LinkPayment is a verified successful payment against a payment link.
type LinkPayment struct {
	PaymentLinkID uint64
	// EventKey is the Stripe payment intent id, or tbi:/bank: plus the link public id.
	EventKey        string
	PaymentIntentID *string
	AmountCents     int64
	CustomerID      *string
	PaymentMethodID *string
}

type FulfillmentResult struct {
	Order     *entity.Order
	Duplicate bool
}

type FulfillmentService struct {
	store  Store
	cfg    config.LinksConfig
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewFulfillmentService(store Store, cfg config.LinksConfig) *FulfillmentService {
	return &FulfillmentService{
		store:  store,
		cfg:    cfg,
		logger: factory.NewModuleLogger("fulfillment-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// FulfillLinkPayment turns a successful payment into the order, membership and
// subscription records in one transaction. Replaying the same event key is a
// no-op that reports Duplicate.
func (s *FulfillmentService) FulfillLinkPayment(ctx context.Context, payment *LinkPayment) (*FulfillmentResult, error) {
	if payment == nil || payment.EventKey == "" {
		return nil, validationError("payment event key is required")
	}

	now := s.now()
	result := &FulfillmentResult{}
	err := s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		existing, err := repos.Orders.FindByEventKey(ctx, payment.EventKey)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == entity.OrderStatusCompleted {
			result.Order = existing
			result.Duplicate = true
			return nil
		}
		if existing != nil && !existing.Status.Pending() {
			return conflictError("order %d is %s", existing.ID, existing.Status)
		}

		link, err := repos.PaymentLinks.FindByID(ctx, payment.PaymentLinkID)
		if err != nil {
			return err
		}
		if link == nil {
			return notFoundError("payment link %d", payment.PaymentLinkID)
		}
		if link.Status == entity.PaymentLinkStatusSucceeded {
			return conflictError("payment link %s was already paid by another event", link.PublicID)
		}
		if link.Status == entity.PaymentLinkStatusCanceled {
			s.logger.WithFields(logrus.Fields{
				"payment_link_id": link.ID,
				"event_key":       payment.EventKey,
			}).Warn("Fulfilling payment for a canceled payment link")
		}
		if payment.AmountCents != 0 && payment.AmountCents != link.AmountDueNowInCents {
			s.logger.WithFields(logrus.Fields{
				"payment_link_id": link.ID,
				"expected_cents":  link.AmountDueNowInCents,
				"paid_cents":      payment.AmountCents,
			}).Warn("Paid amount differs from the amount due")
		}

		order, err := s.completeOrder(ctx, repos, link, existing, payment, now)
		if err != nil {
			return err
		}

		membership, err := s.applyMembership(ctx, repos, link, order, now)
		if err != nil {
			return err
		}
		order.MembershipID = &membership.ID

		if link.Type.Recurring() {
			live, err := repos.Subscriptions.FindLiveByMembershipForUpdate(ctx, membership.ID, link.Scope)
			if err != nil {
				return err
			}
			if live != nil {
				return conflictError("membership %d already has %s subscription %d", membership.ID, link.Scope, live.ID)
			}

			subscription := s.newSubscription(link, order, membership, payment, now)
			if err := repos.Subscriptions.Create(ctx, subscription); err != nil {
				return err
			}
			order.SubscriptionID = &subscription.ID
		}

		order.UpdatedAt = now
		if err := repos.Orders.Update(ctx, order); err != nil {
			return err
		}

		moved, err := repos.PaymentLinks.TransitionStatus(ctx, link.ID, []entity.PaymentLinkStatus{
			entity.PaymentLinkStatusCreated,
			entity.PaymentLinkStatusProcessing,
			entity.PaymentLinkStatusCanceled,
		}, entity.PaymentLinkStatusSucceeded, now)
		if err != nil {
			return err
		}
		if !moved {
			return errAlreadyFulfilled
		}

		result.Order = order
		return nil
	})
	if errors.Is(err, errAlreadyFulfilled) {
		existing, findErr := s.store.Repos().Orders.FindByEventKey(ctx, payment.EventKey)
		if findErr != nil {
			return nil, findErr
		}
		return &FulfillmentResult{Order: existing, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if !result.Duplicate {
		s.logger.WithFields(logrus.Fields{
			"order_id":        result.Order.ID,
			"payment_link_id": payment.PaymentLinkID,
			"event_key":       payment.EventKey,
		}).Info("Payment link fulfilled")
	}
	return result, nil
}

func (s *FulfillmentService) completeOrder(ctx context.Context, repos Repositories, link *entity.PaymentLink, existing *entity.Order, payment *LinkPayment, now time.Time) (*entity.Order, error) {
	amountCents := payment.AmountCents
	if amountCents == 0 {
		amountCents = link.AmountDueNowInCents
	}

	if existing != nil {
		existing.Type = orderTypeForLink(link)
		existing.Status = entity.OrderStatusCompleted
		existing.Amount = pricing.FromCents(amountCents)
		if payment.PaymentIntentID != nil {
			existing.StripePaymentIntentID = payment.PaymentIntentID
		}
		existing.UpdatedAt = now
		ok, err := repos.Orders.CompletePending(ctx, existing)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errAlreadyFulfilled
		}
		return existing, nil
	}

	order := &entity.Order{
		Scope:                 link.Scope,
		PaymentLinkID:         link.ID,
		Type:                  orderTypeForLink(link),
		Status:                entity.OrderStatusCompleted,
		EventKey:              payment.EventKey,
		StripePaymentIntentID: payment.PaymentIntentID,
		Amount:                pricing.FromCents(amountCents),
		Currency:              link.Currency,
		BillingData: entity.BillingData{
			Name:  link.CustomerName,
			Email: link.CustomerEmail,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.Orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyExists) {
			return nil, errAlreadyFulfilled
		}
		return nil, err
	}
	return order, nil
}

// applyMembership opens the membership for a product purchase or extends the
// existing one for an extension purchase.
func (s *FulfillmentService) applyMembership(ctx context.Context, repos Repositories, link *entity.PaymentLink, order *entity.Order, now time.Time) (*entity.Membership, error) {
	if link.Scope == entity.ScopeExtension {
		if link.MembershipID == nil || link.ExtensionID == nil {
			return nil, validationError("extension payment link %s has no membership", link.PublicID)
		}
		membership, err := repos.Memberships.FindByIDForUpdate(ctx, *link.MembershipID)
		if err != nil {
			return nil, err
		}
		if membership == nil {
			return nil, notFoundError("membership %d", *link.MembershipID)
		}
		extension, err := repos.Catalog.FindExtensionByID(ctx, *link.ExtensionID)
		if err != nil {
			return nil, err
		}
		if extension == nil {
			return nil, notFoundError("extension %d", *link.ExtensionID)
		}
		if membership.Status == entity.MembershipStatusCancelled {
			s.logger.WithField("membership_id", membership.ID).Warn("Extending a cancelled membership")
		}

		membership.EndDate = membership.EndDate.AddDate(0, int(extension.ExtensionMonths), 0)
		membership.UpdatedAt = now
		if err := repos.Memberships.Update(ctx, membership); err != nil {
			return nil, err
		}
		return membership, nil
	}

	product, err := repos.Catalog.FindProductByID(ctx, link.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, notFoundError("product %d", link.ProductID)
	}

	membership := &entity.Membership{
		ProductID:     product.ID,
		ParentOrderID: order.ID,
		CustomerEmail: link.CustomerEmail,
		CustomerName:  link.CustomerName,
		StartDate:     now,
		Status:        entity.MembershipStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if product.DelayedStartDate != nil && product.DelayedStartDate.After(now) {
		delayed := *product.DelayedStartDate
		membership.StartDate = delayed
		membership.DelayedStartDate = &delayed
		membership.Status = entity.MembershipStatusDelayed
	}
	membership.EndDate = membership.StartDate.AddDate(0, int(product.MembershipDurationMonths), 0)

	if err := repos.Memberships.Create(ctx, membership); err != nil {
		return nil, err
	}
	return membership, nil
}

// newSubscription seeds the recurring schedule from the link terms.
func (s *FulfillmentService) newSubscription(link *entity.PaymentLink, order *entity.Order, membership *entity.Membership, payment *LinkPayment, now time.Time) *entity.Subscription {
	remaining := derefDecimal(link.RemainingAmountToPay)
	var installment decimal.Decimal
	var payments int32
	var next time.Time

	switch link.Type {
	case entity.PaymentLinkTypeDeposit:
		installment = remaining
		if remaining.IsPositive() {
			payments = 1
		}
		next = s.firstPaymentDate(link, now)
	case entity.PaymentLinkTypeInstallments:
		installment = derefDecimal(link.InstallmentAmountToPay)
		if link.InstallmentsCount != nil && *link.InstallmentsCount > 1 {
			payments = *link.InstallmentsCount - 1
		}
		next = addPeriod(now, s.cfg.BillingPeriodMonths)
	case entity.PaymentLinkTypeInstallmentsDeposit:
		installment = derefDecimal(link.InstallmentAmountToPay)
		payments = pricing.RemainingPaymentsCount(remaining, installment)
		next = s.firstPaymentDate(link, now)
	}

	subscription := &entity.Subscription{
		Scope:                  link.Scope,
		MembershipID:           membership.ID,
		PaymentLinkID:          link.ID,
		ParentOrderID:          order.ID,
		Status:                 entity.SubscriptionStatusActive,
		PaymentMethodType:      link.PaymentMethodType,
		Currency:               link.Currency,
		InstallmentAmountToPay: installment,
		RemainingAmountToPay:   remaining,
		RemainingPayments:      payments,
		StripeCustomerID:       firstNonEmpty(payment.CustomerID, link.StripeCustomerID),
		StripePaymentMethodID:  firstNonEmpty(payment.PaymentMethodID, nil),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if payments > 0 {
		subscription.NextPaymentDate = &next
	} else {
		subscription.Status = entity.SubscriptionStatusCompleted
		subscription.RemainingAmountToPay = decimal.Zero
	}
	return subscription
}

func (s *FulfillmentService) firstPaymentDate(link *entity.PaymentLink, now time.Time) time.Time {
	if link.FirstPaymentDateAfterDeposit != nil {
		return *link.FirstPaymentDateAfterDeposit
	}
	return now.AddDate(0, 0, s.cfg.FirstPaymentOffsetDays)
}

func addPeriod(from time.Time, months int) time.Time {
	if months <= 0 {
		months = 1
	}
	return from.AddDate(0, months, 0)
}

func derefDecimal(v *decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return *v
}

func firstNonEmpty(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			out := *v
			return &out
		}
	}
	return nil
}
