package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/config"
)

func dueSubscription(h *harness, remainingPayments int32, remaining, installment string) *entity.Subscription {
	membership := h.store.putMembership(entity.Membership{ProductID: 2, Status: entity.MembershipStatusActive})
	parent := h.store.putOrder(entity.Order{EventKey: "pi_parent", Status: entity.OrderStatusCompleted, BillingData: entity.BillingData{Name: "Ana"}})
	due := testNow.Add(-time.Hour)
	return h.store.putSubscription(entity.Subscription{
		Scope:                  entity.ScopeProduct,
		MembershipID:           membership.ID,
		ParentOrderID:          parent.ID,
		Status:                 entity.SubscriptionStatusActive,
		PaymentMethodType:      entity.PaymentMethodCard,
		Currency:               "EUR",
		InstallmentAmountToPay: mustDecimal(installment),
		RemainingAmountToPay:   mustDecimal(remaining),
		RemainingPayments:      remainingPayments,
		NextPaymentDate:        &due,
		StripeCustomerID:       ptr("cus_1"),
		StripePaymentMethodID:  ptr("pm_1"),
	})
}

func TestCancelExpiredPayments(t *testing.T) {
	h := newHarness()
	expired := h.store.putLink(entity.PaymentLink{
		PublicID:              "expired",
		Status:                entity.PaymentLinkStatusCreated,
		ExpiresAt:             testNow.Add(-2 * time.Hour),
		StripePaymentIntentID: ptr("pi_expired"),
	})
	pending := h.store.putLink(entity.PaymentLink{
		PublicID:  "expired-bank",
		Status:    entity.PaymentLinkStatusProcessing,
		ExpiresAt: testNow.Add(-time.Hour),
	})
	h.store.putOrder(entity.Order{PaymentLinkID: pending.ID, EventKey: "bank:expired-bank", Status: entity.OrderStatusPendingBankTransferPayment})
	failing := h.store.putLink(entity.PaymentLink{
		PublicID:              "expired-failing",
		Status:                entity.PaymentLinkStatusCreated,
		ExpiresAt:             testNow.Add(-time.Hour),
		StripePaymentIntentID: ptr("pi_failing"),
	})
	h.gateway.cancelErr["pi_failing"] = errors.New("stripe unavailable")
	fresh := h.store.putLink(entity.PaymentLink{
		PublicID:  "fresh",
		Status:    entity.PaymentLinkStatusCreated,
		ExpiresAt: testNow.Add(time.Hour),
	})

	result, err := h.scheduler.CancelExpiredPayments(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ProcessedCount != 3 || result.SuccessCount != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].ID != failing.ID {
		t.Fatalf("expected one error for the failing link, got %+v", result.Errors)
	}

	if got := h.store.link(expired.ID).Status; got != entity.PaymentLinkStatusCanceled {
		t.Fatalf("expected canceled link, got %s", got)
	}
	if len(h.gateway.canceled) != 1 || h.gateway.canceled[0] != "pi_expired" {
		t.Fatalf("expected upstream intent cancel, got %v", h.gateway.canceled)
	}
	if got := h.store.ordersFor(pending.ID)[0].Status; got != entity.OrderStatusCancelled {
		t.Fatalf("expected pending order to be cancelled, got %s", got)
	}
	if got := h.store.link(failing.ID).Status; got != entity.PaymentLinkStatusCreated {
		t.Fatalf("failing link must stay open, got %s", got)
	}
	if got := h.store.link(fresh.ID).Status; got != entity.PaymentLinkStatusCreated {
		t.Fatalf("fresh link must stay open, got %s", got)
	}
}

func TestChargeDeferredPaymentsCompletesLastPayment(t *testing.T) {
	h := newHarness()
	sub := dueSubscription(h, 1, "990.00", "990.00")

	result, err := h.scheduler.ChargeDeferredPayments(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ProcessedCount != 1 || result.SuccessCount != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	got := h.store.subscription(sub.ID)
	if got.Status != entity.SubscriptionStatusCompleted || got.RemainingPayments != 0 || got.NextPaymentDate != nil {
		t.Fatalf("expected completed subscription, got %+v", got)
	}
	if !got.RemainingAmountToPay.IsZero() {
		t.Fatalf("expected nothing left to pay, got %s", got.RemainingAmountToPay)
	}

	charge := h.gateway.charges[0]
	if charge.AmountCents != 99000 || charge.IdempotencyKey == "" {
		t.Fatalf("unexpected charge: %+v", charge)
	}
	renewal, err := h.store.Repos().Orders.FindByEventKey(context.Background(), "pi_charge_1")
	if err != nil || renewal == nil {
		t.Fatalf("expected renewal order, got %v, %v", renewal, err)
	}
	if renewal.Type != entity.OrderTypeRenewal || renewal.BillingData.Name != "Ana" {
		t.Fatalf("unexpected renewal order: %+v", renewal)
	}
}

func TestChargeDeferredPaymentsAdvancesSchedule(t *testing.T) {
	h := newHarness()
	sub := dueSubscription(h, 5, "514.00", "119.00")

	if _, err := h.scheduler.ChargeDeferredPayments(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got := h.store.subscription(sub.ID)
	if got.RemainingPayments != 4 || !got.RemainingAmountToPay.Equal(mustDecimal("395.00")) {
		t.Fatalf("unexpected schedule: %+v", got)
	}
	if got.Status != entity.SubscriptionStatusActive || got.NextPaymentDate == nil || !got.NextPaymentDate.Equal(sub.NextPaymentDate.AddDate(0, 1, 0)) {
		t.Fatalf("expected next payment one period later, got %+v", got)
	}
}

func TestChargeDeferredPaymentsDeclinePutsOnHold(t *testing.T) {
	h := newHarness()
	h.gateway.declineReason = "card_declined: insufficient_funds"
	sub := dueSubscription(h, 2, "238.00", "119.00")

	result, err := h.scheduler.ChargeDeferredPayments(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.SuccessCount != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected one item error, got %+v", result)
	}

	got := h.store.subscription(sub.ID)
	if got.Status != entity.SubscriptionStatusOnHold || got.PaymentFailureCount != 1 {
		t.Fatalf("expected on hold subscription, got %+v", got)
	}
	if got.LastPaymentFailureReason == nil || *got.LastPaymentFailureReason != "card_declined: insufficient_funds" {
		t.Fatalf("unexpected failure reason %v", got.LastPaymentFailureReason)
	}
	if got.RemainingPayments != 2 {
		t.Fatalf("remaining payments must not change on decline, got %d", got.RemainingPayments)
	}

	// On hold subscriptions are not picked up again.
	result, err = h.scheduler.ChargeDeferredPayments(context.Background())
	if err != nil || result.ProcessedCount != 0 {
		t.Fatalf("expected nothing to charge, got %+v, %v", result, err)
	}
}

func TestChargeDeferredPaymentsSkipsGracefulCancellation(t *testing.T) {
	h := newHarness()
	sub := dueSubscription(h, 3, "357.00", "119.00")
	stored := h.store.subscription(sub.ID)
	stored.ScheduledCancellationDate = ptr(*stored.NextPaymentDate)
	h.store.putSubscription(stored)

	result, err := h.scheduler.ChargeDeferredPayments(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ProcessedCount != 0 || len(h.gateway.charges) != 0 {
		t.Fatalf("expected no charge, got %+v / %d charges", result, len(h.gateway.charges))
	}
}

func TestChargeDueRules(t *testing.T) {
	next := testNow.Add(-time.Minute)
	sub := &entity.Subscription{Status: entity.SubscriptionStatusActive, RemainingPayments: 1, NextPaymentDate: &next}
	if !chargeDue(sub, testNow) {
		t.Fatal("expected due subscription")
	}

	later := next.Add(time.Hour)
	sub.ScheduledCancellationDate = &later
	if !chargeDue(sub, testNow) {
		t.Fatal("cancellation after the next payment must not block the charge")
	}

	sub.ScheduledCancellationDate = &next
	if chargeDue(sub, testNow) {
		t.Fatal("cancellation on the next payment date must block the charge")
	}

	sub.ScheduledCancellationDate = nil
	sub.Status = entity.SubscriptionStatusOnHold
	if chargeDue(sub, testNow) {
		t.Fatal("on hold subscriptions are not charged automatically")
	}
}

func TestProcessScheduledCancellations(t *testing.T) {
	h := newHarness()
	sub := dueSubscription(h, 3, "357.00", "119.00")
	stored := h.store.subscription(sub.ID)
	yesterday := testNow.AddDate(0, 0, -1)
	stored.ScheduledCancellationDate = &yesterday
	h.store.putSubscription(stored)

	result, err := h.scheduler.ProcessScheduledCancellations(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.ProcessedCount != 1 || result.SuccessCount != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}

	got := h.store.subscription(sub.ID)
	if got.Status != entity.SubscriptionStatusCancelled || got.ScheduledCancellationDate != nil {
		t.Fatalf("expected cancelled subscription, got %+v", got)
	}
	if membership := h.store.membership(sub.MembershipID); membership.Status != entity.MembershipStatusCancelled {
		t.Fatalf("expected cancelled membership, got %s", membership.Status)
	}
}

func TestJobLockConflict(t *testing.T) {
	h := newHarness()
	scheduler := NewSchedulerService(h.store, h.gateway, h.charger, busyLocker{}, config.JobsConfig{})

	if _, err := scheduler.Run(context.Background(), JobChargeDeferredPayments); !isKind(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := scheduler.Run(context.Background(), "unknown"); !isKind(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown job, got %v", err)
	}
}

func TestRunBatchIsolatesFailuresAndPanics(t *testing.T) {
	items := []uint64{1, 2, 3, 4, 5}
	result := runBatch(context.Background(), 2, items, func(id uint64) uint64 { return id }, func(_ context.Context, id uint64) error {
		switch id {
		case 2:
			return errors.New("boom")
		case 4:
			panic("unexpected")
		}
		return nil
	})

	if result.ProcessedCount != 5 || result.SuccessCount != 3 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if len(result.Errors) != 2 || result.Errors[0].ID != 2 || result.Errors[1].ID != 4 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if result.Errors[1].Error != "panic: unexpected" {
		t.Fatalf("unexpected panic message %q", result.Errors[1].Error)
	}
}
