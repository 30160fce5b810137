package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
	"github.com/vibast-solutions/ms-go-billing/config"
)

const (
	CancelTypeGraceful  = "graceful"
	CancelTypeImmediate = "immediate"

	updateTokenBytes      = 32
	defaultUpdateTokenTTL = 24 * time.Hour
)

type UpdatePaymentToken struct {
	Token     string
	ExpiresAt time.Time
	URL       string
}

type SubscriptionService struct {
	store   Store
	gateway PaymentGateway
	charger *SubscriptionCharger
	cfg     config.LinksConfig
	logger  logrus.FieldLogger
	now     func() time.Time
	random  io.Reader
}

func NewSubscriptionService(store Store, gateway PaymentGateway, charger *SubscriptionCharger, cfg config.LinksConfig) *SubscriptionService {
	return &SubscriptionService{
		store:   store,
		gateway: gateway,
		charger: charger,
		cfg:     cfg,
		logger:  factory.NewModuleLogger("subscription-service"),
		now:     func() time.Time { return time.Now().UTC() },
		random:  rand.Reader,
	}
}

func (s *SubscriptionService) GetSubscription(ctx context.Context, id uint64) (*entity.Subscription, error) {
	subscription, err := s.store.Repos().Subscriptions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, notFoundError("subscription %d", id)
	}
	return subscription, nil
}

// Cancel either schedules the cancellation for the next payment date
// (graceful) or closes the subscription and its membership now (immediate).
func (s *SubscriptionService) Cancel(ctx context.Context, id uint64, cancelType string) (*entity.Subscription, error) {
	if cancelType != CancelTypeGraceful && cancelType != CancelTypeImmediate {
		return nil, validationError("cancel_type must be graceful or immediate")
	}

	now := s.now()
	var out *entity.Subscription
	err := s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		subscription, err := repos.Subscriptions.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if subscription == nil {
			return notFoundError("subscription %d", id)
		}
		if subscription.Status.Terminal() {
			return conflictError("subscription %d is already %s", id, subscription.Status)
		}

		if cancelType == CancelTypeImmediate {
			if err := cancelSubscription(ctx, repos, subscription, now); err != nil {
				return err
			}
			out = subscription
			return nil
		}

		if subscription.Status != entity.SubscriptionStatusActive {
			return conflictError("only active subscriptions can be cancelled gracefully")
		}
		if subscription.ScheduledCancellationDate != nil {
			return conflictError("subscription %d already has a scheduled cancellation", id)
		}
		if subscription.NextPaymentDate == nil {
			return conflictError("subscription %d has no next payment date", id)
		}

		scheduled := *subscription.NextPaymentDate
		subscription.ScheduledCancellationDate = &scheduled
		subscription.PaymentFailureCount = 0
		subscription.LastPaymentFailureReason = nil
		subscription.UpdatedAt = now
		if err := s.update(ctx, repos, subscription); err != nil {
			return err
		}
		out = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"subscription_id": id,
		"cancel_type":     cancelType,
	}).Info("Subscription cancellation applied")
	return out, nil
}

// SetOnHold stops automatic charging until the subscription is retried.
func (s *SubscriptionService) SetOnHold(ctx context.Context, id uint64) (*entity.Subscription, error) {
	subscription, err := s.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscription.Status.Terminal() {
		return nil, conflictError("subscription %d is already %s", id, subscription.Status)
	}
	if subscription.Status == entity.SubscriptionStatusOnHold {
		return subscription, nil
	}
	if subscription.ScheduledCancellationDate != nil {
		return nil, conflictError("subscription %d has a scheduled cancellation", id)
	}

	subscription.Status = entity.SubscriptionStatusOnHold
	subscription.UpdatedAt = s.now()
	if err := s.update(ctx, s.store.Repos(), subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

// RetryPayment charges an on-hold subscription with its stored method. A
// successful charge reactivates it.
func (s *SubscriptionService) RetryPayment(ctx context.Context, id uint64) (*entity.Subscription, error) {
	subscription, err := s.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscription.Status != entity.SubscriptionStatusOnHold {
		return nil, conflictError("only on hold subscriptions can be retried")
	}

	if err := s.charger.Charge(ctx, subscription); err != nil {
		return nil, err
	}
	return s.GetSubscription(ctx, id)
}

// GenerateUpdatePaymentToken issues a single-use token letting the customer
// replace the card of a subscription. Only the token hash is stored.
func (s *SubscriptionService) GenerateUpdatePaymentToken(ctx context.Context, id uint64) (*UpdatePaymentToken, error) {
	subscription, err := s.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscription.PaymentMethodType != entity.PaymentMethodCard {
		return nil, validationError("subscription %d is not paid by card", id)
	}
	if subscription.Status.Terminal() {
		return nil, conflictError("subscription %d is already %s", id, subscription.Status)
	}

	raw := make([]byte, updateTokenBytes)
	if _, err := io.ReadFull(s.random, raw); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(raw)
	hash := hashToken(token)

	ttl := s.cfg.UpdatePaymentTokenTTL
	if ttl <= 0 {
		ttl = defaultUpdateTokenTTL
	}
	expiresAt := s.now().Add(ttl)

	subscription.UpdatePaymentTokenHash = &hash
	subscription.UpdatePaymentTokenExpiresAt = &expiresAt
	subscription.UpdatedAt = s.now()
	if err := s.update(ctx, s.store.Repos(), subscription); err != nil {
		return nil, err
	}

	return &UpdatePaymentToken{
		Token:     token,
		ExpiresAt: expiresAt,
		URL:       s.updatePaymentURL(subscription, token),
	}, nil
}

// ValidateUpdateToken returns the subscription a token was issued for. Any
// mismatch reports not found so callers cannot probe tokens.
func (s *SubscriptionService) ValidateUpdateToken(ctx context.Context, subscriptionID uint64, token string, scope entity.Scope) (*entity.Subscription, error) {
	return s.findByUpdateToken(ctx, s.store.Repos(), subscriptionID, token, scope)
}

// UpdatePaymentMethod stores the card saved by a succeeded SetupIntent and
// consumes the token.
func (s *SubscriptionService) UpdatePaymentMethod(ctx context.Context, setupIntentID string, subscriptionID uint64, token string, scope entity.Scope) (*entity.Subscription, error) {
	if _, err := s.findByUpdateToken(ctx, s.store.Repos(), subscriptionID, token, scope); err != nil {
		return nil, err
	}

	setup, err := s.gateway.GetSetupIntent(ctx, setupIntentID)
	if err != nil {
		return nil, gatewayError("get setup intent", err)
	}
	if setup == nil {
		return nil, notFoundError("setup intent %s", setupIntentID)
	}
	if !setup.Succeeded {
		return nil, validationError("setup intent %s has not succeeded", setupIntentID)
	}
	if setup.PaymentMethodID == "" {
		return nil, validationError("setup intent %s has no payment method", setupIntentID)
	}
	if owner, ok := setup.Metadata[provider.MetadataSubscriptionID]; ok && owner != strconv.FormatUint(subscriptionID, 10) {
		return nil, forbiddenError("setup intent %s belongs to another subscription", setupIntentID)
	}

	var out *entity.Subscription
	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		subscription, err := s.findByUpdateToken(ctx, repos, subscriptionID, token, scope)
		if err != nil {
			return err
		}

		paymentMethodID := setup.PaymentMethodID
		subscription.StripePaymentMethodID = &paymentMethodID
		if setup.CustomerID != "" {
			customerID := setup.CustomerID
			subscription.StripeCustomerID = &customerID
		}
		subscription.UpdatePaymentTokenHash = nil
		subscription.UpdatePaymentTokenExpiresAt = nil
		subscription.UpdatedAt = s.now()

		if err := repos.Subscriptions.Update(ctx, subscription); err != nil {
			if errors.Is(err, repository.ErrStaleSubscription) {
				return notFoundError("update payment token")
			}
			return err
		}
		out = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("subscription_id", subscriptionID).Info("Subscription payment method updated")
	return out, nil
}

func (s *SubscriptionService) findByUpdateToken(ctx context.Context, repos Repositories, subscriptionID uint64, token string, scope entity.Scope) (*entity.Subscription, error) {
	subscription, err := repos.Subscriptions.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil || subscription.Scope != scope || subscription.Status.Terminal() {
		return nil, notFoundError("update payment token")
	}
	if subscription.UpdatePaymentTokenHash == nil || subscription.UpdatePaymentTokenExpiresAt == nil {
		return nil, notFoundError("update payment token")
	}
	if !subscription.UpdatePaymentTokenExpiresAt.After(s.now()) {
		return nil, notFoundError("update payment token")
	}
	if subtle.ConstantTimeCompare([]byte(hashToken(token)), []byte(*subscription.UpdatePaymentTokenHash)) != 1 {
		return nil, notFoundError("update payment token")
	}
	return subscription, nil
}

func (s *SubscriptionService) update(ctx context.Context, repos Repositories, subscription *entity.Subscription) error {
	if err := repos.Subscriptions.Update(ctx, subscription); err != nil {
		if errors.Is(err, repository.ErrStaleSubscription) {
			return conflictError("subscription %d changed concurrently", subscription.ID)
		}
		return err
	}
	return nil
}

func (s *SubscriptionService) updatePaymentURL(subscription *entity.Subscription, token string) string {
	query := url.Values{}
	query.Set("subscription_id", strconv.FormatUint(subscription.ID, 10))
	query.Set("token", token)
	query.Set("type", string(subscription.Scope))
	return s.cfg.UpdatePaymentBaseURL + "?" + query.Encode()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
