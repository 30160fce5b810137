package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-billing/app/pricing"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
)

const (
	webhookProviderStripe   = "stripe"
	webhookProviderTBI      = "tbi"
	webhookProviderCalendly = "calendly"

	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
	outcomeConflict  = "conflict"
	outcomeFailed    = "failed"
)

// WebhookService verifies inbound gateway events and routes them to
// fulfillment. Returned errors other than ErrWebhookRejected ask the gateway
// to deliver again.
type WebhookService struct {
	store       Store
	stripe      StripeEventParser
	tbi         LoanGateway
	calendly    CalendlyEventParser
	fulfillment *FulfillmentService
	charger     *SubscriptionCharger
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewWebhookService(
	store Store,
	stripe StripeEventParser,
	tbi LoanGateway,
	calendly CalendlyEventParser,
	fulfillment *FulfillmentService,
	charger *SubscriptionCharger,
) *WebhookService {
	return &WebhookService{
		store:       store,
		stripe:      stripe,
		tbi:         tbi,
		calendly:    calendly,
		fulfillment: fulfillment,
		charger:     charger,
		logger:      factory.NewModuleLogger("webhook-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *WebhookService) HandleStripe(ctx context.Context, payload []byte, signature string) error {
	event, err := s.stripe.ParsePaymentIntentEvent(payload, signature)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidSignature) || errors.Is(err, provider.ErrInvalidPayload) {
			metrics.IncWebhookEvent(webhookProviderStripe, outcomeRejected)
			return fmt.Errorf("%w: %v", ErrWebhookRejected, err)
		}
		metrics.IncWebhookEvent(webhookProviderStripe, outcomeFailed)
		return err
	}

	outcome, err := s.routeStripeEvent(ctx, event)
	return s.record(webhookProviderStripe, outcome, err)
}

func (s *WebhookService) routeStripeEvent(ctx context.Context, event *provider.PaymentIntentEvent) (string, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"event_id":          event.EventID,
		"event_type":        event.EventType,
		"payment_intent_id": event.PaymentIntentID,
	})

	if provider.IsPaymentIntentFailed(event) {
		logger.WithField("reason", event.FailureReason).Warn("Stripe payment failed")
		return outcomeIgnored, nil
	}
	if !provider.IsPaymentIntentSucceeded(event) {
		return outcomeIgnored, nil
	}

	if raw, ok := event.Metadata[provider.MetadataSubscriptionID]; ok && raw != "" {
		subscriptionID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			logger.WithField("subscription_id", raw).Warn("Ignoring payment with malformed subscription id")
			return outcomeIgnored, nil
		}
		applied, err := s.charger.ApplySuccess(ctx, subscriptionID, event.PaymentIntentID, pricing.FromCents(event.AmountCents))
		if err != nil {
			return outcomeFailed, err
		}
		if !applied {
			return outcomeDuplicate, nil
		}
		return outcomeProcessed, nil
	}

	link, err := s.findStripeLink(ctx, event)
	if err != nil {
		return outcomeFailed, err
	}
	if link == nil {
		logger.Warn("No payment link for succeeded payment intent")
		return outcomeIgnored, nil
	}

	paymentIntentID := event.PaymentIntentID
	result, err := s.fulfillment.FulfillLinkPayment(ctx, &LinkPayment{
		PaymentLinkID:   link.ID,
		EventKey:        paymentIntentID,
		PaymentIntentID: &paymentIntentID,
		AmountCents:     event.AmountCents,
		CustomerID:      optionalString(event.CustomerID),
		PaymentMethodID: optionalString(event.PaymentMethodID),
	})
	if err != nil {
		return outcomeFailed, err
	}
	if result.Duplicate {
		return outcomeDuplicate, nil
	}
	return outcomeProcessed, nil
}

func (s *WebhookService) findStripeLink(ctx context.Context, event *provider.PaymentIntentEvent) (*entity.PaymentLink, error) {
	repos := s.store.Repos()
	if publicID := event.Metadata[provider.MetadataPaymentLinkID]; publicID != "" {
		link, err := repos.PaymentLinks.FindByPublicID(ctx, publicID)
		if err != nil || link != nil {
			return link, err
		}
	}
	if event.PaymentIntentID == "" {
		return nil, nil
	}
	return repos.PaymentLinks.FindByPaymentIntentID(ctx, event.PaymentIntentID)
}

// HandleTBI applies a decrypted TBI loan status to the link it references.
func (s *WebhookService) HandleTBI(ctx context.Context, orderData string) error {
	status, err := s.tbi.DecryptStatus(orderData)
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			metrics.IncWebhookEvent(webhookProviderTBI, outcomeFailed)
			return err
		}
		metrics.IncWebhookEvent(webhookProviderTBI, outcomeRejected)
		return fmt.Errorf("%w: %v", ErrWebhookRejected, err)
	}

	outcome, err := s.routeTBIStatus(ctx, status)
	return s.record(webhookProviderTBI, outcome, err)
}

func (s *WebhookService) routeTBIStatus(ctx context.Context, status *provider.TBIStatus) (string, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"order_id":  status.OrderID,
		"status_id": status.StatusID,
		"motive":    status.Motive,
	})

	link, err := s.store.Repos().PaymentLinks.FindByPublicID(ctx, status.OrderID)
	if err != nil {
		return outcomeFailed, err
	}
	if link == nil {
		logger.Warn("TBI status for unknown payment link")
		return outcomeIgnored, nil
	}

	now := s.now()
	switch status.StatusID {
	case provider.TBIStatusRejected:
		err := s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
			moved, err := repos.PaymentLinks.TransitionStatus(ctx, link.ID, []entity.PaymentLinkStatus{
				entity.PaymentLinkStatusCreated,
				entity.PaymentLinkStatusProcessing,
			}, entity.PaymentLinkStatusCanceled, now)
			if err != nil || !moved {
				return err
			}
			_, err = repos.Orders.CancelPendingByPaymentLink(ctx, link.ID, now)
			return err
		})
		if err != nil {
			return outcomeFailed, err
		}
		logger.Info("TBI loan rejected, payment link canceled")
		return outcomeProcessed, nil

	case provider.TBIStatusApproved:
		result, err := s.fulfillment.FulfillLinkPayment(ctx, &LinkPayment{
			PaymentLinkID: link.ID,
			EventKey:      eventKeyTBIPrefix + link.PublicID,
			AmountCents:   link.AmountDueNowInCents,
		})
		if err != nil {
			return outcomeFailed, err
		}
		if result.Duplicate {
			return outcomeDuplicate, nil
		}
		return outcomeProcessed, nil

	case provider.TBIStatusPending:
		if _, err := s.store.Repos().PaymentLinks.TransitionStatus(ctx, link.ID, []entity.PaymentLinkStatus{
			entity.PaymentLinkStatusCreated,
		}, entity.PaymentLinkStatusProcessing, now); err != nil {
			return outcomeFailed, err
		}
		return outcomeProcessed, nil

	default:
		logger.Warn("Unknown TBI status, acknowledged without changes")
		return outcomeIgnored, nil
	}
}

func (s *WebhookService) HandleCalendly(_ context.Context, payload []byte, signatureHeader string) error {
	event, err := s.calendly.ParseEvent(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			metrics.IncWebhookEvent(webhookProviderCalendly, outcomeFailed)
			return err
		}
		metrics.IncWebhookEvent(webhookProviderCalendly, outcomeRejected)
		return fmt.Errorf("%w: %v", ErrWebhookRejected, err)
	}

	s.logger.WithFields(logrus.Fields{
		"event":      event.Event,
		"created_at": event.CreatedAt,
	}).Info("Calendly event received")
	metrics.IncWebhookEvent(webhookProviderCalendly, outcomeProcessed)
	return nil
}

// record counts the delivery. Conflicts are acknowledged: the event refers to
// a link or order that can no longer change, and redelivery would not help.
func (s *WebhookService) record(providerName, outcome string, err error) error {
	if err != nil && errors.Is(err, ErrConflict) {
		metrics.IncWebhookEvent(providerName, outcomeConflict)
		s.logger.WithError(err).WithField("provider", providerName).Warn("Webhook event conflicts with current state, acknowledged")
		return nil
	}
	metrics.IncWebhookEvent(providerName, outcome)
	return err
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
