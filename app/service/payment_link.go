package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-billing/app/pricing"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/settings"
	"github.com/vibast-solutions/ms-go-billing/app/types"
	"github.com/vibast-solutions/ms-go-billing/config"
)

const (
	eventKeyTBIPrefix  = "tbi:"
	eventKeyBankPrefix = "bank:"
)

type PaymentLinkService struct {
	store       Store
	gateway     PaymentGateway
	loans       LoanGateway
	settings    SettingsCatalog
	fulfillment *FulfillmentService
	cfg         config.LinksConfig
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewPaymentLinkService(
	store Store,
	gateway PaymentGateway,
	loans LoanGateway,
	catalog SettingsCatalog,
	fulfillment *FulfillmentService,
	cfg config.LinksConfig,
) *PaymentLinkService {
	return &PaymentLinkService{
		store:       store,
		gateway:     gateway,
		loans:       loans,
		settings:    catalog,
		fulfillment: fulfillment,
		cfg:         cfg,
		logger:      factory.NewModuleLogger("payment-link-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *PaymentLinkService) CreatePaymentLink(ctx context.Context, req *types.CreatePaymentLinkRequest) (*entity.PaymentLink, error) {
	if err := req.Validate(); err != nil {
		return nil, validationError("%s", err.Error())
	}

	linkType := entity.PaymentLinkType(req.Type)
	method := entity.PaymentMethodType(req.PaymentMethodType)
	if linkType.Recurring() && method != entity.PaymentMethodCard {
		return nil, validationError("%s links can only be paid by card", linkType)
	}
	builder, ok := linkBuilders[linkType]
	if !ok {
		return nil, validationError("unsupported payment link type %q", req.Type)
	}

	setting, err := s.settings.Get(req.PaymentSettingCode)
	if err != nil {
		if errors.Is(err, settings.ErrSettingNotFound) {
			return nil, notFoundError("payment setting %q", req.PaymentSettingCode)
		}
		return nil, err
	}

	repos := s.store.Repos()
	target, err := s.resolveTarget(ctx, repos, req, setting)
	if err != nil {
		return nil, err
	}
	if linkType.Recurring() && target.membershipID != nil {
		live, err := repos.Subscriptions.FindLiveByMembership(ctx, *target.membershipID, target.scope)
		if err != nil {
			return nil, err
		}
		if live != nil {
			return nil, conflictError("membership %d already has %s subscription %d", *target.membershipID, target.scope, live.ID)
		}
	}

	amounts, err := builder(ctx, &linkBuildInput{
		target:            target,
		setting:           setting,
		catalog:           repos.Catalog,
		defaultOffsetDays: s.cfg.FirstPaymentOffsetDays,
	}, req.Terms)
	if err != nil {
		return nil, err
	}

	now := s.now()
	link := &entity.PaymentLink{
		PublicID:                uuid.NewString(),
		Scope:                   target.scope,
		Type:                    linkType,
		ProductID:               target.productID,
		ExtensionID:             target.extensionID,
		MembershipID:            target.membershipID,
		PaymentSettingCode:      setting.Code,
		Currency:                setting.Currency,
		TotalAmountToPay:        amounts.total,
		TotalAmountToPayInCents: pricing.ToCents(amounts.total),
		AmountDueNowInCents:     pricing.ToCents(amounts.dueNow),
		DepositAmount:           amounts.deposit,
		RemainingAmountToPay:    amounts.remaining,
		InstallmentAmountToPay:  amounts.installment,
		InstallmentsCount:       amounts.installmentsCount,
		ExtraTaxRate:            setting.ExtraTaxRate,
		TvaRate:                 setting.TvaRate,
		PaymentMethodType:       method,
		Status:                  entity.PaymentLinkStatusCreated,
		ExpiresAt:               now.Add(s.cfg.TTL),
		CreatedByID:             req.CreatedByID,
		CustomerEmail:           req.CustomerEmail,
		CustomerName:            req.CustomerName,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if amounts.offsetDays != nil {
		first := link.ExpiresAt.AddDate(0, 0, *amounts.offsetDays)
		link.FirstPaymentDateAfterDeposit = &first
	}

	if method == entity.PaymentMethodCard {
		intent, err := s.gateway.CreatePaymentIntent(ctx, &provider.PaymentIntentInput{
			PaymentLinkPublicID: link.PublicID,
			AmountCents:         link.AmountDueNowInCents,
			Currency:            link.Currency,
			Description:         target.name,
			CustomerEmail:       link.CustomerEmail,
			CustomerName:        link.CustomerName,
			Recurring:           linkType.Recurring(),
			IdempotencyKey:      "link:" + link.PublicID,
		})
		if err != nil {
			return nil, gatewayError("create payment intent", err)
		}
		link.StripePaymentIntentID = &intent.PaymentIntentID
		link.StripeClientSecret = &intent.ClientSecret
		link.StripeCustomerID = intent.CustomerID
	}

	if err := repos.PaymentLinks.Create(ctx, link); err != nil {
		if link.StripePaymentIntentID != nil {
			if cancelErr := s.gateway.CancelPaymentIntent(ctx, *link.StripePaymentIntentID); cancelErr != nil {
				s.logger.WithError(cancelErr).WithField("payment_intent_id", *link.StripePaymentIntentID).Warn("Failed to cancel orphaned payment intent")
			}
		}
		return nil, err
	}

	metrics.IncPaymentLinkCreated(string(link.Type), string(link.Scope))
	s.logger.WithFields(logrus.Fields{
		"payment_link_id": link.ID,
		"public_id":       link.PublicID,
		"type":            link.Type,
		"scope":           link.Scope,
		"amount_due_now":  link.AmountDueNowInCents,
	}).Info("Payment link created")

	return link, nil
}

// CheckoutURL is the public URL customers open to pay the link.
func (s *PaymentLinkService) CheckoutURL(link *entity.PaymentLink) string {
	return strings.TrimRight(s.cfg.CheckoutBaseURL, "/") + "/" + link.PublicID
}

func (s *PaymentLinkService) resolveTarget(ctx context.Context, repos Repositories, req *types.CreatePaymentLinkRequest, setting settings.PaymentSetting) (*linkTarget, error) {
	if entity.Scope(req.Scope) == entity.ScopeProduct {
		product, err := repos.Catalog.FindProductByID(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, notFoundError("product %d", req.ProductID)
		}
		price, err := convertPrice(product.Price, product.Currency, setting)
		if err != nil {
			return nil, err
		}
		return &linkTarget{
			scope:     entity.ScopeProduct,
			productID: product.ID,
			name:      product.Name,
			currency:  product.Currency,
			price:     price,
		}, nil
	}

	extension, err := repos.Catalog.FindExtensionByID(ctx, req.ExtensionID)
	if err != nil {
		return nil, err
	}
	if extension == nil {
		return nil, notFoundError("extension %d", req.ExtensionID)
	}
	membership, err := repos.Memberships.FindByID(ctx, req.MembershipID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, notFoundError("membership %d", req.MembershipID)
	}
	if membership.ProductID != extension.ProductID {
		return nil, validationError("extension %d does not belong to the membership product", extension.ID)
	}
	if membership.Status == entity.MembershipStatusCancelled {
		return nil, conflictError("membership %d is cancelled", membership.ID)
	}

	price, err := convertPrice(extension.Price, extension.Currency, setting)
	if err != nil {
		return nil, err
	}
	extensionID := extension.ID
	membershipID := membership.ID
	return &linkTarget{
		scope:        entity.ScopeExtension,
		productID:    extension.ProductID,
		extensionID:  &extensionID,
		membershipID: &membershipID,
		name:         extension.Name,
		currency:     extension.Currency,
		price:        price,
	}, nil
}

// GetCheckout returns the link behind a public checkout page.
func (s *PaymentLinkService) GetCheckout(ctx context.Context, publicID string) (*entity.PaymentLink, error) {
	link, err := s.store.Repos().PaymentLinks.FindByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, notFoundError("payment link %s", publicID)
	}
	if link.Status.Open() && !s.now().Before(link.ExpiresAt) {
		return nil, conflictError("payment link %s has expired", publicID)
	}
	return link, nil
}

// InitiateCheckout records the customer's billing data against a pending
// order. TBI links also open the loan application and return its redirect URL.
func (s *PaymentLinkService) InitiateCheckout(ctx context.Context, publicID string, billing entity.BillingData) (*entity.Order, string, error) {
	link, err := s.GetCheckout(ctx, publicID)
	if err != nil {
		return nil, "", err
	}
	if !link.Status.Open() {
		return nil, "", conflictError("payment link %s is %s", publicID, link.Status)
	}

	eventKey, pendingStatus, err := checkoutEventKey(link)
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	var order *entity.Order
	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		existing, err := repos.Orders.FindByEventKey(ctx, eventKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if !existing.Status.Pending() {
				return conflictError("order %d is %s", existing.ID, existing.Status)
			}
			existing.BillingData = billing
			existing.UpdatedAt = now
			if err := repos.Orders.Update(ctx, existing); err != nil {
				return err
			}
			order = existing
		} else {
			order = &entity.Order{
				Scope:         link.Scope,
				PaymentLinkID: link.ID,
				Type:          orderTypeForLink(link),
				Status:        pendingStatus,
				EventKey:      eventKey,
				Amount:        pricing.FromCents(link.AmountDueNowInCents),
				Currency:      link.Currency,
				BillingData:   billing,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if link.StripePaymentIntentID != nil {
				order.StripePaymentIntentID = link.StripePaymentIntentID
			}
			if err := repos.Orders.Create(ctx, order); err != nil {
				return err
			}
		}

		if link.PaymentMethodType == entity.PaymentMethodCard {
			return nil
		}
		_, err = repos.PaymentLinks.TransitionStatus(ctx, link.ID, []entity.PaymentLinkStatus{entity.PaymentLinkStatusCreated}, entity.PaymentLinkStatusProcessing, now)
		return err
	})
	if err != nil {
		return nil, "", err
	}

	if link.PaymentMethodType != entity.PaymentMethodTBI {
		return order, "", nil
	}

	application, err := s.loans.CreateLoanApplication(ctx, &provider.LoanApplicationInput{
		OrderReference: link.PublicID,
		AmountCents:    link.AmountDueNowInCents,
		Currency:       link.Currency,
		Description:    fmt.Sprintf("Payment link %s", link.PublicID),
		CustomerName:   billing.Name,
		CustomerEmail:  billing.Email,
		CustomerPhone:  billing.Phone,
	})
	if err != nil {
		return nil, "", gatewayError("create loan application", err)
	}

	s.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"public_id": link.PublicID,
	}).Info("TBI loan application opened")

	return order, application.RedirectURL, nil
}

// ConfirmBankTransfer fulfills a link once staff has seen the transfer arrive.
func (s *PaymentLinkService) ConfirmBankTransfer(ctx context.Context, orderID uint64) (*entity.Order, error) {
	order, err := s.store.Repos().Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, notFoundError("order %d", orderID)
	}
	if order.Status == entity.OrderStatusCompleted {
		return order, nil
	}
	if order.Status != entity.OrderStatusPendingBankTransferPayment {
		return nil, conflictError("order %d is %s", order.ID, order.Status)
	}

	link, err := s.store.Repos().PaymentLinks.FindByID(ctx, order.PaymentLinkID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, notFoundError("payment link %d", order.PaymentLinkID)
	}

	result, err := s.fulfillment.FulfillLinkPayment(ctx, &LinkPayment{
		PaymentLinkID: link.ID,
		EventKey:      order.EventKey,
		AmountCents:   link.AmountDueNowInCents,
	})
	if err != nil {
		return nil, err
	}
	return result.Order, nil
}

func checkoutEventKey(link *entity.PaymentLink) (string, entity.OrderStatus, error) {
	switch link.PaymentMethodType {
	case entity.PaymentMethodCard:
		if link.StripePaymentIntentID == nil {
			return "", "", conflictError("payment link %s has no payment intent", link.PublicID)
		}
		return *link.StripePaymentIntentID, entity.OrderStatusPendingCardPayment, nil
	case entity.PaymentMethodBankTransfer:
		return eventKeyBankPrefix + link.PublicID, entity.OrderStatusPendingBankTransferPayment, nil
	case entity.PaymentMethodTBI:
		return eventKeyTBIPrefix + link.PublicID, entity.OrderStatusPendingTBIPayment, nil
	default:
		return "", "", validationError("unsupported payment method %q", link.PaymentMethodType)
	}
}

func orderTypeForLink(link *entity.PaymentLink) entity.OrderType {
	if link.Type.Recurring() {
		return entity.OrderTypeParent
	}
	return entity.OrderTypeOneTimePayment
}
