package controller

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/settings"
	"github.com/vibast-solutions/ms-go-billing/config"
)

type stubStore struct {
	links         *stubLinkRepo
	orders        *stubOrderRepo
	memberships   *stubMembershipRepo
	subscriptions *stubSubscriptionRepo
	catalog       *stubCatalogRepo
}

func newStubStore() *stubStore {
	return &stubStore{
		links:         &stubLinkRepo{},
		orders:        &stubOrderRepo{},
		memberships:   &stubMembershipRepo{},
		subscriptions: &stubSubscriptionRepo{},
		catalog:       &stubCatalogRepo{},
	}
}

func (s *stubStore) Repos() service.Repositories {
	return service.Repositories{
		PaymentLinks:  s.links,
		Orders:        s.orders,
		Memberships:   s.memberships,
		Subscriptions: s.subscriptions,
		Catalog:       s.catalog,
	}
}

func (s *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos service.Repositories) error) error {
	return fn(ctx, s.Repos())
}

type stubLinkRepo struct {
	created          []*entity.PaymentLink
	findByPublicIDFn func(ctx context.Context, publicID string) (*entity.PaymentLink, error)
	listExpiredFn    func(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentLink, error)
}

func (r *stubLinkRepo) Create(_ context.Context, link *entity.PaymentLink) error {
	link.ID = uint64(len(r.created) + 1)
	r.created = append(r.created, link)
	return nil
}

func (r *stubLinkRepo) FindByID(context.Context, uint64) (*entity.PaymentLink, error) {
	return nil, nil
}

func (r *stubLinkRepo) FindByPublicID(ctx context.Context, publicID string) (*entity.PaymentLink, error) {
	if r.findByPublicIDFn != nil {
		return r.findByPublicIDFn(ctx, publicID)
	}
	return nil, nil
}

func (r *stubLinkRepo) FindByPaymentIntentID(context.Context, string) (*entity.PaymentLink, error) {
	return nil, nil
}

func (r *stubLinkRepo) TransitionStatus(context.Context, uint64, []entity.PaymentLinkStatus, entity.PaymentLinkStatus, time.Time) (bool, error) {
	return true, nil
}

func (r *stubLinkRepo) ListExpiredOpen(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentLink, error) {
	if r.listExpiredFn != nil {
		return r.listExpiredFn(ctx, now, limit)
	}
	return []*entity.PaymentLink{}, nil
}

type stubOrderRepo struct {
	findByIDFn func(ctx context.Context, id uint64) (*entity.Order, error)
}

func (r *stubOrderRepo) Create(context.Context, *entity.Order) error { return nil }

func (r *stubOrderRepo) Update(context.Context, *entity.Order) error { return nil }

func (r *stubOrderRepo) CompletePending(context.Context, *entity.Order) (bool, error) {
	return true, nil
}

func (r *stubOrderRepo) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *stubOrderRepo) FindByEventKey(context.Context, string) (*entity.Order, error) {
	return nil, nil
}

func (r *stubOrderRepo) CancelPendingByPaymentLink(context.Context, uint64, time.Time) (int64, error) {
	return 0, nil
}

type stubMembershipRepo struct{}

func (r *stubMembershipRepo) Create(context.Context, *entity.Membership) error { return nil }

func (r *stubMembershipRepo) Update(context.Context, *entity.Membership) error { return nil }

func (r *stubMembershipRepo) FindByID(context.Context, uint64) (*entity.Membership, error) {
	return nil, nil
}

func (r *stubMembershipRepo) FindByIDForUpdate(context.Context, uint64) (*entity.Membership, error) {
	return nil, nil
}

type stubSubscriptionRepo struct {
	findByIDFn         func(ctx context.Context, id uint64) (*entity.Subscription, error)
	listDueForChargeFn func(ctx context.Context) ([]*entity.Subscription, error)
}

func (r *stubSubscriptionRepo) Create(context.Context, *entity.Subscription) error { return nil }

func (r *stubSubscriptionRepo) Update(context.Context, *entity.Subscription) error { return nil }

func (r *stubSubscriptionRepo) FindByID(ctx context.Context, id uint64) (*entity.Subscription, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *stubSubscriptionRepo) FindLiveByMembership(context.Context, uint64, entity.Scope) (*entity.Subscription, error) {
	return nil, nil
}

func (r *stubSubscriptionRepo) FindLiveByMembershipForUpdate(context.Context, uint64, entity.Scope) (*entity.Subscription, error) {
	return nil, nil
}

func (r *stubSubscriptionRepo) ListDueForCharge(ctx context.Context, _ time.Time, _ int32) ([]*entity.Subscription, error) {
	if r.listDueForChargeFn != nil {
		return r.listDueForChargeFn(ctx)
	}
	return []*entity.Subscription{}, nil
}

func (r *stubSubscriptionRepo) ListDueCancellation(context.Context, time.Time, int32) ([]*entity.Subscription, error) {
	return []*entity.Subscription{}, nil
}

type stubCatalogRepo struct {
	products map[uint64]*entity.Product
}

func (r *stubCatalogRepo) FindProductByID(_ context.Context, id uint64) (*entity.Product, error) {
	return r.products[id], nil
}

func (r *stubCatalogRepo) FindExtensionByID(context.Context, uint64) (*entity.Extension, error) {
	return nil, nil
}

func (r *stubCatalogRepo) FindInstallmentTier(context.Context, uint64, entity.Scope, uint64) (*entity.InstallmentTier, error) {
	return nil, nil
}

type stubGateway struct{}

func (stubGateway) CreatePaymentIntent(context.Context, *provider.PaymentIntentInput) (*provider.PaymentIntentOutput, error) {
	return &provider.PaymentIntentOutput{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret"}, nil
}

func (stubGateway) CancelPaymentIntent(context.Context, string) error { return nil }

func (stubGateway) ChargeOffSession(context.Context, *provider.OffSessionChargeInput) (*provider.ChargeOutput, error) {
	return &provider.ChargeOutput{Succeeded: true, PaymentIntentID: "pi_charge"}, nil
}

func (stubGateway) GetSetupIntent(context.Context, string) (*provider.SetupIntent, error) {
	return nil, nil
}

type stubLoans struct {
	status *provider.TBIStatus
	err    error
}

func (l *stubLoans) CreateLoanApplication(_ context.Context, input *provider.LoanApplicationInput) (*provider.LoanApplicationOutput, error) {
	return &provider.LoanApplicationOutput{RedirectURL: "https://tbi.example/" + input.OrderReference}, nil
}

func (l *stubLoans) DecryptStatus(string) (*provider.TBIStatus, error) {
	return l.status, l.err
}

type stubStripeParser struct {
	event *provider.PaymentIntentEvent
	err   error
}

func (p *stubStripeParser) ParsePaymentIntentEvent([]byte, string) (*provider.PaymentIntentEvent, error) {
	return p.event, p.err
}

type stubCalendly struct{}

func (stubCalendly) ParseEvent([]byte, string) (*provider.CalendlyEvent, error) {
	return &provider.CalendlyEvent{Event: "invitee.created"}, nil
}

func testLinksConfig() config.LinksConfig {
	return config.LinksConfig{
		CheckoutBaseURL:       "https://pay.example/checkout",
		TTL:                   72 * time.Hour,
		BillingPeriodMonths:   1,
		UpdatePaymentTokenTTL: time.Hour,
	}
}

func testCatalog() *settings.Catalog {
	return settings.NewCatalog(settings.PaymentSetting{Code: "eu", Currency: "EUR"})
}

// services wires the real services over stub storage and gateways.
type services struct {
	store         *stubStore
	stripe        *stubStripeParser
	loans         *stubLoans
	links         *service.PaymentLinkService
	subscriptions *service.SubscriptionService
	scheduler     *service.SchedulerService
	webhooks      *service.WebhookService
}

func newServices() *services {
	store := newStubStore()
	stripe := &stubStripeParser{}
	loans := &stubLoans{}
	cfg := testLinksConfig()

	fulfillment := service.NewFulfillmentService(store, cfg)
	charger := service.NewSubscriptionCharger(store, stubGateway{}, cfg.BillingPeriodMonths)
	return &services{
		store:         store,
		stripe:        stripe,
		loans:         loans,
		links:         service.NewPaymentLinkService(store, stubGateway{}, loans, testCatalog(), fulfillment, cfg),
		subscriptions: service.NewSubscriptionService(store, stubGateway{}, charger, cfg),
		scheduler:     service.NewSchedulerService(store, stubGateway{}, charger, nil, config.JobsConfig{}),
		webhooks:      service.NewWebhookService(store, stripe, loans, stubCalendly{}, fulfillment, charger),
	}
}
