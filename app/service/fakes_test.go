package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/lock"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
	"github.com/vibast-solutions/ms-go-billing/app/settings"
	"github.com/vibast-solutions/ms-go-billing/config"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func mustDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func ptr[T any](v T) *T { return &v }

// memoryStore keeps every table in maps. Transactions are serialized and
// roll back by restoring a snapshot.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	nextID        uint64
	links         map[uint64]entity.PaymentLink
	orders        map[uint64]entity.Order
	memberships   map[uint64]entity.Membership
	subscriptions map[uint64]entity.Subscription
	products      map[uint64]entity.Product
	extensions    map[uint64]entity.Extension
	tiers         map[uint64]entity.InstallmentTier

	failLinkCreate error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		nextID:        100,
		links:         map[uint64]entity.PaymentLink{},
		orders:        map[uint64]entity.Order{},
		memberships:   map[uint64]entity.Membership{},
		subscriptions: map[uint64]entity.Subscription{},
		products:      map[uint64]entity.Product{},
		extensions:    map[uint64]entity.Extension{},
		tiers:         map[uint64]entity.InstallmentTier{},
	}
}

type memorySnapshot struct {
	nextID        uint64
	links         map[uint64]entity.PaymentLink
	orders        map[uint64]entity.Order
	memberships   map[uint64]entity.Membership
	subscriptions map[uint64]entity.Subscription
}

func (s *memoryStore) Repos() Repositories {
	return Repositories{
		PaymentLinks:  &memoryLinks{s},
		Orders:        &memoryOrders{s},
		Memberships:   &memoryMemberships{s},
		Subscriptions: &memorySubscriptions{s},
		Catalog:       &memoryCatalog{s},
	}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, s.Repos()); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memorySnapshot{
		nextID:        s.nextID,
		links:         copyMap(s.links),
		orders:        copyMap(s.orders),
		memberships:   copyMap(s.memberships),
		subscriptions: copyMap(s.subscriptions),
	}
}

func (s *memoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.links = snap.links
	s.orders = snap.orders
	s.memberships = snap.memberships
	s.subscriptions = snap.subscriptions
}

func copyMap[T any](in map[uint64]T) map[uint64]T {
	out := make(map[uint64]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memoryStore) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) ordersFor(linkID uint64) []entity.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Order
	for _, o := range s.orders {
		if o.PaymentLinkID == linkID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) link(id uint64) entity.PaymentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[id]
}

func (s *memoryStore) subscription(id uint64) entity.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptions[id]
}

func (s *memoryStore) membership(id uint64) entity.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberships[id]
}

func (s *memoryStore) count() (orders, memberships, subscriptions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.memberships), len(s.subscriptions)
}

func (s *memoryStore) putLink(link entity.PaymentLink) *entity.PaymentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == 0 {
		link.ID = s.id()
	}
	s.links[link.ID] = link
	return &link
}

func (s *memoryStore) putSubscription(sub entity.Subscription) *entity.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.id()
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	s.subscriptions[sub.ID] = sub
	return &sub
}

func (s *memoryStore) putMembership(m entity.Membership) *entity.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.id()
	}
	s.memberships[m.ID] = m
	return &m
}

func (s *memoryStore) putOrder(o entity.Order) *entity.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.id()
	}
	s.orders[o.ID] = o
	return &o
}

type memoryLinks struct{ s *memoryStore }

func (r *memoryLinks) Create(_ context.Context, link *entity.PaymentLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failLinkCreate != nil {
		return r.s.failLinkCreate
	}
	for _, existing := range r.s.links {
		if existing.PublicID == link.PublicID {
			return repository.ErrPaymentLinkAlreadyExists
		}
	}
	link.ID = r.s.id()
	r.s.links[link.ID] = *link
	return nil
}

func (r *memoryLinks) FindByID(_ context.Context, id uint64) (*entity.PaymentLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	link, ok := r.s.links[id]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (r *memoryLinks) FindByPublicID(_ context.Context, publicID string) (*entity.PaymentLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, link := range r.s.links {
		if link.PublicID == publicID {
			return &link, nil
		}
	}
	return nil, nil
}

func (r *memoryLinks) FindByPaymentIntentID(_ context.Context, paymentIntentID string) (*entity.PaymentLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, link := range r.s.links {
		if link.StripePaymentIntentID != nil && *link.StripePaymentIntentID == paymentIntentID {
			return &link, nil
		}
	}
	return nil, nil
}

func (r *memoryLinks) TransitionStatus(_ context.Context, id uint64, from []entity.PaymentLinkStatus, to entity.PaymentLinkStatus, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	link, ok := r.s.links[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if link.Status == status {
			link.Status = to
			link.UpdatedAt = now
			r.s.links[id] = link
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryLinks) ListExpiredOpen(_ context.Context, now time.Time, limit int32) ([]*entity.PaymentLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.PaymentLink
	for _, link := range r.s.links {
		if link.Status.Open() && link.ExpiresAt.Before(now) {
			l := link
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

type memoryOrders struct{ s *memoryStore }

func (r *memoryOrders) Create(_ context.Context, order *entity.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.orders {
		if existing.EventKey == order.EventKey {
			return repository.ErrOrderAlreadyExists
		}
	}
	order.ID = r.s.id()
	r.s.orders[order.ID] = *order
	return nil
}

func (r *memoryOrders) Update(_ context.Context, order *entity.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[order.ID]; !ok {
		return repository.ErrOrderNotFound
	}
	r.s.orders[order.ID] = *order
	return nil
}

func (r *memoryOrders) CompletePending(_ context.Context, order *entity.Order) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.orders[order.ID]
	if !ok || !current.Status.Pending() {
		return false, nil
	}
	r.s.orders[order.ID] = *order
	return true, nil
}

func (r *memoryOrders) FindByID(_ context.Context, id uint64) (*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[id]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (r *memoryOrders) FindByEventKey(_ context.Context, eventKey string) (*entity.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, order := range r.s.orders {
		if order.EventKey == eventKey {
			return &order, nil
		}
	}
	return nil, nil
}

func (r *memoryOrders) CancelPendingByPaymentLink(_ context.Context, paymentLinkID uint64, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, order := range r.s.orders {
		if order.PaymentLinkID == paymentLinkID && order.Status.Pending() {
			order.Status = entity.OrderStatusCancelled
			order.UpdatedAt = now
			r.s.orders[id] = order
			n++
		}
	}
	return n, nil
}

type memoryMemberships struct{ s *memoryStore }

func (r *memoryMemberships) Create(_ context.Context, membership *entity.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	membership.ID = r.s.id()
	r.s.memberships[membership.ID] = *membership
	return nil
}

func (r *memoryMemberships) Update(_ context.Context, membership *entity.Membership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.memberships[membership.ID]; !ok {
		return repository.ErrMembershipNotFound
	}
	r.s.memberships[membership.ID] = *membership
	return nil
}

func (r *memoryMemberships) FindByID(_ context.Context, id uint64) (*entity.Membership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memberships[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *memoryMemberships) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Membership, error) {
	return r.FindByID(ctx, id)
}

type memorySubscriptions struct{ s *memoryStore }

func (r *memorySubscriptions) Create(_ context.Context, sub *entity.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub.ID = r.s.id()
	sub.Version = 1
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

func (r *memorySubscriptions) Update(_ context.Context, sub *entity.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.subscriptions[sub.ID]
	if !ok || current.Version != sub.Version {
		return repository.ErrStaleSubscription
	}
	sub.Version++
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

func (r *memorySubscriptions) FindByID(_ context.Context, id uint64) (*entity.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (r *memorySubscriptions) FindLiveByMembership(_ context.Context, membershipID uint64, scope entity.Scope) (*entity.Subscription, error) {
	live, err := r.list(1, func(sub entity.Subscription) bool {
		return sub.MembershipID == membershipID && sub.Scope == scope && !sub.Status.Terminal()
	})
	if err != nil || len(live) == 0 {
		return nil, err
	}
	return live[0], nil
}

func (r *memorySubscriptions) FindLiveByMembershipForUpdate(ctx context.Context, membershipID uint64, scope entity.Scope) (*entity.Subscription, error) {
	return r.FindLiveByMembership(ctx, membershipID, scope)
}

func (r *memorySubscriptions) ListDueForCharge(_ context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	return r.list(limit, func(sub entity.Subscription) bool {
		return sub.Status == entity.SubscriptionStatusActive &&
			sub.NextPaymentDate != nil && !sub.NextPaymentDate.After(now) &&
			sub.RemainingPayments > 0 &&
			(sub.ScheduledCancellationDate == nil || sub.ScheduledCancellationDate.After(*sub.NextPaymentDate))
	})
}

func (r *memorySubscriptions) ListDueCancellation(_ context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	return r.list(limit, func(sub entity.Subscription) bool {
		return sub.ScheduledCancellationDate != nil && !sub.ScheduledCancellationDate.After(now) &&
			(sub.Status == entity.SubscriptionStatusActive || sub.Status == entity.SubscriptionStatusOnHold)
	})
}

func (r *memorySubscriptions) list(limit int32, match func(entity.Subscription) bool) ([]*entity.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Subscription
	for _, sub := range r.s.subscriptions {
		if match(sub) {
			s := sub
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

type memoryCatalog struct{ s *memoryStore }

func (r *memoryCatalog) FindProductByID(_ context.Context, id uint64) (*entity.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryCatalog) FindExtensionByID(_ context.Context, id uint64) (*entity.Extension, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.extensions[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *memoryCatalog) FindInstallmentTier(_ context.Context, id uint64, scope entity.Scope, targetID uint64) (*entity.InstallmentTier, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tiers[id]
	if !ok || t.Scope != scope || t.TargetID != targetID {
		return nil, nil
	}
	return &t, nil
}

type fakeGateway struct {
	mu sync.Mutex

	intents  []provider.PaymentIntentInput
	canceled []string
	charges  []provider.OffSessionChargeInput

	createErr     error
	cancelErr     map[string]error
	chargeErr     error
	declineReason string
	setupIntent   *provider.SetupIntent
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{cancelErr: map[string]error{}}
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, input *provider.PaymentIntentInput) (*provider.PaymentIntentOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.intents = append(g.intents, *input)
	out := &provider.PaymentIntentOutput{
		PaymentIntentID: fmt.Sprintf("pi_link_%d", len(g.intents)),
		ClientSecret:    fmt.Sprintf("pi_link_%d_secret", len(g.intents)),
	}
	if input.Recurring {
		out.CustomerID = ptr(fmt.Sprintf("cus_%d", len(g.intents)))
	}
	return out, nil
}

func (g *fakeGateway) CancelPaymentIntent(_ context.Context, paymentIntentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.cancelErr[paymentIntentID]; err != nil {
		return err
	}
	g.canceled = append(g.canceled, paymentIntentID)
	return nil
}

func (g *fakeGateway) ChargeOffSession(_ context.Context, input *provider.OffSessionChargeInput) (*provider.ChargeOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	g.charges = append(g.charges, *input)
	if g.declineReason != "" {
		return &provider.ChargeOutput{FailureReason: g.declineReason}, nil
	}
	return &provider.ChargeOutput{Succeeded: true, PaymentIntentID: fmt.Sprintf("pi_charge_%d", len(g.charges))}, nil
}

func (g *fakeGateway) GetSetupIntent(_ context.Context, _ string) (*provider.SetupIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setupIntent, nil
}

type fakeLoans struct {
	applications []provider.LoanApplicationInput
	status       *provider.TBIStatus
	decryptErr   error
}

func (l *fakeLoans) CreateLoanApplication(_ context.Context, input *provider.LoanApplicationInput) (*provider.LoanApplicationOutput, error) {
	l.applications = append(l.applications, *input)
	return &provider.LoanApplicationOutput{RedirectURL: "https://tbi.example/apply/" + input.OrderReference}, nil
}

func (l *fakeLoans) DecryptStatus(string) (*provider.TBIStatus, error) {
	if l.decryptErr != nil {
		return nil, l.decryptErr
	}
	return l.status, nil
}

type fakeStripeParser struct {
	event *provider.PaymentIntentEvent
	err   error
}

func (p *fakeStripeParser) ParsePaymentIntentEvent([]byte, string) (*provider.PaymentIntentEvent, error) {
	return p.event, p.err
}

type fakeCalendly struct {
	err error
}

func (c *fakeCalendly) ParseEvent([]byte, string) (*provider.CalendlyEvent, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &provider.CalendlyEvent{Event: "invitee.created"}, nil
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, lock.ErrNotAcquired
}

func testLinksConfig() config.LinksConfig {
	return config.LinksConfig{
		CheckoutBaseURL:        "https://pay.example/checkout/",
		TTL:                    72 * time.Hour,
		FirstPaymentOffsetDays: 30,
		BillingPeriodMonths:    1,
		UpdatePaymentTokenTTL:  24 * time.Hour,
		UpdatePaymentBaseURL:   "https://pay.example/update-card",
	}
}

func testSettings() *settings.Catalog {
	return settings.NewCatalog(
		settings.PaymentSetting{Code: "eu", Currency: "EUR", TvaRate: mustDecimal("19")},
		settings.PaymentSetting{Code: "ro", Currency: "RON", TvaRate: mustDecimal("19"), EURExchangeRate: mustDecimal("5"), MinimumDepositAmount: mustDecimal("50")},
	)
}

// harness wires every service over one memory store with a fixed clock.
type harness struct {
	store       *memoryStore
	gateway     *fakeGateway
	loans       *fakeLoans
	links       *PaymentLinkService
	fulfillment *FulfillmentService
	charger     *SubscriptionCharger
	scheduler   *SchedulerService
	subs        *SubscriptionService
	webhooks    *WebhookService
	stripe      *fakeStripeParser
}

func newHarness() *harness {
	store := newMemoryStore()
	store.products[1] = entity.Product{ID: 1, Name: "Coaching", Price: mustDecimal("1000.00"), Currency: "EUR", MembershipDurationMonths: 12}
	store.products[2] = entity.Product{ID: 2, Name: "Mentoring", Price: mustDecimal("100.00"), Currency: "EUR", MembershipDurationMonths: 6}
	store.extensions[5] = entity.Extension{ID: 5, ProductID: 1, Name: "Extra months", Price: mustDecimal("300.00"), Currency: "EUR", ExtensionMonths: 3}
	store.tiers[7] = entity.InstallmentTier{ID: 7, Scope: entity.ScopeProduct, TargetID: 2, PricePerInstallment: mustDecimal("100.00"), InstallmentsCount: 6}
	store.tiers[8] = entity.InstallmentTier{ID: 8, Scope: entity.ScopeExtension, TargetID: 5, PricePerInstallment: mustDecimal("100.00"), InstallmentsCount: 3}

	gateway := newFakeGateway()
	loans := &fakeLoans{}
	stripeParser := &fakeStripeParser{}
	cfg := testLinksConfig()

	fulfillment := NewFulfillmentService(store, cfg)
	fulfillment.now = fixedClock
	charger := NewSubscriptionCharger(store, gateway, cfg.BillingPeriodMonths)
	charger.now = fixedClock
	links := NewPaymentLinkService(store, gateway, loans, testSettings(), fulfillment, cfg)
	links.now = fixedClock
	scheduler := NewSchedulerService(store, gateway, charger, nil, config.JobsConfig{BatchSize: 50, Concurrency: 3})
	scheduler.now = fixedClock
	subs := NewSubscriptionService(store, gateway, charger, cfg)
	subs.now = fixedClock
	webhooks := NewWebhookService(store, stripeParser, loans, &fakeCalendly{}, fulfillment, charger)
	webhooks.now = fixedClock

	return &harness{
		store:       store,
		gateway:     gateway,
		loans:       loans,
		links:       links,
		fulfillment: fulfillment,
		charger:     charger,
		scheduler:   scheduler,
		subs:        subs,
		webhooks:    webhooks,
		stripe:      stripeParser,
	}
}

func isKind(err, kind error) bool {
	return err != nil && errors.Is(err, kind)
}
