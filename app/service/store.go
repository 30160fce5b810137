package service

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
)

type PaymentLinkRepository interface {
	Create(ctx context.Context, link *entity.PaymentLink) error
	FindByID(ctx context.Context, id uint64) (*entity.PaymentLink, error)
	FindByPublicID(ctx context.Context, publicID string) (*entity.PaymentLink, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*entity.PaymentLink, error)
	TransitionStatus(ctx context.Context, id uint64, from []entity.PaymentLinkStatus, to entity.PaymentLinkStatus, now time.Time) (bool, error)
	ListExpiredOpen(ctx context.Context, now time.Time, limit int32) ([]*entity.PaymentLink, error)
}

type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	Update(ctx context.Context, order *entity.Order) error
	CompletePending(ctx context.Context, order *entity.Order) (bool, error)
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByEventKey(ctx context.Context, eventKey string) (*entity.Order, error)
	CancelPendingByPaymentLink(ctx context.Context, paymentLinkID uint64, now time.Time) (int64, error)
}

type MembershipRepository interface {
	Create(ctx context.Context, membership *entity.Membership) error
	Update(ctx context.Context, membership *entity.Membership) error
	FindByID(ctx context.Context, id uint64) (*entity.Membership, error)
	FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Membership, error)
}

type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *entity.Subscription) error
	Update(ctx context.Context, subscription *entity.Subscription) error
	FindByID(ctx context.Context, id uint64) (*entity.Subscription, error)
	FindLiveByMembership(ctx context.Context, membershipID uint64, scope entity.Scope) (*entity.Subscription, error)
	FindLiveByMembershipForUpdate(ctx context.Context, membershipID uint64, scope entity.Scope) (*entity.Subscription, error)
	ListDueForCharge(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error)
	ListDueCancellation(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error)
}

type CatalogRepository interface {
	FindProductByID(ctx context.Context, id uint64) (*entity.Product, error)
	FindExtensionByID(ctx context.Context, id uint64) (*entity.Extension, error)
	FindInstallmentTier(ctx context.Context, id uint64, scope entity.Scope, targetID uint64) (*entity.InstallmentTier, error)
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	PaymentLinks  PaymentLinkRepository
	Orders        OrderRepository
	Memberships   MembershipRepository
	Subscriptions SubscriptionRepository
	Catalog       CatalogRepository
}

// Store exposes repositories outside of a transaction and runs transactional
// units of work.
type Store interface {
	Repos() Repositories
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type sqlStore struct {
	repos Repositories
	tx    *repository.TxManager
}

func NewSQLStore(db repository.DBTX, tx *repository.TxManager) Store {
	return &sqlStore{repos: newSQLRepositories(db), tx: tx}
}

func (s *sqlStore) Repos() Repositories {
	return s.repos
}

func (s *sqlStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return s.tx.WithTx(ctx, func(ctx context.Context, db repository.DBTX) error {
		return fn(ctx, newSQLRepositories(db))
	})
}

func newSQLRepositories(db repository.DBTX) Repositories {
	return Repositories{
		PaymentLinks:  repository.NewPaymentLinkRepository(db),
		Orders:        repository.NewOrderRepository(db),
		Memberships:   repository.NewMembershipRepository(db),
		Subscriptions: repository.NewSubscriptionRepository(db),
		Catalog:       repository.NewCatalogRepository(db),
	}
}
