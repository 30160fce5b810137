package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/entity"
	"github.com/vibast-solutions/ms-go-billing/app/factory"
	"github.com/vibast-solutions/ms-go-billing/app/lock"
	"github.com/vibast-solutions/ms-go-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
	"github.com/vibast-solutions/ms-go-billing/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	JobCancelExpiredPayments         = "cancel-expired-payments"
	JobChargeDeferredPayments        = "charge-deferred-payments"
	JobProcessScheduledCancellations = "process-scheduled-cancellations"

	defaultBatchSize   = int32(100)
	defaultConcurrency = 4
)

type JobError struct {
	ID    uint64
	Error string
}

// JobResult summarizes one scheduler run. Item failures never abort the run.
type JobResult struct {
	ProcessedCount int
	SuccessCount   int
	Errors         []JobError
	Duration       time.Duration
}

type SchedulerService struct {
	store   Store
	gateway PaymentGateway
	charger *SubscriptionCharger
	locker  lock.Locker
	limiter *rate.Limiter
	cfg     config.JobsConfig
	logger  logrus.FieldLogger
	now     func() time.Time
}

func NewSchedulerService(store Store, gateway PaymentGateway, charger *SubscriptionCharger, locker lock.Locker, cfg config.JobsConfig) *SchedulerService {
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	limit := rate.Inf
	if cfg.GatewayRatePerSecond > 0 {
		limit = rate.Limit(cfg.GatewayRatePerSecond)
	}

	return &SchedulerService{
		store:   store,
		gateway: gateway,
		charger: charger,
		locker:  locker,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  factory.NewModuleLogger("scheduler-service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a job by name.
func (s *SchedulerService) Run(ctx context.Context, job string) (*JobResult, error) {
	switch job {
	case JobCancelExpiredPayments:
		return s.CancelExpiredPayments(ctx)
	case JobChargeDeferredPayments:
		return s.ChargeDeferredPayments(ctx)
	case JobProcessScheduledCancellations:
		return s.ProcessScheduledCancellations(ctx)
	default:
		return nil, notFoundError("job %q", job)
	}
}

// CancelExpiredPayments cancels open links past their expiry together with
// their gateway intent and pending orders.
func (s *SchedulerService) CancelExpiredPayments(ctx context.Context) (*JobResult, error) {
	return s.withLock(ctx, JobCancelExpiredPayments, func(ctx context.Context) (*JobResult, error) {
		links, err := s.store.Repos().PaymentLinks.ListExpiredOpen(ctx, s.now(), s.batchSize())
		if err != nil {
			return nil, err
		}
		return runBatch(ctx, s.concurrency(), links, func(link *entity.PaymentLink) uint64 { return link.ID }, s.cancelExpiredLink), nil
	})
}

func (s *SchedulerService) cancelExpiredLink(ctx context.Context, link *entity.PaymentLink) error {
	if link.StripePaymentIntentID != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.gateway.CancelPaymentIntent(ctx, *link.StripePaymentIntentID); err != nil {
			return gatewayError("cancel payment intent", err)
		}
	}

	now := s.now()
	return s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		moved, err := repos.PaymentLinks.TransitionStatus(ctx, link.ID, []entity.PaymentLinkStatus{
			entity.PaymentLinkStatusCreated,
			entity.PaymentLinkStatusProcessing,
		}, entity.PaymentLinkStatusCanceled, now)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		_, err = repos.Orders.CancelPendingByPaymentLink(ctx, link.ID, now)
		return err
	})
}

// ChargeDeferredPayments charges every active subscription whose next payment
// is due. Declines put the subscription on hold and count as item errors.
func (s *SchedulerService) ChargeDeferredPayments(ctx context.Context) (*JobResult, error) {
	return s.withLock(ctx, JobChargeDeferredPayments, func(ctx context.Context) (*JobResult, error) {
		subscriptions, err := s.store.Repos().Subscriptions.ListDueForCharge(ctx, s.now(), s.batchSize())
		if err != nil {
			return nil, err
		}
		return runBatch(ctx, s.concurrency(), subscriptions, func(sub *entity.Subscription) uint64 { return sub.ID }, s.chargeDueSubscription), nil
	})
}

func (s *SchedulerService) chargeDueSubscription(ctx context.Context, listed *entity.Subscription) error {
	subscription, err := s.store.Repos().Subscriptions.FindByID(ctx, listed.ID)
	if err != nil {
		return err
	}
	if subscription == nil || !chargeDue(subscription, s.now()) {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.charger.Charge(ctx, subscription)
}

// chargeDue reports whether the scheduler may charge the subscription now. A
// graceful cancellation on or before the next payment date stops charging.
func chargeDue(subscription *entity.Subscription, now time.Time) bool {
	if subscription.Status != entity.SubscriptionStatusActive || subscription.RemainingPayments <= 0 {
		return false
	}
	if subscription.NextPaymentDate == nil || subscription.NextPaymentDate.After(now) {
		return false
	}
	if subscription.ScheduledCancellationDate != nil && !subscription.ScheduledCancellationDate.After(*subscription.NextPaymentDate) {
		return false
	}
	return true
}

// ProcessScheduledCancellations cancels subscriptions whose graceful
// cancellation date has been reached, along with their membership.
func (s *SchedulerService) ProcessScheduledCancellations(ctx context.Context) (*JobResult, error) {
	return s.withLock(ctx, JobProcessScheduledCancellations, func(ctx context.Context) (*JobResult, error) {
		subscriptions, err := s.store.Repos().Subscriptions.ListDueCancellation(ctx, s.now(), s.batchSize())
		if err != nil {
			return nil, err
		}
		return runBatch(ctx, s.concurrency(), subscriptions, func(sub *entity.Subscription) uint64 { return sub.ID }, s.processScheduledCancellation), nil
	})
}

func (s *SchedulerService) processScheduledCancellation(ctx context.Context, listed *entity.Subscription) error {
	now := s.now()
	return s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		subscription, err := repos.Subscriptions.FindByID(ctx, listed.ID)
		if err != nil {
			return err
		}
		if subscription == nil || subscription.Status.Terminal() {
			return nil
		}
		if subscription.ScheduledCancellationDate == nil || subscription.ScheduledCancellationDate.After(now) {
			return nil
		}
		return cancelSubscription(ctx, repos, subscription, now)
	})
}

// cancelSubscription closes the subscription and its membership. It must run
// inside a transaction.
func cancelSubscription(ctx context.Context, repos Repositories, subscription *entity.Subscription, now time.Time) error {
	subscription.Status = entity.SubscriptionStatusCancelled
	subscription.ScheduledCancellationDate = nil
	subscription.NextPaymentDate = nil
	subscription.PaymentFailureCount = 0
	subscription.LastPaymentFailureReason = nil
	subscription.UpdatePaymentTokenHash = nil
	subscription.UpdatePaymentTokenExpiresAt = nil
	subscription.UpdatedAt = now
	if err := repos.Subscriptions.Update(ctx, subscription); err != nil {
		if errors.Is(err, repository.ErrStaleSubscription) {
			return conflictError("subscription %d changed concurrently", subscription.ID)
		}
		return err
	}

	membership, err := repos.Memberships.FindByIDForUpdate(ctx, subscription.MembershipID)
	if err != nil {
		return err
	}
	if membership == nil || membership.Status == entity.MembershipStatusCancelled {
		return nil
	}
	membership.Status = entity.MembershipStatusCancelled
	membership.UpdatedAt = now
	return repos.Memberships.Update(ctx, membership)
}

func (s *SchedulerService) withLock(ctx context.Context, job string, fn func(ctx context.Context) (*JobResult, error)) (*JobResult, error) {
	release, err := s.locker.Acquire(ctx, job, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, conflictError("job %s is already running", job)
		}
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.WithError(err).WithField("job", job).Warn("Failed to release job lock")
		}
	}()

	started := time.Now()
	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(started)
	metrics.ObserveJob(job, result.ProcessedCount, result.SuccessCount, result.Duration)

	s.logger.WithFields(logrus.Fields{
		"job":       job,
		"processed": result.ProcessedCount,
		"succeeded": result.SuccessCount,
		"failed":    len(result.Errors),
		"latency":   result.Duration.String(),
	}).Info("Job run finished")
	return result, nil
}

func (s *SchedulerService) batchSize() int32 {
	if s.cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return s.cfg.BatchSize
}

func (s *SchedulerService) concurrency() int {
	if s.cfg.Concurrency <= 0 {
		return defaultConcurrency
	}
	return s.cfg.Concurrency
}

// runBatch processes items in parallel and collects per-item errors. Panics in
// one item are converted into that item's error.
func runBatch[T any](ctx context.Context, concurrency int, items []T, itemID func(T) uint64, process func(context.Context, T) error) *JobResult {
	result := &JobResult{Errors: []JobError{}}
	var mu sync.Mutex

	var group errgroup.Group
	group.SetLimit(concurrency)
	for _, item := range items {
		group.Go(func() error {
			err := processSafely(ctx, item, process)

			mu.Lock()
			defer mu.Unlock()
			result.ProcessedCount++
			if err != nil {
				result.Errors = append(result.Errors, JobError{ID: itemID(item), Error: err.Error()})
				return nil
			}
			result.SuccessCount++
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].ID < result.Errors[j].ID })
	return result
}

func processSafely[T any](ctx context.Context, item T, process func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return process(ctx, item)
}
