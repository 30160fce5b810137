package cmd

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-billing/app/lock"
	"github.com/vibast-solutions/ms-go-billing/app/provider"
	"github.com/vibast-solutions/ms-go-billing/app/repository"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/app/settings"
	"github.com/vibast-solutions/ms-go-billing/config"
)

const jobLockPrefix = "billing:job-lock:"

type services struct {
	links         *service.PaymentLinkService
	subscriptions *service.SubscriptionService
	webhooks      *service.WebhookService
	scheduler     *service.SchedulerService
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}
	return cfg
}

func mustOpenDB(cfg *config.Config) *sql.DB {
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}
	return db
}

func mustCreateServices() (*config.Config, *services, func()) {
	cfg := mustLoadConfig()
	db := mustOpenDB(cfg)

	catalog, err := settings.LoadFile(cfg.App.PaymentSettingsFile)
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).WithField("path", cfg.App.PaymentSettingsFile).Fatal("Failed to load payment settings")
	}

	stripeProvider := provider.NewStripeProvider(provider.StripeConfig{
		SecretKey:                 cfg.Stripe.SecretKey,
		WebhookSecret:             cfg.Stripe.WebhookSecret,
		SignatureToleranceSeconds: cfg.Stripe.SignatureToleranceSeconds,
	})
	tbiProvider, err := provider.NewTBIProvider(provider.TBIConfig{
		APIURL:        cfg.TBI.APIURL,
		StoreID:       cfg.TBI.StoreID,
		Username:      cfg.TBI.Username,
		Password:      cfg.TBI.Password,
		PrivateKeyPEM: cfg.TBI.PrivateKeyPEM,
		HTTPTimeout:   cfg.TBI.HTTPTimeout,
	})
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to initialize TBI provider")
	}
	calendlyProvider := provider.NewCalendlyProvider(cfg.Calendly.SigningKey)

	locker, closeLocker := mustCreateLocker(cfg)

	store := service.NewSQLStore(db, repository.NewTxManager(db))
	fulfillment := service.NewFulfillmentService(store, cfg.Links)
	charger := service.NewSubscriptionCharger(store, stripeProvider, cfg.Links.BillingPeriodMonths)

	svc := &services{
		links:         service.NewPaymentLinkService(store, stripeProvider, tbiProvider, catalog, fulfillment, cfg.Links),
		subscriptions: service.NewSubscriptionService(store, stripeProvider, charger, cfg.Links),
		webhooks:      service.NewWebhookService(store, stripeProvider, tbiProvider, calendlyProvider, fulfillment, charger),
		scheduler:     service.NewSchedulerService(store, stripeProvider, charger, locker, cfg.Jobs),
	}

	cleanup := func() {
		closeLocker()
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, svc, cleanup
}

// mustCreateLocker returns a Redis backed job lock when REDIS_ADDR is set.
// Without Redis, overlapping job runs are not prevented.
func mustCreateLocker(cfg *config.Config) (lock.Locker, func()) {
	if cfg.Redis.Addr == "" {
		logrus.Warn("REDIS_ADDR is empty, job locking disabled")
		return lock.NoopLocker{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logrus.WithError(err).Fatal("Failed to ping redis")
	}

	return lock.NewRedisLocker(client, jobLockPrefix), func() {
		if err := client.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis")
		}
	}
}
