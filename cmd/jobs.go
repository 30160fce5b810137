package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-billing/app/service"
	"github.com/vibast-solutions/ms-go-billing/config"
)

var (
	workerMode bool
)

var cancelExpiredPaymentsCmd = &cobra.Command{
	Use:   service.JobCancelExpiredPayments,
	Short: "Cancel payment links that expired without being paid",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			service.JobCancelExpiredPayments,
			func(cfg *config.Config) time.Duration { return cfg.Jobs.CancelExpiredInterval },
		)
	},
}

var chargeDeferredPaymentsCmd = &cobra.Command{
	Use:   service.JobChargeDeferredPayments,
	Short: "Charge subscriptions whose next payment is due",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			service.JobChargeDeferredPayments,
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ChargeDeferredInterval },
		)
	},
}

var processScheduledCancellationsCmd = &cobra.Command{
	Use:   service.JobProcessScheduledCancellations,
	Short: "Cancel subscriptions whose scheduled cancellation date has passed",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			service.JobProcessScheduledCancellations,
			func(cfg *config.Config) time.Duration { return cfg.Jobs.ScheduledCancellationsInterval },
		)
	},
}

func init() {
	rootCmd.AddCommand(cancelExpiredPaymentsCmd)
	rootCmd.AddCommand(chargeDeferredPaymentsCmd)
	rootCmd.AddCommand(processScheduledCancellationsCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(name string, intervalResolver func(cfg *config.Config) time.Duration) {
	cfg, svc, cleanup := mustCreateServices()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), svc.scheduler)
		return
	}

	runJob(context.Background(), name, svc.scheduler)
}

func runWorker(name string, interval time.Duration, scheduler *service.SchedulerService) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(ctx, name, scheduler)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(ctx, name, scheduler)
		}
	}
}

func runJob(ctx context.Context, name string, scheduler *service.SchedulerService) {
	start := time.Now()
	result, err := scheduler.Run(ctx, name)
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"job":       name,
		"latency":   latency.String(),
		"processed": result.ProcessedCount,
		"succeeded": result.SuccessCount,
		"failed":    len(result.Errors),
	}).Info("job_completed")
}
