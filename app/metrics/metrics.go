// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_job_items_total",
			Help: "Items processed by scheduler jobs by outcome.",
		},
		[]string{"job", "result"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_job_duration_seconds",
			Help:    "Scheduler job run duration.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"job"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Inbound webhook deliveries by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	paymentLinksCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_payment_links_created_total",
			Help: "Payment links created by type and scope.",
		},
		[]string{"type", "scope"},
	)
)

// MustRegister registers every collector with the default registry exactly once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(jobItemsTotal, jobDuration, webhookEventsTotal, paymentLinksCreatedTotal)
	})
}

func ObserveJob(job string, processed, succeeded int, took time.Duration) {
	jobItemsTotal.WithLabelValues(job, "success").Add(float64(succeeded))
	if failed := processed - succeeded; failed > 0 {
		jobItemsTotal.WithLabelValues(job, "error").Add(float64(failed))
	}
	jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func IncWebhookEvent(provider, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

func IncPaymentLinkCreated(linkType, scope string) {
	paymentLinksCreatedTotal.WithLabelValues(linkType, scope).Inc()
}
