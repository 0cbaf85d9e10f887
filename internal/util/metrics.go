package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CartMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Total number of cart mutations",
	}, []string{"action"})

	CheckoutsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_started_total",
		Help: "Total number of checkouts started",
	}, []string{"flow"})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders completed and fulfilled",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	OrdersRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_refunded_total",
		Help: "Total number of orders refunded by staff",
	})

	OversellRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oversell_rejections_total",
		Help: "Orders rejected at completion because a course filled up",
	})

	GiftCardsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gift_cards_issued_total",
		Help: "Total number of gift cards issued",
	})

	InstallmentsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "installments_processed_total",
		Help: "Installments processed by the daily sweep",
	}, []string{"outcome"})

	InstallmentsOverdueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "installments_overdue_total",
		Help: "Installments that exhausted automated retries",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events received",
	}, []string{"type", "outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "installment_sweep_duration_seconds",
		Help:    "Duration of the daily installment sweep",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
