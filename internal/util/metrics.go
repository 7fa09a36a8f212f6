package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"source"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	CheckoutFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failed_total",
		Help: "Total number of rejected or failed checkouts",
	}, []string{"source", "reason"})

	CheckoutLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout and activation transactions",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	DraftMutationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "draft_mutations_rejected_total",
		Help: "Total number of draft mutations rejected",
	}, []string{"reason"})

	OrderNumberConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_number_conflicts_total",
		Help: "Total number of order number collisions that triggered a retry",
	})

	StockAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_adjustments_total",
		Help: "Total number of stock adjustments",
	}, []string{"reason"})

	RenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plan_renewals_total",
		Help: "Total number of plan renewal attempts",
	}, []string{"outcome"})

	RenewalBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plan_renewal_batch_duration_seconds",
		Help:    "Duration of a renewal batch run",
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
