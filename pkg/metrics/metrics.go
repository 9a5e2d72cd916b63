package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerCredits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_ledger_credits_total",
		Help: "Ledger credit attempts by transaction type and result.",
	}, []string{"type", "result"})

	CaptureVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_capture_verifications_total",
		Help: "Client capture verifications by outcome.",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhook_events_total",
		Help: "Provider webhook deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})

	ManualOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_manual_orders_total",
		Help: "Manual order actions by result.",
	}, []string{"action", "result"})

	PayoutItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payout_items_total",
		Help: "Payout requests handled by the dispatcher by outcome.",
	}, []string{"outcome"})

	PayoutRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_payout_run_duration_seconds",
		Help:    "Wall time of a dispatcher run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	TaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_task_failures_total",
		Help: "Background task attempts that returned an error, by task type.",
	}, []string{"task_type"})

	StuckPayouts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settlement_payout_stuck_processing",
		Help: "Requests found in processing longer than the stuck threshold on the last reconcile pass.",
	})
)
