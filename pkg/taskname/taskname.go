package taskname

const (
	// Payout tasks
	PayoutDispatchRun  = "payout:dispatch:run"
	PayoutReconcileRun = "payout:reconcile:flag"

	// Webhook tasks
	WebhookPayPalProcess = "webhook:paypal:process"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
