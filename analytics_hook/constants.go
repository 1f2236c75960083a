package analyticshook

// Action constants for analytics events.
const (
	// Transaction actions
	ActionTransactionCreated = "transaction.created"
	ActionStatusChanged      = "transaction.status_changed"

	// Webhook actions
	ActionWebhookReceived = "webhook.received"
	ActionWebhookApplied  = "webhook.applied"

	// Refund actions
	ActionRefundAttempt   = "refund.attempt"
	ActionRefundSucceeded = "refund.succeeded"
	ActionRefundFailed    = "refund.failed"

	// Settlement actions
	ActionSettlementProcessed = "settlement.processed"
	ActionSettlementFailed    = "settlement.failed"

	// Ledger actions
	ActionEntriesRecorded = "entries.recorded"
	ActionWalletDrift     = "wallet.drift"

	// Event log actions
	ActionEventsIngested = "events.ingested"
)

// Resource constants for analytics events.
const (
	ResourceTransaction = "transaction"
	ResourceWebhook     = "webhook"
	ResourceRefund      = "refund"
	ResourceSettlement  = "settlement"
	ResourceWallet      = "wallet"
	ResourceEventLog    = "event_log"
)

// Category constants for analytics events.
const (
	CategoryPayment     = "payment"
	CategoryLedger      = "ledger"
	CategoryIntegration = "integration"
)

// Severity levels for analytics events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for analytics events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
