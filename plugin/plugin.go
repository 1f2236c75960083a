// Package plugin provides an extensible plugin system for Treasury.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, core interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Transaction lifecycle hooks
// ──────────────────────────────────────────────────

// OnTransactionCreated is called when a new transaction is created.
type OnTransactionCreated interface {
	Plugin
	OnTransactionCreated(ctx context.Context, txn interface{}) error
}

// OnTransactionStatusChanged is called when a transaction transitions status.
type OnTransactionStatusChanged interface {
	Plugin
	OnTransactionStatusChanged(ctx context.Context, txn interface{}, from, to string) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called when a webhook payload arrives, before
// signature verification.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, providerName string, payload []byte) error
}

// OnWebhookApplied is called after a webhook event changed ledger state.
type OnWebhookApplied interface {
	Plugin
	OnWebhookApplied(ctx context.Context, eventType string, txn interface{}) error
}

// ──────────────────────────────────────────────────
// Refund hooks
// ──────────────────────────────────────────────────

// OnRefundAttempt is called before each refund attempt. runID correlates
// all signals of one worker pass; it is empty outside a pass.
type OnRefundAttempt interface {
	Plugin
	OnRefundAttempt(ctx context.Context, runID string, txn interface{}, attempt int) error
}

// OnRefundSucceeded is called when a refund completes.
type OnRefundSucceeded interface {
	Plugin
	OnRefundSucceeded(ctx context.Context, runID string, txn interface{}) error
}

// OnRefundFailed is called when a refund is abandoned permanently.
type OnRefundFailed interface {
	Plugin
	OnRefundFailed(ctx context.Context, runID string, txn interface{}, reason string) error
}

// OnRefundPassCompleted is called after a worker pass drains its claimed
// batch, with the number of transactions still awaiting refund.
type OnRefundPassCompleted interface {
	Plugin
	OnRefundPassCompleted(ctx context.Context, runID string, claimed, remaining int) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementProcessed is called when a settlement transfer completes,
// with the time the provider transfer took.
type OnSettlementProcessed interface {
	Plugin
	OnSettlementProcessed(ctx context.Context, result interface{}, elapsed time.Duration) error
}

// OnSettlementFailed is called when a settlement transfer is rejected by
// the provider. The reason carries the raw provider detail; it never
// reaches API callers.
type OnSettlementFailed interface {
	Plugin
	OnSettlementFailed(ctx context.Context, transactionID string, elapsed time.Duration, reason string) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnEntriesRecorded is called when a balanced entry batch is persisted.
type OnEntriesRecorded interface {
	Plugin
	OnEntriesRecorded(ctx context.Context, entries []interface{}) error
}

// OnWalletDrift is called when reconciliation detects the cached balance
// diverging from the entry sum.
type OnWalletDrift interface {
	Plugin
	OnWalletDrift(ctx context.Context, walletID string, drift int64) error
}

// ──────────────────────────────────────────────────
// Event log hooks
// ──────────────────────────────────────────────────

// OnEventsIngested is called when economic events are appended to the log.
type OnEventsIngested interface {
	Plugin
	OnEventsIngested(ctx context.Context, inserted, duplicates int) error
}
