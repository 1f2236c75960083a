// Package analyticshook bridges Treasury lifecycle events to an analytics
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular analytics SDK. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package analyticshook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/treasury/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnTransactionCreated       = (*Extension)(nil)
	_ plugin.OnTransactionStatusChanged = (*Extension)(nil)
	_ plugin.OnWebhookApplied           = (*Extension)(nil)
	_ plugin.OnRefundSucceeded          = (*Extension)(nil)
	_ plugin.OnRefundFailed             = (*Extension)(nil)
	_ plugin.OnSettlementProcessed      = (*Extension)(nil)
	_ plugin.OnSettlementFailed         = (*Extension)(nil)
	_ plugin.OnWalletDrift              = (*Extension)(nil)
	_ plugin.OnEventsIngested           = (*Extension)(nil)
)

// Recorder is the interface that analytics backends must implement. It is
// defined locally so this package does not import any SDK — callers inject
// the concrete client at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AnalyticsEvent) error
}

// AnalyticsEvent is a local representation of an analytics event.
type AnalyticsEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AnalyticsEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AnalyticsEvent) error {
	return f(ctx, event)
}

// Extension bridges Treasury lifecycle events to an analytics backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits analytics events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "analytics-hook" }

// OnTransactionCreated implements plugin.OnTransactionCreated.
func (e *Extension) OnTransactionCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionTransactionCreated, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, "", CategoryPayment, nil,
		"event", "transaction_created",
	)
}

// OnTransactionStatusChanged implements plugin.OnTransactionStatusChanged.
func (e *Extension) OnTransactionStatusChanged(ctx context.Context, _ interface{}, from, to string) error {
	return e.record(ctx, ActionStatusChanged, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, "", CategoryPayment, nil,
		"from", from,
		"to", to,
	)
}

// OnWebhookApplied implements plugin.OnWebhookApplied.
func (e *Extension) OnWebhookApplied(ctx context.Context, eventType string, _ interface{}) error {
	return e.record(ctx, ActionWebhookApplied, SeverityInfo, OutcomeSuccess,
		ResourceWebhook, "", CategoryIntegration, nil,
		"event_type", eventType,
	)
}

// OnRefundSucceeded implements plugin.OnRefundSucceeded.
func (e *Extension) OnRefundSucceeded(ctx context.Context, runID string, _ interface{}) error {
	return e.record(ctx, ActionRefundSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceRefund, "", CategoryPayment, nil,
		"event", "refund_succeeded",
		"run_id", runID,
	)
}

// OnRefundFailed implements plugin.OnRefundFailed.
func (e *Extension) OnRefundFailed(ctx context.Context, runID string, _ interface{}, reason string) error {
	return e.record(ctx, ActionRefundFailed, SeverityCritical, OutcomeFailure,
		ResourceRefund, "", CategoryPayment, nil,
		"event", "refund_failed",
		"run_id", runID,
		"failure_reason", reason,
	)
}

// OnSettlementProcessed implements plugin.OnSettlementProcessed.
func (e *Extension) OnSettlementProcessed(ctx context.Context, _ interface{}, elapsed time.Duration) error {
	return e.record(ctx, ActionSettlementProcessed, SeverityInfo, OutcomeSuccess,
		ResourceSettlement, "", CategoryPayment, nil,
		"event", "settlement_processed",
		"duration_ms", elapsed.Milliseconds(),
	)
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (e *Extension) OnSettlementFailed(ctx context.Context, transactionID string, elapsed time.Duration, reason string) error {
	return e.record(ctx, ActionSettlementFailed, SeverityError, OutcomeFailure,
		ResourceSettlement, transactionID, CategoryPayment, nil,
		"event", "settlement_failed",
		"transaction_id", transactionID,
		"duration_ms", elapsed.Milliseconds(),
		"failure_reason", reason,
	)
}

// OnWalletDrift implements plugin.OnWalletDrift.
func (e *Extension) OnWalletDrift(ctx context.Context, walletID string, drift int64) error {
	return e.record(ctx, ActionWalletDrift, SeverityCritical, OutcomeFailure,
		ResourceWallet, walletID, CategoryLedger, nil,
		"wallet_id", walletID,
		"drift", drift,
	)
}

// OnEventsIngested implements plugin.OnEventsIngested.
func (e *Extension) OnEventsIngested(ctx context.Context, inserted, duplicates int) error {
	outcome := OutcomeSuccess
	if duplicates > 0 {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionEventsIngested, SeverityInfo, outcome,
		ResourceEventLog, "", CategoryLedger, nil,
		"inserted", inserted,
		"duplicates", duplicates,
	)
}

// record builds and sends an analytics event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AnalyticsEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("analytics_hook: failed to record event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
