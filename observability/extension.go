// Package observability provides a metrics extension for Treasury that
// records lifecycle event counts through a pluggable MetricFactory, plus a
// Prometheus-backed factory implementation.
package observability

import (
	"context"
	"time"

	"github.com/xraph/treasury/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnInit                     = (*MetricsExtension)(nil)
	_ plugin.OnTransactionCreated       = (*MetricsExtension)(nil)
	_ plugin.OnTransactionStatusChanged = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived          = (*MetricsExtension)(nil)
	_ plugin.OnWebhookApplied           = (*MetricsExtension)(nil)
	_ plugin.OnRefundAttempt            = (*MetricsExtension)(nil)
	_ plugin.OnRefundSucceeded          = (*MetricsExtension)(nil)
	_ plugin.OnRefundFailed             = (*MetricsExtension)(nil)
	_ plugin.OnRefundPassCompleted      = (*MetricsExtension)(nil)
	_ plugin.OnSettlementProcessed      = (*MetricsExtension)(nil)
	_ plugin.OnSettlementFailed         = (*MetricsExtension)(nil)
	_ plugin.OnEntriesRecorded          = (*MetricsExtension)(nil)
	_ plugin.OnWalletDrift              = (*MetricsExtension)(nil)
	_ plugin.OnEventsIngested           = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// Gauge interface for metric gauges.
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Treasury plugin to automatically track settlement metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Transaction metrics
	TransactionCreated Counter
	StatusTransitions  Counter

	// Webhook metrics
	WebhookReceived Counter
	WebhookApplied  Counter

	// Refund metrics
	RefundAttempts         Counter
	RefundSucceeded        Counter
	RefundFailed           Counter
	RefundPendingRemaining Gauge

	// Settlement metrics
	SettlementProcessed Counter
	SettlementFailed    Counter
	SettlementDuration  Histogram

	// Ledger metrics
	EntriesRecorded Counter
	EntryBatchSize  Histogram
	WalletDrift     Counter

	// Event log metrics
	EventsIngested  Counter
	EventDuplicates Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Transaction metrics
		TransactionCreated: factory.Counter("treasury.transaction.created"),
		StatusTransitions:  factory.Counter("treasury.transaction.transitions"),

		// Webhook metrics
		WebhookReceived: factory.Counter("treasury.webhook.received"),
		WebhookApplied:  factory.Counter("treasury.webhook.applied"),

		// Refund metrics
		RefundAttempts:         factory.Counter("treasury.refund.attempts"),
		RefundSucceeded:        factory.Counter("treasury.refund.succeeded"),
		RefundFailed:           factory.Counter("treasury.refund.failed"),
		RefundPendingRemaining: factory.Gauge("treasury.refund.pending.remaining"),

		// Settlement metrics
		SettlementProcessed: factory.Counter("treasury.settlement.processed"),
		SettlementFailed:    factory.Counter("treasury.settlement.failed"),
		SettlementDuration:  factory.Histogram("treasury.settlement.duration.seconds"),

		// Ledger metrics
		EntriesRecorded: factory.Counter("treasury.entries.recorded"),
		EntryBatchSize:  factory.Histogram("treasury.entries.batch.size"),
		WalletDrift:     factory.Counter("treasury.wallet.drift"),

		// Event log metrics
		EventsIngested:  factory.Counter("treasury.events.ingested"),
		EventDuplicates: factory.Counter("treasury.events.duplicates"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// OnTransactionCreated implements plugin.OnTransactionCreated.
func (m *MetricsExtension) OnTransactionCreated(_ context.Context, _ interface{}) error {
	m.TransactionCreated.Inc()
	return nil
}

// OnTransactionStatusChanged implements plugin.OnTransactionStatusChanged.
func (m *MetricsExtension) OnTransactionStatusChanged(_ context.Context, _ interface{}, _, _ string) error {
	m.StatusTransitions.Inc()
	return nil
}

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ string, _ []byte) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookApplied implements plugin.OnWebhookApplied.
func (m *MetricsExtension) OnWebhookApplied(_ context.Context, _ string, _ interface{}) error {
	m.WebhookApplied.Inc()
	return nil
}

// OnRefundAttempt implements plugin.OnRefundAttempt.
func (m *MetricsExtension) OnRefundAttempt(_ context.Context, _ string, _ interface{}, _ int) error {
	m.RefundAttempts.Inc()
	return nil
}

// OnRefundSucceeded implements plugin.OnRefundSucceeded.
func (m *MetricsExtension) OnRefundSucceeded(_ context.Context, _ string, _ interface{}) error {
	m.RefundSucceeded.Inc()
	return nil
}

// OnRefundFailed implements plugin.OnRefundFailed.
func (m *MetricsExtension) OnRefundFailed(_ context.Context, _ string, _ interface{}, _ string) error {
	m.RefundFailed.Inc()
	return nil
}

// OnRefundPassCompleted implements plugin.OnRefundPassCompleted.
func (m *MetricsExtension) OnRefundPassCompleted(_ context.Context, _ string, _, remaining int) error {
	m.RefundPendingRemaining.Set(float64(remaining))
	return nil
}

// OnSettlementProcessed implements plugin.OnSettlementProcessed.
func (m *MetricsExtension) OnSettlementProcessed(_ context.Context, _ interface{}, elapsed time.Duration) error {
	m.SettlementProcessed.Inc()
	m.SettlementDuration.Observe(elapsed.Seconds())
	return nil
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (m *MetricsExtension) OnSettlementFailed(_ context.Context, _ string, elapsed time.Duration, _ string) error {
	m.SettlementFailed.Inc()
	m.SettlementDuration.Observe(elapsed.Seconds())
	return nil
}

// OnEntriesRecorded implements plugin.OnEntriesRecorded.
func (m *MetricsExtension) OnEntriesRecorded(_ context.Context, entries []interface{}) error {
	count := float64(len(entries))
	m.EntriesRecorded.Add(count)
	m.EntryBatchSize.Observe(count)
	return nil
}

// OnWalletDrift implements plugin.OnWalletDrift.
func (m *MetricsExtension) OnWalletDrift(_ context.Context, _ string, _ int64) error {
	m.WalletDrift.Inc()
	return nil
}

// OnEventsIngested implements plugin.OnEventsIngested.
func (m *MetricsExtension) OnEventsIngested(_ context.Context, inserted, duplicates int) error {
	m.EventsIngested.Add(float64(inserted))
	m.EventDuplicates.Add(float64(duplicates))
	return nil
}
