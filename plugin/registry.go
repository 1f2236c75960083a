package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onTransactionCreated       []OnTransactionCreated
	onTransactionStatusChanged []OnTransactionStatusChanged
	onWebhookReceived          []OnWebhookReceived
	onWebhookApplied           []OnWebhookApplied
	onRefundAttempt            []OnRefundAttempt
	onRefundSucceeded          []OnRefundSucceeded
	onRefundFailed             []OnRefundFailed
	onRefundPassCompleted      []OnRefundPassCompleted
	onSettlementProcessed      []OnSettlementProcessed
	onSettlementFailed         []OnSettlementFailed
	onEntriesRecorded          []OnEntriesRecorded
	onWalletDrift              []OnWalletDrift
	onEventsIngested           []OnEventsIngested
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionCreated); ok {
		r.onTransactionCreated = append(r.onTransactionCreated, v)
	}
	if v, ok := p.(OnTransactionStatusChanged); ok {
		r.onTransactionStatusChanged = append(r.onTransactionStatusChanged, v)
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
	}
	if v, ok := p.(OnWebhookApplied); ok {
		r.onWebhookApplied = append(r.onWebhookApplied, v)
	}
	if v, ok := p.(OnRefundAttempt); ok {
		r.onRefundAttempt = append(r.onRefundAttempt, v)
	}
	if v, ok := p.(OnRefundSucceeded); ok {
		r.onRefundSucceeded = append(r.onRefundSucceeded, v)
	}
	if v, ok := p.(OnRefundFailed); ok {
		r.onRefundFailed = append(r.onRefundFailed, v)
	}
	if v, ok := p.(OnRefundPassCompleted); ok {
		r.onRefundPassCompleted = append(r.onRefundPassCompleted, v)
	}
	if v, ok := p.(OnSettlementProcessed); ok {
		r.onSettlementProcessed = append(r.onSettlementProcessed, v)
	}
	if v, ok := p.(OnSettlementFailed); ok {
		r.onSettlementFailed = append(r.onSettlementFailed, v)
	}
	if v, ok := p.(OnEntriesRecorded); ok {
		r.onEntriesRecorded = append(r.onEntriesRecorded, v)
	}
	if v, ok := p.(OnWalletDrift); ok {
		r.onWalletDrift = append(r.onWalletDrift, v)
	}
	if v, ok := p.(OnEventsIngested); ok {
		r.onEventsIngested = append(r.onEventsIngested, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnTransactionCreated)(nil)).Elem(), "OnTransactionCreated")
	checkInterface(reflect.TypeOf((*OnTransactionStatusChanged)(nil)).Elem(), "OnTransactionStatusChanged")
	checkInterface(reflect.TypeOf((*OnWebhookReceived)(nil)).Elem(), "OnWebhookReceived")
	checkInterface(reflect.TypeOf((*OnWebhookApplied)(nil)).Elem(), "OnWebhookApplied")
	checkInterface(reflect.TypeOf((*OnRefundAttempt)(nil)).Elem(), "OnRefundAttempt")
	checkInterface(reflect.TypeOf((*OnRefundSucceeded)(nil)).Elem(), "OnRefundSucceeded")
	checkInterface(reflect.TypeOf((*OnRefundFailed)(nil)).Elem(), "OnRefundFailed")
	checkInterface(reflect.TypeOf((*OnRefundPassCompleted)(nil)).Elem(), "OnRefundPassCompleted")
	checkInterface(reflect.TypeOf((*OnSettlementProcessed)(nil)).Elem(), "OnSettlementProcessed")
	checkInterface(reflect.TypeOf((*OnSettlementFailed)(nil)).Elem(), "OnSettlementFailed")
	checkInterface(reflect.TypeOf((*OnEntriesRecorded)(nil)).Elem(), "OnEntriesRecorded")
	checkInterface(reflect.TypeOf((*OnWalletDrift)(nil)).Elem(), "OnWalletDrift")
	checkInterface(reflect.TypeOf((*OnEventsIngested)(nil)).Elem(), "OnEventsIngested")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, core interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, core)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionCreated emits a transaction created event.
func (r *Registry) EmitTransactionCreated(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTransactionCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionCreated(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTransactionStatusChanged emits a status transition event.
func (r *Registry) EmitTransactionStatusChanged(ctx context.Context, txn interface{}, from, to string) {
	r.mu.RLock()
	plugins := r.onTransactionStatusChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTransactionStatusChanged(ctx, txn, from, to)
		}); err != nil {
			r.logger.Warn("plugin OnTransactionStatusChanged failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitWebhookReceived emits a webhook received event.
func (r *Registry) EmitWebhookReceived(ctx context.Context, providerName string, payload []byte) {
	r.mu.RLock()
	plugins := r.onWebhookReceived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookReceived(ctx, providerName, payload)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookReceived failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitWebhookApplied emits a webhook applied event.
func (r *Registry) EmitWebhookApplied(ctx context.Context, eventType string, txn interface{}) {
	r.mu.RLock()
	plugins := r.onWebhookApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWebhookApplied(ctx, eventType, txn)
		}); err != nil {
			r.logger.Warn("plugin OnWebhookApplied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRefundAttempt emits a refund attempt event.
func (r *Registry) EmitRefundAttempt(ctx context.Context, runID string, txn interface{}, attempt int) {
	r.mu.RLock()
	plugins := r.onRefundAttempt
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRefundAttempt(ctx, runID, txn, attempt)
		}); err != nil {
			r.logger.Warn("plugin OnRefundAttempt failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRefundSucceeded emits a refund succeeded event.
func (r *Registry) EmitRefundSucceeded(ctx context.Context, runID string, txn interface{}) {
	r.mu.RLock()
	plugins := r.onRefundSucceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRefundSucceeded(ctx, runID, txn)
		}); err != nil {
			r.logger.Warn("plugin OnRefundSucceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRefundFailed emits a refund permanently failed event.
func (r *Registry) EmitRefundFailed(ctx context.Context, runID string, txn interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onRefundFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRefundFailed(ctx, runID, txn, reason)
		}); err != nil {
			r.logger.Warn("plugin OnRefundFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRefundPassCompleted emits a refund pass completion event.
func (r *Registry) EmitRefundPassCompleted(ctx context.Context, runID string, claimed, remaining int) {
	r.mu.RLock()
	plugins := r.onRefundPassCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRefundPassCompleted(ctx, runID, claimed, remaining)
		}); err != nil {
			r.logger.Warn("plugin OnRefundPassCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementProcessed emits a settlement processed event.
func (r *Registry) EmitSettlementProcessed(ctx context.Context, result interface{}, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onSettlementProcessed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementProcessed(ctx, result, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementProcessed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSettlementFailed emits a settlement failure event.
func (r *Registry) EmitSettlementFailed(ctx context.Context, transactionID string, elapsed time.Duration, reason string) {
	r.mu.RLock()
	plugins := r.onSettlementFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSettlementFailed(ctx, transactionID, elapsed, reason)
		}); err != nil {
			r.logger.Warn("plugin OnSettlementFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEntriesRecorded emits an entries recorded event.
func (r *Registry) EmitEntriesRecorded(ctx context.Context, entries []interface{}) {
	r.mu.RLock()
	plugins := r.onEntriesRecorded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEntriesRecorded(ctx, entries)
		}); err != nil {
			r.logger.Warn("plugin OnEntriesRecorded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitWalletDrift emits a wallet drift event.
func (r *Registry) EmitWalletDrift(ctx context.Context, walletID string, drift int64) {
	r.mu.RLock()
	plugins := r.onWalletDrift
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnWalletDrift(ctx, walletID, drift)
		}); err != nil {
			r.logger.Warn("plugin OnWalletDrift failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitEventsIngested emits an events ingested event.
func (r *Registry) EmitEventsIngested(ctx context.Context, inserted, duplicates int) {
	r.mu.RLock()
	plugins := r.onEventsIngested
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnEventsIngested(ctx, inserted, duplicates)
		}); err != nil {
			r.logger.Warn("plugin OnEventsIngested failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the settlement pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
