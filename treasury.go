package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/plugin"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/store"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
	"github.com/xraph/treasury/wallet"
)

// Core is the settlement and ledger engine.
type Core struct {
	store    store.Store
	provider provider.Provider
	plugins  *plugin.Registry
	logger   *slog.Logger

	// System wallets, resolved during Start.
	clearingWallet id.WalletID
	feesWallet     id.WalletID

	// Background workers
	stopChan chan struct{}
	wg       sync.WaitGroup
	sleepFn  func(ctx context.Context, d time.Duration) bool // test seam

	mu      sync.Mutex
	started bool

	// Configuration
	environment     string
	currency        string
	platformFeeBps  int64
	refundInterval  time.Duration
	refundBackoff   []time.Duration
	refundBatchSize int
	refundClaimTTL  time.Duration
	destPrefix      string
}

// New creates a new Core instance. Without WithProvider the engine uses the
// noop provider, which accepts everything.
func New(s store.Store, opts ...Option) *Core {
	c := &Core{
		store:           s,
		provider:        provider.NewNoop(),
		plugins:         plugin.NewRegistry(),
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
		environment:     "development",
		currency:        "usd",
		platformFeeBps:  1000,
		refundInterval:  time.Minute,
		refundBackoff:   []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		refundBatchSize: 20,
		refundClaimTTL:  5 * time.Minute,
		destPrefix:      "acct_",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Option configures a Core instance.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) {
		c.logger = logger
		c.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(c *Core) {
		_ = c.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithProvider sets the payment provider.
func WithProvider(p provider.Provider) Option {
	return func(c *Core) {
		c.provider = p
	}
}

// WithEnvironment sets the deployment environment tag stamped onto
// ingested events.
func WithEnvironment(env string) Option {
	return func(c *Core) {
		c.environment = env
	}
}

// WithCurrency sets the ledger currency.
func WithCurrency(currency string) Option {
	return func(c *Core) {
		c.currency = strings.ToLower(currency)
	}
}

// WithPlatformFee sets the platform fee in basis points taken from each
// beneficiary payment.
func WithPlatformFee(bps int64) Option {
	return func(c *Core) {
		c.platformFeeBps = bps
	}
}

// WithRefundInterval sets how often the refund worker scans the backlog.
func WithRefundInterval(interval time.Duration) Option {
	return func(c *Core) {
		c.refundInterval = interval
	}
}

// WithRefundBackoff overrides the delays between refund attempts. The
// number of delays caps the attempt count at len(backoff).
func WithRefundBackoff(backoff []time.Duration) Option {
	return func(c *Core) {
		if len(backoff) > 0 {
			c.refundBackoff = backoff
		}
	}
}

// WithDestinationAccountPrefix sets the required prefix for settlement
// destination accounts.
func WithDestinationAccountPrefix(prefix string) Option {
	return func(c *Core) {
		c.destPrefix = prefix
	}
}

// Start migrates the store, resolves the system wallets and begins the
// refund worker.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.store.Migrate(ctx); err != nil {
		return err
	}

	if err := c.ensureSystemWallets(ctx); err != nil {
		return err
	}

	// Initialize plugins
	c.plugins.EmitInit(ctx, c)

	// Start refund worker
	c.wg.Add(1)
	go c.refundWorker(ctx)

	c.logger.Info("treasury started",
		"provider", c.provider.Name(),
		"environment", c.environment,
		"refund_interval", c.refundInterval,
	)

	return nil
}

// Stop shuts down the Core. A second Stop returns ErrNotStarted.
func (c *Core) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()

	ctx := context.Background()
	c.plugins.EmitShutdown(ctx)

	return c.store.Close()
}

// Ping checks store connectivity.
func (c *Core) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// ensureSystemWallets creates the clearing and fees wallets on first start.
// Every payment-processor batch balances against these: the clearing wallet
// mirrors money held at the processor, the fees wallet accumulates the
// platform cut.
func (c *Core) ensureSystemWallets(ctx context.Context) error {
	for _, owner := range []string{wallet.OwnerClearing, wallet.OwnerFees} {
		w, err := c.ensureWallet(ctx, owner, "")
		if err != nil {
			return fmt.Errorf("treasury: ensure system wallet %s: %w", owner, err)
		}
		switch owner {
		case wallet.OwnerClearing:
			c.clearingWallet = w.ID
		case wallet.OwnerFees:
			c.feesWallet = w.ID
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Checkout and Subscriptions
// ──────────────────────────────────────────────────

// CreateCheckout opens a checkout session with the provider and records a
// pending transaction for it.
func (c *Core) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutResult, *transaction.Transaction, error) {
	if req.UserID == "" {
		return nil, nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	res, err := c.provider.CreateCheckout(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	amount := types.Zero(c.currency)
	if req.Amount != nil {
		amount = *req.Amount
	}

	txn := &transaction.Transaction{
		Entity:           types.NewEntity(),
		ID:               id.NewTransactionID(),
		Type:             checkoutType(req),
		Status:           transaction.StatusPending,
		Amount:           amount,
		UserID:           req.UserID,
		AppID:            req.AppID,
		ProviderIntentID: res.IntentID,
		Metadata: transaction.Metadata{
			PayerID:        req.UserID,
			PlatformFeeBps: c.platformFeeBps,
		},
	}
	if err := c.store.CreateTransaction(ctx, txn); err != nil {
		return nil, nil, err
	}

	c.plugins.EmitTransactionCreated(ctx, txn)
	return res, txn, nil
}

func checkoutType(req provider.CheckoutRequest) transaction.Type {
	switch {
	case req.Scope == provider.ScopeApp && req.Mode == provider.ModeSubscription:
		return transaction.TypeAppSubscriptionContract
	case req.Scope == provider.ScopeApp:
		return transaction.TypeAppSubscriptionPayment
	case req.Mode == provider.ModeSubscription:
		return transaction.TypePlatformSubscriptionContract
	default:
		return transaction.TypePlatformSubscriptionPayment
	}
}

// GetSubscriptionStatus returns the normalized subscription state for a
// user. Outage behavior follows the provider's fail-open configuration.
func (c *Core) GetSubscriptionStatus(ctx context.Context, userID string, scope provider.Scope, appID string) (*provider.SubscriptionStatus, error) {
	return c.provider.GetSubscriptionStatus(ctx, userID, scope, appID)
}

// CancelSubscription cancels a subscription with the provider.
func (c *Core) CancelSubscription(ctx context.Context, userID string, scope provider.Scope, appID string) (*provider.CancelResult, error) {
	return c.provider.CancelSubscription(ctx, userID, scope, appID)
}

// ──────────────────────────────────────────────────
// Webhook Reconciliation
// ──────────────────────────────────────────────────

// HandleWebhook verifies and applies a provider webhook. An invalid
// signature returns the structured result with Valid false and no error;
// nothing has changed. Events that were already applied are skipped, so
// provider redeliveries are harmless.
func (c *Core) HandleWebhook(ctx context.Context, payload []byte, signature string) (*provider.WebhookResult, error) {
	c.plugins.EmitWebhookReceived(ctx, c.provider.Name(), payload)

	res, err := c.provider.ProcessWebhook(ctx, payload, signature)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		c.logger.Warn("webhook rejected", "reason", res.Reason)
		return res, nil
	}

	for i := range res.Events {
		if err := c.applyWebhookEvent(ctx, &res.Events[i]); err != nil {
			return res, err
		}
	}
	return res, nil
}

// applyWebhookEvent reconciles one provider event against the transaction
// log. Replays are detected by the status compare-and-set: a transition
// that already happened surfaces as ErrStatusConflict and is dropped.
func (c *Core) applyWebhookEvent(ctx context.Context, ev *provider.WebhookEvent) error {
	if ev.IntentID == "" {
		c.logger.Warn("webhook event without intent id", "type", ev.Type)
		return nil
	}

	txn, err := c.store.GetTransactionByIntent(ctx, ev.IntentID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.logger.Warn("webhook event for unknown transaction",
				"type", ev.Type, "intent_id", ev.IntentID)
			return nil
		}
		return err
	}

	switch ev.Type {
	case "payment.succeeded", "checkout.completed":
		err = c.applyPaymentSucceeded(ctx, txn)
	case "payment.failed":
		err = c.transition(ctx, txn, []transaction.Status{transaction.StatusPending}, transaction.StatusFailed, transaction.StatusFields{})
	case "refund.succeeded":
		err = c.applyRefundSucceeded(ctx, txn)
	case "refund.failed":
		reason := "provider reported refund failure"
		err = c.transition(ctx, txn, []transaction.Status{transaction.StatusRefundPending}, transaction.StatusRefundFailed,
			transaction.StatusFields{LastError: &reason})
	default:
		c.logger.Debug("ignoring webhook event", "type", ev.Type)
		return nil
	}

	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			c.logger.Debug("webhook event already applied",
				"type", ev.Type, "transaction_id", txn.ID)
			return nil
		}
		return err
	}

	c.plugins.EmitWebhookApplied(ctx, ev.Type, txn)
	return nil
}

func (c *Core) applyPaymentSucceeded(ctx context.Context, txn *transaction.Transaction) error {
	if err := c.transition(ctx, txn, []transaction.Status{transaction.StatusPending}, transaction.StatusSucceeded, transaction.StatusFields{}); err != nil {
		return err
	}
	if txn.Amount.IsZero() {
		// Contract-only checkouts move no money.
		return nil
	}
	if err := c.recordPaymentEntries(ctx, txn); err != nil {
		// The transaction must not read succeeded with no ledger rows: roll
		// the status back so a provider redelivery retries the whole
		// transition instead of being dropped by the CAS.
		c.revertTransition(ctx, txn, transaction.StatusPending, err)
		return err
	}
	return nil
}

func (c *Core) applyRefundSucceeded(ctx context.Context, txn *transaction.Transaction) error {
	prev := txn.Status
	attempts := txn.RefundAttempts
	if err := c.transition(ctx, txn,
		[]transaction.Status{transaction.StatusRefundPending, transaction.StatusSucceeded},
		transaction.StatusRefunded,
		transaction.StatusFields{RefundAttempts: &attempts}); err != nil {
		return err
	}
	if txn.Amount.IsZero() {
		return nil
	}
	if err := c.recordRefundEntries(ctx, txn); err != nil {
		c.revertTransition(ctx, txn, prev, err)
		return err
	}
	return nil
}

// transition performs the status CAS and emits the change hook on success.
func (c *Core) transition(ctx context.Context, txn *transaction.Transaction, from []transaction.Status, to transaction.Status, fields transaction.StatusFields) error {
	if err := c.store.UpdateStatus(ctx, txn.ID, from, to, fields); err != nil {
		return err
	}
	prev := txn.Status
	txn.Status = to
	c.plugins.EmitTransactionStatusChanged(ctx, txn, string(prev), string(to))
	return nil
}

// revertTransition undoes a status CAS whose follow-up ledger write failed.
// The cause is recorded on the transaction; a failed revert leaves drift
// that reconciliation will surface.
func (c *Core) revertTransition(ctx context.Context, txn *transaction.Transaction, to transaction.Status, cause error) {
	detail := cause.Error()
	if err := c.transition(ctx, txn,
		[]transaction.Status{txn.Status},
		to,
		transaction.StatusFields{LastError: &detail}); err != nil {
		c.logger.Error("status rollback failed",
			"transaction_id", txn.ID,
			"status", to,
			"error", err,
		)
	}
}

// recordPaymentEntries writes the balanced batch for a succeeded payment:
// the beneficiary is credited the full amount and debited the platform fee,
// the fee lands in the fees wallet, and the clearing wallet carries the
// offsetting debit for money still held at the processor.
func (c *Core) recordPaymentEntries(ctx context.Context, txn *transaction.Transaction) error {
	beneficiary, err := c.beneficiaryWallet(ctx, txn)
	if err != nil {
		return err
	}

	fee := txn.Amount.BasisPoints(txn.Metadata.PlatformFeeBps)
	entries := []entry.Entry{
		{
			UserID:           beneficiary.UserID,
			AppID:            txn.AppID,
			WalletID:         beneficiary.ID,
			TransactionID:    txn.ID,
			ProviderIntentID: txn.ProviderIntentID,
			Type:             entry.TypeCredit,
			Source:           entry.SourcePaymentProcessor,
			Reason:           string(txn.Type),
			Amount:           txn.Amount,
		},
		{
			UserID:        wallet.OwnerClearing,
			WalletID:      c.clearingWallet,
			TransactionID: txn.ID,
			Type:          entry.TypeDebit,
			Source:        entry.SourcePaymentProcessor,
			Reason:        "processor clearing",
			Amount:        txn.Amount,
		},
	}
	if fee.IsPositive() {
		entries = append(entries,
			entry.Entry{
				UserID:        beneficiary.UserID,
				AppID:         txn.AppID,
				WalletID:      beneficiary.ID,
				TransactionID: txn.ID,
				Type:          entry.TypeFee,
				Source:        entry.SourcePaymentProcessor,
				Reason:        "platform fee",
				Amount:        fee,
			},
			entry.Entry{
				UserID:        wallet.OwnerFees,
				WalletID:      c.feesWallet,
				TransactionID: txn.ID,
				Type:          entry.TypeCredit,
				Source:        entry.SourcePaymentProcessor,
				Reason:        "platform fee",
				Amount:        fee,
			},
		)
	}

	return c.recordBatch(ctx, entries)
}

// recordRefundEntries reverses a payment: the beneficiary gives back the
// full amount through the clearing wallet. The platform fee is not
// returned, matching processor behavior.
func (c *Core) recordRefundEntries(ctx context.Context, txn *transaction.Transaction) error {
	beneficiary, err := c.beneficiaryWallet(ctx, txn)
	if err != nil {
		return err
	}

	entries := []entry.Entry{
		{
			UserID:           beneficiary.UserID,
			AppID:            txn.AppID,
			WalletID:         beneficiary.ID,
			TransactionID:    txn.ID,
			ProviderIntentID: txn.ProviderIntentID,
			Type:             entry.TypeRefund,
			Source:           entry.SourcePaymentProcessor,
			Reason:           "refund",
			Amount:           txn.Amount,
		},
		{
			UserID:        wallet.OwnerClearing,
			WalletID:      c.clearingWallet,
			TransactionID: txn.ID,
			Type:          entry.TypeCredit,
			Source:        entry.SourcePaymentProcessor,
			Reason:        "refund clearing",
			Amount:        txn.Amount,
		},
	}

	return c.recordBatch(ctx, entries)
}

func (c *Core) recordBatch(ctx context.Context, entries []entry.Entry) error {
	batch, err := entry.NewBatch(entries)
	if err != nil {
		return err
	}
	if err := c.store.RecordBatch(ctx, batch); err != nil {
		return err
	}

	recorded := make([]interface{}, len(entries))
	for i := range batch.Entries() {
		recorded[i] = batch.Entries()[i]
	}
	c.plugins.EmitEntriesRecorded(ctx, recorded)
	return nil
}

// beneficiaryWallet resolves the wallet credited by a payment, creating it
// on first use. App payments credit the app owner, platform payments
// credit the paying user's own wallet.
func (c *Core) beneficiaryWallet(ctx context.Context, txn *transaction.Transaction) (*wallet.Wallet, error) {
	owner := txn.Metadata.BeneficiaryID
	if owner == "" {
		owner = txn.UserID
	}
	return c.ensureWallet(ctx, owner, txn.AppID)
}

// ──────────────────────────────────────────────────
// Wallets
// ──────────────────────────────────────────────────

// CreateWallet creates a wallet for an owner. Creating an existing wallet
// returns the existing one.
func (c *Core) CreateWallet(ctx context.Context, userID, appID string) (*wallet.Wallet, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return c.ensureWallet(ctx, userID, appID)
}

func (c *Core) ensureWallet(ctx context.Context, userID, appID string) (*wallet.Wallet, error) {
	w, err := c.store.GetWalletByOwner(ctx, userID, appID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	w = &wallet.Wallet{
		Entity:  types.NewEntity(),
		ID:      id.NewWalletID(),
		UserID:  userID,
		AppID:   appID,
		Balance: types.Zero(c.currency),
	}
	if err := c.store.CreateWallet(ctx, w); err != nil {
		// Lost a creation race; the winner's wallet is authoritative.
		if errors.Is(err, ErrWalletExists) {
			return c.store.GetWalletByOwner(ctx, userID, appID)
		}
		return nil, err
	}
	return w, nil
}

// GetWallet retrieves a wallet by ID.
func (c *Core) GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	return c.store.GetWallet(ctx, walletID)
}

// WalletBalance returns the cached balance for an owner's wallet.
func (c *Core) WalletBalance(ctx context.Context, userID, appID string) (types.Money, error) {
	w, err := c.store.GetWalletByOwner(ctx, userID, appID)
	if err != nil {
		return types.Money{}, err
	}
	return w.Balance, nil
}

// WalletEntries lists the ledger entries of a wallet, newest first.
func (c *Core) WalletEntries(ctx context.Context, walletID id.WalletID, opts entry.ListOpts) ([]*entry.Entry, error) {
	return c.store.ListEntriesByWallet(ctx, walletID, opts)
}

// ReconcileWallet recomputes a wallet balance from its entries and compares
// it against the cache. Drift is reported, not silently repaired: a
// diverging cache means a partial write happened and deserves a look.
func (c *Core) ReconcileWallet(ctx context.Context, walletID id.WalletID) (*wallet.Reconciliation, error) {
	w, err := c.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	sum, count, err := c.store.SumByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	rec := &wallet.Reconciliation{
		WalletID:        walletID,
		CachedBalance:   w.Balance.Amount,
		ComputedBalance: sum,
		Drift:           w.Balance.Amount - sum,
		EntryCount:      count,
	}
	if !rec.InBalance() {
		c.logger.Warn("wallet balance drift",
			"wallet_id", walletID,
			"cached", rec.CachedBalance,
			"computed", rec.ComputedBalance,
			"drift", rec.Drift,
		)
		c.plugins.EmitWalletDrift(ctx, walletID.String(), rec.Drift)
	}
	return rec, nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// GetTransaction retrieves a transaction by ID.
func (c *Core) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	return c.store.GetTransaction(ctx, txnID)
}

// ListTransactions lists transactions with filters.
func (c *Core) ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	return c.store.ListTransactions(ctx, opts)
}

// ──────────────────────────────────────────────────
// Economic Event Log
// ──────────────────────────────────────────────────

// IngestEvents appends economic events to the log. Envelopes missing an
// event id or type are skipped, not errored: producers batch heterogeneous
// streams and one malformed item must not cost the rest. An envelope
// carrying an app id different from appID rejects the whole batch.
// Duplicate event ids are silently skipped, so producers can redeliver
// freely. Returns the number of events actually inserted.
func (c *Core) IngestEvents(ctx context.Context, appID string, envs []event.Envelope) (int, error) {
	if len(envs) == 0 {
		return 0, nil
	}

	skipped := 0
	docs := make([]*event.Document, 0, len(envs))
	for i := range envs {
		env := envs[i]
		if appID != "" && env.Source.AppID != "" && env.Source.AppID != appID {
			return 0, fmt.Errorf("%w: envelope %d has app %q", ErrEventAppMismatch, i, env.Source.AppID)
		}
		if !env.Valid() {
			c.logger.Debug("skipping invalid event envelope",
				"index", i, "event_id", env.EventID, "event_type", env.EventType)
			skipped++
			continue
		}
		if env.Source.AppID == "" {
			env.Source.AppID = appID
		}
		if env.Source.Environment == "" {
			env.Source.Environment = c.environment
		}
		doc, err := event.NewDocument(env)
		if err != nil {
			return 0, fmt.Errorf("%w: envelope %d: %v", ErrEventInvalid, i, err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	inserted, err := c.store.InsertEvents(ctx, docs)
	if err != nil {
		return inserted, err
	}

	duplicates := len(docs) - inserted
	if skipped > 0 || duplicates > 0 {
		c.logger.Debug("event batch partially ingested",
			"inserted", inserted, "duplicates", duplicates, "invalid", skipped)
	}
	c.plugins.EmitEventsIngested(ctx, inserted, duplicates)
	return inserted, nil
}

// IngestEvent appends a single economic event; the app id is taken from the
// envelope's source block.
func (c *Core) IngestEvent(ctx context.Context, env event.Envelope) error {
	_, err := c.IngestEvents(ctx, env.Source.AppID, []event.Envelope{env})
	return err
}

// GetEvent retrieves an event by its producer-assigned id.
func (c *Core) GetEvent(ctx context.Context, eventID string) (*event.Document, error) {
	return c.store.GetEvent(ctx, eventID)
}

// ListEvents lists events with filters, newest first.
func (c *Core) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Document, error) {
	return c.store.ListEvents(ctx, opts)
}
