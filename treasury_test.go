package treasury_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	treasury "github.com/xraph/treasury"
	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/settlement"
	"github.com/xraph/treasury/store/memory"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
	"github.com/xraph/treasury/wallet"
)

// fakeProvider is a programmable provider for engine tests.
type fakeProvider struct {
	mu          sync.Mutex
	intentSeq   int
	emptyIntent bool

	webhook *provider.WebhookResult

	refundErrs  []error // consumed one per Refund call; exhausted means success
	refundCalls int

	transferErr error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCheckout(_ context.Context, _ provider.CheckoutRequest) (*provider.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentSeq++
	res := &provider.CheckoutResult{
		SessionID: fmt.Sprintf("cs_%03d", f.intentSeq),
		Status:    "open",
	}
	if !f.emptyIntent {
		res.IntentID = fmt.Sprintf("pi_%03d", f.intentSeq)
	}
	return res, nil
}

func (f *fakeProvider) GetSubscriptionStatus(_ context.Context, _ string, _ provider.Scope, _ string) (*provider.SubscriptionStatus, error) {
	return provider.UnlimitedStatus(), nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, _ string, _ provider.Scope, _ string) (*provider.CancelResult, error) {
	return &provider.CancelResult{Canceled: true, Immediate: true}, nil
}

func (f *fakeProvider) ProcessWebhook(_ context.Context, _ []byte, _ string) (*provider.WebhookResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.webhook != nil {
		return f.webhook, nil
	}
	return &provider.WebhookResult{Valid: true}, nil
}

func (f *fakeProvider) Refund(_ context.Context, _ provider.RefundRequest) (*provider.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if f.refundCalls <= len(f.refundErrs) {
		if err := f.refundErrs[f.refundCalls-1]; err != nil {
			return nil, err
		}
	}
	return &provider.RefundResult{RefundID: "re_001", Status: "succeeded"}, nil
}

func (f *fakeProvider) Transfer(_ context.Context, _ provider.TransferRequest) (*provider.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	return &provider.TransferResult{TransferID: "tr_001", Status: "paid"}, nil
}

func (f *fakeProvider) deliverEvent(eventType, intentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhook = &provider.WebhookResult{
		Valid: true,
		Events: []provider.WebhookEvent{
			{Type: eventType, IntentID: intentID, OccurredAt: time.Now().UTC()},
		},
	}
}

func newTestCore(t *testing.T, p provider.Provider) (*treasury.Core, *memory.Store) {
	t.Helper()

	st := memory.New()
	core := treasury.New(st,
		treasury.WithProvider(p),
		treasury.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		treasury.WithRefundInterval(time.Hour),
		treasury.WithRefundBackoff([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}),
	)
	if err := core.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = core.Stop() })
	return core, st
}

func mustCheckout(t *testing.T, core *treasury.Core, amount types.Money) *transaction.Transaction {
	t.Helper()
	amt := amount
	_, txn, err := core.CreateCheckout(context.Background(), provider.CheckoutRequest{
		UserID: "user_1",
		Scope:  provider.ScopePlatform,
		Mode:   provider.ModePayment,
		Amount: &amt,
	})
	if err != nil {
		t.Fatal(err)
	}
	return txn
}

func balance(t *testing.T, core *treasury.Core, userID, appID string) int64 {
	t.Helper()
	m, err := core.WalletBalance(context.Background(), userID, appID)
	if err != nil {
		t.Fatalf("balance %s/%s: %v", userID, appID, err)
	}
	return m.Amount
}

func TestCreateCheckout(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)

	txn := mustCheckout(t, core, types.USD(10000))

	if txn.Status != transaction.StatusPending {
		t.Errorf("status = %s, want pending", txn.Status)
	}
	if txn.Type != transaction.TypePlatformSubscriptionPayment {
		t.Errorf("type = %s, want platform_subscription_payment", txn.Type)
	}
	if txn.ProviderIntentID == "" {
		t.Error("provider intent id not recorded")
	}
	if txn.Metadata.PlatformFeeBps != 1000 {
		t.Errorf("fee bps = %d, want 1000", txn.Metadata.PlatformFeeBps)
	}

	if _, _, err := core.CreateCheckout(context.Background(), provider.CheckoutRequest{}); !errors.Is(err, treasury.ErrInvalidInput) {
		t.Errorf("missing user id: err = %v, want ErrInvalidInput", err)
	}
}

func TestPaymentWebhookRecordsBalancedEntries(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(10000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)

	res, err := core.HandleWebhook(ctx, []byte(`{}`), "sig")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Fatal("webhook rejected")
	}

	got, err := core.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != transaction.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}

	// $100 in, 10% platform fee: beneficiary nets $90, fees wallet holds
	// $10, clearing carries the offsetting -$100.
	if b := balance(t, core, "user_1", ""); b != 9000 {
		t.Errorf("beneficiary balance = %d, want 9000", b)
	}
	if b := balance(t, core, wallet.OwnerFees, ""); b != 1000 {
		t.Errorf("fees balance = %d, want 1000", b)
	}
	if b := balance(t, core, wallet.OwnerClearing, ""); b != -10000 {
		t.Errorf("clearing balance = %d, want -10000", b)
	}

	// Redelivery applies nothing.
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if b := balance(t, core, "user_1", ""); b != 9000 {
		t.Errorf("balance after redelivery = %d, want 9000", b)
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	fp := &fakeProvider{webhook: &provider.WebhookResult{Valid: false, Reason: "signature mismatch"}}
	core, _ := newTestCore(t, fp)

	res, err := core.HandleWebhook(context.Background(), []byte(`{}`), "bad")
	if err != nil {
		t.Fatalf("invalid signature must not error: %v", err)
	}
	if res.Valid {
		t.Error("result should be invalid")
	}
}

func TestWebhookUnknownIntent(t *testing.T) {
	fp := &fakeProvider{}
	fp.deliverEvent("payment.succeeded", "pi_unknown")
	core, _ := newTestCore(t, fp)

	if _, err := core.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unknown intent must be skipped, got %v", err)
	}
}

func TestPaymentFailedWebhook(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(2500))
	fp.deliverEvent("payment.failed", txn.ProviderIntentID)

	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}

	got, err := core.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != transaction.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}

	// No entries, so no wallet was created for the payer.
	if _, err := core.WalletBalance(ctx, "user_1", ""); !treasury.IsNotFound(err) {
		t.Errorf("wallet lookup err = %v, want not found", err)
	}
}

func TestRefundLifecycle(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(10000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}

	if err := core.RequestRefund(ctx, txn.ID, "customer request"); err != nil {
		t.Fatal(err)
	}
	got, _ := core.GetTransaction(ctx, txn.ID)
	if got.Status != transaction.StatusRefundPending {
		t.Fatalf("status = %s, want refund_pending", got.Status)
	}

	if err := core.RunRefundPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ = core.GetTransaction(ctx, txn.ID)
	if got.Status != transaction.StatusRefunded {
		t.Fatalf("status = %s, want refunded", got.Status)
	}

	// Full amount reversed, fee kept: the beneficiary ends $10 short and
	// clearing returns to zero.
	if b := balance(t, core, "user_1", ""); b != -1000 {
		t.Errorf("beneficiary balance = %d, want -1000", b)
	}
	if b := balance(t, core, wallet.OwnerClearing, ""); b != 0 {
		t.Errorf("clearing balance = %d, want 0", b)
	}
	if b := balance(t, core, wallet.OwnerFees, ""); b != 1000 {
		t.Errorf("fees balance = %d, want 1000", b)
	}

	// All wallets reconcile against their entries.
	for _, owner := range []string{"user_1", wallet.OwnerClearing, wallet.OwnerFees} {
		w, err := core.CreateWallet(ctx, owner, "")
		if err != nil {
			t.Fatal(err)
		}
		rec, err := core.ReconcileWallet(ctx, w.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !rec.InBalance() {
			t.Errorf("wallet %s drifted: cached %d computed %d", owner, rec.CachedBalance, rec.ComputedBalance)
		}
	}
}

func TestRefundExhaustsAttempts(t *testing.T) {
	outage := &provider.Error{Kind: provider.KindUnavailable, Op: "refund", Err: errors.New("503")}
	fp := &fakeProvider{refundErrs: []error{outage, outage, outage}}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(1000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}
	if err := core.RequestRefund(ctx, txn.ID, "test"); err != nil {
		t.Fatal(err)
	}

	if err := core.RunRefundPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := core.GetTransaction(ctx, txn.ID)
	if got.Status != transaction.StatusRefundFailed {
		t.Errorf("status = %s, want refund_failed", got.Status)
	}
	if got.RefundAttempts != 3 {
		t.Errorf("attempts = %d, want 3", got.RefundAttempts)
	}
	if fp.refundCalls != 3 {
		t.Errorf("provider calls = %d, want 3", fp.refundCalls)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestRefundNonRetryableAbandonsImmediately(t *testing.T) {
	rejected := &provider.Error{Kind: provider.KindInvalidRequest, Op: "refund", Err: errors.New("already refunded")}
	fp := &fakeProvider{refundErrs: []error{rejected}}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(1000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}
	if err := core.RequestRefund(ctx, txn.ID, "test"); err != nil {
		t.Fatal(err)
	}

	if err := core.RunRefundPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := core.GetTransaction(ctx, txn.ID)
	if got.Status != transaction.StatusRefundFailed {
		t.Errorf("status = %s, want refund_failed", got.Status)
	}
	if fp.refundCalls != 1 {
		t.Errorf("provider calls = %d, want 1", fp.refundCalls)
	}
}

func TestRefundRetriesThenSucceeds(t *testing.T) {
	outage := &provider.Error{Kind: provider.KindUnavailable, Op: "refund", Err: errors.New("timeout")}
	fp := &fakeProvider{refundErrs: []error{outage}}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(1000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}
	if err := core.RequestRefund(ctx, txn.ID, "test"); err != nil {
		t.Fatal(err)
	}

	if err := core.RunRefundPass(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := core.GetTransaction(ctx, txn.ID)
	if got.Status != transaction.StatusRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}
	if got.RefundAttempts != 2 {
		t.Errorf("attempts = %d, want 2", got.RefundAttempts)
	}
	if fp.refundCalls != 2 {
		t.Errorf("provider calls = %d, want 2", fp.refundCalls)
	}
}

func TestRequestRefundGuards(t *testing.T) {
	fp := &fakeProvider{}
	core, st := newTestCore(t, fp)
	ctx := context.Background()

	t.Run("PendingNotRefundable", func(t *testing.T) {
		txn := mustCheckout(t, core, types.USD(1000))
		if err := core.RequestRefund(ctx, txn.ID, ""); !errors.Is(err, treasury.ErrNotRefundable) {
			t.Errorf("err = %v, want ErrNotRefundable", err)
		}
	})

	t.Run("TerminalRejected", func(t *testing.T) {
		txn := mustCheckout(t, core, types.USD(1000))
		fp.deliverEvent("payment.failed", txn.ProviderIntentID)
		if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
			t.Fatal(err)
		}
		if err := core.RequestRefund(ctx, txn.ID, ""); !errors.Is(err, treasury.ErrTerminalStatus) {
			t.Errorf("err = %v, want ErrTerminalStatus", err)
		}
	})

	t.Run("MissingIntentFailsImmediately", func(t *testing.T) {
		fp.emptyIntent = true
		defer func() { fp.emptyIntent = false }()

		txn := mustCheckout(t, core, types.USD(1000))
		if err := st.UpdateStatus(ctx, txn.ID,
			[]transaction.Status{transaction.StatusPending},
			transaction.StatusSucceeded, transaction.StatusFields{}); err != nil {
			t.Fatal(err)
		}

		err := core.RequestRefund(ctx, txn.ID, "")
		if !errors.Is(err, treasury.ErrMissingIntent) {
			t.Fatalf("err = %v, want ErrMissingIntent", err)
		}

		got, _ := core.GetTransaction(ctx, txn.ID)
		if got.Status != transaction.StatusRefundFailed {
			t.Errorf("status = %s, want refund_failed", got.Status)
		}
		if got.RefundAttempts != 0 {
			t.Errorf("attempts = %d, want 0", got.RefundAttempts)
		}
		if fp.refundCalls != 0 {
			t.Errorf("provider calls = %d, want 0", fp.refundCalls)
		}
	})
}

func TestSettlementValidation(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)

	tests := []struct {
		name string
		req  settlement.Request
		code settlement.Code
	}{
		{
			name: "MissingDestination",
			req:  settlement.Request{Amount: types.USD(100)},
			code: settlement.CodeMissingDestinationAccount,
		},
		{
			name: "BadPrefix",
			req:  settlement.Request{DestinationAccountID: "dest_123", Amount: types.USD(100)},
			code: settlement.CodeInvalidDestinationAccountFormat,
		},
		{
			name: "ZeroAmount",
			req:  settlement.Request{DestinationAccountID: "acct_123", Amount: types.USD(0)},
			code: settlement.CodeInvalidAmount,
		},
		{
			name: "NegativeAmount",
			req:  settlement.Request{DestinationAccountID: "acct_123", Amount: types.USD(-5)},
			code: settlement.CodeInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.ValidateSettlement(tt.req)
			var verr *settlement.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *settlement.ValidationError", err)
			}
			if verr.Code != tt.code {
				t.Errorf("code = %s, want %s", verr.Code, tt.code)
			}
		})
	}

	if err := core.ValidateSettlement(settlement.Request{
		DestinationAccountID: "acct_123",
		Amount:               types.USD(100),
	}); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestProcessSettlement(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	res, err := core.ProcessSettlement(ctx, settlement.Request{
		AppID:                "app_1",
		DestinationAccountID: "acct_9",
		Amount:               types.USD(5000),
		CorrelationID:        "corr-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TransferID != "tr_001" {
		t.Errorf("transfer id = %s", res.TransferID)
	}
	if res.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %s", res.CorrelationID)
	}

	txns, err := core.ListTransactions(ctx, transaction.ListOpts{Type: transaction.TypeSettlement})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("settlement transactions = %d, want 1", len(txns))
	}
	if txns[0].Status != transaction.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", txns[0].Status)
	}
	if txns[0].ProviderIntentID != "tr_001" {
		t.Errorf("intent id = %s, want tr_001", txns[0].ProviderIntentID)
	}

	if b := balance(t, core, "app_1", "app_1"); b != -5000 {
		t.Errorf("app wallet balance = %d, want -5000", b)
	}
	if b := balance(t, core, wallet.OwnerClearing, ""); b != 5000 {
		t.Errorf("clearing balance = %d, want 5000", b)
	}
}

func TestProcessSettlementFailureIsLaundered(t *testing.T) {
	fp := &fakeProvider{
		transferErr: &provider.Error{
			Kind: provider.KindInvalidRequest,
			Op:   "transfer",
			Err:  errors.New("account acct_9 is frozen"),
		},
	}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	_, settleErr := core.ProcessSettlement(ctx, settlement.Request{
		AppID:                "app_1",
		DestinationAccountID: "acct_9",
		Amount:               types.USD(5000),
	})
	if !errors.Is(settleErr, treasury.ErrSettlementFailed) {
		t.Fatalf("err = %v, want ErrSettlementFailed", settleErr)
	}
	if strings.Contains(settleErr.Error(), "frozen") {
		t.Errorf("provider detail leaked to caller: %v", settleErr)
	}

	txns, err := core.ListTransactions(ctx, transaction.ListOpts{Type: transaction.TypeSettlement})
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("settlement transactions = %d, want 1", len(txns))
	}
	if txns[0].Status != transaction.StatusFailed {
		t.Errorf("status = %s, want failed", txns[0].Status)
	}
	if !strings.Contains(txns[0].LastError, "frozen") {
		t.Errorf("detail not recorded on transaction: %q", txns[0].LastError)
	}
	if !strings.Contains(settleErr.Error(), txns[0].ID.String()) {
		t.Errorf("caller error %q should reference transaction %s", settleErr, txns[0].ID)
	}

	// No money moved.
	if _, err := core.WalletBalance(ctx, "app_1", "app_1"); !treasury.IsNotFound(err) {
		t.Errorf("wallet lookup err = %v, want not found", err)
	}
}

func TestIngestEvents(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	envs := []event.Envelope{
		{
			EventID:    "evt-1",
			EventType:  "commitment.created",
			OccurredAt: time.Now().UTC(),
			Correlation: event.CorrelationBlock{
				CampaignID: "camp-1",
				UserID:     "user_1",
			},
		},
		{
			EventID:    "evt-2",
			EventType:  "allocation.settled",
			OccurredAt: time.Now().UTC(),
		},
	}

	inserted, err := core.IngestEvents(ctx, "app_1", envs)
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}

	// Redelivery is a no-op.
	inserted, err = core.IngestEvents(ctx, "app_1", envs)
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 0 {
		t.Errorf("redelivery inserted = %d, want 0", inserted)
	}

	// Source block is stamped during ingestion.
	doc, err := core.GetEvent(ctx, "evt-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source.AppID != "app_1" {
		t.Errorf("source app = %q, want app_1", doc.Source.AppID)
	}
	if doc.Source.Environment != "development" {
		t.Errorf("source environment = %q, want development", doc.Source.Environment)
	}
	if len(doc.Raw) == 0 {
		t.Error("raw envelope not preserved")
	}

	docs, err := core.ListEvents(ctx, event.ListOpts{CampaignID: "camp-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].EventID != "evt-1" {
		t.Errorf("campaign filter returned %d docs", len(docs))
	}

	t.Run("InvalidEnvelopeSkipped", func(t *testing.T) {
		inserted, err := core.IngestEvents(ctx, "app_1", []event.Envelope{
			{EventID: "evt-3"}, // no event type
			{
				EventID:    "evt-5",
				EventType:  "allocation.settled",
				OccurredAt: time.Now().UTC(),
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		if inserted != 1 {
			t.Errorf("inserted = %d, want 1", inserted)
		}
		if _, err := core.GetEvent(ctx, "evt-3"); !treasury.IsNotFound(err) {
			t.Error("invalid envelope must not be stored")
		}
	})

	t.Run("AppMismatch", func(t *testing.T) {
		_, err := core.IngestEvents(ctx, "app_1", []event.Envelope{{
			EventID:   "evt-4",
			EventType: "commitment.created",
			Source:    event.SourceBlock{AppID: "app_2"},
		}})
		if !errors.Is(err, treasury.ErrEventAppMismatch) {
			t.Errorf("err = %v, want ErrEventAppMismatch", err)
		}
		if _, err := core.GetEvent(ctx, "evt-4"); !treasury.IsNotFound(err) {
			t.Error("rejected batch must insert nothing")
		}
	})
}

func TestZeroAmountContractMovesNoMoney(t *testing.T) {
	fp := &fakeProvider{}
	core, _ := newTestCore(t, fp)
	ctx := context.Background()

	_, txn, err := core.CreateCheckout(ctx, provider.CheckoutRequest{
		UserID: "user_1",
		Scope:  provider.ScopePlatform,
		Mode:   provider.ModeSubscription,
	})
	if err != nil {
		t.Fatal(err)
	}
	if txn.Type != transaction.TypePlatformSubscriptionContract {
		t.Errorf("type = %s, want platform_subscription_contract", txn.Type)
	}

	fp.deliverEvent("checkout.completed", txn.ProviderIntentID)
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}

	got, _ := core.GetTransaction(ctx, txn.ID)
	if got.Status != transaction.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}
	if _, err := core.WalletBalance(ctx, "user_1", ""); !treasury.IsNotFound(err) {
		t.Errorf("contract checkout must record no entries, err = %v", err)
	}
}

func TestStopTwice(t *testing.T) {
	core := treasury.New(memory.New(),
		treasury.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		treasury.WithRefundInterval(time.Hour),
	)
	if err := core.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := core.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := core.Stop(); !errors.Is(err, treasury.ErrNotStarted) {
		t.Errorf("second stop err = %v, want ErrNotStarted", err)
	}

	never := treasury.New(memory.New(),
		treasury.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err := never.Stop(); !errors.Is(err, treasury.ErrNotStarted) {
		t.Errorf("stop before start err = %v, want ErrNotStarted", err)
	}
}

// failingStore wraps the memory store and refuses a set number of batch
// writes, simulating an outage between the status update and the ledger
// write.
type failingStore struct {
	*memory.Store
	mu          sync.Mutex
	failBatches int
}

func (s *failingStore) RecordBatch(ctx context.Context, batch *entry.Batch) error {
	s.mu.Lock()
	fail := s.failBatches > 0
	if fail {
		s.failBatches--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("store: write refused")
	}
	return s.Store.RecordBatch(ctx, batch)
}

func TestPaymentEntryWriteFailureRetriesOnRedelivery(t *testing.T) {
	fp := &fakeProvider{}
	st := &failingStore{Store: memory.New(), failBatches: 1}
	core := treasury.New(st,
		treasury.WithProvider(fp),
		treasury.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		treasury.WithRefundInterval(time.Hour),
	)
	if err := core.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = core.Stop() })
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(10000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)

	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err == nil {
		t.Fatal("expected the failed entry write to surface")
	}

	// The status must roll back so the redelivery is not dropped by the
	// transition compare-and-set.
	got, err := core.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != transaction.StatusPending {
		t.Fatalf("status after failed entry write = %s, want pending", got.Status)
	}
	if got.LastError == "" {
		t.Error("entry write failure not recorded on transaction")
	}

	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}
	got, err = core.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != transaction.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", got.Status)
	}

	// Entries landed exactly once.
	entries, err := st.ListEntriesByTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Errorf("entries = %d, want 4", len(entries))
	}
	if b := balance(t, core, "user_1", ""); b != 9000 {
		t.Errorf("beneficiary balance = %d, want 9000", b)
	}
}

// recordingPlugin captures hook payloads for assertions.
type recordingPlugin struct {
	mu            sync.Mutex
	attemptRuns   []string
	succeededRuns []string
	passRuns      []string
	passRemaining []int
	settled       int
	settledTook   []time.Duration
	failedTxns    []string
	failedReasons []string
}

func (p *recordingPlugin) Name() string { return "recording" }

func (p *recordingPlugin) OnRefundAttempt(_ context.Context, runID string, _ interface{}, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attemptRuns = append(p.attemptRuns, runID)
	return nil
}

func (p *recordingPlugin) OnRefundSucceeded(_ context.Context, runID string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.succeededRuns = append(p.succeededRuns, runID)
	return nil
}

func (p *recordingPlugin) OnRefundPassCompleted(_ context.Context, runID string, _, remaining int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passRuns = append(p.passRuns, runID)
	p.passRemaining = append(p.passRemaining, remaining)
	return nil
}

func (p *recordingPlugin) OnSettlementProcessed(_ context.Context, _ interface{}, elapsed time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled++
	p.settledTook = append(p.settledTook, elapsed)
	return nil
}

func (p *recordingPlugin) OnSettlementFailed(_ context.Context, transactionID string, _ time.Duration, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedTxns = append(p.failedTxns, transactionID)
	p.failedReasons = append(p.failedReasons, reason)
	return nil
}

func newPluginTestCore(t *testing.T, fp *fakeProvider, rec *recordingPlugin) *treasury.Core {
	t.Helper()
	core := treasury.New(memory.New(),
		treasury.WithProvider(fp),
		treasury.WithPlugin(rec),
		treasury.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		treasury.WithRefundInterval(time.Hour),
		treasury.WithRefundBackoff([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}),
	)
	if err := core.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = core.Stop() })
	return core
}

func TestRefundPassHooksCarryRunID(t *testing.T) {
	fp := &fakeProvider{}
	rec := &recordingPlugin{}
	core := newPluginTestCore(t, fp, rec)
	ctx := context.Background()

	txn := mustCheckout(t, core, types.USD(10000))
	fp.deliverEvent("payment.succeeded", txn.ProviderIntentID)
	if _, err := core.HandleWebhook(ctx, []byte(`{}`), "sig"); err != nil {
		t.Fatal(err)
	}
	if err := core.RequestRefund(ctx, txn.ID, "customer request"); err != nil {
		t.Fatal(err)
	}
	if err := core.RunRefundPass(ctx); err != nil {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.attemptRuns) != 1 || rec.attemptRuns[0] == "" {
		t.Fatalf("attempt runs = %v, want one non-empty run id", rec.attemptRuns)
	}
	if len(rec.succeededRuns) != 1 || rec.succeededRuns[0] != rec.attemptRuns[0] {
		t.Errorf("succeeded runs = %v, want same run id as attempt %q", rec.succeededRuns, rec.attemptRuns[0])
	}
	if len(rec.passRuns) != 1 || rec.passRuns[0] != rec.attemptRuns[0] {
		t.Errorf("pass runs = %v, want same run id as attempt %q", rec.passRuns, rec.attemptRuns[0])
	}
	if len(rec.passRemaining) != 1 || rec.passRemaining[0] != 0 {
		t.Errorf("pass remaining = %v, want [0]", rec.passRemaining)
	}
}

func TestSettlementHooksObserveOutcome(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		fp := &fakeProvider{}
		rec := &recordingPlugin{}
		core := newPluginTestCore(t, fp, rec)

		if _, err := core.ProcessSettlement(context.Background(), settlement.Request{
			AppID:                "app_1",
			DestinationAccountID: "acct_9",
			Amount:               types.USD(5000),
		}); err != nil {
			t.Fatal(err)
		}

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.settled != 1 {
			t.Errorf("settled hooks = %d, want 1", rec.settled)
		}
		if len(rec.settledTook) != 1 || rec.settledTook[0] < 0 {
			t.Errorf("settled durations = %v, want one non-negative observation", rec.settledTook)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		fp := &fakeProvider{
			transferErr: &provider.Error{
				Kind: provider.KindInvalidRequest,
				Op:   "transfer",
				Err:  errors.New("account acct_9 is frozen"),
			},
		}
		rec := &recordingPlugin{}
		core := newPluginTestCore(t, fp, rec)

		_, err := core.ProcessSettlement(context.Background(), settlement.Request{
			AppID:                "app_1",
			DestinationAccountID: "acct_9",
			Amount:               types.USD(5000),
		})
		if !errors.Is(err, treasury.ErrSettlementFailed) {
			t.Fatalf("err = %v, want ErrSettlementFailed", err)
		}

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.settled != 0 {
			t.Errorf("settled hooks = %d, want 0", rec.settled)
		}
		if len(rec.failedTxns) != 1 || rec.failedTxns[0] == "" {
			t.Fatalf("failed hooks = %v, want one transaction id", rec.failedTxns)
		}
		if !strings.Contains(rec.failedReasons[0], "frozen") {
			t.Errorf("failure reason = %q, want provider detail", rec.failedReasons[0])
		}
	})
}
