package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/treasury"
	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
	"github.com/xraph/treasury/wallet"
)

func newTxn(status transaction.Status, intentID string) *transaction.Transaction {
	return &transaction.Transaction{
		Entity:           types.NewEntity(),
		ID:               id.NewTransactionID(),
		Type:             transaction.TypePlatformSubscriptionPayment,
		Status:           status,
		Amount:           types.USD(1000),
		UserID:           "user_1",
		ProviderIntentID: intentID,
	}
}

func TestUpdateStatusCAS(t *testing.T) {
	s := New()
	ctx := context.Background()

	txn := newTxn(transaction.StatusPending, "pi_1")
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateStatus(ctx, txn.ID,
		[]transaction.Status{transaction.StatusPending},
		transaction.StatusSucceeded, transaction.StatusFields{}); err != nil {
		t.Fatal(err)
	}

	// Replaying the same transition loses the CAS.
	err := s.UpdateStatus(ctx, txn.ID,
		[]transaction.Status{transaction.StatusPending},
		transaction.StatusSucceeded, transaction.StatusFields{})
	if !errors.Is(err, treasury.ErrStatusConflict) {
		t.Errorf("err = %v, want ErrStatusConflict", err)
	}

	err = s.UpdateStatus(ctx, id.NewTransactionID(), nil, transaction.StatusFailed, transaction.StatusFields{})
	if !errors.Is(err, treasury.ErrTransactionNotFound) {
		t.Errorf("err = %v, want ErrTransactionNotFound", err)
	}
}

func TestUpdateStatusSetsFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	txn := newTxn(transaction.StatusRefundPending, "pi_1")
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}

	attempts := 2
	lastErr := "timeout"
	if err := s.UpdateStatus(ctx, txn.ID,
		[]transaction.Status{transaction.StatusRefundPending},
		transaction.StatusRefundPending,
		transaction.StatusFields{RefundAttempts: &attempts, LastError: &lastErr}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RefundAttempts != 2 {
		t.Errorf("attempts = %d, want 2", got.RefundAttempts)
	}
	if got.LastError != "timeout" {
		t.Errorf("last error = %q, want timeout", got.LastError)
	}
	if got.ClaimedBy != "" || got.ClaimExpiresAt != nil {
		t.Error("claim not released by status update")
	}
}

func TestClaimRefundPendingLease(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateTransaction(ctx, newTxn(transaction.StatusRefundPending, "")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CreateTransaction(ctx, newTxn(transaction.StatusSucceeded, "")); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.ClaimRefundPending(ctx, "worker-a", 10, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed = %d, want 3", len(claimed))
	}

	// A second claimant gets nothing while the lease holds.
	claimed, err = s.ClaimRefundPending(ctx, "worker-b", 10, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 0 {
		t.Errorf("second claimant got %d, want 0", len(claimed))
	}
}

func TestClaimRefundPendingExpiredLease(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateTransaction(ctx, newTxn(transaction.StatusRefundPending, "")); err != nil {
		t.Fatal(err)
	}

	// Claim with a deadline already in the past, then reclaim.
	if _, err := s.ClaimRefundPending(ctx, "worker-a", 10, time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	claimed, err := s.ClaimRefundPending(ctx, "worker-b", 10, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Errorf("reclaim got %d, want 1", len(claimed))
	}
	if claimed[0].ClaimedBy != "worker-b" {
		t.Errorf("claimant = %q, want worker-b", claimed[0].ClaimedBy)
	}
}

func TestClaimRefundPendingLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.CreateTransaction(ctx, newTxn(transaction.StatusRefundPending, "")); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := s.ClaimRefundPending(ctx, "worker-a", 2, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Errorf("claimed = %d, want 2", len(claimed))
	}
}

func TestRecordBatchUpdatesBalances(t *testing.T) {
	s := New()
	ctx := context.Background()

	w1 := &wallet.Wallet{Entity: types.NewEntity(), ID: id.NewWalletID(), UserID: "user_1", Balance: types.Zero("usd")}
	w2 := &wallet.Wallet{Entity: types.NewEntity(), ID: id.NewWalletID(), UserID: wallet.OwnerClearing, Balance: types.Zero("usd")}
	for _, w := range []*wallet.Wallet{w1, w2} {
		if err := s.CreateWallet(ctx, w); err != nil {
			t.Fatal(err)
		}
	}

	txnID := id.NewTransactionID()
	batch, err := entry.NewBatch([]entry.Entry{
		{WalletID: w1.ID, TransactionID: txnID, Type: entry.TypeCredit, Source: entry.SourcePaymentProcessor, Amount: types.USD(700)},
		{WalletID: w2.ID, TransactionID: txnID, Type: entry.TypeDebit, Source: entry.SourcePaymentProcessor, Amount: types.USD(700)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetWallet(ctx, w1.ID)
	if got.Balance.Amount != 700 {
		t.Errorf("w1 balance = %d, want 700", got.Balance.Amount)
	}
	if got.EntryCount != 1 {
		t.Errorf("w1 entry count = %d, want 1", got.EntryCount)
	}
	got, _ = s.GetWallet(ctx, w2.ID)
	if got.Balance.Amount != -700 {
		t.Errorf("w2 balance = %d, want -700", got.Balance.Amount)
	}

	sum, count, err := s.SumByWallet(ctx, w1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 700 || count != 1 {
		t.Errorf("sum/count = %d/%d, want 700/1", sum, count)
	}

	byTxn, err := s.ListEntriesByTransaction(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if len(byTxn) != 2 {
		t.Errorf("entries by transaction = %d, want 2", len(byTxn))
	}
}

func TestRecordBatchUnknownWallet(t *testing.T) {
	s := New()
	ctx := context.Background()

	batch, err := entry.NewBatch([]entry.Entry{
		{WalletID: id.NewWalletID(), Type: entry.TypeCredit, Source: entry.SourceManual, Amount: types.USD(100)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordBatch(ctx, batch); !errors.Is(err, treasury.ErrWalletNotFound) {
		t.Errorf("err = %v, want ErrWalletNotFound", err)
	}
}

func TestCreateWalletDuplicateOwner(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := &wallet.Wallet{Entity: types.NewEntity(), ID: id.NewWalletID(), UserID: "user_1", AppID: "app_1", Balance: types.Zero("usd")}
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatal(err)
	}

	dup := &wallet.Wallet{Entity: types.NewEntity(), ID: id.NewWalletID(), UserID: "user_1", AppID: "app_1", Balance: types.Zero("usd")}
	if err := s.CreateWallet(ctx, dup); !errors.Is(err, treasury.ErrWalletExists) {
		t.Errorf("err = %v, want ErrWalletExists", err)
	}

	// Same user under a different app is a distinct wallet.
	other := &wallet.Wallet{Entity: types.NewEntity(), ID: id.NewWalletID(), UserID: "user_1", AppID: "app_2", Balance: types.Zero("usd")}
	if err := s.CreateWallet(ctx, other); err != nil {
		t.Errorf("different app rejected: %v", err)
	}
}

func TestInsertEventsSkipsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	mkDoc := func(eventID string) *event.Document {
		doc, err := event.NewDocument(event.Envelope{
			EventID:    eventID,
			EventType:  "commitment.created",
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
		return doc
	}

	inserted, err := s.InsertEvents(ctx, []*event.Document{mkDoc("evt-1"), mkDoc("evt-2")})
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}

	inserted, err = s.InsertEvents(ctx, []*event.Document{mkDoc("evt-1"), mkDoc("evt-3")})
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 1 {
		t.Errorf("inserted = %d, want 1", inserted)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := newTxn(transaction.StatusSucceeded, "pi_a")
	a.AppID = "app_1"
	b := newTxn(transaction.StatusPending, "pi_b")
	b.AppID = "app_2"
	for _, txn := range []*transaction.Transaction{a, b} {
		if err := s.CreateTransaction(ctx, txn); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListTransactions(ctx, transaction.ListOpts{Status: transaction.StatusSucceeded})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("status filter returned %d txns", len(got))
	}

	got, err = s.ListTransactions(ctx, transaction.ListOpts{AppID: "app_2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("app filter returned %d txns", len(got))
	}

	got, err = s.ListTransactions(ctx, transaction.ListOpts{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("limit returned %d txns", len(got))
	}
}

func TestClosedStore(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, treasury.ErrStoreClosed) {
		t.Errorf("ping err = %v, want ErrStoreClosed", err)
	}
	if err := s.CreateTransaction(ctx, newTxn(transaction.StatusPending, "")); !errors.Is(err, treasury.ErrStoreClosed) {
		t.Errorf("create err = %v, want ErrStoreClosed", err)
	}
}
