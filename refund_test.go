package treasury_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	treasury "github.com/xraph/treasury"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/store/memory"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
)

// flakyRefundProvider fails the first N refund calls with a transient
// provider error, then succeeds.
type flakyRefundProvider struct {
	failures int
	calls    int
}

func (p *flakyRefundProvider) Name() string { return "flaky" }

func (p *flakyRefundProvider) CreateCheckout(_ context.Context, _ provider.CheckoutRequest) (*provider.CheckoutResult, error) {
	return &provider.CheckoutResult{SessionID: "cs_1", IntentID: "pi_1", Status: "open"}, nil
}

func (p *flakyRefundProvider) GetSubscriptionStatus(_ context.Context, _ string, _ provider.Scope, _ string) (*provider.SubscriptionStatus, error) {
	return provider.UnlimitedStatus(), nil
}

func (p *flakyRefundProvider) CancelSubscription(_ context.Context, _ string, _ provider.Scope, _ string) (*provider.CancelResult, error) {
	return &provider.CancelResult{Canceled: true}, nil
}

func (p *flakyRefundProvider) ProcessWebhook(_ context.Context, _ []byte, _ string) (*provider.WebhookResult, error) {
	return &provider.WebhookResult{Valid: true}, nil
}

func (p *flakyRefundProvider) Refund(_ context.Context, _ provider.RefundRequest) (*provider.RefundResult, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, &provider.Error{Kind: provider.KindUnavailable, Op: "refund", Err: errors.New("outage")}
	}
	return &provider.RefundResult{RefundID: "re_1", Status: "succeeded"}, nil
}

func (p *flakyRefundProvider) Transfer(_ context.Context, _ provider.TransferRequest) (*provider.TransferResult, error) {
	return &provider.TransferResult{TransferID: "tr_1", Status: "paid"}, nil
}

// seedRefundPending puts a zero-amount succeeded transaction into the store
// and flips it to refund_pending, so a pass exercises only the provider
// retry loop.
func seedRefundPending(t *testing.T, c *treasury.Core, st *memory.Store) id.TransactionID {
	t.Helper()
	ctx := context.Background()

	txn := &transaction.Transaction{
		Entity:           types.NewEntity(),
		ID:               id.NewTransactionID(),
		Type:             transaction.TypePlatformSubscriptionPayment,
		Status:           transaction.StatusSucceeded,
		Amount:           types.Zero("usd"),
		UserID:           "user_1",
		ProviderIntentID: "pi_1",
	}
	if err := st.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}
	if err := c.RequestRefund(ctx, txn.ID, "schedule check"); err != nil {
		t.Fatal(err)
	}
	return txn.ID
}

func TestRefundBackoffSchedule(t *testing.T) {
	newCore := func(p provider.Provider) (*treasury.Core, *memory.Store, *[]time.Duration) {
		st := memory.New()
		c := treasury.New(st,
			treasury.WithProvider(p),
			treasury.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
		delays := &[]time.Duration{}
		c.SetSleepFn(func(_ context.Context, d time.Duration) bool {
			*delays = append(*delays, d)
			return true
		})
		return c, st, delays
	}

	t.Run("ExhaustedAttempts", func(t *testing.T) {
		p := &flakyRefundProvider{failures: 3}
		c, st, delays := newCore(p)
		txnID := seedRefundPending(t, c, st)

		if err := c.RunRefundPass(context.Background()); err != nil {
			t.Fatal(err)
		}

		// Three attempts separated by the first two backoff steps; the
		// final failure abandons immediately with no trailing delay.
		want := []time.Duration{time.Second, 2 * time.Second}
		if len(*delays) != len(want) {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
		for i := range want {
			if (*delays)[i] != want[i] {
				t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
			}
		}
		if p.calls != 3 {
			t.Errorf("provider calls = %d, want 3", p.calls)
		}

		got, err := st.GetTransaction(context.Background(), txnID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != transaction.StatusRefundFailed {
			t.Errorf("status = %s, want refund_failed", got.Status)
		}
	})

	t.Run("SuccessAfterOneOutage", func(t *testing.T) {
		p := &flakyRefundProvider{failures: 1}
		c, st, delays := newCore(p)
		seedRefundPending(t, c, st)

		if err := c.RunRefundPass(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(*delays) != 1 || (*delays)[0] != time.Second {
			t.Errorf("delays = %v, want [1s]", *delays)
		}
		if p.calls != 2 {
			t.Errorf("provider calls = %d, want 2", p.calls)
		}
	})

	t.Run("FirstAttemptSucceeds", func(t *testing.T) {
		p := &flakyRefundProvider{}
		c, st, delays := newCore(p)
		seedRefundPending(t, c, st)

		if err := c.RunRefundPass(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(*delays) != 0 {
			t.Errorf("delays = %v, want none", *delays)
		}
	})
}
