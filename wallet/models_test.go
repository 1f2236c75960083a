package wallet

import (
	"testing"

	"github.com/xraph/treasury/id"
)

func TestReconciliationInBalance(t *testing.T) {
	rec := Reconciliation{
		WalletID:        id.NewWalletID(),
		CachedBalance:   900,
		ComputedBalance: 900,
		EntryCount:      4,
	}
	if !rec.InBalance() {
		t.Error("matching balances reported as drift")
	}

	rec.Drift = 100
	if rec.InBalance() {
		t.Error("nonzero drift reported as in balance")
	}
}
