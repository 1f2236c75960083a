// Package wallet defines the per-owner balance cache derived from the ledger.
package wallet

import (
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/types"
)

// Well-known system owner ids. The clearing wallet is the external
// counterparty account for the payment processor: money entering the
// platform debits it, money leaving credits it, so every processor batch
// nets to zero. The fees wallet accumulates platform fees.
const (
	OwnerClearing = "system:clearing"
	OwnerFees     = "system:fees"
)

// Wallet is a per-(user, app) balance cache over ledger entries.
// It is a read optimization, not the source of truth: the balance must equal
// the signed sum of the wallet's entries at any point free of in-flight
// writes, and may drift only within the window of an uncommitted multi-step
// write.
type Wallet struct {
	types.Entity
	ID         id.WalletID `json:"id"`
	UserID     string      `json:"user_id"`
	AppID      string      `json:"app_id,omitempty"`
	Balance    types.Money `json:"balance"`
	EntryCount int64       `json:"entry_count"`
}

// Reconciliation is the result of recomputing a wallet balance from its
// ledger entries.
type Reconciliation struct {
	WalletID        id.WalletID `json:"wallet_id"`
	CachedBalance   int64       `json:"cached_balance"`
	ComputedBalance int64       `json:"computed_balance"`
	Drift           int64       `json:"drift"`
	EntryCount      int64       `json:"entry_count"`
}

// InBalance reports whether the cached balance matches the ledger.
func (r Reconciliation) InBalance() bool { return r.Drift == 0 }
