// Package entry defines the append-only ledger entry model.
//
// Entries are the source of truth for money movement. Amounts are stored
// non-negative; the sign of an entry is derived from its type (credits add
// to a wallet, debits, refunds and fees subtract). Writes go through Batch,
// which enforces that payment-processor movements net to zero across the
// wallets they touch.
package entry

import (
	"errors"
	"fmt"

	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/types"
)

// EntryType classifies the direction and nature of a ledger entry.
type EntryType string

const (
	TypeCredit EntryType = "credit"
	TypeDebit  EntryType = "debit"
	TypeRefund EntryType = "refund"
	TypeFee    EntryType = "fee"
)

// Source identifies what produced an entry. The set is open: storage treats
// it as an opaque string so deployments can add their own sources.
type Source string

const (
	SourcePaymentProcessor Source = "payment_processor"
	SourceManual           Source = "manual"
)

// Entry is one atomic, append-only movement tied to a transaction.
type Entry struct {
	types.Entity
	ID               id.EntryID       `json:"id"`
	UserID           string           `json:"user_id,omitempty"`
	AppID            string           `json:"app_id,omitempty"`
	WalletID         id.WalletID      `json:"wallet_id"`
	TransactionID    id.TransactionID `json:"transaction_id"`
	ProviderIntentID string           `json:"provider_intent_id,omitempty"`
	Type             EntryType        `json:"type"`
	Source           Source           `json:"source"`
	Reason           string           `json:"reason,omitempty"`
	Amount           types.Money      `json:"amount"` // non-negative; sign derived from Type
}

// Signed returns the signed minor-unit value of the entry: positive for
// credits, negative for debits, refunds and fees.
func (e Entry) Signed() int64 {
	if e.Type == TypeCredit {
		return e.Amount.Amount
	}
	return -e.Amount.Amount
}

// Sum returns the signed sum of the given entries in minor units.
func Sum(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Signed()
	}
	return total
}

// Validation errors for batch construction.
var (
	ErrEmptyBatch     = errors.New("entry: empty batch")
	ErrUnbalanced     = errors.New("entry: payment-processor batch does not net to zero")
	ErrNegativeAmount = errors.New("entry: negative amount")
	ErrMissingWallet  = errors.New("entry: missing wallet reference")
)

// Batch is the unit of ledger writing. A batch is inserted atomically with
// its wallet balance deltas by the store.
type Batch struct {
	entries []Entry
}

// NewBatch validates and wraps a set of entries for writing.
//
// Every entry must reference a wallet and carry a non-negative amount.
// Entries from SourcePaymentProcessor must net to zero across the batch:
// a payment that credits a beneficiary must carry the offsetting debit or
// fee entries in the same batch. Manual entries are exempt — operational
// corrections are single-sided by nature and are surfaced by wallet
// reconciliation instead.
func NewBatch(entries []Entry) (*Batch, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}

	var processorNet int64
	for i := range entries {
		e := &entries[i]
		if e.WalletID.IsNil() {
			return nil, fmt.Errorf("%w: entry %d", ErrMissingWallet, i)
		}
		if e.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: entry %d", ErrNegativeAmount, i)
		}
		if e.ID.IsNil() {
			e.ID = id.NewEntryID()
		}
		if e.Entity.CreatedAt.IsZero() {
			e.Entity = types.NewEntity()
		}
		if e.Source == SourcePaymentProcessor {
			processorNet += e.Signed()
		}
	}

	if processorNet != 0 {
		return nil, fmt.Errorf("%w: net %d", ErrUnbalanced, processorNet)
	}

	return &Batch{entries: entries}, nil
}

// Entries returns the validated entries of the batch.
func (b *Batch) Entries() []Entry { return b.entries }

// ListOpts filters entry listings.
type ListOpts struct {
	Type   EntryType
	Limit  int
	Offset int
}

// WalletDeltas returns the signed balance change per wallet for the batch.
func (b *Batch) WalletDeltas() map[id.WalletID]int64 {
	deltas := make(map[id.WalletID]int64)
	for _, e := range b.entries {
		deltas[e.WalletID] += e.Signed()
	}
	return deltas
}
