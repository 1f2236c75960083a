package store

import (
	"context"
	"time"

	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/event"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/wallet"
)

// Store is the unified storage interface for all Treasury entities.
// Instead of embedding sub-interfaces, all methods are declared explicitly
// to avoid naming conflicts.
type Store interface {
	// Transaction methods
	CreateTransaction(ctx context.Context, txn *transaction.Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error)
	GetTransactionByIntent(ctx context.Context, providerIntentID string) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// UpdateStatus moves a transaction from one of the allowed statuses to
	// the target status, applying fields in the same write. It returns
	// treasury.ErrStatusConflict when the current status is not in from,
	// so concurrent writers cannot double-apply a transition.
	UpdateStatus(ctx context.Context, txnID id.TransactionID, from []transaction.Status, to transaction.Status, fields transaction.StatusFields) error

	// ClaimRefundPending atomically leases up to limit refund_pending
	// transactions to claimant until deadline. A transaction already leased
	// by a live claimant is skipped.
	ClaimRefundPending(ctx context.Context, claimant string, limit int, deadline time.Time) ([]*transaction.Transaction, error)
	CountByStatus(ctx context.Context, status transaction.Status) (int64, error)

	// Entry methods. RecordBatch persists a balanced batch and applies its
	// wallet deltas in the same logical write.
	RecordBatch(ctx context.Context, batch *entry.Batch) error
	ListEntriesByWallet(ctx context.Context, walletID id.WalletID, opts entry.ListOpts) ([]*entry.Entry, error)
	ListEntriesByTransaction(ctx context.Context, txnID id.TransactionID) ([]*entry.Entry, error)
	SumByWallet(ctx context.Context, walletID id.WalletID) (int64, int64, error)

	// Wallet methods
	CreateWallet(ctx context.Context, w *wallet.Wallet) error
	GetWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error)
	GetWalletByOwner(ctx context.Context, userID, appID string) (*wallet.Wallet, error)

	// Event methods. InsertEvents swallows duplicate event IDs and reports
	// how many documents were actually inserted.
	InsertEvents(ctx context.Context, docs []*event.Document) (int, error)
	GetEvent(ctx context.Context, eventID string) (*event.Document, error)
	ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Document, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
