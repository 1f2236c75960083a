// Package treasury provides a double-entry ledger and settlement core for Go
// applications.
//
// Treasury is designed as a library, not a service. Import it directly into
// your Go application and give it a store. It provides:
//
//   - A double-entry ledger with per-wallet balance caching and drift
//     reconciliation
//   - Webhook-driven payment lifecycle with idempotent status transitions
//   - A bounded-retry refund worker with exponential backoff
//   - Provider-agnostic checkout, subscription, refund, and payout operations
//   - An append-only, schema-versioned economic event log for replay and
//     cross-service joins
//   - Typed settlement validation with machine-readable reason codes
//
// # Quick Start
//
// Create a treasury instance with your preferred store:
//
//	import (
//	    "github.com/xraph/treasury"
//	    "github.com/xraph/treasury/store/memory"
//	)
//
//	core := treasury.New(memory.New(),
//	    treasury.WithProvider(myProvider),
//	    treasury.WithPlatformFee(1000), // 10%
//	)
//
//	// Start the engine (migrates, creates system wallets, starts the
//	// refund worker).
//	if err := core.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer core.Stop()
//
// # Core Concepts
//
// Transactions track money movement through the payment provider. They are
// created pending and advance through webhook-applied transitions:
//
//	result, txn, err := core.CreateCheckout(ctx, provider.CheckoutRequest{...})
//
// Entries are the double-entry ledger rows. Every provider-sourced batch nets
// to zero across wallets; wallet balances are a cache over entries and can be
// reconciled at any time:
//
//	rec, err := core.ReconcileWallet(ctx, walletID)
//	if !rec.InBalance() {
//	    // cached balance drifted from the entry sum
//	}
//
// Refunds are requested once and driven to completion by a background worker
// with a bounded number of provider attempts:
//
//	err := core.RequestRefund(ctx, txnID, "customer request")
//
// Settlements pay an app's balance out to an external account, with typed
// validation errors the transport layer can map to response codes:
//
//	result, err := core.ProcessSettlement(ctx, settlement.Request{...})
//
// # Money
//
// All monetary calculations use integer arithmetic to avoid floating-point
// precision issues. The Money type represents amounts in the smallest
// currency unit (cents for USD, pence for GBP, etc). Decimal strings cross
// the boundary only through types.ParseMajor, which rounds half away from
// zero at the currency's exponent.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	lent_01h2xcejqtf2nbrexx3vqjhp41  // Ledger entry ID
//	wlt_01h455vb4pex5vsknk084sn02q   // Wallet ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package treasury
