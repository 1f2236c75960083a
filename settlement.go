package treasury

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/treasury/entry"
	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/settlement"
	"github.com/xraph/treasury/transaction"
	"github.com/xraph/treasury/types"
	"github.com/xraph/treasury/wallet"
)

// ValidateSettlement checks a settlement request without executing it.
// Failures are typed settlement.ValidationError values with stable codes,
// so API layers can map them to client-facing responses directly.
func (c *Core) ValidateSettlement(req settlement.Request) error {
	dest := strings.TrimSpace(req.DestinationAccountID)
	if dest == "" {
		return &settlement.ValidationError{
			Code:    settlement.CodeMissingDestinationAccount,
			Message: "destination account id is required",
		}
	}
	if !strings.HasPrefix(dest, c.destPrefix) {
		return &settlement.ValidationError{
			Code:    settlement.CodeInvalidDestinationAccountFormat,
			Message: fmt.Sprintf("destination account id must start with %q", c.destPrefix),
		}
	}
	if !req.Amount.IsPositive() {
		return &settlement.ValidationError{
			Code:    settlement.CodeInvalidAmount,
			Message: "settlement amount must be positive",
		}
	}
	return nil
}

// ProcessSettlement pays out to a destination account. Validation runs
// before any money moves; an invalid request creates no transaction.
//
// Provider failures are recorded verbatim on the transaction but returned
// to the caller as ErrSettlementFailed only: upstream error text routinely
// carries account identifiers that must not leak through the API surface.
func (c *Core) ProcessSettlement(ctx context.Context, req settlement.Request) (*settlement.Result, error) {
	if err := c.ValidateSettlement(req); err != nil {
		return nil, err
	}

	txn := &transaction.Transaction{
		Entity: types.NewEntity(),
		ID:     id.NewTransactionID(),
		Type:   transaction.TypeSettlement,
		Status: transaction.StatusPending,
		Amount: req.Amount,
		AppID:  req.AppID,
		Metadata: transaction.Metadata{
			BeneficiaryID: req.DestinationAccountID,
		},
	}
	if err := c.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	c.plugins.EmitTransactionCreated(ctx, txn)

	start := time.Now()
	res, err := c.provider.Transfer(ctx, provider.TransferRequest{
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		CorrelationID:        txn.ID.String(),
	})
	elapsed := time.Since(start)
	if err != nil {
		detail := err.Error()
		if terr := c.transition(ctx, txn,
			[]transaction.Status{transaction.StatusPending},
			transaction.StatusFailed,
			transaction.StatusFields{LastError: &detail}); terr != nil {
			c.logger.Error("settlement failure not recorded",
				"transaction_id", txn.ID, "error", terr)
		}
		c.logger.Error("settlement transfer failed",
			"transaction_id", txn.ID,
			"correlation_id", req.CorrelationID,
			"duration", elapsed,
			"error", err,
		)
		c.plugins.EmitSettlementFailed(ctx, txn.ID.String(), elapsed, detail)
		return nil, fmt.Errorf("%w: transaction %s", ErrSettlementFailed, txn.ID)
	}

	if err := c.transition(ctx, txn,
		[]transaction.Status{transaction.StatusPending},
		transaction.StatusSucceeded,
		transaction.StatusFields{ProviderIntentID: res.TransferID}); err != nil {
		return nil, err
	}
	txn.ProviderIntentID = res.TransferID

	if err := c.recordSettlementEntries(ctx, req, txn); err != nil {
		return nil, err
	}

	result := &settlement.Result{
		TransactionID: txn.ID.String(),
		TransferID:    res.TransferID,
		Amount:        req.Amount,
		CorrelationID: req.CorrelationID,
	}
	c.plugins.EmitSettlementProcessed(ctx, result, elapsed)

	c.logger.Info("settlement processed",
		"transaction_id", txn.ID,
		"transfer_id", res.TransferID,
		"amount", req.Amount,
		"duration", elapsed,
	)
	return result, nil
}

// recordSettlementEntries debits the paying wallet and parks the amount in
// clearing until the processor confirms the payout landed.
func (c *Core) recordSettlementEntries(ctx context.Context, req settlement.Request, txn *transaction.Transaction) error {
	owner := req.AppID
	if owner == "" {
		owner = req.DestinationAccountID
	}
	w, err := c.ensureWallet(ctx, owner, req.AppID)
	if err != nil {
		return err
	}

	entries := []entry.Entry{
		{
			UserID:           w.UserID,
			AppID:            req.AppID,
			WalletID:         w.ID,
			TransactionID:    txn.ID,
			ProviderIntentID: txn.ProviderIntentID,
			Type:             entry.TypeDebit,
			Source:           entry.SourcePaymentProcessor,
			Reason:           "settlement payout",
			Amount:           req.Amount,
		},
		{
			UserID:        wallet.OwnerClearing,
			WalletID:      c.clearingWallet,
			TransactionID: txn.ID,
			Type:          entry.TypeCredit,
			Source:        entry.SourcePaymentProcessor,
			Reason:        "settlement clearing",
			Amount:        req.Amount,
		},
	}
	return c.recordBatch(ctx, entries)
}
