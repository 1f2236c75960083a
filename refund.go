package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/treasury/id"
	"github.com/xraph/treasury/provider"
	"github.com/xraph/treasury/transaction"
)

// RequestRefund marks a succeeded transaction for refunding. The refund
// worker picks it up on its next pass. A transaction with no provider
// intent can never be refunded remotely and fails immediately without
// consuming any attempts.
func (c *Core) RequestRefund(ctx context.Context, txnID id.TransactionID, reason string) error {
	txn, err := c.store.GetTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	if txn.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalStatus, txn.Status)
	}
	if txn.Status != transaction.StatusSucceeded {
		return fmt.Errorf("%w: status %s", ErrNotRefundable, txn.Status)
	}

	if txn.ProviderIntentID == "" {
		msg := "no provider intent recorded"
		if err := c.transition(ctx, txn,
			[]transaction.Status{transaction.StatusSucceeded},
			transaction.StatusRefundFailed,
			transaction.StatusFields{LastError: &msg}); err != nil {
			return err
		}
		c.plugins.EmitRefundFailed(ctx, "", txn, msg)
		return fmt.Errorf("%w: %s", ErrMissingIntent, txnID)
	}

	reasonField := reason
	return c.transition(ctx, txn,
		[]transaction.Status{transaction.StatusSucceeded},
		transaction.StatusRefundPending,
		transaction.StatusFields{LastError: &reasonField})
}

// refundWorker periodically drains the refund backlog until Stop.
func (c *Core) refundWorker(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.refundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunRefundPass(ctx); err != nil {
				c.logger.Error("refund pass failed", "error", err)
			}
		}
	}
}

// RunRefundPass claims a batch of pending refunds and processes each one
// to completion. One bad transaction never blocks the rest of the batch.
// Exported so operators can trigger a pass outside the worker schedule.
func (c *Core) RunRefundPass(ctx context.Context) error {
	runID := uuid.NewString()
	deadline := time.Now().UTC().Add(c.refundClaimTTL)

	claimed, err := c.store.ClaimRefundPending(ctx, runID, c.refundBatchSize, deadline)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	logger := c.logger.With("run_id", runID)
	logger.Info("processing refund backlog", "claimed", len(claimed))

	var errs MultiError
	for _, txn := range claimed {
		if err := c.processRefund(ctx, logger, runID, txn); err != nil {
			logger.Error("refund processing failed",
				"transaction_id", txn.ID,
				"error", err,
			)
			errs.Add(err)
		}
	}

	if remaining, err := c.store.CountByStatus(ctx, transaction.StatusRefundPending); err == nil {
		logger.Info("refund pass complete", "remaining_pending", remaining)
		c.plugins.EmitRefundPassCompleted(ctx, runID, len(claimed), int(remaining))
	} else {
		logger.Warn("refund backlog count failed", "error", err)
	}
	return errs.First()
}

// maxRefundAttempts caps lifetime attempts per transaction, across passes.
func (c *Core) maxRefundAttempts() int { return len(c.refundBackoff) }

// processRefund drives one claimed transaction through the provider. Each
// attempt is persisted before moving on, so a crash mid-pass resumes at
// the recorded attempt count instead of restarting from zero.
func (c *Core) processRefund(ctx context.Context, logger *slog.Logger, runID string, txn *transaction.Transaction) error {
	if txn.ProviderIntentID == "" {
		return c.abandonRefund(ctx, runID, txn, "no provider intent recorded")
	}

	maxAttempts := c.maxRefundAttempts()
	for txn.RefundAttempts < maxAttempts {
		attempt := txn.RefundAttempts + 1
		c.plugins.EmitRefundAttempt(ctx, runID, txn, attempt)

		_, err := c.provider.Refund(ctx, provider.RefundRequest{
			IntentID:      txn.ProviderIntentID,
			CorrelationID: txn.ID.String(),
		})
		if err == nil {
			return c.completeRefund(ctx, runID, txn, attempt)
		}

		txn.RefundAttempts = attempt
		txn.LastError = err.Error()
		logger.Warn("refund attempt failed",
			"transaction_id", txn.ID,
			"attempt", attempt,
			"error", err,
		)

		if !provider.IsRetryable(err) {
			return c.abandonRefund(ctx, runID, txn, err.Error())
		}
		if attempt >= maxAttempts {
			break
		}
		if !c.sleep(ctx, c.refundBackoff[attempt-1]) {
			return c.persistAttempts(ctx, txn)
		}
	}

	return c.abandonRefund(ctx, runID, txn, txn.LastError)
}

// completeRefund marks a refund done and writes the reversal entries.
func (c *Core) completeRefund(ctx context.Context, runID string, txn *transaction.Transaction, attempts int) error {
	if err := c.transition(ctx, txn,
		[]transaction.Status{transaction.StatusRefundPending},
		transaction.StatusRefunded,
		transaction.StatusFields{RefundAttempts: &attempts}); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			// Webhook reconciliation got there first.
			return nil
		}
		return err
	}
	if !txn.Amount.IsZero() {
		if err := c.recordRefundEntries(ctx, txn); err != nil {
			// Back to refund_pending so a later pass retries; the provider
			// call is keyed by transaction id, so re-requesting an already
			// completed refund is a no-op at the provider.
			c.revertTransition(ctx, txn, transaction.StatusRefundPending, err)
			return err
		}
	}
	c.plugins.EmitRefundSucceeded(ctx, runID, txn)
	return nil
}

// abandonRefund moves a transaction to refund_failed permanently.
func (c *Core) abandonRefund(ctx context.Context, runID string, txn *transaction.Transaction, reason string) error {
	attempts := txn.RefundAttempts
	if err := c.transition(ctx, txn,
		[]transaction.Status{transaction.StatusRefundPending},
		transaction.StatusRefundFailed,
		transaction.StatusFields{RefundAttempts: &attempts, LastError: &reason}); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil
		}
		return err
	}
	c.plugins.EmitRefundFailed(ctx, runID, txn, reason)
	return nil
}

// persistAttempts records progress for a refund interrupted by shutdown.
// The transaction stays refund_pending and a later pass resumes it.
func (c *Core) persistAttempts(ctx context.Context, txn *transaction.Transaction) error {
	attempts := txn.RefundAttempts
	lastErr := txn.LastError
	err := c.store.UpdateStatus(ctx, txn.ID,
		[]transaction.Status{transaction.StatusRefundPending},
		transaction.StatusRefundPending,
		transaction.StatusFields{RefundAttempts: &attempts, LastError: &lastErr})
	if errors.Is(err, ErrStatusConflict) {
		return nil
	}
	return err
}

// sleep waits for d unless the engine stops or ctx is canceled. Returns
// false when interrupted. Tests swap sleepFn to observe the schedule.
func (c *Core) sleep(ctx context.Context, d time.Duration) bool {
	if c.sleepFn != nil {
		return c.sleepFn(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}
