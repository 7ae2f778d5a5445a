package jobs

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
)

// ExpireStalePayments cancels trades whose payment never arrived within the
// payment timeout and hands the locked credits back to the seller.
func (jr *JobRunner) ExpireStalePayments() {
	_ = jr.runWithRecovery("ExpireStalePayments", jr.expireStalePayments)
}

func (jr *JobRunner) expireStalePayments(ctx context.Context) error {
	cutoff := jr.now().Add(-jr.config.PaymentTimeout())
	stale, err := jr.txnRepo.ListByStatus(ctx, []domain.TransactionStatus{domain.TransactionStatusPaymentPending}, cutoff)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	expired, failed := 0, 0
	for _, txn := range stale {
		_, err := jr.services.Marketplace.ExpireTransaction(ctx, txn.ID)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrInvalidStateTransition):
			// paid or cancelled since it was listed
			logger.DebugContext(ctx, "Transaction moved on before expiry", "txnID", txn.ID)
		default:
			failed++
			logger.WarnContext(ctx, "Failed to expire transaction", "txnID", txn.ID, "error", err)
		}
	}

	logger.InfoContext(ctx, "Expired stale payments", "candidates", len(stale), "expired", expired, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d stale transactions could not be expired", failed, len(stale))
	}
	return nil
}

// ResumeSettlements drives paid trades stuck between payment and completion,
// e.g. after a crash mid-settlement.
func (jr *JobRunner) ResumeSettlements() {
	_ = jr.runWithRecovery("ResumeSettlements", jr.resumeSettlements)
}

func (jr *JobRunner) resumeSettlements(ctx context.Context) error {
	cutoff := jr.now().Add(-jr.config.SettlementRetryAfter())
	stuck, err := jr.txnRepo.ListByStatus(ctx, []domain.TransactionStatus{
		domain.TransactionStatusPaymentCompleted,
		domain.TransactionStatusCreditsTransferred,
	}, cutoff)
	if err != nil {
		return fmt.Errorf("list unsettled transactions: %w", err)
	}

	failed := 0
	for _, txn := range stuck {
		next, err := jr.services.Marketplace.ResumeSettlement(ctx, txn.ID)
		if err != nil {
			failed++
			logger.WarnContext(ctx, "Failed to resume settlement", "txnID", txn.ID, "error", err)
			continue
		}
		logger.DebugContext(ctx, "Settlement resumed", "txnID", txn.ID, "from", txn.Status, "to", next.Status)
	}

	logger.InfoContext(ctx, "Resumed settlements", "candidates", len(stuck), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d settlements could not be resumed", failed, len(stuck))
	}
	return nil
}
