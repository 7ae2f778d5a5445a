package jobs

import (
	"context"
	"fmt"

	"carbon-ledger-backend/internal/logger"
)

// RefreshComplianceStatuses re-derives at-risk and non-compliant statuses as
// deadlines approach and assesses penalties once they pass.
func (jr *JobRunner) RefreshComplianceStatuses() {
	_ = jr.runWithRecovery("RefreshComplianceStatuses", jr.refreshComplianceStatuses)
}

func (jr *JobRunner) refreshComplianceStatuses(ctx context.Context) error {
	changed, err := jr.services.Compliance.RefreshStatuses(ctx)
	if err != nil {
		return fmt.Errorf("refresh compliance statuses: %w", err)
	}
	logger.InfoContext(ctx, "Refreshed compliance statuses", "changed", changed)
	return nil
}

// AuditLedger replays every account's entries and flags accounts whose stored
// balances disagree with their history.
func (jr *JobRunner) AuditLedger() {
	_ = jr.runWithRecovery("AuditLedger", jr.auditLedger)
}

func (jr *JobRunner) auditLedger(ctx context.Context) error {
	ids, err := jr.accountRepo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var mismatched []int32
	for _, id := range ids {
		if err := jr.services.Ledger.Verify(ctx, id); err != nil {
			logger.ErrorContext(ctx, "Ledger audit mismatch", "accountID", id, "error", err)
			mismatched = append(mismatched, id)
		}
	}

	logger.InfoContext(ctx, "Ledger audit finished", "accounts", len(ids), "mismatched", len(mismatched))
	if len(mismatched) > 0 {
		return fmt.Errorf("ledger audit: %d accounts disagree with their entries: %v", len(mismatched), mismatched)
	}
	return nil
}
