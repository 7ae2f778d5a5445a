package jobs

import (
	"context"
	"fmt"
	"time"

	"carbon-ledger-backend/internal/config"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/metrics"
	"carbon-ledger-backend/internal/repository"
	"carbon-ledger-backend/internal/service"
)

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	txnRepo     repository.TransactionRepository
	accountRepo repository.AccountRepository
	services    *Services
	config      *config.Config
	now         func() time.Time
}

// Services holds all service dependencies needed by jobs
type Services struct {
	Ledger      service.LedgerStore
	Marketplace service.MarketplaceService
	Compliance  service.ComplianceService
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(txnRepo repository.TransactionRepository, accountRepo repository.AccountRepository, services *Services, cfg *config.Config) *JobRunner {
	return &JobRunner{
		txnRepo:     txnRepo,
		accountRepo: accountRepo,
		services:    services,
		config:      cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery and records the outcome
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.JobRuns.WithLabelValues(jobName, outcome).Inc()
	}()

	logger.Info("Starting job", "job", jobName)
	ctx := logger.NewContext(context.Background(), "job", jobName)
	if err = jobFunc(ctx); err != nil {
		logger.Error("Job failed", "job", jobName, "error", err, "duration", time.Since(start))
		return err
	}
	logger.Info("Job completed", "job", jobName, "duration", time.Since(start))
	return nil
}

// RunAll runs every job once in dependency order (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ExpireStalePayments()
	jr.ResumeSettlements()
	jr.RefreshComplianceStatuses()
	jr.AuditLedger()
}
