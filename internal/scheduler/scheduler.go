package scheduler

import (
	"fmt"
	"time"

	"carbon-ledger-backend/internal/jobs"
	"carbon-ledger-backend/internal/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs *jobs.JobRunner
}

// NewScheduler creates a new scheduler with the provided job runner. It fails
// when any configured schedule does not parse.
func NewScheduler(jobRunner *jobs.JobRunner) (*Scheduler, error) {
	// Create cron with UTC timezone and seconds precision. SkipIfStillRunning
	// keeps a slow run from overlapping the next tick of the same job.
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobRunner,
	}

	if err := s.registerJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

// registerJobs registers all scheduled jobs with the cron scheduler
func (s *Scheduler) registerJobs() error {
	cfg := s.jobs.Config().Scheduler

	entries := []struct {
		name     string
		schedule string
		fn       func()
	}{
		{"ExpireStalePayments", cfg.ExpireStalePayments, s.jobs.ExpireStalePayments},
		{"ResumeSettlements", cfg.ResumeSettlements, s.jobs.ResumeSettlements},
		{"RefreshComplianceStatuses", cfg.RefreshComplianceStatuses, s.jobs.RefreshComplianceStatuses},
		{"AuditLedger", cfg.AuditLedger, s.jobs.AuditLedger},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, e.fn); err != nil {
			logger.Error("Failed to register job", "job", e.name, "schedule", e.schedule, "error", err)
			return fmt.Errorf("register %s: %w", e.name, err)
		}
		logger.Debug("Registered job", "job", e.name, "schedule", e.schedule)
	}

	logger.Info("All cron jobs registered successfully", "count", len(entries))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logger.Info("Starting cron scheduler...")
	s.cron.Start()
	logger.Info("Cron scheduler started successfully")
}

// Stop gracefully stops the cron scheduler, waiting for running jobs
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Cron scheduler stopped")
}

// Entries returns how many jobs are scheduled
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
