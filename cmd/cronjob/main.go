package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"carbon-ledger-backend/internal/app"
	"carbon-ledger-backend/internal/config"
	"carbon-ledger-backend/internal/jobs"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/scheduler"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'expire-stale-payments', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Carbon Ledger Cronjob Runner...", "log_level", cfg.Log.Level)

	if cfg.Database.Driver == "memory" {
		// jobs would run against an empty private store
		log.Fatalf("The cronjob runner needs a shared database; driver %q is not supported", cfg.Database.Driver)
	}

	ledger, err := app.Open(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer ledger.Close()

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(ledger.Repos.Transactions, ledger.Repos.Accounts, &jobs.Services{
		Ledger:      ledger.Ledger,
		Marketplace: ledger.Marketplace,
		Compliance:  ledger.Compliance,
	}, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if !runJobOnce(jobRunner, *runOnce) {
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once; false means the name is unknown
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) bool {
	switch jobName {
	case "expire-stale-payments":
		jobRunner.ExpireStalePayments()
	case "resume-settlements":
		jobRunner.ResumeSettlements()
	case "refresh-compliance-statuses":
		jobRunner.RefreshComplianceStatuses()
	case "audit-ledger":
		jobRunner.AuditLedger()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - expire-stale-payments\n")
		fmt.Printf("  - resume-settlements\n")
		fmt.Printf("  - refresh-compliance-statuses\n")
		fmt.Printf("  - audit-ledger\n")
		fmt.Printf("  - all\n")
		return false
	}
	return true
}
