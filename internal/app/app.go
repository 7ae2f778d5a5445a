// Package app wires configuration into a running ledger: storage, locks,
// cache, event publishing and every service. Both binaries build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carbon-ledger-backend/internal/cache"
	"carbon-ledger-backend/internal/config"
	"carbon-ledger-backend/internal/events"
	"carbon-ledger-backend/internal/lock"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
	"carbon-ledger-backend/internal/repository/memory"
	"carbon-ledger-backend/internal/repository/postgres"
	"carbon-ledger-backend/internal/service"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Repositories is the storage surface the services are built on.
type Repositories struct {
	Users        repository.UserRepository
	Accounts     repository.AccountRepository
	Ledger       repository.LedgerRepository
	Listings     repository.ListingRepository
	Transactions repository.TransactionRepository
	Retirements  repository.RetirementRepository
	Issuances    repository.IssuanceRepository
	Compliance   repository.ComplianceRepository
}

type App struct {
	Config *config.Config
	Repos  Repositories

	Ledger      service.LedgerStore
	Users       service.UserService
	Accounts    service.AccountService
	Marketplace service.MarketplaceService
	Compliance  service.ComplianceService
	Matching    service.MatchingService

	db        *sql.DB
	redis     *redis.Client
	publisher events.Publisher
}

// Open connects every configured backend and builds the services. Redis and
// Kafka are optional: without them balances are read from storage and events
// are dropped.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var balances cache.BalanceCache = cache.NoopBalanceCache{}
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		balances = cache.NewRedisBalanceCache(client, cfg.BalanceTTL())
		logger.Info("Balance cache enabled", "ttl", cfg.BalanceTTL())
	}

	a.publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		a.publisher = pub
		logger.Info("Event publishing enabled", "brokers", cfg.Kafka.Brokers)
	}

	a.buildServices(balances)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("Using in-memory storage; all data is lost on exit")
		store := memory.NewStore()
		a.Repos = Repositories{
			Users:        store.UserRepository,
			Accounts:     store.AccountRepository,
			Ledger:       store.LedgerRepository,
			Listings:     store.ListingRepository,
			Transactions: store.TransactionRepository,
			Retirements:  store.RetirementRepository,
			Issuances:    store.IssuanceRepository,
			Compliance:   store.ComplianceRepository,
		}
		return nil
	}

	logger.Debug("Connecting to database...", "connection_string", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	a.db = db
	store := postgres.NewStore(db, cfg.LockTimeout())
	a.Repos = Repositories{
		Users:        store.UserRepository,
		Accounts:     store.AccountRepository,
		Ledger:       store.LedgerRepository,
		Listings:     store.ListingRepository,
		Transactions: store.TransactionRepository,
		Retirements:  store.RetirementRepository,
		Issuances:    store.IssuanceRepository,
		Compliance:   store.ComplianceRepository,
	}
	return nil
}

func (a *App) buildServices(balances cache.BalanceCache) {
	cfg := a.Config
	r := a.Repos
	locker := lock.NewKeyedLocker(cfg.LockTimeout())

	a.Ledger = service.NewLedgerStore(r.Accounts, r.Ledger, locker, balances, a.publisher)
	a.Accounts = service.NewAccountService(r.Users, r.Accounts, r.Retirements, r.Issuances, r.Ledger, a.Ledger, balances)
	a.Users = service.NewUserService(r.Users, a.Accounts)
	a.Marketplace = service.NewMarketplaceService(r.Users, r.Listings, r.Transactions, r.Accounts, r.Ledger,
		a.Ledger, a.Accounts, locker, a.publisher, service.MarketplaceOptions{
			PlatformFeePercent: cfg.Marketplace.PlatformFeePercent,
			GSTPercent:         cfg.Marketplace.GSTPercent,
		})
	a.Compliance = service.NewComplianceService(r.Users, r.Compliance, r.Ledger,
		a.Ledger, a.Accounts, locker, a.publisher, service.ComplianceOptions{
			PenaltyRatePerCredit: cfg.Compliance.PenaltyRatePerCredit,
			WarningWindow:        cfg.WarningWindow(),
			DefaultDeadline:      cfg.DefaultDeadline(),
		})
	m := cfg.Matching
	a.Matching = service.NewMatchingService(r.Listings, service.WeightedPolicy{
		Price:        m.PriceWeight,
		Vintage:      m.VintageWeight,
		Verification: m.VerificationWeight,
		Coverage:     m.CoverageWeight,
		ProjectType:  m.ProjectTypeWeight,
	})
}

// Ready pings the backends whose loss stops the ledger. Redis is left out
// because balances fall back to storage.
func (a *App) Ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}

// Close releases every connection Open made.
func (a *App) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
