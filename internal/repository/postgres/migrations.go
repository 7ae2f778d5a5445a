package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"carbon-ledger-backend/internal/logger"
)

// Migrations returns the schema statements in the order they must run.
// Every statement is idempotent so Migrate can run on each start-up.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id           SERIAL PRIMARY KEY,
			email        TEXT NOT NULL,
			company_name TEXT NOT NULL DEFAULT '',
			user_type    TEXT NOT NULL CHECK (user_type IN ('buyer', 'seller', 'regulator')),
			created_on   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (LOWER(email))`,

		// Materialised balances; the ledger_entries log is authoritative.
		`CREATE TABLE IF NOT EXISTS credit_accounts (
			id                SERIAL PRIMARY KEY,
			user_id           INTEGER NOT NULL UNIQUE REFERENCES users(id),
			total_balance     BIGINT NOT NULL DEFAULT 0 CHECK (total_balance >= 0),
			available_balance BIGINT NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
			locked_balance    BIGINT NOT NULL DEFAULT 0 CHECK (locked_balance >= 0),
			retired_balance   BIGINT NOT NULL DEFAULT 0 CHECK (retired_balance >= 0),
			version           BIGINT NOT NULL DEFAULT 0,
			created_on        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_on        TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT credit_accounts_balanced CHECK (total_balance = available_balance + locked_balance + retired_balance)
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id              BIGSERIAL PRIMARY KEY,
			account_id      INTEGER NOT NULL REFERENCES credit_accounts(id),
			entry_type      TEXT NOT NULL,
			amount          BIGINT NOT NULL,
			available_delta BIGINT NOT NULL DEFAULT 0,
			locked_delta    BIGINT NOT NULL DEFAULT 0,
			retired_delta   BIGINT NOT NULL DEFAULT 0,
			balance_before  BIGINT NOT NULL,
			balance_after   BIGINT NOT NULL,
			reference_type  TEXT NOT NULL DEFAULT '',
			reference_id    TEXT NOT NULL DEFAULT '',
			description     TEXT NOT NULL DEFAULT '',
			created_on      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (account_id, id)`,
		`CREATE INDEX IF NOT EXISTS ledger_entries_reference_idx ON ledger_entries (reference_type, reference_id)`,
		// one lock, unlock, sale and purchase per account per trade: settlement cannot double-post
		`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_trade_once ON ledger_entries (account_id, entry_type, reference_id)
			WHERE reference_type = 'transaction'`,

		`CREATE TABLE IF NOT EXISTS listings (
			id                  SERIAL PRIMARY KEY,
			seller_id           INTEGER NOT NULL REFERENCES users(id),
			quantity            BIGINT NOT NULL CHECK (quantity > 0),
			available_quantity  BIGINT NOT NULL,
			price_per_credit    NUMERIC(18, 2) NOT NULL CHECK (price_per_credit > 0),
			vintage             INTEGER NOT NULL,
			project_type        TEXT NOT NULL,
			verification_status TEXT NOT NULL DEFAULT 'verified',
			description         TEXT NOT NULL DEFAULT '',
			is_active           BOOLEAN NOT NULL DEFAULT TRUE,
			closed_on           TIMESTAMPTZ,
			created_on          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_on          TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT listings_available_range CHECK (available_quantity BETWEEN 0 AND quantity)
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id                     TEXT PRIMARY KEY,
			transaction_number     TEXT NOT NULL UNIQUE,
			buyer_id               INTEGER NOT NULL REFERENCES users(id),
			seller_id              INTEGER NOT NULL REFERENCES users(id),
			listing_id             INTEGER NOT NULL REFERENCES listings(id),
			quantity               BIGINT NOT NULL CHECK (quantity > 0),
			price_per_credit       NUMERIC(18, 2) NOT NULL,
			total_amount           NUMERIC(18, 2) NOT NULL,
			platform_fee           NUMERIC(18, 2) NOT NULL,
			gst_amount             NUMERIC(18, 2) NOT NULL,
			status                 TEXT NOT NULL,
			failure_reason         TEXT NOT NULL DEFAULT '',
			created_on             TIMESTAMPTZ NOT NULL,
			payment_completed_on   TIMESTAMPTZ,
			credits_transferred_on TIMESTAMPTZ,
			completed_on           TIMESTAMPTZ,
			cancelled_on           TIMESTAMPTZ,
			updated_on             TIMESTAMPTZ NOT NULL,
			CONSTRAINT transactions_no_self_trade CHECK (buyer_id <> seller_id)
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions (status, updated_on)`,

		`CREATE TABLE IF NOT EXISTS retirements (
			id                   TEXT PRIMARY KEY,
			retirement_number    TEXT NOT NULL UNIQUE,
			user_id              INTEGER NOT NULL REFERENCES users(id),
			account_id           INTEGER NOT NULL REFERENCES credit_accounts(id),
			amount               BIGINT NOT NULL CHECK (amount > 0),
			purpose              TEXT NOT NULL,
			compliance_period    TEXT NOT NULL DEFAULT '',
			compliance_record_id INTEGER,
			beneficiary          TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL,
			retired_on           TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS issuances (
			id              TEXT PRIMARY KEY,
			issuance_number TEXT NOT NULL UNIQUE,
			user_id         INTEGER NOT NULL REFERENCES users(id),
			account_id      INTEGER NOT NULL REFERENCES credit_accounts(id),
			amount          BIGINT NOT NULL CHECK (amount > 0),
			issuer          TEXT NOT NULL,
			project_type    TEXT NOT NULL DEFAULT '',
			vintage         INTEGER NOT NULL DEFAULT 0,
			methodology     TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			issued_on       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS issuances_user_idx ON issuances (user_id, issued_on)`,
		`CREATE INDEX IF NOT EXISTS transactions_completed_idx ON transactions (completed_on) WHERE status = 'completed'`,

		`CREATE TABLE IF NOT EXISTS compliance_records (
			id                  SERIAL PRIMARY KEY,
			user_id             INTEGER NOT NULL REFERENCES users(id),
			compliance_period   TEXT NOT NULL,
			sector              TEXT NOT NULL,
			target_intensity    NUMERIC(18, 6) NOT NULL,
			baseline_intensity  NUMERIC(18, 6) NOT NULL,
			actual_emissions    NUMERIC(20, 4) NOT NULL DEFAULT 0,
			actual_production   NUMERIC(20, 4) NOT NULL DEFAULT 0,
			actual_intensity    NUMERIC(18, 6) NOT NULL DEFAULT 0,
			credits_required    BIGINT NOT NULL DEFAULT 0,
			credits_earned      BIGINT NOT NULL DEFAULT 0,
			credits_surrendered BIGINT NOT NULL DEFAULT 0,
			credits_shortfall   BIGINT NOT NULL DEFAULT 0,
			status              TEXT NOT NULL,
			penalty_amount      NUMERIC(18, 2) NOT NULL DEFAULT 0,
			penalty_assessed_on TIMESTAMPTZ,
			deadline            TIMESTAMPTZ NOT NULL,
			submitted_on        TIMESTAMPTZ,
			verified_on         TIMESTAMPTZ,
			version             BIGINT NOT NULL DEFAULT 1,
			created_on          TIMESTAMPTZ NOT NULL,
			updated_on          TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, compliance_period)
		)`,
	}
}

// Migrate applies Migrations in order.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Migrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	logger.Info("Database schema up to date", "statements", len(Migrations()))
	return nil
}
