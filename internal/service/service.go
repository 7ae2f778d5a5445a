package service

import (
	"context"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/repository"

	"github.com/shopspring/decimal"
)

// LedgerStore is the only component allowed to change a balance. Every method
// commits balances and entries together or not at all.
type LedgerStore interface {
	Issue(ctx context.Context, accountID int32, amount int64, meta EntryMeta) (*domain.LedgerEntry, error)
	Lock(ctx context.Context, accountID int32, amount int64, meta EntryMeta) (*domain.LedgerEntry, error)
	Unlock(ctx context.Context, accountID int32, amount int64, meta EntryMeta) (*domain.LedgerEntry, error)
	Transfer(ctx context.Context, req TransferRequest) ([]domain.LedgerEntry, error)
	Retire(ctx context.Context, accountID int32, amount int64, fromLocked bool, meta EntryMeta) (*domain.LedgerEntry, error)
	// Post applies postings in order and commits them with extras in one unit.
	Post(ctx context.Context, postings []Posting, extras *Extras) ([]domain.LedgerEntry, error)
	// Replay rebuilds an account's balances from its entries alone.
	Replay(ctx context.Context, accountID int32) (*domain.CreditAccount, error)
	// Verify fails when Replay disagrees with the stored balances.
	Verify(ctx context.Context, accountID int32) error
}

type UserService interface {
	GetUser(ctx context.Context, userID int32) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	// RegisterUser records a user synced from the identity service and opens its account.
	RegisterUser(ctx context.Context, user *domain.User) (*domain.User, error)
}

type AccountService interface {
	EnsureAccount(ctx context.Context, userID int32) (*domain.CreditAccount, error)
	GetBalances(ctx context.Context, userID int32) (*domain.CreditAccount, error)
	TransferToUser(ctx context.Context, senderID, recipientID int32, amount int64, note string) ([]domain.LedgerEntry, error)
	RetireCredits(ctx context.Context, userID int32, req RetireRequest) (*domain.Retirement, error)
	// IssueDemoCredits mints credits for a seller and records the issuance with its entry.
	IssueDemoCredits(ctx context.Context, userID int32, req IssueRequest) (*domain.Issuance, error)
	ListIssuances(ctx context.Context, userID int32) ([]domain.Issuance, error)
	ListEntries(ctx context.Context, userID int32, page, pageSize int32) ([]domain.LedgerEntry, int32, error)
	ListRetirements(ctx context.Context, userID int32) ([]domain.Retirement, error)
	GetRetirement(ctx context.Context, userID int32, id string) (*domain.Retirement, error)
}

type MarketplaceService interface {
	CreateListing(ctx context.Context, sellerID int32, in ListingInput) (*domain.Listing, error)
	GetListing(ctx context.Context, id int32) (*domain.Listing, error)
	ListListings(ctx context.Context, filter repository.ListingFilter) ([]domain.Listing, int32, error)
	DeactivateListing(ctx context.Context, sellerID, id int32) (*domain.Listing, error)

	OpenTransaction(ctx context.Context, buyerID, listingID int32, quantity int64) (*domain.Transaction, error)
	ConfirmPayment(ctx context.Context, txnID string) (*domain.Transaction, error)
	FailPayment(ctx context.Context, txnID, reason string) (*domain.Transaction, error)
	CancelTransaction(ctx context.Context, actorID int32, txnID string) (*domain.Transaction, error)
	RefundTransaction(ctx context.Context, txnID string) (*domain.Transaction, error)
	ExpireTransaction(ctx context.Context, txnID string) (*domain.Transaction, error)
	ResumeSettlement(ctx context.Context, txnID string) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, userID int32, txnID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]domain.Transaction, int32, error)
	Summary(ctx context.Context, userID int32) (*TradeSummary, error)
	// MarketStats reports volume and prices over the trades completed in the last days.
	MarketStats(ctx context.Context, days int) (*MarketStats, error)
}

type ComplianceService interface {
	CreateRecord(ctx context.Context, userID int32, in ComplianceInput) (*domain.ComplianceRecord, error)
	SubmitData(ctx context.Context, userID, recordID int32, emissions, production decimal.Decimal) (*domain.ComplianceRecord, error)
	SurrenderCredits(ctx context.Context, userID, recordID int32, amount int64) (*domain.ComplianceRecord, error)
	VerifyRecord(ctx context.Context, recordID int32) (*domain.ComplianceRecord, error)
	// RefreshStatuses re-derives status and penalty of every unverified record
	// and returns how many changed.
	RefreshStatuses(ctx context.Context) (int, error)
	// Reconcile checks credits_surrendered against the surrender entries posted for the record.
	Reconcile(ctx context.Context, recordID int32) error
	Summary(ctx context.Context, userID int32) (*ComplianceSummary, error)
	ListRecords(ctx context.Context, userID int32) ([]domain.ComplianceRecord, error)
	GetRecord(ctx context.Context, userID, recordID int32) (*domain.ComplianceRecord, error)
	SectorTargets() []domain.SectorTarget
}

type MatchingService interface {
	FindMatches(ctx context.Context, buyerID int32, req MatchRequest, limit int) ([]Match, error)
}
