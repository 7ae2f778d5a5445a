package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/events"
	"carbon-ledger-backend/internal/lock"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/metrics"
	"carbon-ledger-backend/internal/repository"
	"carbon-ledger-backend/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketplaceOptions carries the fee constants every trade is priced with.
type MarketplaceOptions struct {
	PlatformFeePercent decimal.Decimal
	GSTPercent         decimal.Decimal
}

type ListingInput struct {
	Quantity           int64                     `json:"quantity"`
	PricePerCredit     decimal.Decimal           `json:"price_per_credit"`
	Vintage            int32                     `json:"vintage"`
	ProjectType        string                    `json:"project_type"`
	VerificationStatus domain.VerificationStatus `json:"verification_status"`
	Description        string                    `json:"description"`
}

type TradeSummary struct {
	Purchases     int             `json:"purchases"`
	Sales         int             `json:"sales"`
	Open          int             `json:"open"`
	CreditsBought int64           `json:"credits_bought"`
	CreditsSold   int64           `json:"credits_sold"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	TotalEarned   decimal.Decimal `json:"total_earned"`
}

const minVintage = 2000

type marketplaceService struct {
	userRepo    repository.UserRepository
	listingRepo repository.ListingRepository
	txnRepo     repository.TransactionRepository
	accountRepo repository.AccountRepository
	ledgerRepo  repository.LedgerRepository
	ledger      LedgerStore
	accounts    AccountService
	locker      *lock.KeyedLocker
	publisher   events.Publisher
	opts        MarketplaceOptions
	now         func() time.Time
}

func NewMarketplaceService(
	userRepo repository.UserRepository,
	listingRepo repository.ListingRepository,
	txnRepo repository.TransactionRepository,
	accountRepo repository.AccountRepository,
	ledgerRepo repository.LedgerRepository,
	ledger LedgerStore,
	accounts AccountService,
	locker *lock.KeyedLocker,
	publisher events.Publisher,
	opts MarketplaceOptions,
) MarketplaceService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &marketplaceService{
		userRepo:    userRepo,
		listingRepo: listingRepo,
		txnRepo:     txnRepo,
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		ledger:      ledger,
		accounts:    accounts,
		locker:      locker,
		publisher:   publisher,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *marketplaceService) CreateListing(ctx context.Context, sellerID int32, in ListingInput) (*domain.Listing, error) {
	logger.EnterMethod("marketplaceService.CreateListing", "sellerID", sellerID, "quantity", in.Quantity)

	listing, err := s.createListing(ctx, sellerID, in)
	if err != nil {
		logger.ExitMethodWithError("marketplaceService.CreateListing", err, "sellerID", sellerID)
		return nil, err
	}

	logger.ExitMethod("marketplaceService.CreateListing", "sellerID", sellerID, "listingID", listing.ID)
	return listing, nil
}

func (s *marketplaceService) createListing(ctx context.Context, sellerID int32, in ListingInput) (*domain.Listing, error) {
	seller, err := s.userRepo.GetByID(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.UserType != domain.UserTypeSeller {
		return nil, domain.NewFieldError(domain.ErrForbidden, "user_type", "only sellers can list credits")
	}
	if in.Quantity <= 0 {
		return nil, domain.NewFieldError(domain.ErrInvalidAmount, "quantity", "quantity must be positive")
	}
	if !in.PricePerCredit.IsPositive() {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "price_per_credit", "price must be positive")
	}
	if in.Vintage < minVintage || int(in.Vintage) > s.now().Year() {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "vintage", "vintage %d is out of range", in.Vintage)
	}
	switch in.VerificationStatus {
	case "":
		in.VerificationStatus = domain.VerificationStatusPending
	case domain.VerificationStatusVerified, domain.VerificationStatusPending:
	default:
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "verification_status", "cannot list %s credits", in.VerificationStatus)
	}

	// The credits are only locked when a buyer commits, but a seller cannot
	// advertise more than they hold right now.
	acct, err := s.accounts.EnsureAccount(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if acct.AvailableBalance < in.Quantity {
		return nil, domain.NewFieldError(domain.ErrInsufficientBalance, "quantity",
			"%d credits available, cannot list %d", acct.AvailableBalance, in.Quantity)
	}

	listing := &domain.Listing{
		SellerID:           sellerID,
		Quantity:           in.Quantity,
		AvailableQuantity:  in.Quantity,
		PricePerCredit:     in.PricePerCredit,
		Vintage:            in.Vintage,
		ProjectType:        strings.TrimSpace(in.ProjectType),
		VerificationStatus: in.VerificationStatus,
		Description:        strings.TrimSpace(in.Description),
		IsActive:           true,
	}
	if err := s.listingRepo.Create(ctx, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

func (s *marketplaceService) GetListing(ctx context.Context, id int32) (*domain.Listing, error) {
	return s.listingRepo.GetByID(ctx, id)
}

func (s *marketplaceService) ListListings(ctx context.Context, filter repository.ListingFilter) ([]domain.Listing, int32, error) {
	return s.listingRepo.List(ctx, filter)
}

// DeactivateListing closes the listing under its lock, so it serialises with
// any trade committing against it; the store refuses later draws on it.
func (s *marketplaceService) DeactivateListing(ctx context.Context, sellerID, id int32) (*domain.Listing, error) {
	release, err := s.locker.Acquire(ctx, lock.ListingKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	listing, err := s.listingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != sellerID {
		return nil, domain.NewFieldError(domain.ErrForbidden, "listing_id", "listing %d belongs to another seller", id)
	}
	if listing.ClosedOn == nil {
		if err := s.listingRepo.Close(ctx, id, s.now()); err != nil {
			return nil, err
		}
		logger.Info("Listing closed", "listingID", id, "sellerID", sellerID, "unsold", listing.AvailableQuantity)
	}
	return s.listingRepo.GetByID(ctx, id)
}

func (s *marketplaceService) OpenTransaction(ctx context.Context, buyerID, listingID int32, quantity int64) (*domain.Transaction, error) {
	logger.EnterMethod("marketplaceService.OpenTransaction", "buyerID", buyerID, "listingID", listingID, "quantity", quantity)

	txn, err := s.openTransaction(ctx, buyerID, listingID, quantity)
	if err != nil {
		logger.ExitMethodWithError("marketplaceService.OpenTransaction", err, "buyerID", buyerID, "listingID", listingID)
		return nil, err
	}

	logger.ExitMethod("marketplaceService.OpenTransaction", "txnID", txn.ID, "number", txn.TransactionNumber)
	return txn, nil
}

func (s *marketplaceService) openTransaction(ctx context.Context, buyerID, listingID int32, quantity int64) (*domain.Transaction, error) {
	if quantity <= 0 {
		return nil, domain.NewFieldError(domain.ErrInvalidAmount, "quantity", "quantity must be positive")
	}
	listing, err := s.listingRepo.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, domain.NewFieldError(domain.ErrSelfTradeRejected, "listing_id", "cannot buy your own listing")
	}
	if listing.ClosedOn != nil {
		return nil, domain.NewFieldError(domain.ErrInvalidState, "listing_id", "listing %d is closed", listing.ID)
	}
	if listing.AvailableQuantity < quantity {
		return nil, domain.NewFieldError(domain.ErrInsufficientListingQuantity, "quantity",
			"listing %d has %d available, requested %d", listing.ID, listing.AvailableQuantity, quantity)
	}

	if _, err := s.accounts.EnsureAccount(ctx, buyerID); err != nil {
		return nil, err
	}
	seller, err := s.accounts.EnsureAccount(ctx, listing.SellerID)
	if err != nil {
		return nil, err
	}

	amounts, err := utils.ComputeTradeAmounts(quantity, listing.PricePerCredit, s.opts.PlatformFeePercent, s.opts.GSTPercent)
	if err != nil {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "quantity", "%v", err)
	}

	now := s.now()
	txn := &domain.Transaction{
		ID:                uuid.NewString(),
		TransactionNumber: utils.TransactionNumber(now),
		BuyerID:           buyerID,
		SellerID:          listing.SellerID,
		ListingID:         listing.ID,
		Quantity:          quantity,
		PricePerCredit:    listing.PricePerCredit,
		TotalAmount:       amounts.TotalAmount,
		PlatformFee:       amounts.PlatformFee,
		GSTAmount:         amounts.GSTAmount,
		Status:            domain.TransactionStatusPending,
		CreatedOn:         now,
		UpdatedOn:         now,
	}
	// The order is committed straight into payment_pending: the listing
	// decrement, the seller lock and the row itself land together.
	txn.Status = domain.TransactionStatusPaymentPending

	_, err = s.ledger.Post(ctx, []Posting{{
		AccountID:   seller.ID,
		Kind:        PostingLock,
		Amount:      quantity,
		Reference:   txn.Reference(),
		Description: fmt.Sprintf("Locked %d credits for %s", quantity, txn.TransactionNumber),
	}}, &Extras{
		Listing:     &repository.ListingChange{ListingID: listing.ID, Delta: -quantity},
		Transaction: &repository.TransactionChange{Transaction: txn, Create: true},
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(ctx, domain.TransactionStatusPending, txn)
	return txn, nil
}

func (s *marketplaceService) ConfirmPayment(ctx context.Context, txnID string) (*domain.Transaction, error) {
	logger.EnterMethod("marketplaceService.ConfirmPayment", "txnID", txnID)

	txn, err := s.withTransaction(ctx, txnID, func(txn *domain.Transaction) (*domain.Transaction, error) {
		switch txn.Status {
		case domain.TransactionStatusCompleted:
			// duplicate callback
			return txn, nil
		case domain.TransactionStatusPaymentPending:
			now := s.now()
			next := *txn
			next.Status = domain.TransactionStatusPaymentCompleted
			next.PaymentCompletedOn = &now
			next.UpdatedOn = now
			if err := s.txnRepo.UpdateStatus(ctx, &next, txn.Status); err != nil {
				return nil, err
			}
			s.transitioned(ctx, txn.Status, &next)
			return s.settle(ctx, &next)
		case domain.TransactionStatusPaymentCompleted, domain.TransactionStatusCreditsTransferred:
			return s.settle(ctx, txn)
		}
		return nil, invalidTransition(txn, domain.TransactionStatusPaymentCompleted)
	})
	if err != nil {
		logger.ExitMethodWithError("marketplaceService.ConfirmPayment", err, "txnID", txnID)
		return nil, err
	}

	logger.ExitMethod("marketplaceService.ConfirmPayment", "txnID", txnID, "status", txn.Status)
	return txn, nil
}

func (s *marketplaceService) ResumeSettlement(ctx context.Context, txnID string) (*domain.Transaction, error) {
	return s.withTransaction(ctx, txnID, func(txn *domain.Transaction) (*domain.Transaction, error) {
		switch txn.Status {
		case domain.TransactionStatusPaymentCompleted, domain.TransactionStatusCreditsTransferred:
			logger.Info("Resuming settlement", "txnID", txn.ID, "status", txn.Status)
			return s.settle(ctx, txn)
		}
		return txn, nil
	})
}

// settle drives a paid transaction to completed. Each step is a status
// compare-and-swap, so a crashed or duplicated run resumes where it stopped.
func (s *marketplaceService) settle(ctx context.Context, txn *domain.Transaction) (*domain.Transaction, error) {
	if txn.Status == domain.TransactionStatusPaymentCompleted {
		now := s.now()
		next := *txn
		next.Status = domain.TransactionStatusCreditsTransferred
		next.CreditsTransferredOn = &now
		next.UpdatedOn = now

		done, err := s.ledgerRepo.HasEntries(ctx, txn.Reference(), domain.EntryTypeSale)
		if err != nil {
			return nil, err
		}
		if done {
			// credits already moved under this reference; never post them twice
			err = s.txnRepo.UpdateStatus(ctx, &next, txn.Status)
		} else {
			err = s.transferCredits(ctx, txn, &next)
		}
		if err != nil {
			if settlementRejected(err) {
				return s.failSettlement(ctx, txn, err)
			}
			return nil, err
		}
		s.transitioned(ctx, txn.Status, &next)
		txn = &next
	}

	if txn.Status == domain.TransactionStatusCreditsTransferred {
		now := s.now()
		next := *txn
		next.Status = domain.TransactionStatusCompleted
		next.CompletedOn = &now
		next.UpdatedOn = now
		if err := s.txnRepo.UpdateStatus(ctx, &next, txn.Status); err != nil {
			return nil, err
		}
		s.transitioned(ctx, txn.Status, &next)
		txn = &next
	}
	return txn, nil
}

func (s *marketplaceService) transferCredits(ctx context.Context, txn, next *domain.Transaction) error {
	seller, err := s.accountRepo.GetByUserID(ctx, txn.SellerID)
	if err != nil {
		return err
	}
	buyer, err := s.accountRepo.GetByUserID(ctx, txn.BuyerID)
	if err != nil {
		return err
	}
	description := fmt.Sprintf("%d credits at %s, %s", txn.Quantity, txn.PricePerCredit.StringFixed(2), txn.TransactionNumber)
	_, err = s.ledger.Post(ctx, []Posting{
		{
			AccountID:   seller.ID,
			Kind:        PostingDebit,
			Amount:      txn.Quantity,
			FromLocked:  true,
			Type:        domain.EntryTypeSale,
			Reference:   txn.Reference(),
			Description: "Sold " + description,
		},
		{
			AccountID:   buyer.ID,
			Kind:        PostingCredit,
			Amount:      txn.Quantity,
			Type:        domain.EntryTypePurchase,
			Reference:   txn.Reference(),
			Description: "Bought " + description,
		},
	}, &Extras{
		Transaction: &repository.TransactionChange{Transaction: next, ExpectedStatus: txn.Status},
	})
	return err
}

// settlementRejected separates a ledger refusal, which ends the trade, from
// contention or infrastructure errors, which leave it for a retry.
func settlementRejected(err error) bool {
	switch domain.KindOf(err) {
	case nil, domain.ErrBusy, domain.ErrInvalidStateTransition, domain.ErrAlreadyExists:
		return false
	}
	return true
}

func (s *marketplaceService) failSettlement(ctx context.Context, txn *domain.Transaction, cause error) (*domain.Transaction, error) {
	logger.Error("Settlement rejected by ledger", "txnID", txn.ID, "error", cause)

	now := s.now()
	next := *txn
	next.Status = domain.TransactionStatusFailed
	next.FailureReason = cause.Error()
	next.UpdatedOn = now

	seller, err := s.accountRepo.GetByUserID(ctx, txn.SellerID)
	if err == nil && seller.LockedBalance >= txn.Quantity {
		_, err = s.ledger.Post(ctx, []Posting{{
			AccountID:   seller.ID,
			Kind:        PostingUnlock,
			Amount:      txn.Quantity,
			Reference:   txn.Reference(),
			Description: fmt.Sprintf("Released %d credits, %s failed", txn.Quantity, txn.TransactionNumber),
		}}, &Extras{
			Listing:     &repository.ListingChange{ListingID: txn.ListingID, Delta: txn.Quantity},
			Transaction: &repository.TransactionChange{Transaction: &next, ExpectedStatus: txn.Status},
		})
	} else {
		err = s.txnRepo.UpdateStatus(ctx, &next, txn.Status)
	}
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, txn.Status, &next)
	return nil, fmt.Errorf("transaction %s failed during settlement: %w", txn.ID, cause)
}

func (s *marketplaceService) CancelTransaction(ctx context.Context, actorID int32, txnID string) (*domain.Transaction, error) {
	logger.EnterMethod("marketplaceService.CancelTransaction", "actorID", actorID, "txnID", txnID)

	txn, err := s.release(ctx, txnID, domain.TransactionStatusCancelled, "cancelled by buyer",
		func(txn *domain.Transaction) (bool, error) {
			if !txn.Involves(actorID) {
				return false, fmt.Errorf("transaction %s: %w", txn.ID, domain.ErrNotFound)
			}
			if txn.BuyerID != actorID {
				return false, domain.NewFieldError(domain.ErrForbidden, "transaction_id", "only the buyer can cancel")
			}
			return false, nil
		})
	if err != nil {
		logger.ExitMethodWithError("marketplaceService.CancelTransaction", err, "txnID", txnID)
		return nil, err
	}

	logger.ExitMethod("marketplaceService.CancelTransaction", "txnID", txnID)
	return txn, nil
}

func (s *marketplaceService) RefundTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	return s.release(ctx, txnID, domain.TransactionStatusRefunded, "payment refunded", nil)
}

func (s *marketplaceService) ExpireTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	return s.release(ctx, txnID, domain.TransactionStatusCancelled, "payment timed out", nil)
}

func (s *marketplaceService) FailPayment(ctx context.Context, txnID, reason string) (*domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payment failed"
	}
	return s.release(ctx, txnID, domain.TransactionStatusFailed, reason,
		func(txn *domain.Transaction) (bool, error) {
			// a repeated failure callback is a no-op
			return txn.Status == domain.TransactionStatusFailed, nil
		})
}

// release ends a payment_pending transaction in status to, unlocking the
// seller's credits and restoring the listing in the same commit. check runs
// under the transaction lock; returning done leaves the record untouched.
func (s *marketplaceService) release(ctx context.Context, txnID string, to domain.TransactionStatus, reason string,
	check func(*domain.Transaction) (done bool, err error)) (*domain.Transaction, error) {
	return s.withTransaction(ctx, txnID, func(txn *domain.Transaction) (*domain.Transaction, error) {
		if check != nil {
			done, err := check(txn)
			if err != nil {
				return nil, err
			}
			if done {
				return txn, nil
			}
		}
		if txn.Status != domain.TransactionStatusPaymentPending || !domain.CanTransition(txn.Status, to) {
			return nil, invalidTransition(txn, to)
		}

		seller, err := s.accountRepo.GetByUserID(ctx, txn.SellerID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		next := *txn
		next.Status = to
		next.FailureReason = reason
		next.UpdatedOn = now
		if to != domain.TransactionStatusFailed {
			next.CancelledOn = &now
		}

		_, err = s.ledger.Post(ctx, []Posting{{
			AccountID:   seller.ID,
			Kind:        PostingUnlock,
			Amount:      txn.Quantity,
			Reference:   txn.Reference(),
			Description: fmt.Sprintf("Released %d credits, %s %s", txn.Quantity, txn.TransactionNumber, to),
		}}, &Extras{
			Listing:     &repository.ListingChange{ListingID: txn.ListingID, Delta: txn.Quantity},
			Transaction: &repository.TransactionChange{Transaction: &next, ExpectedStatus: txn.Status},
		})
		if err != nil {
			return nil, err
		}
		s.transitioned(ctx, txn.Status, &next)
		return &next, nil
	})
}

// withTransaction runs fn with the transaction's lock held, so a payment
// callback and a cancellation for the same id are serialized. The lock is
// always taken before any account lock.
func (s *marketplaceService) withTransaction(ctx context.Context, txnID string,
	fn func(*domain.Transaction) (*domain.Transaction, error)) (*domain.Transaction, error) {
	release, err := s.locker.Acquire(ctx, lock.TransactionKey(txnID))
	if err != nil {
		return nil, err
	}
	defer release()

	txn, err := s.txnRepo.GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	return fn(txn)
}

func (s *marketplaceService) transitioned(ctx context.Context, from domain.TransactionStatus, txn *domain.Transaction) {
	metrics.TransactionTransitions.WithLabelValues(string(from), string(txn.Status)).Inc()
	logger.Info("Transaction status changed", "txnID", txn.ID, "from", from, "to", txn.Status)
	publishEvent(ctx, s.publisher, events.EventTransactionStatusChanged, lock.TransactionKey(txn.ID), txn, s.now())
}

func invalidTransition(txn *domain.Transaction, to domain.TransactionStatus) error {
	return domain.NewFieldError(domain.ErrInvalidStateTransition, "status",
		"transaction %s cannot move from %s to %s", txn.ID, txn.Status, to)
}

func (s *marketplaceService) GetTransaction(ctx context.Context, userID int32, txnID string) (*domain.Transaction, error) {
	txn, err := s.txnRepo.GetByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if !txn.Involves(userID) {
		return nil, fmt.Errorf("transaction %s: %w", txnID, domain.ErrNotFound)
	}
	return txn, nil
}

func (s *marketplaceService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]domain.Transaction, int32, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, domain.NewFieldError(domain.ErrInvalidInput, "status", "unknown status %q", filter.Status)
	}
	return s.txnRepo.List(ctx, filter)
}

func (s *marketplaceService) Summary(ctx context.Context, userID int32) (*TradeSummary, error) {
	txns, _, err := s.txnRepo.List(ctx, repository.TransactionFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	sum := &TradeSummary{TotalSpent: decimal.Zero, TotalEarned: decimal.Zero}
	for _, t := range txns {
		if !t.Status.IsTerminal() {
			sum.Open++
		}
		completed := t.Status == domain.TransactionStatusCompleted
		if t.BuyerID == userID {
			sum.Purchases++
			if completed {
				sum.CreditsBought += t.Quantity
				sum.TotalSpent = sum.TotalSpent.Add(t.PaymentAmount())
			}
		}
		if t.SellerID == userID {
			sum.Sales++
			if completed {
				sum.CreditsSold += t.Quantity
				sum.TotalEarned = sum.TotalEarned.Add(t.TotalAmount)
			}
		}
	}
	return sum, nil
}
