package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carbon-ledger-backend/internal/cache"
	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/repository"
	"carbon-ledger-backend/internal/utils"

	"github.com/google/uuid"
)

type RetireRequest struct {
	Amount      int64                    `json:"amount"`
	Purpose     domain.RetirementPurpose `json:"purpose"`
	Period      string                   `json:"compliance_period,omitempty"`
	Beneficiary string                   `json:"beneficiary,omitempty"`
}

type IssueRequest struct {
	Amount      int64  `json:"amount"`
	ProjectType string `json:"project_type"`
	Vintage     int32  `json:"vintage"`
}

type accountService struct {
	userRepo       repository.UserRepository
	accountRepo    repository.AccountRepository
	retirementRepo repository.RetirementRepository
	issuanceRepo   repository.IssuanceRepository
	ledgerRepo     repository.LedgerRepository
	ledger         LedgerStore
	balances       cache.BalanceCache
	now            func() time.Time
}

func NewAccountService(
	userRepo repository.UserRepository,
	accountRepo repository.AccountRepository,
	retirementRepo repository.RetirementRepository,
	issuanceRepo repository.IssuanceRepository,
	ledgerRepo repository.LedgerRepository,
	ledger LedgerStore,
	balances cache.BalanceCache,
) AccountService {
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	return &accountService{
		userRepo:       userRepo,
		accountRepo:    accountRepo,
		retirementRepo: retirementRepo,
		issuanceRepo:   issuanceRepo,
		ledgerRepo:     ledgerRepo,
		ledger:         ledger,
		balances:       balances,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// EnsureAccount returns the user's account, opening an empty one on first use.
func (s *accountService) EnsureAccount(ctx context.Context, userID int32) (*domain.CreditAccount, error) {
	acct, err := s.accountRepo.GetByUserID(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	acct = &domain.CreditAccount{UserID: userID}
	if err := s.accountRepo.Create(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// lost the race with a concurrent first access
			return s.accountRepo.GetByUserID(ctx, userID)
		}
		return nil, err
	}
	logger.Info("Credit account opened", "userID", userID, "accountID", acct.ID)
	return acct, nil
}

func (s *accountService) GetBalances(ctx context.Context, userID int32) (*domain.CreditAccount, error) {
	cached, ok, err := s.balances.Get(ctx, userID)
	if err != nil {
		logger.ExternalServiceResult("redis", "get_balance", err, "userID", userID)
	}
	if ok {
		return cached, nil
	}

	acct, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Set(ctx, acct); err != nil {
		logger.ExternalServiceResult("redis", "set_balance", err, "userID", userID)
		return acct, nil
	}

	// A commit that landed between the read and the Set has already run its
	// invalidation, so the entry just written may be stale. Reading the row
	// again after the Set catches that from any process.
	current, err := s.accountRepo.GetByID(ctx, acct.ID)
	if err != nil {
		if err := s.balances.Invalidate(ctx, userID); err != nil {
			logger.ExternalServiceResult("redis", "invalidate_balances", err, "userID", userID)
		}
		return nil, err
	}
	if current.Version != acct.Version {
		if err := s.balances.Invalidate(ctx, userID); err != nil {
			logger.ExternalServiceResult("redis", "invalidate_balances", err, "userID", userID)
		}
		logger.Debug("Balance changed while caching, dropped cached copy", "userID", userID,
			"cachedVersion", acct.Version, "version", current.Version)
	}
	return current, nil
}

func (s *accountService) TransferToUser(ctx context.Context, senderID, recipientID int32, amount int64, note string) ([]domain.LedgerEntry, error) {
	logger.EnterMethod("accountService.TransferToUser", "senderID", senderID, "recipientID", recipientID, "amount", amount)

	if amount <= 0 {
		err := domain.NewFieldError(domain.ErrInvalidAmount, "amount", "amount must be positive")
		logger.ExitMethodWithError("accountService.TransferToUser", err, "senderID", senderID)
		return nil, err
	}
	if senderID == recipientID {
		err := domain.NewFieldError(domain.ErrSelfTransferRejected, "recipient_id", "cannot transfer credits to yourself")
		logger.ExitMethodWithError("accountService.TransferToUser", err, "senderID", senderID)
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, recipientID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.NewFieldError(domain.ErrNotFound, "recipient_id", "recipient %d does not exist", recipientID)
		}
		logger.ExitMethodWithError("accountService.TransferToUser", err, "senderID", senderID)
		return nil, err
	}

	from, err := s.EnsureAccount(ctx, senderID)
	if err != nil {
		logger.ExitMethodWithError("accountService.TransferToUser", err, "senderID", senderID)
		return nil, err
	}
	to, err := s.EnsureAccount(ctx, recipientID)
	if err != nil {
		logger.ExitMethodWithError("accountService.TransferToUser", err, "senderID", senderID)
		return nil, err
	}

	description := strings.TrimSpace(note)
	if description == "" {
		description = fmt.Sprintf("Transfer of %d credits from user %d to user %d", amount, senderID, recipientID)
	}
	entries, err := s.ledger.Transfer(ctx, TransferRequest{
		From:        from.ID,
		To:          to.ID,
		Amount:      amount,
		Reference:   domain.Reference{Type: domain.ReferenceTypeTransfer, ID: uuid.NewString()},
		FromType:    domain.EntryTypeTransfer,
		ToType:      domain.EntryTypeTransfer,
		Description: description,
	})
	if err != nil {
		logger.ExitMethodWithError("accountService.TransferToUser", err, "senderID", senderID, "recipientID", recipientID)
		return nil, err
	}

	logger.ExitMethod("accountService.TransferToUser", "senderID", senderID, "recipientID", recipientID, "reference", entries[0].ReferenceID)
	return entries, nil
}

func (s *accountService) RetireCredits(ctx context.Context, userID int32, req RetireRequest) (*domain.Retirement, error) {
	logger.EnterMethod("accountService.RetireCredits", "userID", userID, "amount", req.Amount, "purpose", req.Purpose)

	if req.Amount <= 0 {
		err := domain.NewFieldError(domain.ErrInvalidAmount, "amount", "amount must be positive")
		logger.ExitMethodWithError("accountService.RetireCredits", err, "userID", userID)
		return nil, err
	}
	if !req.Purpose.Valid() {
		err := domain.NewFieldError(domain.ErrInvalidInput, "purpose", "unknown retirement purpose %q", req.Purpose)
		logger.ExitMethodWithError("accountService.RetireCredits", err, "userID", userID)
		return nil, err
	}

	acct, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		logger.ExitMethodWithError("accountService.RetireCredits", err, "userID", userID)
		return nil, err
	}

	now := s.now()
	ret := &domain.Retirement{
		ID:               uuid.NewString(),
		RetirementNumber: utils.RetirementNumber(now),
		UserID:           userID,
		AccountID:        acct.ID,
		Amount:           req.Amount,
		Purpose:          req.Purpose,
		CompliancePeriod: strings.TrimSpace(req.Period),
		Beneficiary:      strings.TrimSpace(req.Beneficiary),
		Status:           domain.RetirementStatusCompleted,
		RetiredOn:        now,
	}
	entryType := domain.EntryTypeRetirement
	if req.Purpose == domain.RetirementPurposeSurrender {
		entryType = domain.EntryTypeSurrender
	}

	_, err = s.ledger.Post(ctx, []Posting{{
		AccountID:   acct.ID,
		Kind:        PostingRetire,
		Amount:      req.Amount,
		Type:        entryType,
		Reference:   ret.Reference(),
		Description: fmt.Sprintf("Retired %d credits (%s) %s", req.Amount, req.Purpose, ret.RetirementNumber),
	}}, &Extras{Retirement: ret})
	if err != nil {
		logger.ExitMethodWithError("accountService.RetireCredits", err, "userID", userID)
		return nil, err
	}

	logger.ExitMethod("accountService.RetireCredits", "userID", userID, "retirement", ret.RetirementNumber)
	return ret, nil
}

// demoIssuer is recorded on issuances minted through IssueDemoCredits; real
// issuances come from the registry integration.
const demoIssuer = "Demo System"

func (s *accountService) IssueDemoCredits(ctx context.Context, userID int32, req IssueRequest) (*domain.Issuance, error) {
	logger.EnterMethod("accountService.IssueDemoCredits", "userID", userID, "amount", req.Amount)

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		logger.ExitMethodWithError("accountService.IssueDemoCredits", err, "userID", userID)
		return nil, err
	}
	if user.UserType != domain.UserTypeSeller {
		err := domain.NewFieldError(domain.ErrForbidden, "user_type", "only seller accounts can issue credits")
		logger.ExitMethodWithError("accountService.IssueDemoCredits", err, "userID", userID)
		return nil, err
	}
	acct, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		logger.ExitMethodWithError("accountService.IssueDemoCredits", err, "userID", userID)
		return nil, err
	}

	now := s.now()
	iss := &domain.Issuance{
		ID:             uuid.NewString(),
		IssuanceNumber: utils.IssuanceNumber(now),
		UserID:         userID,
		AccountID:      acct.ID,
		Amount:         req.Amount,
		Issuer:         demoIssuer,
		ProjectType:    strings.TrimSpace(req.ProjectType),
		Vintage:        req.Vintage,
		Methodology:    "Demo Methodology",
		Status:         domain.IssuanceStatusApproved,
		IssuedOn:       now,
	}
	description := fmt.Sprintf("Issued %d credits %s", req.Amount, iss.IssuanceNumber)
	if iss.ProjectType != "" {
		description += fmt.Sprintf(" (%s, vintage %d)", iss.ProjectType, iss.Vintage)
	}
	_, err = s.ledger.Post(ctx, []Posting{{
		AccountID:   acct.ID,
		Kind:        PostingIssue,
		Amount:      req.Amount,
		Reference:   iss.Reference(),
		Description: description,
	}}, &Extras{Issuance: iss})
	if err != nil {
		logger.ExitMethodWithError("accountService.IssueDemoCredits", err, "userID", userID)
		return nil, err
	}

	logger.ExitMethod("accountService.IssueDemoCredits", "userID", userID, "issuance", iss.IssuanceNumber)
	return iss, nil
}

func (s *accountService) ListIssuances(ctx context.Context, userID int32) ([]domain.Issuance, error) {
	return s.issuanceRepo.ListIssuances(ctx, userID)
}

func (s *accountService) ListEntries(ctx context.Context, userID int32, page, pageSize int32) ([]domain.LedgerEntry, int32, error) {
	acct, err := s.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return s.ledgerRepo.ListEntries(ctx, acct.ID, page, pageSize)
}

func (s *accountService) ListRetirements(ctx context.Context, userID int32) ([]domain.Retirement, error) {
	return s.retirementRepo.ListByUser(ctx, userID)
}

func (s *accountService) GetRetirement(ctx context.Context, userID int32, id string) (*domain.Retirement, error) {
	ret, err := s.retirementRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.UserID != userID {
		return nil, fmt.Errorf("retirement %s: %w", id, domain.ErrNotFound)
	}
	return ret, nil
}
