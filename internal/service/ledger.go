package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carbon-ledger-backend/internal/cache"
	"carbon-ledger-backend/internal/domain"
	"carbon-ledger-backend/internal/events"
	"carbon-ledger-backend/internal/lock"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/metrics"
	"carbon-ledger-backend/internal/repository"
)

type PostingKind int

const (
	PostingIssue  PostingKind = iota + 1 // available += n
	PostingLock                          // available -> locked
	PostingUnlock                        // locked -> available
	PostingDebit                         // available (or locked) -= n
	PostingCredit                        // available += n, counterpart of a debit
	PostingRetire                        // available (or locked) -> retired
)

func (k PostingKind) defaultType() domain.EntryType {
	switch k {
	case PostingIssue:
		return domain.EntryTypeIssuance
	case PostingLock:
		return domain.EntryTypeLock
	case PostingUnlock:
		return domain.EntryTypeUnlock
	case PostingRetire:
		return domain.EntryTypeRetirement
	}
	return domain.EntryTypeTransfer
}

// Posting is one balance movement on one account. Postings in a single Post
// call are applied in order, so a later posting sees the earlier ones.
type Posting struct {
	AccountID   int32
	Kind        PostingKind
	Amount      int64
	FromLocked  bool // Debit and Retire take from locked_balance instead of available
	Type        domain.EntryType
	Reference   domain.Reference
	Description string
}

// Extras are written in the same commit as the postings.
type Extras struct {
	Listing     *repository.ListingChange
	Transaction *repository.TransactionChange
	Retirement  *domain.Retirement
	Issuance    *domain.Issuance
	Compliance  *domain.ComplianceRecord
}

// EntryMeta labels the entry a single-account operation produces.
type EntryMeta struct {
	Type        domain.EntryType
	Reference   domain.Reference
	Description string
}

type TransferRequest struct {
	From        int32
	To          int32
	Amount      int64
	FromLocked  bool
	Reference   domain.Reference
	FromType    domain.EntryType
	ToType      domain.EntryType
	Description string
}

type ledgerStore struct {
	accountRepo repository.AccountRepository
	ledgerRepo  repository.LedgerRepository
	locker      *lock.KeyedLocker
	balances    cache.BalanceCache
	publisher   events.Publisher
	now         func() time.Time
}

func NewLedgerStore(
	accountRepo repository.AccountRepository,
	ledgerRepo repository.LedgerRepository,
	locker *lock.KeyedLocker,
	balances cache.BalanceCache,
	publisher events.Publisher,
) LedgerStore {
	if balances == nil {
		balances = cache.NoopBalanceCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &ledgerStore{
		accountRepo: accountRepo,
		ledgerRepo:  ledgerRepo,
		locker:      locker,
		balances:    balances,
		publisher:   publisher,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *ledgerStore) Issue(ctx context.Context, accountID int32, amount int64, meta EntryMeta) (*domain.LedgerEntry, error) {
	return s.single(ctx, PostingIssue, accountID, amount, false, meta)
}

func (s *ledgerStore) Lock(ctx context.Context, accountID int32, amount int64, meta EntryMeta) (*domain.LedgerEntry, error) {
	return s.single(ctx, PostingLock, accountID, amount, false, meta)
}

func (s *ledgerStore) Unlock(ctx context.Context, accountID int32, amount int64, meta EntryMeta) (*domain.LedgerEntry, error) {
	return s.single(ctx, PostingUnlock, accountID, amount, false, meta)
}

func (s *ledgerStore) Retire(ctx context.Context, accountID int32, amount int64, fromLocked bool, meta EntryMeta) (*domain.LedgerEntry, error) {
	return s.single(ctx, PostingRetire, accountID, amount, fromLocked, meta)
}

func (s *ledgerStore) single(ctx context.Context, kind PostingKind, accountID int32, amount int64, fromLocked bool, meta EntryMeta) (*domain.LedgerEntry, error) {
	entries, err := s.Post(ctx, []Posting{{
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		FromLocked:  fromLocked,
		Type:        meta.Type,
		Reference:   meta.Reference,
		Description: meta.Description,
	}}, nil)
	if err != nil {
		return nil, err
	}
	return &entries[0], nil
}

func (s *ledgerStore) Transfer(ctx context.Context, req TransferRequest) ([]domain.LedgerEntry, error) {
	if req.From == req.To {
		return nil, domain.NewFieldError(domain.ErrSelfTransferRejected, "to", "account %d cannot transfer to itself", req.From)
	}
	return s.Post(ctx, []Posting{
		{
			AccountID:   req.From,
			Kind:        PostingDebit,
			Amount:      req.Amount,
			FromLocked:  req.FromLocked,
			Type:        req.FromType,
			Reference:   req.Reference,
			Description: req.Description,
		},
		{
			AccountID:   req.To,
			Kind:        PostingCredit,
			Amount:      req.Amount,
			Type:        req.ToType,
			Reference:   req.Reference,
			Description: req.Description,
		},
	}, nil)
}

func (s *ledgerStore) Post(ctx context.Context, postings []Posting, extras *Extras) ([]domain.LedgerEntry, error) {
	logger.EnterMethod("ledgerStore.Post", "postings", len(postings))

	if extras == nil {
		extras = &Extras{}
	}
	cs, err := s.commit(ctx, postings, extras)
	if err != nil {
		if kind := domain.KindOf(err); kind != nil {
			metrics.LedgerRejections.WithLabelValues(kind.Error()).Inc()
		}
		logger.ExitMethodWithError("ledgerStore.Post", err, "postings", len(postings))
		return nil, err
	}

	entries := make([]domain.LedgerEntry, len(cs.Entries))
	for i, e := range cs.Entries {
		entries[i] = *e
		metrics.LedgerEntriesPosted.WithLabelValues(string(e.Type)).Inc()
		metrics.LedgerCreditsMoved.WithLabelValues(string(e.Type)).Add(float64(abs(e.Amount)))
	}
	s.afterCommit(ctx, cs)

	logger.ExitMethod("ledgerStore.Post", "entries", len(entries), "accounts", cs.AccountIDs())
	return entries, nil
}

// commit validates and writes the postings while holding every account and
// listing lock they touch.
func (s *ledgerStore) commit(ctx context.Context, postings []Posting, extras *Extras) (*repository.Changeset, error) {
	if len(postings) == 0 {
		return nil, domain.NewFieldError(domain.ErrInvalidInput, "postings", "nothing to post")
	}
	keys := make([]string, 0, len(postings)+1)
	for _, p := range postings {
		if p.Amount <= 0 {
			return nil, domain.NewFieldError(domain.ErrInvalidAmount, "amount", "amount must be positive, got %d", p.Amount)
		}
		keys = append(keys, lock.AccountKey(p.AccountID))
	}
	if extras.Listing != nil {
		keys = append(keys, lock.ListingKey(extras.Listing.ListingID))
	}

	start := time.Now()
	release, err := s.locker.Acquire(ctx, keys...)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	accounts := make(map[int32]*domain.CreditAccount)
	var order []int32
	cs := &repository.Changeset{
		Listing:     extras.Listing,
		Transaction: extras.Transaction,
		Retirement:  extras.Retirement,
		Issuance:    extras.Issuance,
		Compliance:  extras.Compliance,
	}

	for _, p := range postings {
		acct, ok := accounts[p.AccountID]
		if !ok {
			acct, err = s.accountRepo.GetByID(ctx, p.AccountID)
			if err != nil {
				return nil, err
			}
			accounts[p.AccountID] = acct
			order = append(order, p.AccountID)
		}
		entry, err := applyPosting(acct, p)
		if err != nil {
			return nil, err
		}
		entry.CreatedOn = now
		cs.Entries = append(cs.Entries, entry)
	}
	for _, id := range order {
		cs.Accounts = append(cs.Accounts, *accounts[id])
	}

	if err := s.ledgerRepo.Commit(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// applyPosting checks p against acct, moves acct's balances and returns the entry.
func applyPosting(acct *domain.CreditAccount, p Posting) (*domain.LedgerEntry, error) {
	n := p.Amount
	e := &domain.LedgerEntry{
		AccountID:     acct.ID,
		Type:          p.Type,
		ReferenceType: p.Reference.Type,
		ReferenceID:   p.Reference.ID,
		Description:   p.Description,
		BalanceBefore: acct.TotalBalance,
	}
	if e.Type == "" {
		e.Type = p.Kind.defaultType()
	}

	switch p.Kind {
	case PostingIssue:
		e.Amount, e.AvailableDelta = n, n
	case PostingLock:
		if acct.AvailableBalance < n {
			return nil, insufficient(acct, "available", acct.AvailableBalance, n)
		}
		e.Amount, e.AvailableDelta, e.LockedDelta = -n, -n, n
	case PostingUnlock:
		if acct.LockedBalance < n {
			return nil, domain.NewFieldError(domain.ErrInvalidState, "amount",
				"account %d has %d locked, cannot unlock %d", acct.ID, acct.LockedBalance, n)
		}
		e.Amount, e.AvailableDelta, e.LockedDelta = n, n, -n
	case PostingDebit, PostingRetire:
		if p.FromLocked {
			if acct.LockedBalance < n {
				return nil, insufficient(acct, "locked", acct.LockedBalance, n)
			}
			e.LockedDelta = -n
		} else {
			if acct.AvailableBalance < n {
				return nil, insufficient(acct, "available", acct.AvailableBalance, n)
			}
			e.AvailableDelta = -n
		}
		e.Amount = -n
		if p.Kind == PostingRetire {
			e.RetiredDelta = n
		}
	case PostingCredit:
		e.Amount, e.AvailableDelta = n, n
	default:
		return nil, fmt.Errorf("unknown posting kind %d", p.Kind)
	}

	acct.ApplyEntry(*e)
	e.BalanceAfter = acct.TotalBalance
	if !acct.Balanced() {
		return nil, domain.NewFieldError(domain.ErrInvalidState, "account", "account %d would become unbalanced", acct.ID)
	}
	return e, nil
}

func insufficient(acct *domain.CreditAccount, bucket string, have, want int64) error {
	return domain.NewFieldError(domain.ErrInsufficientBalance, "amount",
		"account %d has %d %s, needs %d", acct.ID, have, bucket, want)
}

// afterCommit drops cached balances and publishes the entries. Failures here
// are logged only; the commit already happened. Status events for the extras
// are published by the service that owns them.
func (s *ledgerStore) afterCommit(ctx context.Context, cs *repository.Changeset) {
	userIDs := make([]int32, 0, len(cs.Accounts))
	for _, a := range cs.Accounts {
		userIDs = append(userIDs, a.UserID)
	}
	err := s.balances.Invalidate(ctx, userIDs...)
	logger.ExternalServiceResult("redis", "invalidate_balances", err, "users", userIDs)

	now := s.now()
	for _, e := range cs.Entries {
		publishEvent(ctx, s.publisher, events.EventLedgerEntryPosted, lock.AccountKey(e.AccountID), e, now)
	}
}

func (s *ledgerStore) Replay(ctx context.Context, accountID int32) (*domain.CreditAccount, error) {
	entries, err := s.ledgerRepo.AllEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}
	acct := &domain.CreditAccount{ID: accountID}
	for _, e := range entries {
		if e.BalanceBefore != acct.TotalBalance {
			return nil, fmt.Errorf("entry %d of account %d starts at %d, replay is at %d: %w",
				e.ID, accountID, e.BalanceBefore, acct.TotalBalance, domain.ErrInvalidState)
		}
		acct.ApplyEntry(e)
		if e.BalanceAfter != acct.TotalBalance || !acct.Balanced() {
			return nil, fmt.Errorf("entry %d of account %d ends at %d, replay gives %d: %w",
				e.ID, accountID, e.BalanceAfter, acct.TotalBalance, domain.ErrInvalidState)
		}
	}
	return acct, nil
}

func (s *ledgerStore) Verify(ctx context.Context, accountID int32) error {
	release, err := s.locker.Acquire(ctx, lock.AccountKey(accountID))
	if err != nil {
		return err
	}
	defer release()

	stored, err := s.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	replayed, err := s.Replay(ctx, accountID)
	if err == nil && !replayed.SameBalances(*stored) {
		err = fmt.Errorf("account %d: ledger gives total=%d available=%d locked=%d retired=%d, stored total=%d available=%d locked=%d retired=%d: %w",
			accountID,
			replayed.TotalBalance, replayed.AvailableBalance, replayed.LockedBalance, replayed.RetiredBalance,
			stored.TotalBalance, stored.AvailableBalance, stored.LockedBalance, stored.RetiredBalance,
			domain.ErrInvalidState)
	}
	if err != nil && errors.Is(err, domain.ErrInvalidState) {
		metrics.ReplayMismatches.Inc()
	}
	return err
}

func publishEvent(ctx context.Context, pub events.Publisher, eventType, key string, data any, now time.Time) {
	payload, err := events.Encode(eventType, data, now)
	if err == nil {
		err = pub.Publish(ctx, eventType, payload, key)
	}
	logger.ExternalServiceResult("kafka", eventType, err, "key", key)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
