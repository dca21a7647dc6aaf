package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paghetta/internal/core"
	"paghetta/internal/log"
	"paghetta/internal/storage"
)

const defaultMaxRetries = 3

// LedgerService owns the append-only transaction log. Appends for the
// same (tenant, child) are serialized through a keyed mutex so the
// read-balance-then-append sequence never loses a delta; a second guard
// lives in the store's optimistic prevBalance check, which covers writers
// in other processes.
type LedgerService struct {
	store      storage.Store
	notifier   Notifier
	logger     *log.Logger
	maxRetries int
	now        func() time.Time

	muMap map[string]*sync.Mutex
	mapMu sync.Mutex
}

func NewLedgerService(store storage.Store, notifier Notifier, logger *log.Logger) *LedgerService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &LedgerService{
		store:      store,
		notifier:   notifier,
		logger:     logger.WithComponent(log.ComponentLedger),
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		muMap:      make(map[string]*sync.Mutex),
	}
}

// SetMaxRetries bounds the re-read attempts after a lost append race.
func (s *LedgerService) SetMaxRetries(n int) {
	if n > 0 {
		s.maxRetries = n
	}
}

func (s *LedgerService) childLock(childID, tenantID string) *sync.Mutex {
	key := tenantID + "/" + childID

	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.muMap[key]; !exists {
		s.muMap[key] = &sync.Mutex{}
	}
	return s.muMap[key]
}

// AddTransaction stamps the transaction, computes its balance snapshot
// from the latest ledger entry and appends it. A lost race against an
// out-of-process writer, or a transient store failure, is retried with a
// freshly read balance, at most maxRetries times. The stored record is
// returned with balance and timestamps filled in.
func (s *LedgerService) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate transaction: %w", err)
	}

	lock := s.childLock(tx.ChildID, tx.TenantID)
	lock.Lock()
	defer lock.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := s.now().UTC()
	tx.TransactionTimestamp = now
	tx.CreatedTimestamp = now

	var stored core.Transaction
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var prev decimal.Decimal
		prev, err = s.BalanceForChild(ctx, tx.ChildID, tx.TenantID)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("read balance: %w", err)
		}

		tx.Balance = prev.Add(tx.Amount)
		stored, err = s.store.AppendTransaction(ctx, tx, prev)
		if err == nil {
			break
		}
		if !core.IsRetryable(err) {
			return core.Transaction{}, fmt.Errorf("append transaction: %w", err)
		}
		s.logger.WarnContext(ctx, "Append failed, retrying with fresh balance",
			log.FieldChildID, tx.ChildID,
			log.FieldTenantID, tx.TenantID,
			"attempt", attempt)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction after %d attempts: %w", s.maxRetries, err)
	}

	s.logger.InfoContext(ctx, "Transaction appended",
		log.FieldTransactionID, stored.ID,
		log.FieldChildID, stored.ChildID,
		log.FieldTenantID, stored.TenantID,
		log.FieldTransactionType, string(stored.Type),
		log.FieldAmount, stored.Amount.String(),
		log.FieldBalance, stored.Balance.String())

	s.notify(ctx, stored.ChildID, stored.TenantID, "")

	return stored, nil
}

// BalanceForChild returns the balance snapshot of the newest non-deleted
// transaction, or zero when the ledger is empty.
func (s *LedgerService) BalanceForChild(ctx context.Context, childID, tenantID string) (decimal.Decimal, error) {
	latest, err := s.store.LatestTransaction(ctx, childID, tenantID)
	if errors.Is(err, core.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return latest.Balance, nil
}

// LatestTransaction returns the newest entry for the child, or nil when
// the ledger is empty.
func (s *LedgerService) LatestTransaction(ctx context.Context, childID, tenantID string) (*core.Transaction, error) {
	tx, err := s.store.LatestTransaction(ctx, childID, tenantID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// LatestRegularTransaction returns the newest DailyAllowance or
// BirthdayAllowance entry, or nil when none exists. Hold entries never
// qualify.
func (s *LedgerService) LatestRegularTransaction(ctx context.Context, childID, tenantID string) (*core.Transaction, error) {
	tx, err := s.store.LatestRegularTransaction(ctx, childID, tenantID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// TransactionsForChild returns one page of the child's ledger, newest
// first. When ignoreDailyAllowance is set, DailyAllowance entries are
// filtered out so manual activity is easier to review.
func (s *LedgerService) TransactionsForChild(ctx context.Context, childID, tenantID string, page, pageSize int, ignoreDailyAllowance bool) ([]core.Transaction, error) {
	return s.store.PagedTransactions(ctx, childID, tenantID, page, pageSize, ignoreDailyAllowance)
}

func (s *LedgerService) notify(ctx context.Context, childID, tenantID, message string) {
	if err := s.notifier.ChildStateChanged(ctx, childID, tenantID, message); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish state change",
			log.FieldChildID, childID,
			log.FieldTenantID, tenantID,
			log.FieldError, err)
	}
}
