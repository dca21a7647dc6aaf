package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paghetta/internal/core"
	"paghetta/internal/log"
	"paghetta/internal/storage"
)

// ChildService manages child configuration and the derived read models.
type ChildService struct {
	store    storage.Store
	ledger   *LedgerService
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

func NewChildService(store storage.Store, ledger *LedgerService, notifier Notifier, logger *log.Logger) *ChildService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ChildService{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger.WithComponent(log.ComponentChild),
		now:      time.Now,
	}
}

// AddChild validates and persists a new child, then opens its ledger with
// a zero-amount adjustment so the balance series starts on creation day.
func (s *ChildService) AddChild(ctx context.Context, child core.Child) (core.Child, error) {
	if err := child.Validate(); err != nil {
		return core.Child{}, fmt.Errorf("validate child: %w", err)
	}

	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	now := s.now().UTC()
	child.CreatedTimestamp = now
	child.UpdatedTimestamp = now
	child.Deleted = false

	created, err := s.store.CreateChild(ctx, child)
	if err != nil {
		return core.Child{}, fmt.Errorf("create child: %w", err)
	}

	_, err = s.ledger.AddTransaction(ctx, core.Transaction{
		TenantID:    created.TenantID,
		ChildID:     created.ID,
		Amount:      decimal.Zero,
		Type:        core.Adjustment,
		Description: "Initial balance",
	})
	if err != nil {
		return core.Child{}, fmt.Errorf("open ledger: %w", err)
	}

	s.logger.InfoContext(ctx, "Child created",
		log.FieldChildID, created.ID,
		log.FieldTenantID, created.TenantID,
		log.FieldChildName, created.Name())

	return created, nil
}

// GetChild returns the child, or core.ErrNotFound when it does not exist
// in the tenant or was deleted.
func (s *ChildService) GetChild(ctx context.Context, childID, tenantID string) (core.Child, error) {
	return s.store.GetChild(ctx, childID, tenantID)
}

// Children lists the tenant's non-deleted children.
func (s *ChildService) Children(ctx context.Context, tenantID string) ([]core.Child, error) {
	return s.store.ListChildren(ctx, tenantID)
}

// UpdateChild validates and persists the changed configuration and
// notifies listeners so cached read models refresh.
func (s *ChildService) UpdateChild(ctx context.Context, child core.Child) (core.Child, error) {
	if err := child.Validate(); err != nil {
		return core.Child{}, fmt.Errorf("validate child: %w", err)
	}
	child.UpdatedTimestamp = s.now().UTC()

	updated, err := s.store.UpdateChild(ctx, child)
	if err != nil {
		return core.Child{}, fmt.Errorf("update child: %w", err)
	}

	s.notify(ctx, updated.ID, updated.TenantID, "")

	return updated, nil
}

// DeleteChild soft-deletes the child. Deleting a child that is already
// gone is not an error; the ledger keeps its entries either way.
func (s *ChildService) DeleteChild(ctx context.Context, childID, tenantID string) error {
	child, err := s.store.GetChild(ctx, childID, tenantID)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.WarnContext(ctx, "Delete requested for missing or already deleted child",
			log.FieldChildID, childID,
			log.FieldTenantID, tenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get child: %w", err)
	}

	child.Deleted = true
	child.UpdatedTimestamp = s.now().UTC()
	if _, err := s.store.UpdateChild(ctx, child); err != nil {
		return fmt.Errorf("delete child: %w", err)
	}

	s.logger.InfoContext(ctx, "Child deleted",
		log.FieldChildID, childID,
		log.FieldTenantID, tenantID)
	s.notify(ctx, childID, tenantID, "")

	return nil
}

// ApplyHold defers the child's next accrual by the given number of days
// and records a zero-amount Hold entry documenting the reason.
// Holds stack: applying 2 days on top of 1 remaining leaves 3.
func (s *ChildService) ApplyHold(ctx context.Context, childID, tenantID string, days int, reason string) error {
	if days < 1 {
		return core.ErrInvalidHoldDays
	}

	child, err := s.store.GetChild(ctx, childID, tenantID)
	if err != nil {
		return fmt.Errorf("get child: %w", err)
	}

	child.HoldDaysRemaining += days
	child.UpdatedTimestamp = s.now().UTC()
	if _, err := s.store.UpdateChild(ctx, child); err != nil {
		return fmt.Errorf("update hold days: %w", err)
	}

	_, err = s.ledger.AddTransaction(ctx, core.Transaction{
		TenantID:    tenantID,
		ChildID:     childID,
		Amount:      decimal.Zero,
		Type:        core.Hold,
		Description: fmt.Sprintf("%s (%d days)", reason, days),
	})
	if err != nil {
		return fmt.Errorf("record hold: %w", err)
	}

	s.logger.InfoContext(ctx, "Hold applied",
		log.FieldChildID, childID,
		log.FieldTenantID, tenantID,
		log.FieldHoldDays, child.HoldDaysRemaining)

	return nil
}

// ChildrenWithBalance builds the dashboard read model: every non-deleted
// child with its current balance and next accrual facts as of now.
func (s *ChildService) ChildrenWithBalance(ctx context.Context, tenantID string, now time.Time) ([]core.ChildWithBalance, error) {
	children, err := s.store.ListChildren(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	result := make([]core.ChildWithBalance, 0, len(children))
	for _, child := range children {
		balance, err := s.ledger.BalanceForChild(ctx, child.ID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("balance for child %s: %w", child.ID, err)
		}
		lastRegular, err := s.ledger.LatestRegularTransaction(ctx, child.ID, tenantID)
		if err != nil {
			return nil, fmt.Errorf("latest regular for child %s: %w", child.ID, err)
		}

		plan := NextAccrual(child, lastRegular, now)
		result = append(result, core.ChildWithBalance{
			ID:                child.ID,
			TenantID:          child.TenantID,
			Name:              child.Name(),
			Balance:           balance,
			IsBirthday:        plan.IsBirthdayToday,
			HoldDaysRemaining: child.HoldDaysRemaining,
			NextAmount:        plan.Amount,
			NextDate:          plan.DueDate,
		})
	}

	return result, nil
}

// ChildrenWithBalanceHistory returns the gap-filled balance series for
// every non-deleted child of the tenant.
func (s *ChildService) ChildrenWithBalanceHistory(ctx context.Context, tenantID string, start, end *time.Time) ([]core.ChildWithBalanceHistory, error) {
	children, err := s.store.ListChildren(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	result := make([]core.ChildWithBalanceHistory, 0, len(children))
	for _, child := range children {
		history, err := s.ledger.BalanceHistory(ctx, child.ID, tenantID, start, end)
		if err != nil {
			return nil, fmt.Errorf("history for child %s: %w", child.ID, err)
		}
		result = append(result, core.ChildWithBalanceHistory{
			ChildID:   child.ID,
			ChildName: child.Name(),
			TenantID:  child.TenantID,
			History:   history,
		})
	}

	return result, nil
}

func (s *ChildService) notify(ctx context.Context, childID, tenantID, message string) {
	if err := s.notifier.ChildStateChanged(ctx, childID, tenantID, message); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish state change",
			log.FieldChildID, childID,
			log.FieldTenantID, tenantID,
			log.FieldError, err)
	}
}
