package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"paghetta/internal/core"
	"paghetta/internal/log"
)

const defaultTenantParallelism = 4

// AccrualProcessor runs the daily allowance pass over every tenant.
// The pass is idempotent: a child whose due date is already past today's
// run gets skipped, so replaying a fire time never double-credits.
type AccrualProcessor struct {
	tenants  *TenantService
	children *ChildService
	ledger   *LedgerService
	notifier Notifier
	logger   *log.Logger

	tenantParallelism int
}

func NewAccrualProcessor(tenants *TenantService, children *ChildService, ledger *LedgerService, notifier Notifier, logger *log.Logger) *AccrualProcessor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AccrualProcessor{
		tenants:           tenants,
		children:          children,
		ledger:            ledger,
		notifier:          notifier,
		logger:            logger.WithComponent(log.ComponentAccrual),
		tenantParallelism: defaultTenantParallelism,
	}
}

// SetTenantParallelism bounds how many tenants are processed at once.
func (p *AccrualProcessor) SetTenantParallelism(n int) {
	if n > 0 {
		p.tenantParallelism = n
	}
}

// ProcessDailyAccruals credits every due child across all tenants for the
// given fire time and returns how many accruals were posted. Tenants run
// concurrently; a failure inside one tenant is logged and never blocks
// the others.
func (p *AccrualProcessor) ProcessDailyAccruals(ctx context.Context, fireTime time.Time) (int, error) {
	fireTime = fireTime.UTC()

	tenants, err := p.tenants.Tenants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	p.logger.InfoContext(ctx, "Starting daily accrual run",
		log.FieldFireDate, fireTime.Format(time.RFC3339),
		"tenants", len(tenants))

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.tenantParallelism)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			processed.Add(p.processTenant(gctx, tenant, fireTime))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(processed.Load()), err
	}

	p.logger.InfoContext(ctx, "Daily accrual run finished",
		log.FieldFireDate, fireTime.Format(time.RFC3339),
		log.FieldProcessed, processed.Load())

	return int(processed.Load()), ctx.Err()
}

func (p *AccrualProcessor) processTenant(ctx context.Context, tenant core.Tenant, fireTime time.Time) int64 {
	children, err := p.children.ChildrenWithBalance(ctx, tenant.ID, fireTime)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load children, skipping tenant",
			log.FieldTenantID, tenant.ID,
			log.FieldError, err)
		return 0
	}

	var count int64
	for _, child := range children {
		if ctx.Err() != nil {
			return count
		}
		if child.NextDate.After(core.Midnight(fireTime)) {
			p.logger.DebugContext(ctx, "Accrual not due yet, skipping child",
				log.FieldChildID, child.ID,
				log.FieldTenantID, tenant.ID,
				log.FieldDueDate, child.NextDate.Format(time.DateOnly))
			continue
		}

		txType := core.DailyAllowance
		description := "Daily allowance"
		if child.IsBirthday {
			txType = core.BirthdayAllowance
			description = "Birthday allowance"
		}

		stored, err := p.ledger.AddTransaction(ctx, core.Transaction{
			TenantID:    tenant.ID,
			ChildID:     child.ID,
			Amount:      child.NextAmount,
			Type:        txType,
			Description: description,
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to post accrual, skipping child",
				log.FieldChildID, child.ID,
				log.FieldTenantID, tenant.ID,
				log.FieldError, err)
			continue
		}
		count++

		message := fmt.Sprintf("Added %s for %s", core.FormatAmount(stored.Amount), strings.ToLower(description))
		if err := p.notifier.ChildStateChanged(ctx, child.ID, tenant.ID, message); err != nil {
			p.logger.WarnContext(ctx, "Failed to publish accrual notification",
				log.FieldChildID, child.ID,
				log.FieldTenantID, tenant.ID,
				log.FieldError, err)
		}
	}

	p.decrementHolds(ctx, tenant.ID)

	return count
}

// decrementHolds consumes one hold day per child after the tenant's
// accrual pass, so a hold placed today still defers today's credit.
func (p *AccrualProcessor) decrementHolds(ctx context.Context, tenantID string) {
	children, err := p.children.Children(ctx, tenantID)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load children for hold decrement",
			log.FieldTenantID, tenantID,
			log.FieldError, err)
		return
	}

	for _, child := range children {
		if child.HoldDaysRemaining <= 0 {
			continue
		}
		child.HoldDaysRemaining--
		if _, err := p.children.UpdateChild(ctx, child); err != nil {
			p.logger.ErrorContext(ctx, "Failed to decrement hold days",
				log.FieldChildID, child.ID,
				log.FieldTenantID, tenantID,
				log.FieldError, err)
		}
	}
}
