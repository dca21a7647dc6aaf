// Package storage defines the persistence contract shared by the sqlite,
// postgres and memory backends.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"paghetta/internal/core"
)

// TenantStore persists tenant configuration. Reads are soft-delete aware:
// Get on a deleted row returns core.ErrNotFound, List filters deleted rows.
type TenantStore interface {
	CreateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error)
	GetTenant(ctx context.Context, id string) (core.Tenant, error)
	GetTenantBySuffix(ctx context.Context, suffix string) (core.Tenant, error)
	ListTenants(ctx context.Context) ([]core.Tenant, error)
	UpdateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error)
}

// ChildStore persists child configuration, keyed by (child, tenant).
type ChildStore interface {
	CreateChild(ctx context.Context, c core.Child) (core.Child, error)
	GetChild(ctx context.Context, childID, tenantID string) (core.Child, error)
	ListChildren(ctx context.Context, tenantID string) ([]core.Child, error)
	UpdateChild(ctx context.Context, c core.Child) (core.Child, error)
}

// LedgerStore is the append-only transaction log. Entries are immutable
// once written; ordering queries rely on the (tenant, child, timestamp)
// index.
type LedgerStore interface {
	// AppendTransaction appends tx, whose Balance the caller has already
	// computed as prevBalance + tx.Amount. The append fails with
	// core.ErrRaceLost when the latest stored balance for the child no
	// longer equals prevBalance, so a lost read-modify-write race can
	// never silently drop a delta.
	AppendTransaction(ctx context.Context, tx core.Transaction, prevBalance decimal.Decimal) (core.Transaction, error)

	// LatestTransaction returns the newest non-deleted entry for the
	// child, or core.ErrNotFound when the ledger is empty.
	LatestTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error)

	// LatestRegularTransaction is LatestTransaction restricted to
	// DailyAllowance and BirthdayAllowance entries. Hold entries never
	// match.
	LatestRegularTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error)

	// ListTransactions returns the child's entries ordered ascending by
	// transaction timestamp, optionally bounded to [start, end].
	ListTransactions(ctx context.Context, childID, tenantID string, start, end *time.Time) ([]core.Transaction, error)

	// PagedTransactions returns one page ordered descending by
	// transaction timestamp. Page numbering starts at 1. When
	// ignoreDailyAllowance is set, DailyAllowance entries are omitted.
	PagedTransactions(ctx context.Context, childID, tenantID string, page, pageSize int, ignoreDailyAllowance bool) ([]core.Transaction, error)
}

// Store is the full persistence surface consumed by the services.
type Store interface {
	TenantStore
	ChildStore
	LedgerStore

	Close() error
}
