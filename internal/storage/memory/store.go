// Package memory is an in-memory Store used as the dev backend and as the
// test double for the services.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"paghetta/internal/core"
	"paghetta/internal/storage"
)

// Store keeps everything in mutex-guarded maps and slices.
type Store struct {
	mu           sync.Mutex
	tenants      map[string]core.Tenant
	children     map[string]core.Child // keyed by childID + "/" + tenantID
	transactions []core.Transaction
}

func New() *Store {
	return &Store{
		tenants:  make(map[string]core.Tenant),
		children: make(map[string]core.Child),
	}
}

func childKey(childID, tenantID string) string {
	return childID + "/" + tenantID
}

func (s *Store) CreateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants {
		if !existing.Deleted && strings.EqualFold(existing.URLSuffix, t.URLSuffix) {
			return core.Tenant{}, fmt.Errorf("url suffix %q: %w", t.URLSuffix, core.ErrConflict)
		}
	}
	s.tenants[t.ID] = t
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok || t.Deleted {
		return core.Tenant{}, fmt.Errorf("tenant %s: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTenantBySuffix(ctx context.Context, suffix string) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if !t.Deleted && strings.EqualFold(t.URLSuffix, suffix) {
			return t, nil
		}
	}
	return core.Tenant{}, fmt.Errorf("tenant suffix %s: %w", suffix, core.ErrNotFound)
}

func (s *Store) ListTenants(ctx context.Context) ([]core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []core.Tenant
	for _, t := range s.tenants {
		if !t.Deleted {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) UpdateTenant(ctx context.Context, t core.Tenant) (core.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[t.ID]; !ok {
		return core.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, core.ErrNotFound)
	}
	s.tenants[t.ID] = t
	return t, nil
}

func (s *Store) CreateChild(ctx context.Context, c core.Child) (core.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.children[childKey(c.ID, c.TenantID)] = c
	return c, nil
}

func (s *Store) GetChild(ctx context.Context, childID, tenantID string) (core.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.children[childKey(childID, tenantID)]
	if !ok || c.Deleted {
		return core.Child{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListChildren(ctx context.Context, tenantID string) ([]core.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []core.Child
	for _, c := range s.children {
		if c.TenantID == tenantID && !c.Deleted {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) UpdateChild(ctx context.Context, c core.Child) (core.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := childKey(c.ID, c.TenantID)
	if _, ok := s.children[key]; !ok {
		return core.Child{}, fmt.Errorf("child %s: %w", c.ID, core.ErrNotFound)
	}
	s.children[key] = c
	return c, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx core.Transaction, prevBalance decimal.Decimal) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, ok := s.latestLocked(tx.ChildID, tx.TenantID, nil)
	current := decimal.Zero
	if ok {
		current = latest.Balance
	}
	if !current.Equal(prevBalance) {
		return core.Transaction{}, fmt.Errorf("child %s: balance moved from %s to %s: %w",
			tx.ChildID, prevBalance, current, core.ErrRaceLost)
	}

	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) LatestTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.latestLocked(childID, tenantID, nil)
	if !ok {
		return core.Transaction{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) LatestRegularTransaction(ctx context.Context, childID, tenantID string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.latestLocked(childID, tenantID, core.RegularTypes)
	if !ok {
		return core.Transaction{}, fmt.Errorf("child %s: %w", childID, core.ErrNotFound)
	}
	return tx, nil
}

// latestLocked returns the newest non-deleted entry matching the type
// filter. Ties on the timestamp fall back to insertion order.
func (s *Store) latestLocked(childID, tenantID string, types []core.TransactionType) (core.Transaction, bool) {
	var best core.Transaction
	found := false
	for _, tx := range s.transactions {
		if tx.ChildID != childID || tx.TenantID != tenantID || tx.Deleted {
			continue
		}
		if types != nil && !matchesType(tx.Type, types) {
			continue
		}
		if !found || !tx.TransactionTimestamp.Before(best.TransactionTimestamp) {
			best = tx
			found = true
		}
	}
	return best, found
}

func matchesType(t core.TransactionType, types []core.TransactionType) bool {
	for _, candidate := range types {
		if t == candidate {
			return true
		}
	}
	return false
}

func (s *Store) ListTransactions(ctx context.Context, childID, tenantID string, start, end *time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []core.Transaction
	for _, tx := range s.transactions {
		if tx.ChildID != childID || tx.TenantID != tenantID || tx.Deleted {
			continue
		}
		if start != nil && tx.TransactionTimestamp.Before(*start) {
			continue
		}
		if end != nil && tx.TransactionTimestamp.After(*end) {
			continue
		}
		result = append(result, tx)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TransactionTimestamp.Before(result[j].TransactionTimestamp)
	})
	return result, nil
}

func (s *Store) PagedTransactions(ctx context.Context, childID, tenantID string, page, pageSize int, ignoreDailyAllowance bool) ([]core.Transaction, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d size %d", page, pageSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []core.Transaction
	for _, tx := range s.transactions {
		if tx.ChildID != childID || tx.TenantID != tenantID || tx.Deleted {
			continue
		}
		if ignoreDailyAllowance && tx.Type == core.DailyAllowance {
			continue
		}
		filtered = append(filtered, tx)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TransactionTimestamp.After(filtered[j].TransactionTimestamp)
	})

	offset := (page - 1) * pageSize
	if offset >= len(filtered) {
		return nil, nil
	}
	endIdx := offset + pageSize
	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}
	return filtered[offset:endIdx], nil
}

func (s *Store) Close() error {
	return nil
}

// Compile-time check: the memory store satisfies the full contract.
var _ storage.Store = (*Store)(nil)
