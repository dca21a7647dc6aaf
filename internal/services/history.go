package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"paghetta/internal/core"
)

// BalanceHistory returns the child's day-by-day balance series, ordered
// ascending. Every ledger entry in [start, end] contributes one point;
// calendar days without activity get a synthesized midnight point
// carrying the last known balance forward, so charts never show holes.
// Days before the first ledger entry carry a zero balance. An empty
// ledger yields an empty series.
//
// A nil start defaults to the day of the first entry, a nil end to today.
func (s *LedgerService) BalanceHistory(ctx context.Context, childID, tenantID string, start, end *time.Time) ([]core.BalanceHistoryEntry, error) {
	txs, err := s.store.ListTransactions(ctx, childID, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if len(txs) == 0 {
		return []core.BalanceHistoryEntry{}, nil
	}

	entries := make([]core.BalanceHistoryEntry, 0, len(txs))
	for _, tx := range txs {
		entries = append(entries, core.BalanceHistoryEntry{
			Timestamp: tx.TransactionTimestamp.UTC(),
			Balance:   tx.Balance,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	rangeStart := core.Midnight(entries[0].Timestamp)
	if start != nil {
		rangeStart = core.Midnight(*start)
	}
	rangeEnd := core.Midnight(s.now())
	if end != nil {
		rangeEnd = core.Midnight(*end)
	}
	if rangeEnd.Before(rangeStart) {
		return entries, nil
	}

	result := make([]core.BalanceHistoryEntry, 0, len(entries))
	carry := decimal.Zero
	idx := 0
	for day := rangeStart; !day.After(rangeEnd); day = day.AddDate(0, 0, 1) {
		nextDay := day.AddDate(0, 0, 1)
		hasEntry := false
		for idx < len(entries) && entries[idx].Timestamp.Before(nextDay) {
			result = append(result, entries[idx])
			carry = entries[idx].Balance
			hasEntry = true
			idx++
		}
		if !hasEntry {
			result = append(result, core.BalanceHistoryEntry{
				Timestamp: day,
				Balance:   carry,
			})
		}
	}
	// Entries past rangeEnd still belong to the series.
	result = append(result, entries[idx:]...)

	return result, nil
}
