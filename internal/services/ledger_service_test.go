package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"paghetta/internal/core"
	"paghetta/internal/storage/memory"
)

func TestLedgerService_AddTransaction_RunningBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	deposit, err := env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID:    tenant.ID,
		ChildID:     child.ID,
		Amount:      d("10.00"),
		Type:        core.Deposit,
		Description: "Birthday gift from grandma",
	})
	if err != nil {
		t.Fatalf("AddTransaction(deposit) error: %v", err)
	}
	if !deposit.Balance.Equal(d("10.00")) {
		t.Errorf("deposit balance = %s, want 10.00", deposit.Balance)
	}
	if deposit.ID == "" {
		t.Error("transaction ID not stamped")
	}
	if deposit.TransactionTimestamp.IsZero() || deposit.CreatedTimestamp.IsZero() {
		t.Error("timestamps not stamped")
	}

	withdrawal, err := env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID:    tenant.ID,
		ChildID:     child.ID,
		Amount:      d("-2.50"),
		Type:        core.Withdrawal,
		Description: "Ice cream",
	})
	if err != nil {
		t.Fatalf("AddTransaction(withdrawal) error: %v", err)
	}
	if !withdrawal.Balance.Equal(d("7.50")) {
		t.Errorf("withdrawal balance = %s, want 7.50", withdrawal.Balance)
	}

	balance, err := env.ledger.BalanceForChild(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("BalanceForChild() error: %v", err)
	}
	if !balance.Equal(d("7.50")) {
		t.Errorf("BalanceForChild() = %s, want 7.50", balance)
	}
}

func TestLedgerService_AddTransaction_NegativeBalanceAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	tx, err := env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID:    tenant.ID,
		ChildID:     child.ID,
		Amount:      d("-5.00"),
		Type:        core.Withdrawal,
		Description: "Toy store advance",
	})
	if err != nil {
		t.Fatalf("AddTransaction() error: %v", err)
	}
	if !tx.Balance.Equal(d("-5.00")) {
		t.Errorf("balance = %s, want -5.00", tx.Balance)
	}
}

func TestLedgerService_AddTransaction_Invalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		tx      core.Transaction
		wantErr error
	}{
		{
			name: "missing description",
			tx: core.Transaction{
				TenantID: "t1", ChildID: "c1",
				Amount: d("1.00"), Type: core.Deposit,
			},
			wantErr: core.ErrEmptyDescription,
		},
		{
			name: "missing tenant",
			tx: core.Transaction{
				ChildID: "c1",
				Amount:  d("1.00"), Type: core.Deposit, Description: "x",
			},
			wantErr: core.ErrMissingTenant,
		},
		{
			name: "unknown type",
			tx: core.Transaction{
				TenantID: "t1", ChildID: "c1",
				Amount: d("1.00"), Type: "bogus", Description: "x",
			},
			wantErr: core.ErrInvalidType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.AddTransaction(ctx, tt.tx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AddTransaction() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerService_BalanceForChild_EmptyLedger(t *testing.T) {
	env := newTestEnv(t)

	balance, err := env.ledger.BalanceForChild(context.Background(), "missing", "nobody")
	if err != nil {
		t.Fatalf("BalanceForChild() error: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("balance = %s, want 0", balance)
	}
}

func TestLedgerService_LatestRegularTransaction_IgnoresHolds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	daily, err := env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID: tenant.ID, ChildID: child.ID,
		Amount: d("1.00"), Type: core.DailyAllowance, Description: "Daily allowance",
	})
	if err != nil {
		t.Fatalf("AddTransaction(daily) error: %v", err)
	}

	env.advanceDays(1)
	_, err = env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID: tenant.ID, ChildID: child.ID,
		Amount: decimal.Zero, Type: core.Hold, Description: "No chores (1 days)",
	})
	if err != nil {
		t.Fatalf("AddTransaction(hold) error: %v", err)
	}

	latest, err := env.ledger.LatestRegularTransaction(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("LatestRegularTransaction() error: %v", err)
	}
	if latest == nil {
		t.Fatal("LatestRegularTransaction() = nil, want the daily entry")
	}
	if latest.ID != daily.ID {
		t.Errorf("latest regular = %s (%s), want the daily entry %s", latest.ID, latest.Type, daily.ID)
	}
}

// flakyStore simulates an out-of-process writer winning the append race a
// fixed number of times.
type flakyStore struct {
	*memory.Store
	failures int
}

func (s *flakyStore) AppendTransaction(ctx context.Context, tx core.Transaction, prevBalance decimal.Decimal) (core.Transaction, error) {
	if s.failures > 0 {
		s.failures--
		return core.Transaction{}, core.ErrRaceLost
	}
	return s.Store.AppendTransaction(ctx, tx, prevBalance)
}

func TestLedgerService_AddTransaction_RetriesLostRace(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 2}
	ledger := NewLedgerService(store, nil, testLogger())

	tx, err := ledger.AddTransaction(context.Background(), core.Transaction{
		TenantID: "t1", ChildID: "c1",
		Amount: d("1.00"), Type: core.Deposit, Description: "Pocket money",
	})
	if err != nil {
		t.Fatalf("AddTransaction() error after retries: %v", err)
	}
	if !tx.Balance.Equal(d("1.00")) {
		t.Errorf("balance = %s, want 1.00", tx.Balance)
	}
}

func TestLedgerService_AddTransaction_GivesUpAfterMaxRetries(t *testing.T) {
	store := &flakyStore{Store: memory.New(), failures: 5}
	ledger := NewLedgerService(store, nil, testLogger())
	ledger.SetMaxRetries(3)

	_, err := ledger.AddTransaction(context.Background(), core.Transaction{
		TenantID: "t1", ChildID: "c1",
		Amount: d("1.00"), Type: core.Deposit, Description: "Pocket money",
	})
	if !errors.Is(err, core.ErrRaceLost) {
		t.Errorf("AddTransaction() error = %v, want ErrRaceLost", err)
	}
}

func TestLedgerService_BalanceHistory_GapFill(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")

	day1 := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)
	env.setClock(day1)
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	// Day 1 gets a deposit on top of the opening adjustment, then nothing
	// until day 4.
	if _, err := env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID: tenant.ID, ChildID: child.ID,
		Amount: d("5.00"), Type: core.Deposit, Description: "Pocket money",
	}); err != nil {
		t.Fatalf("AddTransaction(day 1) error: %v", err)
	}

	env.setClock(day1.AddDate(0, 0, 3))
	if _, err := env.ledger.AddTransaction(ctx, core.Transaction{
		TenantID: tenant.ID, ChildID: child.ID,
		Amount: d("-2.00"), Type: core.Withdrawal, Description: "Stickers",
	}); err != nil {
		t.Fatalf("AddTransaction(day 4) error: %v", err)
	}

	end := day1.AddDate(0, 0, 4)
	env.setClock(end)
	history, err := env.ledger.BalanceHistory(ctx, child.ID, tenant.ID, nil, &end)
	if err != nil {
		t.Fatalf("BalanceHistory() error: %v", err)
	}

	// Opening adjustment + deposit on day 1, synthesized days 2 and 3,
	// withdrawal on day 4, synthesized day 5.
	if len(history) != 6 {
		t.Fatalf("len(history) = %d, want 6", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("history not ordered at index %d", i)
		}
	}

	wantBalances := []string{"0", "5.00", "5.00", "5.00", "3.00", "3.00"}
	for i, want := range wantBalances {
		if !history[i].Balance.Equal(d(want)) {
			t.Errorf("history[%d].Balance = %s, want %s", i, history[i].Balance, want)
		}
	}

	// Synthesized points land at midnight of their day.
	if got := history[2].Timestamp; !got.Equal(core.Midnight(day1.AddDate(0, 0, 1))) {
		t.Errorf("gap day timestamp = %s, want midnight of day 2", got)
	}
}

func TestLedgerService_BalanceHistory_EmptyLedger(t *testing.T) {
	env := newTestEnv(t)

	history, err := env.ledger.BalanceHistory(context.Background(), "c1", "t1", nil, nil)
	if err != nil {
		t.Fatalf("BalanceHistory() error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("len(history) = %d, want 0", len(history))
	}
}

func TestLedgerService_TransactionsForChild_Paged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	for i := 0; i < 3; i++ {
		env.advanceDays(1)
		typ, desc := core.DailyAllowance, "Daily allowance"
		if i == 1 {
			typ, desc = core.Deposit, "Pocket money"
		}
		if _, err := env.ledger.AddTransaction(ctx, core.Transaction{
			TenantID: tenant.ID, ChildID: child.ID,
			Amount: d("1.00"), Type: typ, Description: desc,
		}); err != nil {
			t.Fatalf("AddTransaction(%d) error: %v", i, err)
		}
	}

	page, err := env.ledger.TransactionsForChild(ctx, child.ID, tenant.ID, 1, 10, true)
	if err != nil {
		t.Fatalf("TransactionsForChild() error: %v", err)
	}
	// Opening adjustment plus the deposit survive the daily filter.
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
	if page[0].Type != core.Deposit {
		t.Errorf("page[0].Type = %s, want deposit (newest first)", page[0].Type)
	}
}
