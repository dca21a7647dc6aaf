package services

import (
	"context"
	"slices"
	"testing"
	"time"

	"paghetta/internal/core"
)

func TestAccrualProcessor_FirstRunCreditsChild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	env.advanceDays(1)
	processed, err := env.processor.ProcessDailyAccruals(ctx, env.now())
	if err != nil {
		t.Fatalf("ProcessDailyAccruals() error: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}

	latest, err := env.ledger.LatestTransaction(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("LatestTransaction() error: %v", err)
	}
	if latest.Type != core.DailyAllowance {
		t.Errorf("latest type = %s, want daily_allowance", latest.Type)
	}
	if !latest.Balance.Equal(d("1.00")) {
		t.Errorf("balance = %s, want 1.00", latest.Balance)
	}
	if latest.Description != "Daily allowance" {
		t.Errorf("description = %q", latest.Description)
	}

	if !slices.Contains(env.notifier.messages(), "Added 1.00 for daily allowance") {
		t.Errorf("missing accrual notification, got %v", env.notifier.messages())
	}
}

func TestAccrualProcessor_SameDayRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	env.advanceDays(1)
	if _, err := env.processor.ProcessDailyAccruals(ctx, env.now()); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	// Replaying the same fire time, for example after a worker restart,
	// must not double-credit.
	processed, err := env.processor.ProcessDailyAccruals(ctx, env.now())
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if processed != 0 {
		t.Errorf("processed = %d on replay, want 0", processed)
	}

	balance, err := env.ledger.BalanceForChild(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("BalanceForChild() error: %v", err)
	}
	if !balance.Equal(d("1.00")) {
		t.Errorf("balance = %s after replay, want 1.00", balance)
	}
}

// Drives the processor day by day through a two-day hold: the hold
// swallows two accruals and the daily credit resumes when it expires.
func TestAccrualProcessor_HoldDefersAccruals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	runDay := func(wantProcessed int) {
		t.Helper()
		env.advanceDays(1)
		processed, err := env.processor.ProcessDailyAccruals(ctx, env.now())
		if err != nil {
			t.Fatalf("ProcessDailyAccruals(%s) error: %v", env.now().Format(time.DateOnly), err)
		}
		if processed != wantProcessed {
			t.Fatalf("processed on %s = %d, want %d", env.now().Format(time.DateOnly), processed, wantProcessed)
		}
	}

	runDay(1) // day 1: normal credit

	if err := env.children.ApplyHold(ctx, child.ID, tenant.ID, 2, "No chores"); err != nil {
		t.Fatalf("ApplyHold() error: %v", err)
	}

	runDay(0) // day 2: held
	runDay(0) // day 3: held
	runDay(1) // day 4: hold expired, credit resumes

	got, err := env.children.GetChild(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("GetChild() error: %v", err)
	}
	if got.HoldDaysRemaining != 0 {
		t.Errorf("HoldDaysRemaining = %d, want 0", got.HoldDaysRemaining)
	}

	balance, err := env.ledger.BalanceForChild(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("BalanceForChild() error: %v", err)
	}
	if !balance.Equal(d("2.00")) {
		t.Errorf("balance = %s, want 2.00 (two credits, two held days)", balance)
	}
}

func TestAccrualProcessor_BirthdayCreditsBirthdayAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")

	birthDate := time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC)
	child := env.addChild(t, core.Child{
		TenantID:          tenant.ID,
		FirstName:         "Anna",
		BirthDate:         &birthDate,
		RegularAllowance:  d("1.00"),
		BirthdayAllowance: dptr("10.00"),
	})

	// Feb 28: regular credit. Mar 1: birthday credit.
	env.setClock(time.Date(2026, 2, 28, 0, 1, 0, 0, time.UTC))
	if _, err := env.processor.ProcessDailyAccruals(ctx, env.now()); err != nil {
		t.Fatalf("run on Feb 28 error: %v", err)
	}

	env.setClock(time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC))
	processed, err := env.processor.ProcessDailyAccruals(ctx, env.now())
	if err != nil {
		t.Fatalf("run on Mar 1 error: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}

	latest, err := env.ledger.LatestTransaction(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("LatestTransaction() error: %v", err)
	}
	if latest.Type != core.BirthdayAllowance {
		t.Errorf("latest type = %s, want birthday_allowance", latest.Type)
	}
	if !latest.Amount.Equal(d("10.00")) {
		t.Errorf("amount = %s, want 10.00", latest.Amount)
	}
	if latest.Description != "Birthday allowance" {
		t.Errorf("description = %q", latest.Description)
	}

	if !slices.Contains(env.notifier.messages(), "Added 10.00 for birthday allowance") {
		t.Errorf("missing birthday notification, got %v", env.notifier.messages())
	}

	if !latest.Balance.Equal(d("11.00")) {
		t.Errorf("balance = %s, want 11.00", latest.Balance)
	}
}

func TestAccrualProcessor_CatchesUpAfterMissedDays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := env.addTenant(t, "Rossi", "rossi")
	child := env.addChild(t, core.Child{
		TenantID:         tenant.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})

	env.advanceDays(1)
	if _, err := env.processor.ProcessDailyAccruals(ctx, env.now()); err != nil {
		t.Fatalf("first run error: %v", err)
	}

	// The worker was down for three days. The next run credits exactly
	// one allowance, not three: missed days are skipped, not replayed.
	env.advanceDays(3)
	processed, err := env.processor.ProcessDailyAccruals(ctx, env.now())
	if err != nil {
		t.Fatalf("catch-up run error: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}

	balance, err := env.ledger.BalanceForChild(ctx, child.ID, tenant.ID)
	if err != nil {
		t.Fatalf("BalanceForChild() error: %v", err)
	}
	if !balance.Equal(d("2.00")) {
		t.Errorf("balance = %s, want 2.00", balance)
	}
}

func TestAccrualProcessor_MultipleTenantsIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rossi := env.addTenant(t, "Rossi", "rossi")
	bianchi := env.addTenant(t, "Bianchi", "bianchi")
	annaRossi := env.addChild(t, core.Child{
		TenantID:         rossi.ID,
		FirstName:        "Anna",
		RegularAllowance: d("1.00"),
	})
	brunoBianchi := env.addChild(t, core.Child{
		TenantID:         bianchi.ID,
		FirstName:        "Bruno",
		RegularAllowance: d("2.00"),
	})

	env.advanceDays(1)
	processed, err := env.processor.ProcessDailyAccruals(ctx, env.now())
	if err != nil {
		t.Fatalf("ProcessDailyAccruals() error: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}

	annaBalance, _ := env.ledger.BalanceForChild(ctx, annaRossi.ID, rossi.ID)
	brunoBalance, _ := env.ledger.BalanceForChild(ctx, brunoBianchi.ID, bianchi.ID)
	if !annaBalance.Equal(d("1.00")) {
		t.Errorf("anna balance = %s, want 1.00", annaBalance)
	}
	if !brunoBalance.Equal(d("2.00")) {
		t.Errorf("bruno balance = %s, want 2.00", brunoBalance)
	}
}
