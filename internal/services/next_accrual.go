// Package services provides the ledger, child, tenant and accrual
// orchestration on top of a storage.Store.
//
// This file computes the next accrual facts for a child. The function is
// pure: it is polled by read paths and by the scheduler, so it must never
// touch storage or the clock itself.
package services

import (
	"time"

	"github.com/shopspring/decimal"

	"paghetta/internal/core"
)

// AccrualPlan holds the derived next-accrual facts for a child.
type AccrualPlan struct {
	// Amount is the delta the next regular accrual will credit.
	Amount decimal.Decimal
	// DueDate is midnight UTC of the day the accrual becomes due.
	DueDate time.Time
	// IsBirthdayToday reports whether now falls on the child's birthday.
	IsBirthdayToday bool
	// IsBirthdayNext reports whether DueDate falls on the child's birthday.
	IsBirthdayNext bool
}

// NextAccrual derives the amount and due date of the child's next regular
// accrual. lastRegular is the newest DailyAllowance or BirthdayAllowance
// transaction, or nil when the child never received one; Hold entries must
// not be passed here, they carry no accrual meaning.
//
// The due-date rule guarantees at most one regular accrual per calendar
// day and recovers forward when the job missed days: a last regular
// transaction dated today (or later) pushes the base date to tomorrow,
// anything older makes the accrual due today. Hold days shift the base
// date further out.
func NextAccrual(child core.Child, lastRegular *core.Transaction, now time.Time) AccrualPlan {
	now = now.UTC()

	// No regular transaction yet: pretend it happened yesterday so the
	// first accrual is due today.
	lastRegularDate := now.AddDate(0, 0, -1)
	if lastRegular != nil {
		lastRegularDate = lastRegular.TransactionTimestamp.UTC()
	}

	base := now
	if !core.Midnight(lastRegularDate).Before(core.Midnight(now)) {
		base = now.AddDate(0, 0, 1)
	}

	dueDate := core.Midnight(base.AddDate(0, 0, child.HoldDaysRemaining))

	isBirthdayNext := child.BirthdayOn(dueDate)
	amount := child.RegularAllowance
	if isBirthdayNext && child.BirthdayAllowance != nil {
		amount = *child.BirthdayAllowance
	}

	return AccrualPlan{
		Amount:          amount,
		DueDate:         dueDate,
		IsBirthdayToday: child.BirthdayOn(now),
		IsBirthdayNext:  isBirthdayNext,
	}
}
