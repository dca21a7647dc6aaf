package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry. DailyAllowance and
// BirthdayAllowance are the "regular" types: only they move the next
// accrual date forward.
type TransactionType string

const (
	DailyAllowance    TransactionType = "daily_allowance"
	BirthdayAllowance TransactionType = "birthday_allowance"
	Withdrawal        TransactionType = "withdrawal"
	Deposit           TransactionType = "deposit"
	Transfer          TransactionType = "transfer"
	Adjustment        TransactionType = "adjustment"
	Interest          TransactionType = "interest"
	Hold              TransactionType = "hold"
	Other             TransactionType = "other"
)

// IsValid returns true for a known transaction type.
func (t TransactionType) IsValid() bool {
	switch t {
	case DailyAllowance, BirthdayAllowance, Withdrawal, Deposit,
		Transfer, Adjustment, Interest, Hold, Other:
		return true
	default:
		return false
	}
}

// IsRegular reports whether the type counts toward the next accrual date.
func (t TransactionType) IsRegular() bool {
	return t == DailyAllowance || t == BirthdayAllowance
}

// RegularTypes lists the types used by LatestRegularTransaction lookups.
var RegularTypes = []TransactionType{DailyAllowance, BirthdayAllowance}

type (
	// Tenant is the isolation boundary: one family owning children.
	Tenant struct {
		ID               string
		Name             string
		URLSuffix        string
		Deleted          bool
		CreatedTimestamp time.Time
		UpdatedTimestamp time.Time
	}

	// Child holds per-child allowance configuration. HoldDaysRemaining
	// defers the next accrual by that many daily runs.
	Child struct {
		ID                string
		TenantID          string
		FirstName         string
		LastName          string
		BirthDate         *time.Time
		RegularAllowance  decimal.Decimal
		BirthdayAllowance *decimal.Decimal
		HoldDaysRemaining int
		Deleted           bool
		CreatedTimestamp  time.Time
		UpdatedTimestamp  time.Time
	}

	// Transaction is an immutable ledger entry. Balance is the snapshot
	// after applying Amount to the previous balance; it is never
	// recomputed at read time.
	Transaction struct {
		ID                   string
		TenantID             string
		ChildID              string
		Amount               decimal.Decimal
		Balance              decimal.Decimal
		Type                 TransactionType
		Description          string
		TransactionTimestamp time.Time
		CreatedTimestamp     time.Time
		Deleted              bool
	}

	// ChildWithBalance is the derived read model: identity plus current
	// balance and the next scheduled accrual. Computed, never persisted.
	ChildWithBalance struct {
		ID                string
		TenantID          string
		Name              string
		Balance           decimal.Decimal
		IsBirthday        bool
		HoldDaysRemaining int
		NextAmount        decimal.Decimal
		NextDate          time.Time
	}

	// BalanceHistoryEntry is one point of the day-by-day balance series.
	BalanceHistoryEntry struct {
		Timestamp time.Time
		Balance   decimal.Decimal
	}

	// ChildWithBalanceHistory pairs a child with its gap-filled series.
	ChildWithBalanceHistory struct {
		ChildID   string
		ChildName string
		TenantID  string
		History   []BalanceHistoryEntry
	}
)

var (
	ErrEmptyName        = errors.New("empty name")
	ErrEmptySuffix      = errors.New("empty url suffix")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidHoldDays  = errors.New("hold days must be positive")
	ErrMissingTenant    = errors.New("missing tenant id")
	ErrMissingChild     = errors.New("missing child id")
	ErrEmptyDescription = errors.New("empty description")
)

// Name returns the child's display name.
func (c Child) Name() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// BirthdayOn reports whether the given date falls on the child's
// birthday (month/day match, year ignored).
func (c Child) BirthdayOn(date time.Time) bool {
	if c.BirthDate == nil {
		return false
	}
	return c.BirthDate.Month() == date.Month() && c.BirthDate.Day() == date.Day()
}

func (t Tenant) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(t.URLSuffix) == "" {
		return ErrEmptySuffix
	}
	return nil
}

func (c Child) Validate() error {
	if strings.TrimSpace(c.FirstName) == "" {
		return ErrEmptyName
	}
	if c.TenantID == "" {
		return ErrMissingTenant
	}
	if !c.RegularAllowance.IsPositive() {
		return ErrInvalidAmount
	}
	if c.BirthdayAllowance != nil && !c.BirthdayAllowance.IsPositive() {
		return ErrInvalidAmount
	}
	if c.HoldDaysRemaining < 0 {
		return ErrInvalidHoldDays
	}
	return nil
}

func (tx Transaction) Validate() error {
	if tx.TenantID == "" {
		return ErrMissingTenant
	}
	if tx.ChildID == "" {
		return ErrMissingChild
	}
	if !tx.Type.IsValid() {
		return ErrInvalidType
	}
	if len(strings.TrimSpace(tx.Description)) == 0 {
		return ErrEmptyDescription
	}
	return nil
}

// Midnight truncates a time to 00:00:00 UTC of the same calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two times fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
