package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionType_IsRegular(t *testing.T) {
	tests := []struct {
		typ  TransactionType
		want bool
	}{
		{DailyAllowance, true},
		{BirthdayAllowance, true},
		{Hold, false},
		{Deposit, false},
		{Withdrawal, false},
		{Adjustment, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsRegular(); got != tt.want {
				t.Errorf("IsRegular() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChild_BirthdayOn(t *testing.T) {
	birthDate := time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		child Child
		date  time.Time
		want  bool
	}{
		{
			name:  "no birth date",
			child: Child{},
			date:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			want:  false,
		},
		{
			name:  "same month and day, different year",
			child: Child{BirthDate: &birthDate},
			date:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			want:  true,
		},
		{
			name:  "different day",
			child: Child{BirthDate: &birthDate},
			date:  time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
			want:  false,
		},
		{
			name:  "same day, different month",
			child: Child{BirthDate: &birthDate},
			date:  time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.child.BirthdayOn(tt.date); got != tt.want {
				t.Errorf("BirthdayOn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChild_Validate(t *testing.T) {
	valid := Child{
		FirstName:        "Ada",
		TenantID:         "tenant-1",
		RegularAllowance: decimal.NewFromInt(1),
	}

	tests := []struct {
		name    string
		mutate  func(c *Child)
		wantErr error
	}{
		{name: "valid", mutate: func(c *Child) {}, wantErr: nil},
		{
			name:    "empty first name",
			mutate:  func(c *Child) { c.FirstName = "  " },
			wantErr: ErrEmptyName,
		},
		{
			name:    "missing tenant",
			mutate:  func(c *Child) { c.TenantID = "" },
			wantErr: ErrMissingTenant,
		},
		{
			name:    "zero allowance",
			mutate:  func(c *Child) { c.RegularAllowance = decimal.Zero },
			wantErr: ErrInvalidAmount,
		},
		{
			name: "negative birthday allowance",
			mutate: func(c *Child) {
				neg := decimal.NewFromInt(-1)
				c.BirthdayAllowance = &neg
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative hold days",
			mutate:  func(c *Child) { c.HoldDaysRemaining = -1 },
			wantErr: ErrInvalidHoldDays,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransaction_Validate(t *testing.T) {
	valid := Transaction{
		TenantID:    "tenant-1",
		ChildID:     "child-1",
		Type:        Deposit,
		Description: "pocket money",
	}

	tests := []struct {
		name    string
		mutate  func(tx *Transaction)
		wantErr error
	}{
		{name: "valid", mutate: func(tx *Transaction) {}, wantErr: nil},
		{
			name:    "missing tenant",
			mutate:  func(tx *Transaction) { tx.TenantID = "" },
			wantErr: ErrMissingTenant,
		},
		{
			name:    "missing child",
			mutate:  func(tx *Transaction) { tx.ChildID = "" },
			wantErr: ErrMissingChild,
		},
		{
			name:    "unknown type",
			mutate:  func(tx *Transaction) { tx.Type = "bogus" },
			wantErr: ErrInvalidType,
		},
		{
			name:    "empty description",
			mutate:  func(tx *Transaction) { tx.Description = " " },
			wantErr: ErrEmptyDescription,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			if err := tx.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMidnight(t *testing.T) {
	in := time.Date(2024, 6, 15, 18, 30, 45, 12345, time.FixedZone("CET", 3600))
	got := Midnight(in)
	want := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Midnight() = %v, want %v", got, want)
	}
}
