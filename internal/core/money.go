// Package core holds the domain model of the allowance ledger: tenants,
// children, transactions and the derived balance read models.
//
// This file contains helpers for parsing and formatting monetary amounts.
// Amounts are decimal.Decimal throughout; floats never touch money.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-entered amount to a decimal. It accepts
// both dot (12.34) and comma (12,34) separators and requires a strictly
// positive value; signs are rejected because the caller decides the
// direction (deposit vs withdrawal).
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("-5")    -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// FormatAmount renders a decimal with two fractional digits for
// notifications and descriptions.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
