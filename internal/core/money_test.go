package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "dot separator", input: "12.34", want: "12.34"},
		{name: "comma separator", input: "12,34", want: "12.34"},
		{name: "integer", input: "5", want: "5"},
		{name: "surrounding spaces", input: " 3.50 ", want: "3.5"},
		{name: "empty", input: "", wantErr: true},
		{name: "zero", input: "0", wantErr: true},
		{name: "explicit plus sign", input: "+5", wantErr: true},
		{name: "negative", input: "-5", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "two separators", input: "1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.NewFromInt(1)); got != "1.00" {
		t.Errorf("FormatAmount(1) = %q, want %q", got, "1.00")
	}
	if got := FormatAmount(decimal.RequireFromString("-2.5")); got != "-2.50" {
		t.Errorf("FormatAmount(-2.5) = %q, want %q", got, "-2.50")
	}
}
