package msisdn

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "local zero prefix", input: "0712345678", expected: "254712345678"},
		{name: "bare subscriber number", input: "712345678", expected: "254712345678"},
		{name: "already canonical", input: "254712345678", expected: "254712345678"},
		{name: "plus prefix", input: "+254712345678", expected: "254712345678"},
		{name: "spaces and dashes", input: "0712 345-678", expected: "254712345678"},
		{name: "too short", input: "07123", wantErr: true},
		{name: "too long", input: "25471234567890", wantErr: true},
		{name: "foreign prefix", input: "255712345678", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "letters only", input: "not-a-number", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidMSISDN) {
					t.Fatalf("expected ErrInvalidMSISDN, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   float64
		expected string
	}{
		{amount: 0, expected: "Ksh 0.00"},
		{amount: 5.5, expected: "Ksh 5.50"},
		{amount: 999.99, expected: "Ksh 999.99"},
		{amount: 1234.56, expected: "Ksh 1,234.56"},
		{amount: 1000000, expected: "Ksh 1,000,000.00"},
		{amount: -9876.54, expected: "Ksh -9,876.54"},
	}

	for _, tc := range tests {
		got := FormatAmount(decimal.NewFromFloat(tc.amount))
		if got != tc.expected {
			t.Fatalf("FormatAmount(%v): expected %q, got %q", tc.amount, tc.expected, got)
		}
	}
}
