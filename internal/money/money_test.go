package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRoundsHalfUp(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"string half", "10.005", "10.01"},
		{"string below half", "10.004", "10.00"},
		{"negative half", "-2.345", "-2.35"},
		{"float", 10.005, "10.01"},
		{"int", 42, "42.00"},
		{"json number", json.Number("3.14159"), "3.14"},
		{"padded string", "  7.5 ", "7.50"},
		{"decimal", decimal.RequireFromString("1.235"), "1.24"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.in).StringFixed(Places))
		})
	}
}

func TestNormalizeNeverFails(t *testing.T) {
	var nilDecimal *decimal.Decimal
	for _, in := range []any{nil, "", "abc", "1.2.3", math.NaN(), math.Inf(1), struct{}{}, nilDecimal, decimal.NullDecimal{}} {
		require.True(t, Normalize(in).Equal(Zero), "input %#v", in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []any{"10.005", 99.999, "-0.005", 12, "0"} {
		once := Normalize(in)
		require.True(t, Normalize(once).Equal(once))
	}
}

func TestSum(t *testing.T) {
	total := Sum(decimal.RequireFromString("0.005"), decimal.RequireFromString("0.005"))
	require.Equal(t, "0.02", total.StringFixed(Places))
	require.True(t, Positive("0.005"))
	require.False(t, Positive("0.004"))
}
