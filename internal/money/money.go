// Package money normalises monetary input to two-decimal currency values.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for currency values.
const Places = 2

// Zero is the normalised zero amount.
var Zero = decimal.New(0, -Places)

// Normalize coerces v into a currency amount rounded half-up to two places.
// Nil and anything that cannot be read as a number yield Zero.
func Normalize(v any) decimal.Decimal {
	d, ok := parse(v)
	if !ok {
		return Zero
	}
	return d.Round(Places)
}

// Sum normalises each value and returns the normalised total.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(Normalize(v))
	}
	return Normalize(total)
}

// Positive reports whether the normalised value is strictly greater than zero.
func Positive(v any) bool {
	return Normalize(v).IsPositive()
}

func parse(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return x, true
	case *decimal.Decimal:
		if x == nil {
			return decimal.Decimal{}, false
		}
		return *x, true
	case decimal.NullDecimal:
		return x.Decimal, x.Valid
	case string:
		return parseString(x)
	case json.Number:
		return parseString(x.String())
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int8:
		return decimal.NewFromInt(int64(x)), true
	case int16:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case uint:
		return decimal.NewFromUint64(uint64(x)), true
	case uint8:
		return decimal.NewFromUint64(uint64(x)), true
	case uint16:
		return decimal.NewFromUint64(uint64(x)), true
	case uint32:
		return decimal.NewFromUint64(uint64(x)), true
	case uint64:
		return decimal.NewFromUint64(x), true
	case float32:
		return parseFloat(float64(x))
	case float64:
		return parseFloat(x)
	case fmt.Stringer:
		return parseString(x.String())
	default:
		return decimal.Decimal{}, false
	}
}

func parseString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseFloat goes through the shortest decimal representation so 10.005 stays
// 10.005 instead of its binary neighbour.
func parseFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	return parseString(strconv.FormatFloat(f, 'f', -1, 64))
}
