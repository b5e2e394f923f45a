package inventory

import (
	"fmt"
	"math"
)

// Decompose splits total item units into whole packages and loose items.
// A non-positive contain counts every unit as its own package.
func Decompose(total int64, contain int64) Quantity {
	if contain <= 0 {
		contain = 1
	}
	return Quantity{Total: total, Packages: total / contain, Items: total % contain}
}

var stockTables = map[Scope]string{
	ScopeTenant: "tenant_stocks",
	ScopeStore:  "store_stocks",
	ScopeBranch: "branch_stocks",
}

func stockTable(scope Scope) (string, error) {
	table, ok := stockTables[scope]
	if !ok {
		return "", ErrInvalidLocation
	}
	return table, nil
}

// applyDelta returns level moved by delta, or ErrInsufficientStock when the
// result would be negative.
func applyDelta(level StockLevel, delta, contain int64) (StockLevel, error) {
	if delta > 0 && level.Total > math.MaxInt64-delta {
		return level, fmt.Errorf("%w: stock %d plus %d is out of range", ErrInvalidQuantity, level.Total, delta)
	}
	next := level.Total + delta
	if next < 0 {
		return level, ErrInsufficientStock
	}
	level.Quantity = Decompose(next, contain)
	return level, nil
}
