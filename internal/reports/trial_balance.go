package reports

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	"github.com/odyssey-erp/storeledger/internal/money"
)

// TrialBalanceRow places an account's net balance on its debit or credit side.
type TrialBalanceRow struct {
	Code   string                 `json:"code"`
	Name   string                 `json:"name"`
	Type   accounting.AccountType `json:"account_type"`
	Debit  decimal.Decimal        `json:"debit"`
	Credit decimal.Decimal        `json:"credit"`
}

// TrialBalanceGroup collects the rows sharing a code prefix.
type TrialBalanceGroup struct {
	Prefix string            `json:"prefix"`
	Label  string            `json:"label"`
	Rows   []TrialBalanceRow `json:"rows"`
	Debit  decimal.Decimal   `json:"debit"`
	Credit decimal.Decimal   `json:"credit"`
}

// TrialBalance is the grouped listing with grand totals.
type TrialBalance struct {
	Groups   []TrialBalanceGroup `json:"groups"`
	Debit    decimal.Decimal     `json:"debit"`
	Credit   decimal.Decimal     `json:"credit"`
	Balanced bool                `json:"balanced"`
}

var groupLabels = map[string]string{
	"1": "Assets",
	"2": "Liabilities",
	"3": "Equity",
	"4": "Revenue",
	"5": "Cost of Sales",
	"6": "Expenses",
}

// BuildTrialBalance groups balances by the first digit of the account code.
// Input order is kept within a group; balances arrive sorted by code.
func BuildTrialBalance(balances []accounting.AccountBalance) TrialBalance {
	tb := TrialBalance{Groups: []TrialBalanceGroup{}, Debit: money.Zero, Credit: money.Zero}
	index := make(map[string]int)
	for _, bal := range balances {
		prefix := "?"
		if bal.Code != "" {
			prefix = bal.Code[:1]
		}
		i, ok := index[prefix]
		if !ok {
			label, known := groupLabels[prefix]
			if !known {
				label = "Other"
			}
			tb.Groups = append(tb.Groups, TrialBalanceGroup{Prefix: prefix, Label: label, Debit: money.Zero, Credit: money.Zero})
			i = len(tb.Groups) - 1
			index[prefix] = i
		}
		row := TrialBalanceRow{Code: bal.Code, Name: bal.Name, Type: bal.Type, Debit: money.Zero, Credit: money.Zero}
		net := money.Normalize(bal.Debit.Sub(bal.Credit))
		if net.IsPositive() {
			row.Debit = net
		} else {
			row.Credit = money.Normalize(net.Neg())
		}
		group := &tb.Groups[i]
		group.Rows = append(group.Rows, row)
		group.Debit = money.Normalize(group.Debit.Add(row.Debit))
		group.Credit = money.Normalize(group.Credit.Add(row.Credit))
		tb.Debit = money.Normalize(tb.Debit.Add(row.Debit))
		tb.Credit = money.Normalize(tb.Credit.Add(row.Credit))
	}
	tb.Balanced = tb.Debit.Equal(tb.Credit)
	return tb
}
