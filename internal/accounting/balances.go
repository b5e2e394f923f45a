package accounting

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/money"
)

// AccountBalance aggregates the postings of one account.
type AccountBalance struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"account_type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Balance   decimal.Decimal `json:"balance"`
}

// AccountBalances groups lines by account, ordered by code. Asset and expense
// balances are debit minus credit; every other type is credit minus debit.
func AccountBalances(lines []JournalLine) []AccountBalance {
	byAccount := make(map[int64]*AccountBalance)
	for _, line := range lines {
		bal, ok := byAccount[line.AccountID]
		if !ok {
			bal = &AccountBalance{
				AccountID: line.AccountID,
				Code:      line.AccountCode,
				Name:      line.AccountName,
				Type:      line.AccountType,
				Debit:     decimal.Zero,
				Credit:    decimal.Zero,
			}
			byAccount[line.AccountID] = bal
		}
		bal.Debit = bal.Debit.Add(line.Debit)
		bal.Credit = bal.Credit.Add(line.Credit)
	}

	out := make([]AccountBalance, 0, len(byAccount))
	for _, bal := range byAccount {
		bal.Debit = money.Normalize(bal.Debit)
		bal.Credit = money.Normalize(bal.Credit)
		if bal.Type.DebitNormal() {
			bal.Balance = money.Normalize(bal.Debit.Sub(bal.Credit))
		} else {
			bal.Balance = money.Normalize(bal.Credit.Sub(bal.Debit))
		}
		out = append(out, *bal)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code == out[j].Code {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Code < out[j].Code
	})
	return out
}
