package accounting

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccountBalancesSignConventions(t *testing.T) {
	lines := []JournalLine{
		{AccountID: 3, AccountCode: CodeSalesRevenue, AccountName: "Sales Revenue", AccountType: AccountTypeRevenue, Credit: d("1000")},
		{AccountID: 1, AccountCode: CodeCash, AccountName: "Cash on Hand", AccountType: AccountTypeAsset, Debit: d("700")},
		{AccountID: 1, AccountCode: CodeCash, AccountName: "Cash on Hand", AccountType: AccountTypeAsset, Credit: d("200.005")},
		{AccountID: 4, AccountCode: CodeCOGS, AccountName: "Cost of Goods Sold", AccountType: AccountTypeExpense, Debit: d("400")},
		{AccountID: 2, AccountCode: CodePayable, AccountName: "Accounts Payable", AccountType: AccountTypeLiability, Credit: d("50"), Debit: d("0")},
		{AccountID: 2, AccountCode: CodePayable, AccountName: "Accounts Payable", AccountType: AccountTypeLiability, Debit: d("80")},
	}

	balances := AccountBalances(lines)
	require.Len(t, balances, 4)

	codes := []string{balances[0].Code, balances[1].Code, balances[2].Code, balances[3].Code}
	require.Equal(t, []string{CodeCash, CodePayable, CodeSalesRevenue, CodeCOGS}, codes)

	require.Equal(t, "700.00", balances[0].Debit.StringFixed(2))
	require.Equal(t, "200.01", balances[0].Credit.StringFixed(2))
	require.Equal(t, "499.99", balances[0].Balance.StringFixed(2))
	require.Equal(t, "-30.00", balances[1].Balance.StringFixed(2))
	require.Equal(t, "1000.00", balances[2].Balance.StringFixed(2))
	require.Equal(t, "400.00", balances[3].Balance.StringFixed(2))
}

func TestAccountBalancesEmpty(t *testing.T) {
	require.Empty(t, AccountBalances(nil))
}
