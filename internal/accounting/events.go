package accounting

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/money"
)

// SaleAmounts carries the figures of one sales invoice.
type SaleAmounts struct {
	Total  decimal.Decimal
	Paid   decimal.Decimal
	Unpaid decimal.Decimal
	COGS   decimal.Decimal
}

// SaleReturnAmounts carries the figures of goods handed back against one
// invoice. Refund plus credited must equal the total.
type SaleReturnAmounts struct {
	Total    decimal.Decimal
	Refund   decimal.Decimal
	Credited decimal.Decimal
	COGS     decimal.Decimal
}

// RecordPurchase posts Dr Inventory / Cr Cash for a stock purchase.
func (s *Service) RecordPurchase(ctx context.Context, ev EventInput, totalCost decimal.Decimal, productName string) (*JournalEntry, error) {
	amount := money.Normalize(totalCost)
	if !amount.IsPositive() {
		return nil, nil
	}
	memo := "Purchase stock-in"
	if productName != "" {
		memo += " for " + productName
	}
	ev.Memo = ""
	return s.PostJournalEntry(ctx, ev.posting(ReferencePurchase, memo, []LineInput{
		amountLine(CodeInventory, amount, money.Zero, "Inventory increase"),
		amountLine(CodeCash, money.Zero, amount, "Cash paid for purchase"),
	}))
}

// RecordSale posts revenue against cash and receivable, plus COGS against
// inventory when a cost is known. Paid plus unpaid must equal the total.
func (s *Service) RecordSale(ctx context.Context, ev EventInput, amounts SaleAmounts) (*JournalEntry, error) {
	total := money.Normalize(amounts.Total)
	paid := money.Normalize(amounts.Paid)
	unpaid := money.Normalize(amounts.Unpaid)
	cogs := money.Normalize(amounts.COGS)
	if !total.IsPositive() {
		return nil, nil
	}

	lines := make([]LineInput, 0, 5)
	if paid.IsPositive() {
		lines = append(lines, amountLine(CodeCash, paid, money.Zero, "Cash received from sale"))
	}
	if unpaid.IsPositive() {
		lines = append(lines, amountLine(CodeReceivable, unpaid, money.Zero, "Receivable from customer"))
	}
	lines = append(lines, amountLine(CodeSalesRevenue, money.Zero, total, "Sales revenue"))
	if cogs.IsPositive() {
		lines = append(lines,
			amountLine(CodeCOGS, cogs, money.Zero, "Recognized COGS"),
			amountLine(CodeInventory, money.Zero, cogs, "Inventory reduction"),
		)
	}
	ev.Memo = ""
	return s.PostJournalEntry(ctx, ev.posting(ReferenceSale, "Sales invoice posted", lines))
}

// RecordSaleReturn mirrors a sale: revenue is debited against the cash
// refunded and the receivable credited, and the cost goes back to inventory.
func (s *Service) RecordSaleReturn(ctx context.Context, ev EventInput, amounts SaleReturnAmounts) (*JournalEntry, error) {
	total := money.Normalize(amounts.Total)
	refund := money.Normalize(amounts.Refund)
	credited := money.Normalize(amounts.Credited)
	cogs := money.Normalize(amounts.COGS)
	if !total.IsPositive() {
		return nil, nil
	}

	lines := make([]LineInput, 0, 5)
	lines = append(lines, amountLine(CodeSalesRevenue, total, money.Zero, "Sales returned"))
	if refund.IsPositive() {
		lines = append(lines, amountLine(CodeCash, money.Zero, refund, "Cash refunded"))
	}
	if credited.IsPositive() {
		lines = append(lines, amountLine(CodeReceivable, money.Zero, credited, "Receivable credited"))
	}
	if cogs.IsPositive() {
		lines = append(lines,
			amountLine(CodeInventory, cogs, money.Zero, "Inventory restocked"),
			amountLine(CodeCOGS, money.Zero, cogs, "COGS reversed"),
		)
	}
	ev.Memo = ""
	return s.PostJournalEntry(ctx, ev.posting(ReferenceSaleReturn, "Sales return posted", lines))
}

// RecordCustomerPayment posts Dr Cash / Cr Receivable.
func (s *Service) RecordCustomerPayment(ctx context.Context, ev EventInput, amount decimal.Decimal) (*JournalEntry, error) {
	amt := money.Normalize(amount)
	if !amt.IsPositive() {
		return nil, nil
	}
	ev.Memo = ""
	return s.PostJournalEntry(ctx, ev.posting(ReferencePayment, "Customer payment received", []LineInput{
		amountLine(CodeCash, amt, money.Zero, "Cash received"),
		amountLine(CodeReceivable, money.Zero, amt, "Accounts receivable settled"),
	}))
}

// RecordExpense posts Dr Operating Expense / Cr Cash.
func (s *Service) RecordExpense(ctx context.Context, ev EventInput, amount decimal.Decimal) (*JournalEntry, error) {
	amt := money.Normalize(amount)
	if !amt.IsPositive() {
		return nil, nil
	}
	return s.PostJournalEntry(ctx, ev.posting(ReferenceExpense, "Operating expense posted", []LineInput{
		amountLine(CodeOperatingExpense, amt, money.Zero, "Expense booked"),
		amountLine(CodeCash, money.Zero, amt, "Cash paid"),
	}))
}

// RecordOtherIncome posts Dr Cash / Cr Other Income.
func (s *Service) RecordOtherIncome(ctx context.Context, ev EventInput, amount decimal.Decimal) (*JournalEntry, error) {
	amt := money.Normalize(amount)
	if !amt.IsPositive() {
		return nil, nil
	}
	return s.PostJournalEntry(ctx, ev.posting(ReferenceOtherIncome, "Other income posted", []LineInput{
		amountLine(CodeCash, amt, money.Zero, "Cash received"),
		amountLine(CodeOtherIncome, money.Zero, amt, "Other income"),
	}))
}

// posting builds the input; a caller memo overrides defaultMemo.
func (ev EventInput) posting(ref ReferenceType, defaultMemo string, lines []LineInput) PostingInput {
	memo := ev.Memo
	if memo == "" {
		memo = defaultMemo
	}
	return PostingInput{
		Scope:         ev.Scope,
		EntryDate:     ev.EntryDate,
		ReferenceType: ref,
		ReferenceID:   ev.ReferenceID,
		Memo:          memo,
		CreatedBy:     ev.CreatedBy,
		Lines:         lines,
	}
}
