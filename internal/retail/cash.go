package retail

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	"github.com/odyssey-erp/storeledger/internal/inventory"
	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// ErrExceedsReceivable indicates a settlement above the open receivable.
var ErrExceedsReceivable = fmt.Errorf("retail: amount exceeds open receivable: %w", shared.ErrUnprocessable)

// CashInput records money moving in or out without touching stock.
type CashInput struct {
	Tenant   tenancy.Tenant
	Location inventory.Location
	Amount   decimal.Decimal
	// Reference names the receipt or voucher; it becomes the entry reference id.
	Reference string
	Memo      string
	EntryDate time.Time
	CreatedBy *int64

	// IdempotencyKey rejects a replayed request when set.
	IdempotencyKey string
}

// CashResult is the committed outcome of a cash flow.
type CashResult struct {
	Entry  *accounting.JournalEntry `json:"entry"`
	Amount decimal.Decimal          `json:"amount"`
	// OpenReceivable is the balance left after a customer payment.
	OpenReceivable *decimal.Decimal `json:"open_receivable,omitempty"`
}

type cashPosting func(ctx context.Context, ev accounting.EventInput, amount decimal.Decimal) (*accounting.JournalEntry, error)

// Payment settles part of the tenant's receivable. Amounts above the open
// balance are rejected; the balance stays locked until the payment commits.
func (s *Service) Payment(ctx context.Context, input CashInput) (CashResult, error) {
	return s.cash(ctx, input, modulePayment, EventPaymentRecorded, s.ledger.RecordCustomerPayment,
		func(ctx context.Context, amount decimal.Decimal) (*decimal.Decimal, error) {
			open, err := s.ledger.OpenReceivable(ctx, input.Tenant.ID)
			if err != nil {
				return nil, err
			}
			if amount.GreaterThan(open) {
				return nil, fmt.Errorf("%w: paying %s, open %s", ErrExceedsReceivable,
					amount.StringFixed(money.Places), open.StringFixed(money.Places))
			}
			left := money.Normalize(open.Sub(amount))
			return &left, nil
		})
}

// Expense books an operating expense paid in cash.
func (s *Service) Expense(ctx context.Context, input CashInput) (CashResult, error) {
	return s.cash(ctx, input, moduleExpense, EventExpenseRecorded, s.ledger.RecordExpense, nil)
}

// OtherIncome books cash received outside sales.
func (s *Service) OtherIncome(ctx context.Context, input CashInput) (CashResult, error) {
	return s.cash(ctx, input, moduleOtherIncome, EventOtherIncomeRecorded, s.ledger.RecordOtherIncome, nil)
}

func (s *Service) cash(ctx context.Context, input CashInput, module, eventType string, post cashPosting,
	guard func(context.Context, decimal.Decimal) (*decimal.Decimal, error)) (CashResult, error) {
	if input.Location.Scope == "" {
		input.Location = inventory.TenantLocation()
	}
	if err := input.Location.Validate(input.Tenant); err != nil {
		return CashResult{}, err
	}
	amount := money.Normalize(input.Amount)
	if !amount.IsPositive() {
		return CashResult{}, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}

	var result CashResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.claim(ctx, input.Tenant.ID, module, input.IdempotencyKey); err != nil {
			return err
		}
		var left *decimal.Decimal
		if guard != nil {
			var err error
			if left, err = guard(ctx, amount); err != nil {
				return err
			}
		}
		entry, err := post(ctx, accounting.EventInput{
			Scope:       ledgerScope(input.Tenant, input.Location),
			EntryDate:   input.EntryDate,
			ReferenceID: input.Reference,
			Memo:        input.Memo,
			CreatedBy:   input.CreatedBy,
		}, amount)
		if err != nil {
			return err
		}
		result = CashResult{Entry: entry, Amount: amount, OpenReceivable: left}
		s.publish(ctx, eventType, input.Tenant.ID, result)
		return nil
	})
	if err != nil {
		return CashResult{}, err
	}
	return result, nil
}
