package retail

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	"github.com/odyssey-erp/storeledger/internal/inventory"
	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// ErrOverRefund indicates a refund above the value returned.
var ErrOverRefund = fmt.Errorf("%w: retail: refund exceeds returned value", shared.ErrValidation)

// ReturnInput hands goods sold on one invoice back to the branch.
type ReturnInput struct {
	Tenant     tenancy.Tenant
	Branch     tenancy.Branch
	InvoiceRef string
	Lines      []CheckoutLine
	// Refund is paid back in cash; the rest of the value credits the receivable.
	Refund    decimal.Decimal
	EntryDate time.Time
	CreatedBy *int64

	// IdempotencyKey rejects a replayed return when set.
	IdempotencyKey string
}

// ReturnResult is the committed outcome of a return.
type ReturnResult struct {
	InvoiceRef string                   `json:"invoice_ref"`
	Movements  []inventory.Movement     `json:"movements"`
	Entry      *accounting.JournalEntry `json:"entry"`
	Total      decimal.Decimal          `json:"total"`
	Refund     decimal.Decimal          `json:"refund"`
	Credited   decimal.Decimal          `json:"credited"`
	COGS       decimal.Decimal          `json:"cogs"`
}

// Return restocks every line at the branch and posts the reversing sale and
// COGS lines in the same transaction. Lines are valued at current prices and
// may not exceed what the invoice sold.
func (s *Service) Return(ctx context.Context, input ReturnInput) (ReturnResult, error) {
	loc := inventory.BranchLocation(input.Branch)
	if err := loc.Validate(input.Tenant); err != nil {
		return ReturnResult{}, err
	}
	if input.InvoiceRef == "" {
		return ReturnResult{}, fmt.Errorf("%w: invoice reference required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return ReturnResult{}, fmt.Errorf("%w: return has no lines", shared.ErrValidation)
	}
	refund := money.Normalize(input.Refund)
	if refund.IsNegative() {
		return ReturnResult{}, fmt.Errorf("%w: refund must not be negative", shared.ErrValidation)
	}
	lines := make([]CheckoutLine, len(input.Lines))
	copy(lines, input.Lines)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == 0 {
			return ReturnResult{}, fmt.Errorf("%w: product required", shared.ErrValidation)
		}
		ids = append(ids, l.ProductID)
	}

	var result ReturnResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.claim(ctx, input.Tenant.ID, moduleReturn, input.IdempotencyKey); err != nil {
			return err
		}
		products, err := s.stock.Products(ctx, input.Tenant.ID, ids)
		if err != nil {
			return err
		}
		total, cogs := money.Zero, money.Zero
		for _, l := range lines {
			p := products[l.ProductID]
			total = total.Add(LineTotal(p, l.PackageQty, l.ItemQty))
			cogs = cogs.Add(LineCost(p, l.PackageQty, l.ItemQty))
		}
		total, cogs = money.Normalize(total), money.Normalize(cogs)
		if refund.GreaterThan(total) {
			return fmt.Errorf("%w: refund %s, returned %s", ErrOverRefund, refund.StringFixed(money.Places), total.StringFixed(money.Places))
		}
		credited := money.Normalize(total.Sub(refund))
		if credited.IsPositive() {
			open, err := s.ledger.OpenReceivable(ctx, input.Tenant.ID)
			if err != nil {
				return err
			}
			if credited.GreaterThan(open) {
				return fmt.Errorf("%w: crediting %s, open %s", ErrExceedsReceivable,
					credited.StringFixed(money.Places), open.StringFixed(money.Places))
			}
		}

		movements := make([]inventory.Movement, 0, len(lines))
		for _, l := range lines {
			m, err := s.stock.Receive(ctx, inventory.ReceiptInput{
				Tenant:     input.Tenant,
				Product:    products[l.ProductID],
				Location:   loc,
				PackageQty: l.PackageQty,
				ItemQty:    l.ItemQty,
				Type:       inventory.MovementSaleReturn,
				Reference:  input.InvoiceRef,
				Note:       "Return " + input.InvoiceRef,
				CreatedBy:  input.CreatedBy,
			})
			if err != nil {
				return err
			}
			movements = append(movements, m)
		}
		entry, err := s.ledger.RecordSaleReturn(ctx, accounting.EventInput{
			Scope:       ledgerScope(input.Tenant, loc),
			EntryDate:   input.EntryDate,
			ReferenceID: input.InvoiceRef,
			CreatedBy:   input.CreatedBy,
		}, accounting.SaleReturnAmounts{Total: total, Refund: refund, Credited: credited, COGS: cogs})
		if err != nil {
			return err
		}
		result = ReturnResult{
			InvoiceRef: input.InvoiceRef,
			Movements:  movements,
			Entry:      entry,
			Total:      total,
			Refund:     refund,
			Credited:   credited,
			COGS:       cogs,
		}
		s.publish(ctx, EventReturnRecorded, input.Tenant.ID, result)
		return nil
	})
	if err != nil {
		return ReturnResult{}, err
	}
	return result, nil
}
