// Package retail composes stock and ledger effects of business events into
// single transactions.
package retail

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	"github.com/odyssey-erp/storeledger/internal/inventory"
	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/platform/db"
	"github.com/odyssey-erp/storeledger/internal/platform/events"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// Published after the matching event commits.
const (
	EventPurchaseRecorded    = "retail.purchase_recorded"
	EventSaleRecorded        = "retail.sale_recorded"
	EventPaymentRecorded     = "retail.payment_recorded"
	EventExpenseRecorded     = "retail.expense_recorded"
	EventOtherIncomeRecorded = "retail.other_income_recorded"
	EventReturnRecorded      = "retail.return_recorded"
)

// ErrOverpaid indicates a checkout paid above its total.
var ErrOverpaid = fmt.Errorf("%w: retail: paid amount exceeds sale total", shared.ErrValidation)

// TxRunner opens the unit of work shared by stock and ledger writes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

// StockPort is the slice of the stock ledger retail flows use.
type StockPort interface {
	Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]inventory.Product, error)
	Receive(ctx context.Context, input inventory.ReceiptInput) (inventory.Movement, error)
	Issue(ctx context.Context, input inventory.IssueInput) (inventory.Movement, error)
}

// LedgerPort is the slice of the posting engine retail flows use.
type LedgerPort interface {
	RecordPurchase(ctx context.Context, ev accounting.EventInput, totalCost decimal.Decimal, productName string) (*accounting.JournalEntry, error)
	RecordSale(ctx context.Context, ev accounting.EventInput, amounts accounting.SaleAmounts) (*accounting.JournalEntry, error)
	RecordSaleReturn(ctx context.Context, ev accounting.EventInput, amounts accounting.SaleReturnAmounts) (*accounting.JournalEntry, error)
	RecordCustomerPayment(ctx context.Context, ev accounting.EventInput, amount decimal.Decimal) (*accounting.JournalEntry, error)
	RecordExpense(ctx context.Context, ev accounting.EventInput, amount decimal.Decimal) (*accounting.JournalEntry, error)
	RecordOtherIncome(ctx context.Context, ev accounting.EventInput, amount decimal.Decimal) (*accounting.JournalEntry, error)
	OpenReceivable(ctx context.Context, tenantID int64) (decimal.Decimal, error)
}

// Idempotency claims request keys inside the unit of work.
type Idempotency interface {
	Claim(ctx context.Context, tenantID int64, module, key string) error
}

// Modules under which request keys are claimed.
const (
	modulePurchase    = "retail.purchase"
	moduleCheckout    = "retail.checkout"
	modulePayment     = "retail.payment"
	moduleExpense     = "retail.expense"
	moduleOtherIncome = "retail.other_income"
	moduleReturn      = "retail.return"
)

// PurchaseInput records stock bought into one location.
type PurchaseInput struct {
	Tenant     tenancy.Tenant
	Location   inventory.Location
	ProductID  int64
	PackageQty int64
	ItemQty    int64
	// TotalCost overrides the cost derived from the package purchase price.
	TotalCost *decimal.Decimal
	EntryDate time.Time
	Note      string
	CreatedBy *int64

	// IdempotencyKey rejects a replayed purchase when set.
	IdempotencyKey string
}

// PurchaseResult is the committed outcome of a purchase.
type PurchaseResult struct {
	Movement  inventory.Movement       `json:"movement"`
	Entry     *accounting.JournalEntry `json:"entry"`
	TotalCost decimal.Decimal          `json:"total_cost"`
}

// CheckoutLine is one product sold at the branch.
type CheckoutLine struct {
	ProductID  int64
	PackageQty int64
	ItemQty    int64
}

// CheckoutInput records a sale at a branch.
type CheckoutInput struct {
	Tenant     tenancy.Tenant
	Branch     tenancy.Branch
	Lines      []CheckoutLine
	Paid       decimal.Decimal
	InvoiceRef string
	EntryDate  time.Time
	CreatedBy  *int64

	// IdempotencyKey rejects a replayed checkout when set.
	IdempotencyKey string
}

// CheckoutResult is the committed outcome of a checkout.
type CheckoutResult struct {
	InvoiceRef string                   `json:"invoice_ref"`
	Movements  []inventory.Movement     `json:"movements"`
	Entry      *accounting.JournalEntry `json:"entry"`
	Total      decimal.Decimal          `json:"total"`
	Paid       decimal.Decimal          `json:"paid"`
	Unpaid     decimal.Decimal          `json:"unpaid"`
	COGS       decimal.Decimal          `json:"cogs"`
}

// Service runs the retail flows that touch stock, ledger or both.
type Service struct {
	tx        TxRunner
	stock     StockPort
	ledger    LedgerPort
	publisher events.Publisher
	idem      Idempotency
}

// NewService builds Service.
func NewService(tx TxRunner, stock StockPort, ledger LedgerPort, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{tx: tx, stock: stock, ledger: ledger, publisher: publisher}
}

// WithIdempotency enables request key claims.
func (s *Service) WithIdempotency(idem Idempotency) *Service {
	s.idem = idem
	return s
}

func (s *Service) claim(ctx context.Context, tenantID int64, module, key string) error {
	if key == "" || s.idem == nil {
		return nil
	}
	return s.idem.Claim(ctx, tenantID, module, key)
}

// publish queues the event until the unit of work in ctx commits.
func (s *Service) publish(ctx context.Context, eventType string, tenantID int64, payload any) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		_ = s.publisher.Publish(ctx, events.New(eventType, tenantID, payload))
	})
}

// Purchase adds stock at one location and posts the purchase entry in the
// same transaction.
func (s *Service) Purchase(ctx context.Context, input PurchaseInput) (PurchaseResult, error) {
	if err := input.Location.Validate(input.Tenant); err != nil {
		return PurchaseResult{}, err
	}
	if input.ProductID == 0 {
		return PurchaseResult{}, fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	var result PurchaseResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.claim(ctx, input.Tenant.ID, modulePurchase, input.IdempotencyKey); err != nil {
			return err
		}
		products, err := s.stock.Products(ctx, input.Tenant.ID, []int64{input.ProductID})
		if err != nil {
			return err
		}
		product := products[input.ProductID]
		movement, err := s.stock.Receive(ctx, inventory.ReceiptInput{
			Tenant:     input.Tenant,
			Product:    product,
			Location:   input.Location,
			PackageQty: input.PackageQty,
			ItemQty:    input.ItemQty,
			Type:       inventory.MovementPurchase,
			Note:       input.Note,
			CreatedBy:  input.CreatedBy,
		})
		if err != nil {
			return err
		}
		cost := PurchaseCost(product, input.PackageQty, input.ItemQty)
		if input.TotalCost != nil {
			cost = money.Normalize(*input.TotalCost)
		}
		entry, err := s.ledger.RecordPurchase(ctx, accounting.EventInput{
			Scope:       ledgerScope(input.Tenant, input.Location),
			EntryDate:   input.EntryDate,
			ReferenceID: "movement:" + strconv.FormatInt(movement.ID, 10),
			CreatedBy:   input.CreatedBy,
		}, cost, product.Name)
		if err != nil {
			return err
		}
		result = PurchaseResult{Movement: movement, Entry: entry, TotalCost: cost}
		s.publish(ctx, EventPurchaseRecorded, input.Tenant.ID, result)
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	return result, nil
}

// Checkout issues every line from the branch and posts the sale entry in the
// same transaction. Stock rows are locked in ascending product id.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (CheckoutResult, error) {
	loc := inventory.BranchLocation(input.Branch)
	if err := loc.Validate(input.Tenant); err != nil {
		return CheckoutResult{}, err
	}
	if len(input.Lines) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: checkout has no lines", shared.ErrValidation)
	}
	paid := money.Normalize(input.Paid)
	if paid.IsNegative() {
		return CheckoutResult{}, fmt.Errorf("%w: paid amount must not be negative", shared.ErrValidation)
	}
	lines := make([]CheckoutLine, len(input.Lines))
	copy(lines, input.Lines)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == 0 {
			return CheckoutResult{}, fmt.Errorf("%w: product required", shared.ErrValidation)
		}
		ids = append(ids, l.ProductID)
	}
	invoice := input.InvoiceRef
	if invoice == "" {
		invoice = "INV-" + uuid.NewString()
	}

	var result CheckoutResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.claim(ctx, input.Tenant.ID, moduleCheckout, input.IdempotencyKey); err != nil {
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
		if paid.GreaterThan(total) {
			return fmt.Errorf("%w: paid %s, total %s", ErrOverpaid, paid.StringFixed(money.Places), total.StringFixed(money.Places))
		}
		movements := make([]inventory.Movement, 0, len(lines))
		for _, l := range lines {
			m, err := s.stock.Issue(ctx, inventory.IssueInput{
				Tenant:     input.Tenant,
				Product:    products[l.ProductID],
				Location:   loc,
				PackageQty: l.PackageQty,
				ItemQty:    l.ItemQty,
				Type:       inventory.MovementSale,
				Reference:  invoice,
				Note:       "Sale " + invoice,
				CreatedBy:  input.CreatedBy,
			})
			if err != nil {
				return err
			}
			movements = append(movements, m)
		}
		unpaid := money.Normalize(total.Sub(paid))
		entry, err := s.ledger.RecordSale(ctx, accounting.EventInput{
			Scope:       ledgerScope(input.Tenant, loc),
			EntryDate:   input.EntryDate,
			ReferenceID: invoice,
			CreatedBy:   input.CreatedBy,
		}, accounting.SaleAmounts{Total: total, Paid: paid, Unpaid: unpaid, COGS: cogs})
		if err != nil {
			return err
		}
		result = CheckoutResult{
			InvoiceRef: invoice,
			Movements:  movements,
			Entry:      entry,
			Total:      total,
			Paid:       paid,
			Unpaid:     unpaid,
			COGS:       cogs,
		}
		s.publish(ctx, EventSaleRecorded, input.Tenant.ID, result)
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	return result, nil
}

// PurchaseCost prices packages at the package purchase price and loose items
// at its per-item share.
func PurchaseCost(p inventory.Product, packages, items int64) decimal.Decimal {
	contain := decimal.NewFromInt(p.Contain())
	units := decimal.NewFromInt(packages).Mul(contain).Add(decimal.NewFromInt(items))
	return money.Normalize(p.PackagePurchasePrice.Mul(units).Div(contain))
}

// LineTotal prices packages and loose items at their sale prices.
func LineTotal(p inventory.Product, packages, items int64) decimal.Decimal {
	return money.Normalize(p.PackageSalePrice.Mul(decimal.NewFromInt(packages)).
		Add(p.ItemSalePrice.Mul(decimal.NewFromInt(items))))
}

// LineCost is the cost of goods sold for one line.
func LineCost(p inventory.Product, packages, items int64) decimal.Decimal {
	return PurchaseCost(p, packages, items)
}

func ledgerScope(tenant tenancy.Tenant, loc inventory.Location) tenancy.Scope {
	scope := tenancy.Scope{Tenant: tenant}
	switch loc.Scope {
	case inventory.ScopeStore:
		scope.Store = loc.Store
	case inventory.ScopeBranch:
		scope.Branch = loc.Branch
	}
	return scope
}
