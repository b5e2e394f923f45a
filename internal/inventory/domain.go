package inventory

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// Scope is the granularity a stock row is kept at.
type Scope string

const (
	ScopeTenant Scope = "tenant"
	ScopeStore  Scope = "store"
	ScopeBranch Scope = "branch"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeTenant || s == ScopeStore || s == ScopeBranch
}

// MovementType classifies one stock change.
type MovementType string

const (
	MovementPurchase    MovementType = "purchase"
	MovementSale        MovementType = "sale"
	MovementTransferIn  MovementType = "transfer_in"
	MovementTransferOut MovementType = "transfer_out"
	MovementAdjustment  MovementType = "adjustment"
	MovementSaleReturn  MovementType = "sale_return"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementTransferIn, MovementTransferOut, MovementAdjustment, MovementSaleReturn:
		return true
	}
	return false
}

// Location addresses one stock ledger: the tenant itself, one of its stores,
// or one of its branches.
type Location struct {
	Scope  Scope
	Store  *tenancy.Store
	Branch *tenancy.Branch
}

// TenantLocation addresses the tenant-wide ledger.
func TenantLocation() Location { return Location{Scope: ScopeTenant} }

// StoreLocation addresses a store ledger.
func StoreLocation(store tenancy.Store) Location { return Location{Scope: ScopeStore, Store: &store} }

// BranchLocation addresses a branch ledger.
func BranchLocation(branch tenancy.Branch) Location {
	return Location{Scope: ScopeBranch, Branch: &branch}
}

// Validate checks the location belongs to tenant.
func (l Location) Validate(tenant tenancy.Tenant) error {
	if tenant.ID == 0 {
		return tenancy.ErrTenantRequired
	}
	switch l.Scope {
	case ScopeTenant:
		return nil
	case ScopeStore:
		if l.Store == nil || l.Store.ID == 0 {
			return fmt.Errorf("%w: store required", ErrInvalidLocation)
		}
		if l.Store.TenantID != tenant.ID {
			return fmt.Errorf("%w: store %d", tenancy.ErrScopeMismatch, l.Store.ID)
		}
		return nil
	case ScopeBranch:
		if l.Branch == nil || l.Branch.ID == 0 {
			return fmt.Errorf("%w: branch required", ErrInvalidLocation)
		}
		if l.Branch.TenantID != tenant.ID {
			return fmt.Errorf("%w: branch %d", tenancy.ErrScopeMismatch, l.Branch.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidLocation, l.Scope)
	}
}

// OwnerID is the id of the row owner: tenant, store or branch.
func (l Location) OwnerID(tenantID int64) int64 {
	switch l.Scope {
	case ScopeStore:
		if l.Store != nil {
			return l.Store.ID
		}
	case ScopeBranch:
		if l.Branch != nil {
			return l.Branch.ID
		}
	case ScopeTenant:
		return tenantID
	}
	return 0
}

// StoreID is the store the location sits in, if any.
func (l Location) StoreID() *int64 {
	switch {
	case l.Scope == ScopeStore && l.Store != nil:
		id := l.Store.ID
		return &id
	case l.Scope == ScopeBranch && l.Branch != nil:
		id := l.Branch.StoreID
		return &id
	}
	return nil
}

// BranchID is the branch id for branch locations.
func (l Location) BranchID() *int64 {
	if l.Scope == ScopeBranch && l.Branch != nil {
		id := l.Branch.ID
		return &id
	}
	return nil
}

func (l Location) same(other Location, tenantID int64) bool {
	return l.Scope == other.Scope && l.OwnerID(tenantID) == other.OwnerID(tenantID)
}

// Quantity is a stock total with its package/item decomposition.
type Quantity struct {
	Total    int64 `json:"stock"`
	Packages int64 `json:"num_of_packages"`
	Items    int64 `json:"num_items"`
}

// Product is the stock-relevant view of a catalogue item.
type Product struct {
	ID                   int64           `json:"id"`
	TenantID             int64           `json:"tenant_id"`
	Code                 string          `json:"code"`
	Name                 string          `json:"name"`
	PackageContain       int64           `json:"package_contain"`
	PackagePurchasePrice decimal.Decimal `json:"package_purchase_price"`
	PackageSalePrice     decimal.Decimal `json:"package_sale_price"`
	ItemSalePrice        decimal.Decimal `json:"item_sale_price"`
	OnHand               Quantity        `json:"on_hand"`
}

// Contain is the items per package, never below one.
func (p Product) Contain() int64 {
	if p.PackageContain <= 0 {
		return 1
	}
	return p.PackageContain
}

// Units converts packages plus loose items to item units. Negative
// quantities and totals beyond int64 fail with ErrInvalidQuantity.
func (p Product) Units(packages, items int64) (int64, error) {
	if packages < 0 || items < 0 {
		return 0, fmt.Errorf("%w: quantities must not be negative", ErrInvalidQuantity)
	}
	contain := p.Contain()
	if packages > (math.MaxInt64-items)/contain {
		return 0, fmt.Errorf("%w: %d packages of %d plus %d items is out of range", ErrInvalidQuantity, packages, contain, items)
	}
	return packages*contain + items, nil
}

// StockLevel is one row of a scope's stock ledger.
type StockLevel struct {
	TenantID  int64     `json:"tenant_id"`
	Scope     Scope     `json:"scope"`
	OwnerID   int64     `json:"owner_id"`
	ProductID int64     `json:"product_id"`
	Quantity            `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Movement is an immutable record of one stock change at one location.
type Movement struct {
	ID         int64        `json:"id"`
	TenantID   int64        `json:"tenant_id"`
	ProductID  int64        `json:"product_id"`
	Scope      Scope        `json:"scope"`
	StoreID    *int64       `json:"store_id,omitempty"`
	BranchID   *int64       `json:"branch_id,omitempty"`
	Type       MovementType `json:"movement_type"`
	PackageQty int64        `json:"package_qty"`
	ItemQty    int64        `json:"item_qty"`
	TotalItems int64        `json:"total_items"`
	TransferID *int64       `json:"transfer_id,omitempty"`
	Reference  string       `json:"reference,omitempty"`
	Note       string       `json:"note,omitempty"`
	CreatedBy  *int64       `json:"created_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// MovementFilter narrows a movement listing. Zero fields match everything.
type MovementFilter struct {
	TenantID  int64
	Location  *Location
	ProductID int64
	Reference string
	Types     []MovementType
	From      time.Time
	To        time.Time
	Limit     int
}

// Transfer is the audit header of one stock transfer.
type Transfer struct {
	ID           int64      `json:"id"`
	TenantID     int64      `json:"tenant_id"`
	Code         string     `json:"code"`
	ProductID    int64      `json:"product_id"`
	FromScope    Scope      `json:"from_scope"`
	FromStoreID  *int64     `json:"from_store_id,omitempty"`
	FromBranchID *int64     `json:"from_branch_id,omitempty"`
	ToScope      Scope      `json:"to_scope"`
	ToStoreID    *int64     `json:"to_store_id,omitempty"`
	ToBranchID   *int64     `json:"to_branch_id,omitempty"`
	PackageQty   int64      `json:"package_qty"`
	ItemQty      int64      `json:"item_qty"`
	TotalItems   int64      `json:"total_items"`
	Note         string     `json:"note,omitempty"`
	CreatedBy    *int64     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Movements    []Movement `json:"movements"`
}

// TransferInput requests moving stock between two locations of a tenant.
type TransferInput struct {
	Tenant     tenancy.Tenant
	Product    Product
	From       Location
	To         Location
	PackageQty int64
	ItemQty    int64
	Note       string
	CreatedBy  *int64
}

// ReceiptInput adds stock at one location and records why.
type ReceiptInput struct {
	Tenant     tenancy.Tenant
	Product    Product
	Location   Location
	PackageQty int64
	ItemQty    int64
	Type       MovementType
	Reference  string // source document, required for sale returns
	Note       string
	CreatedBy  *int64
}

// IssueInput removes stock at one location and records why.
type IssueInput = ReceiptInput

var (
	// ErrInsufficientStock indicates an adjustment would drive stock negative.
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrConflict)
	// ErrInvalidQuantity indicates a non-positive or negative quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: invalid quantity", shared.ErrValidation)
	// ErrSameLocation indicates a transfer whose source and destination match.
	ErrSameLocation = fmt.Errorf("%w: inventory: source and destination must differ", shared.ErrValidation)
	// ErrInvalidLocation indicates an incomplete or unknown location.
	ErrInvalidLocation = fmt.Errorf("%w: inventory: invalid location", shared.ErrValidation)
	// ErrReturnExceedsSale indicates more units returned than the invoice sold.
	ErrReturnExceedsSale = fmt.Errorf("inventory: return exceeds units sold: %w", shared.ErrUnprocessable)
	// ErrProductNotFound indicates a product outside the tenant.
	ErrProductNotFound = fmt.Errorf("inventory: product: %w", shared.ErrNotFound)
)
