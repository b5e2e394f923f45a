package accounting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// AccountType enumerates ledger account categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// DebitNormal reports whether balances of this type increase on the debit side.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// ReferenceType names the business event behind a journal entry.
type ReferenceType string

const (
	ReferenceSale        ReferenceType = "sale"
	ReferencePurchase    ReferenceType = "purchase"
	ReferencePayment     ReferenceType = "payment"
	ReferenceExpense     ReferenceType = "expense"
	ReferenceOtherIncome ReferenceType = "other_income"
	ReferenceAdjustment  ReferenceType = "adjustment"
	ReferenceSaleReturn  ReferenceType = "sale_return"
)

// Valid reports whether r is a known reference type.
func (r ReferenceType) Valid() bool {
	switch r {
	case ReferenceSale, ReferencePurchase, ReferencePayment, ReferenceExpense, ReferenceOtherIncome, ReferenceAdjustment, ReferenceSaleReturn:
		return true
	}
	return false
}

// Account represents a ledger account of one tenant.
type Account struct {
	ID        int64       `json:"id"`
	TenantID  int64       `json:"tenant_id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	ParentID  *int64      `json:"parent_id,omitempty"`
	IsSystem  bool        `json:"is_system"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
}

// JournalEntry is the header of a balanced set of postings. Entries are never
// updated or deleted; corrections are new reversing entries.
type JournalEntry struct {
	ID            int64         `json:"id"`
	TenantID      int64         `json:"tenant_id"`
	StoreID       *int64        `json:"store_id,omitempty"`
	BranchID      *int64        `json:"branch_id,omitempty"`
	EntryDate     time.Time     `json:"entry_date"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   string        `json:"reference_id"`
	Memo          string        `json:"memo"`
	CreatedBy     *int64        `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	Lines         []JournalLine `json:"lines"`
}

// TotalDebit sums the debit side.
func (e JournalEntry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums the credit side.
func (e JournalEntry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// JournalLine is one posting to one account.
type JournalLine struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	AccountID   int64           `json:"account_id"`
	AccountCode string          `json:"account_code"`
	AccountName string          `json:"account_name"`
	AccountType AccountType     `json:"account_type"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

// LineInput is a requested posting before normalisation.
type LineInput struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// PostingInput describes a journal entry to post.
type PostingInput struct {
	Scope         tenancy.Scope
	EntryDate     time.Time
	ReferenceType ReferenceType
	ReferenceID   string
	Memo          string
	CreatedBy     *int64
	Lines         []LineInput
}

// EventInput carries the fields shared by the business-event helpers.
type EventInput struct {
	Scope       tenancy.Scope
	EntryDate   time.Time
	ReferenceID string
	Memo        string
	CreatedBy   *int64
}

// ReverseInput requests a reversing entry for EntryID.
type ReverseInput struct {
	Scope     tenancy.Scope
	EntryID   int64
	EntryDate time.Time
	Memo      string
	CreatedBy *int64
}

// LineFilter selects journal lines for balance reports.
type LineFilter struct {
	TenantID int64
	StoreID  *int64
	BranchID *int64
	From     time.Time
	To       time.Time
}

// Imbalance reports an entry whose sides differ.
type Imbalance struct {
	TenantID int64           `json:"tenant_id"`
	EntryID  int64           `json:"entry_id"`
	Debit    decimal.Decimal `json:"debit"`
	Credit   decimal.Decimal `json:"credit"`
}

var (
	// ErrUnbalanced marks entries whose debit and credit totals differ.
	ErrUnbalanced = fmt.Errorf("%w: accounting: journal lines must balance", shared.ErrUnprocessable)
	// ErrAmbiguousLine marks a line carrying both a debit and a credit.
	ErrAmbiguousLine = fmt.Errorf("%w: accounting: line cannot carry both debit and credit", shared.ErrValidation)
	// ErrInactiveAccount marks postings to a deactivated account.
	ErrInactiveAccount = fmt.Errorf("%w: accounting: account is inactive", shared.ErrValidation)
	// ErrInvalidReference marks an unknown reference type.
	ErrInvalidReference = fmt.Errorf("%w: accounting: invalid reference type", shared.ErrValidation)
	// ErrUnknownAccount marks an account code outside the chart.
	ErrUnknownAccount = fmt.Errorf("%w: accounting: unknown account code", shared.ErrNotFound)
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = fmt.Errorf("%w: accounting: journal entry", shared.ErrNotFound)
	// ErrAlreadyReversed indicates a reversing entry already exists.
	ErrAlreadyReversed = fmt.Errorf("%w: accounting: journal entry already reversed", shared.ErrConflict)
)
