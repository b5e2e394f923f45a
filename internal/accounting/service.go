package accounting

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/platform/db"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLines(ctx context.Context, filter LineFilter) ([]JournalLine, error)
	ListImbalances(ctx context.Context, tenantID int64) ([]Imbalance, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts postings and rejections.
type MetricsPort interface {
	EntryPosted(referenceType string, lines int)
	EntryRejected(reason string)
}

// PostedHook runs after an entry is committed.
type PostedHook func(ctx context.Context, entry JournalEntry)

// Service posts balanced journal entries and answers balance queries.
type Service struct {
	repo    RepositoryPort
	chart   *Chart
	audit   AuditPort
	metrics MetricsPort
	hooks   []PostedHook
	now     func() time.Time
}

// NewService constructs the ledger service over the default chart.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, chart: DefaultChart(), audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OnPosted registers hook to run after every committed entry.
func (s *Service) OnPosted(hook PostedHook) {
	if hook != nil {
		s.hooks = append(s.hooks, hook)
	}
}

// Chart exposes the chart of accounts in use.
func (s *Service) Chart() *Chart {
	return s.chart
}

// EnsureDefaultAccounts creates any missing system accounts for the tenant and
// returns all of them keyed by code.
func (s *Service) EnsureDefaultAccounts(ctx context.Context, tenant tenancy.Tenant) (map[string]Account, error) {
	if tenant.ID == 0 {
		return nil, tenancy.ErrTenantRequired
	}
	var accounts map[string]Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.EnsureAccounts(ctx, tenant.ID, s.chart.Accounts())
		return err
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetAccount resolves a system account code for the tenant.
func (s *Service) GetAccount(ctx context.Context, tenant tenancy.Tenant, code string) (Account, error) {
	if _, ok := s.chart.Lookup(code); !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, code)
	}
	accounts, err := s.EnsureDefaultAccounts(ctx, tenant)
	if err != nil {
		return Account{}, err
	}
	acc, ok := accounts[code]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, code)
	}
	return acc, nil
}

// PostJournalEntry validates and atomically persists a journal entry. Lines
// with neither side positive are dropped; when none remain nothing is written
// and (nil, nil) is returned.
func (s *Service) PostJournalEntry(ctx context.Context, input PostingInput) (*JournalEntry, error) {
	if err := input.Scope.Validate(); err != nil {
		s.reject("scope")
		return nil, err
	}
	if !input.ReferenceType.Valid() {
		s.reject("invalid_reference")
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, input.ReferenceType)
	}
	lines, err := s.prepareLines(input.Lines)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	totalDebit, totalCredit := money.Zero, money.Zero
	for _, l := range lines {
		totalDebit = money.Normalize(totalDebit.Add(l.Debit))
		totalCredit = money.Normalize(totalCredit.Add(l.Credit))
	}
	if !totalDebit.Equal(totalCredit) {
		s.reject("unbalanced")
		return nil, fmt.Errorf("%w: debit %s, credit %s", ErrUnbalanced, totalDebit.StringFixed(money.Places), totalCredit.StringFixed(money.Places))
	}

	header := JournalEntry{
		TenantID:      input.Scope.TenantID(),
		StoreID:       input.Scope.StoreID(),
		BranchID:      input.Scope.BranchID(),
		EntryDate:     s.entryDate(input.EntryDate),
		ReferenceType: input.ReferenceType,
		ReferenceID:   input.ReferenceID,
		Memo:          input.Memo,
		CreatedBy:     input.CreatedBy,
	}
	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inserted, err := s.insertEntry(ctx, tx, header, lines)
		if err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterPost(ctx, entry, "journal.post", nil)
	return &entry, nil
}

// ReverseEntry posts a new adjustment entry mirroring an existing one with
// debit and credit swapped.
func (s *Service) ReverseEntry(ctx context.Context, input ReverseInput) (*JournalEntry, error) {
	if err := input.Scope.Validate(); err != nil {
		return nil, err
	}
	if input.EntryID == 0 {
		return nil, fmt.Errorf("%w: entry id required", shared.ErrValidation)
	}
	reference := reversalReference(input.EntryID)
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntry(ctx, input.Scope.TenantID(), input.EntryID)
		if err != nil {
			return err
		}
		exists, err := tx.HasReference(ctx, input.Scope.TenantID(), ReferenceAdjustment, reference)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: entry %d", ErrAlreadyReversed, input.EntryID)
		}
		memo := input.Memo
		if memo == "" {
			memo = fmt.Sprintf("Reversal of entry #%d", original.ID)
		}
		header := JournalEntry{
			TenantID:      original.TenantID,
			StoreID:       original.StoreID,
			BranchID:      original.BranchID,
			EntryDate:     s.entryDate(input.EntryDate),
			ReferenceType: ReferenceAdjustment,
			ReferenceID:   reference,
			Memo:          memo,
			CreatedBy:     input.CreatedBy,
		}
		inserted, err := s.insertEntry(ctx, tx, header, reverseLines(original.Lines))
		if err != nil {
			return err
		}
		reversal = inserted
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterPost(ctx, reversal, "journal.reverse", map[string]any{"reversed_entry_id": input.EntryID})
	return &reversal, nil
}

// Balances aggregates the lines matching filter.
func (s *Service) Balances(ctx context.Context, filter LineFilter) ([]AccountBalance, error) {
	if filter.TenantID == 0 {
		return nil, tenancy.ErrTenantRequired
	}
	lines, err := s.repo.ListLines(ctx, filter)
	if err != nil {
		return nil, err
	}
	return AccountBalances(lines), nil
}

// OpenReceivable returns the tenant's receivable balance. Inside an outer
// transaction the balance stays locked until it commits, so concurrent
// settlements against it run one at a time.
func (s *Service) OpenReceivable(ctx context.Context, tenantID int64) (decimal.Decimal, error) {
	if tenantID == 0 {
		return decimal.Zero, tenancy.ErrTenantRequired
	}
	balance := money.Zero
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockAccount(ctx, tenantID, CodeReceivable); err != nil {
			return err
		}
		debit, credit, err := tx.AccountTotals(ctx, tenantID, CodeReceivable)
		if err != nil {
			return err
		}
		balance = money.Normalize(debit.Sub(credit))
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// CheckIntegrity lists the tenant's entries whose sides do not balance.
func (s *Service) CheckIntegrity(ctx context.Context, tenantID int64) ([]Imbalance, error) {
	if tenantID == 0 {
		return nil, tenancy.ErrTenantRequired
	}
	return s.repo.ListImbalances(ctx, tenantID)
}

// prepareLines normalises amounts, drops empty lines and rejects ambiguous
// lines or codes outside the chart.
func (s *Service) prepareLines(inputs []LineInput) ([]JournalLine, error) {
	lines := make([]JournalLine, 0, len(inputs))
	for i, in := range inputs {
		debit := money.Normalize(in.Debit)
		credit := money.Normalize(in.Credit)
		if !debit.IsPositive() && !credit.IsPositive() {
			continue
		}
		if debit.IsPositive() && credit.IsPositive() {
			s.reject("ambiguous_line")
			return nil, fmt.Errorf("%w: line %d (%s)", ErrAmbiguousLine, i+1, in.AccountCode)
		}
		tmpl, ok := s.chart.Lookup(in.AccountCode)
		if !ok {
			s.reject("unknown_account")
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, in.AccountCode)
		}
		if !debit.IsPositive() {
			debit = money.Zero
		}
		if !credit.IsPositive() {
			credit = money.Zero
		}
		lines = append(lines, JournalLine{
			AccountCode: tmpl.Code,
			AccountName: tmpl.Name,
			AccountType: tmpl.Type,
			Debit:       debit,
			Credit:      credit,
			Description: in.Description,
		})
	}
	return lines, nil
}

func (s *Service) insertEntry(ctx context.Context, tx TxRepository, header JournalEntry, lines []JournalLine) (JournalEntry, error) {
	accounts, err := tx.EnsureAccounts(ctx, header.TenantID, s.chart.Accounts())
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range lines {
		acc, ok := accounts[lines[i].AccountCode]
		if !ok {
			return JournalEntry{}, fmt.Errorf("%w: %s", ErrUnknownAccount, lines[i].AccountCode)
		}
		if !acc.IsActive {
			s.reject("inactive_account")
			return JournalEntry{}, fmt.Errorf("%w: %s %s", ErrInactiveAccount, acc.Code, acc.Name)
		}
		lines[i].AccountID = acc.ID
		lines[i].AccountName = acc.Name
		lines[i].AccountType = acc.Type
	}
	inserted, err := tx.InsertEntry(ctx, header)
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range lines {
		lines[i].EntryID = inserted.ID
	}
	if err := tx.InsertLines(ctx, inserted.ID, lines); err != nil {
		return JournalEntry{}, err
	}
	inserted.Lines = lines
	return inserted, nil
}

// afterPost runs audit, metrics and hooks once the outermost transaction commits.
func (s *Service) afterPost(ctx context.Context, entry JournalEntry, action string, meta map[string]any) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.metrics != nil {
			s.metrics.EntryPosted(string(entry.ReferenceType), len(entry.Lines))
		}
		if s.audit != nil {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["reference_type"] = entry.ReferenceType
			meta["reference_id"] = entry.ReferenceID
			meta["total"] = entry.TotalDebit().StringFixed(money.Places)
			_ = s.audit.Record(ctx, shared.AuditLog{
				TenantID: entry.TenantID,
				ActorID:  entry.CreatedBy,
				Action:   action,
				Entity:   "journal_entry",
				EntityID: strconv.FormatInt(entry.ID, 10),
				Meta:     meta,
				At:       s.now(),
			})
		}
		for _, hook := range s.hooks {
			hook(ctx, entry)
		}
	})
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.EntryRejected(reason)
	}
}

func (s *Service) entryDate(date time.Time) time.Time {
	if date.IsZero() {
		date = s.now()
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func reverseLines(lines []JournalLine) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		description := "Reversal"
		if line.Description != "" {
			description += ": " + line.Description
		}
		out = append(out, JournalLine{
			AccountCode: line.AccountCode,
			AccountName: line.AccountName,
			AccountType: line.AccountType,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: description,
		})
	}
	return out
}

func reversalReference(entryID int64) string {
	return "reversal:" + strconv.FormatInt(entryID, 10)
}

func amountLine(code string, debit, credit decimal.Decimal, description string) LineInput {
	return LineInput{AccountCode: code, Debit: debit, Credit: credit, Description: description}
}
