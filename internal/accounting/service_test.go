package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
	_ "github.com/odyssey-erp/storeledger/testing"
)

type memoryState struct {
	accounts map[int64]map[string]Account
	entries  []JournalEntry
	lines    []JournalLine
	nextID   int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{accounts: make(map[int64]map[string]Account), nextID: s.nextID}
	for tenant, byCode := range s.accounts {
		out.accounts[tenant] = make(map[string]Account, len(byCode))
		for code, acc := range byCode {
			out.accounts[tenant][code] = acc
		}
	}
	out.entries = append([]JournalEntry(nil), s.entries...)
	out.lines = append([]JournalLine(nil), s.lines...)
	return out
}

type memoryRepo struct {
	mu        sync.Mutex
	state     memoryState
	failLines error
	locked    []string
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: memoryState{accounts: make(map[int64]map[string]Account)}}
}

// WithTx discards every staged write when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) ListLines(_ context.Context, filter LineFilter) ([]JournalLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make(map[int64]JournalEntry)
	for _, e := range r.state.entries {
		entries[e.ID] = e
	}
	var out []JournalLine
	for _, l := range r.state.lines {
		e := entries[l.EntryID]
		if e.TenantID != filter.TenantID {
			continue
		}
		if filter.BranchID != nil && (e.BranchID == nil || *e.BranchID != *filter.BranchID) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *memoryRepo) ListImbalances(_ context.Context, tenantID int64) ([]Imbalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Imbalance
	for _, e := range r.state.entries {
		if e.TenantID != tenantID {
			continue
		}
		imb := Imbalance{TenantID: e.TenantID, EntryID: e.ID, Debit: decimal.Zero, Credit: decimal.Zero}
		for _, l := range r.state.lines {
			if l.EntryID == e.ID {
				imb.Debit = imb.Debit.Add(l.Debit)
				imb.Credit = imb.Credit.Add(l.Credit)
			}
		}
		if !imb.Debit.Equal(imb.Credit) {
			out = append(out, imb)
		}
	}
	return out, nil
}

func (r *memoryRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.entries)
}

func (r *memoryRepo) setActive(tenantID int64, code string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.state.accounts[tenantID][code]
	acc.IsActive = active
	r.state.accounts[tenantID][code] = acc
}

func (tx *memoryTx) EnsureAccounts(_ context.Context, tenantID int64, chart []ChartAccount) (map[string]Account, error) {
	st := &tx.repo.state
	byCode, ok := st.accounts[tenantID]
	if !ok {
		byCode = make(map[string]Account)
		st.accounts[tenantID] = byCode
	}
	for _, tmpl := range chart {
		if _, exists := byCode[tmpl.Code]; exists {
			continue
		}
		st.nextID++
		byCode[tmpl.Code] = Account{ID: st.nextID, TenantID: tenantID, Code: tmpl.Code, Name: tmpl.Name, Type: tmpl.Type, IsSystem: true, IsActive: true}
	}
	out := make(map[string]Account, len(byCode))
	for code, acc := range byCode {
		out[code] = acc
	}
	return out, nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, entry JournalEntry) (JournalEntry, error) {
	st := &tx.repo.state
	st.nextID++
	entry.ID = st.nextID
	entry.CreatedAt = time.Now()
	st.entries = append(st.entries, entry)
	return entry, nil
}

func (tx *memoryTx) InsertLines(_ context.Context, entryID int64, lines []JournalLine) error {
	if tx.repo.failLines != nil {
		return tx.repo.failLines
	}
	st := &tx.repo.state
	for _, l := range lines {
		st.nextID++
		l.ID = st.nextID
		l.EntryID = entryID
		st.lines = append(st.lines, l)
	}
	return nil
}

func (tx *memoryTx) GetEntry(_ context.Context, tenantID, entryID int64) (JournalEntry, error) {
	st := &tx.repo.state
	for _, e := range st.entries {
		if e.ID == entryID && e.TenantID == tenantID {
			for _, l := range st.lines {
				if l.EntryID == e.ID {
					e.Lines = append(e.Lines, l)
				}
			}
			return e, nil
		}
	}
	return JournalEntry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
}

func (tx *memoryTx) HasReference(_ context.Context, tenantID int64, ref ReferenceType, referenceID string) (bool, error) {
	for _, e := range tx.repo.state.entries {
		if e.TenantID == tenantID && e.ReferenceType == ref && e.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) LockAccount(_ context.Context, tenantID int64, code string) error {
	tx.repo.locked = append(tx.repo.locked, fmt.Sprintf("%d/%s", tenantID, code))
	return nil
}

func (tx *memoryTx) AccountTotals(_ context.Context, tenantID int64, code string) (decimal.Decimal, decimal.Decimal, error) {
	st := &tx.repo.state
	debit, credit := decimal.Zero, decimal.Zero
	for _, l := range st.lines {
		if l.AccountCode != code {
			continue
		}
		for _, e := range st.entries {
			if e.ID == l.EntryID && e.TenantID == tenantID {
				debit = debit.Add(l.Debit)
				credit = credit.Add(l.Credit)
			}
		}
	}
	return debit, credit, nil
}

type recordingMetrics struct {
	posted   map[string]int
	rejected map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{posted: map[string]int{}, rejected: map[string]int{}}
}

func (m *recordingMetrics) EntryPosted(ref string, _ int) { m.posted[ref]++ }
func (m *recordingMetrics) EntryRejected(reason string)  { m.rejected[reason]++ }

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func testScope() tenancy.Scope {
	return tenancy.Scope{Tenant: tenancy.Tenant{ID: 1, Name: "Acme"}}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireBalanced(t *testing.T, entry *JournalEntry) {
	t.Helper()
	require.NotNil(t, entry)
	require.True(t, entry.TotalDebit().Equal(entry.TotalCredit()), "debit %s credit %s", entry.TotalDebit(), entry.TotalCredit())
}

func TestEnsureDefaultAccountsIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	first, err := svc.EnsureDefaultAccounts(ctx, testScope().Tenant)
	require.NoError(t, err)
	second, err := svc.EnsureDefaultAccounts(ctx, testScope().Tenant)
	require.NoError(t, err)

	require.Len(t, first, 9)
	require.Len(t, repo.state.accounts[1], 9)
	require.Equal(t, first, second)

	codes := make([]string, 0, len(second))
	for code := range second {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	require.Equal(t, []string{"1000", "1100", "1200", "2000", "3000", "4000", "4100", "5000", "6100"}, codes)
	require.Equal(t, "Cash on Hand", second[CodeCash].Name)
	require.Equal(t, AccountTypeExpense, second[CodeCOGS].Type)
}

func TestGetAccount(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()

	acc, err := svc.GetAccount(ctx, testScope().Tenant, CodeInventory)
	require.NoError(t, err)
	require.Equal(t, "Inventory Asset", acc.Name)

	_, err = svc.GetAccount(ctx, testScope().Tenant, "9999")
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestPostJournalEntryWithOnlyEmptyLinesIsNoop(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	entry, err := svc.PostJournalEntry(context.Background(), PostingInput{
		Scope:         testScope(),
		ReferenceType: ReferenceAdjustment,
		Lines: []LineInput{
			{AccountCode: CodeCash},
			{AccountCode: CodeInventory, Debit: d("0.004"), Credit: d("-5")},
		},
	})
	require.NoError(t, err)
	require.Nil(t, entry)
	require.Zero(t, repo.entryCount())
}

func TestPostJournalEntryRejectsAmbiguousLine(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newRecordingMetrics()
	svc := NewService(repo, nil, metrics)

	_, err := svc.PostJournalEntry(context.Background(), PostingInput{
		Scope:         testScope(),
		ReferenceType: ReferenceAdjustment,
		Lines:         []LineInput{{AccountCode: CodeCash, Debit: d("10"), Credit: d("10")}},
	})
	require.ErrorIs(t, err, ErrAmbiguousLine)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, repo.entryCount())
	require.Equal(t, 1, metrics.rejected["ambiguous_line"])
}

func TestPostJournalEntryRejectsUnbalancedLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	entry, err := svc.PostJournalEntry(context.Background(), PostingInput{
		Scope:         testScope(),
		ReferenceType: ReferencePurchase,
		Lines: []LineInput{
			{AccountCode: CodeInventory, Debit: d("100")},
			{AccountCode: CodeCash, Credit: d("99")},
		},
	})
	require.ErrorIs(t, err, ErrUnbalanced)
	require.Nil(t, entry)
	require.Zero(t, repo.entryCount())
}

func TestPostJournalEntryComparesNormalizedTotals(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)

	entry, err := svc.PostJournalEntry(context.Background(), PostingInput{
		Scope:         testScope(),
		ReferenceType: ReferenceAdjustment,
		Lines: []LineInput{
			{AccountCode: CodeInventory, Debit: d("10.005")},
			{AccountCode: CodeCash, Credit: d("10.01")},
		},
	})
	require.NoError(t, err)
	requireBalanced(t, entry)
	require.Equal(t, "10.01", entry.Lines[0].Debit.StringFixed(2))
}

func TestPostJournalEntryRejectsInactiveAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.EnsureDefaultAccounts(ctx, testScope().Tenant)
	require.NoError(t, err)
	repo.setActive(1, CodeCash, false)

	_, err = svc.RecordExpense(ctx, EventInput{Scope: testScope()}, d("50"))
	require.ErrorIs(t, err, ErrInactiveAccount)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, repo.entryCount())
}

func TestPostJournalEntryRejectsUnknownCode(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)

	_, err := svc.PostJournalEntry(context.Background(), PostingInput{
		Scope:         testScope(),
		ReferenceType: ReferenceAdjustment,
		Lines: []LineInput{
			{AccountCode: "7777", Debit: d("1")},
			{AccountCode: CodeCash, Credit: d("1")},
		},
	})
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestPostJournalEntryRejectsInvalidReferenceAndScope(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	lines := []LineInput{{AccountCode: CodeInventory, Debit: d("1")}, {AccountCode: CodeCash, Credit: d("1")}}

	_, err := svc.PostJournalEntry(context.Background(), PostingInput{Scope: testScope(), ReferenceType: "refund", Lines: lines})
	require.ErrorIs(t, err, ErrInvalidReference)

	scope := testScope()
	scope.Store = &tenancy.Store{ID: 4, TenantID: 2}
	_, err = svc.PostJournalEntry(context.Background(), PostingInput{Scope: scope, ReferenceType: ReferenceAdjustment, Lines: lines})
	require.ErrorIs(t, err, tenancy.ErrScopeMismatch)
}

func TestPostJournalEntryIsAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	repo.failLines = errors.New("disk full")
	svc := NewService(repo, nil, nil)

	_, err := svc.RecordPurchase(context.Background(), EventInput{Scope: testScope()}, d("25"), "")
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, repo.entryCount())
	require.Empty(t, repo.state.lines)
}

func TestRecordSaleProducesFiveBalancedLines(t *testing.T) {
	repo := newMemoryRepo()
	metrics := newRecordingMetrics()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, metrics)
	var hooked []int64
	svc.OnPosted(func(_ context.Context, entry JournalEntry) { hooked = append(hooked, entry.ID) })

	entry, err := svc.RecordSale(context.Background(), EventInput{Scope: testScope(), ReferenceID: "INV-1"}, SaleAmounts{
		Total:  d("1000.00"),
		Paid:   d("700.00"),
		Unpaid: d("300.00"),
		COGS:   d("400.00"),
	})
	require.NoError(t, err)
	requireBalanced(t, entry)
	require.Equal(t, "1400.00", entry.TotalDebit().StringFixed(2))
	require.Equal(t, ReferenceSale, entry.ReferenceType)
	require.Equal(t, "Sales invoice posted", entry.Memo)

	type posting struct {
		code, debit, credit, description string
	}
	var got []posting
	for _, l := range entry.Lines {
		got = append(got, posting{l.AccountCode, l.Debit.StringFixed(2), l.Credit.StringFixed(2), l.Description})
	}
	require.Equal(t, []posting{
		{CodeCash, "700.00", "0.00", "Cash received from sale"},
		{CodeReceivable, "300.00", "0.00", "Receivable from customer"},
		{CodeSalesRevenue, "0.00", "1000.00", "Sales revenue"},
		{CodeCOGS, "400.00", "0.00", "Recognized COGS"},
		{CodeInventory, "0.00", "400.00", "Inventory reduction"},
	}, got)

	require.Equal(t, 1, metrics.posted["sale"])
	require.Len(t, audit.logs, 1)
	require.Equal(t, "journal.post", audit.logs[0].Action)
	require.Equal(t, []int64{entry.ID}, hooked)
}

func TestRecordSaleRejectsPaidPlusUnpaidMismatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.RecordSale(context.Background(), EventInput{Scope: testScope()}, SaleAmounts{
		Total: d("100"), Paid: d("60"), Unpaid: d("30"),
	})
	require.ErrorIs(t, err, ErrUnbalanced)
	require.Zero(t, repo.entryCount())
}

func TestEventHelpers(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := context.Background()
	ev := EventInput{Scope: testScope()}

	purchase, err := svc.RecordPurchase(ctx, ev, d("120.50"), "Rice 5kg")
	require.NoError(t, err)
	requireBalanced(t, purchase)
	require.Equal(t, "Purchase stock-in for Rice 5kg", purchase.Memo)
	require.Equal(t, CodeInventory, purchase.Lines[0].AccountCode)
	require.Equal(t, CodeCash, purchase.Lines[1].AccountCode)

	payment, err := svc.RecordCustomerPayment(ctx, ev, d("30"))
	require.NoError(t, err)
	require.Equal(t, ReferencePayment, payment.ReferenceType)
	require.Equal(t, CodeReceivable, payment.Lines[1].AccountCode)

	expense, err := svc.RecordExpense(ctx, EventInput{Scope: testScope(), Memo: "Electricity"}, d("15"))
	require.NoError(t, err)
	require.Equal(t, "Electricity", expense.Memo)
	require.Equal(t, CodeOperatingExpense, expense.Lines[0].AccountCode)

	income, err := svc.RecordOtherIncome(ctx, ev, d("8"))
	require.NoError(t, err)
	require.Equal(t, "Other income posted", income.Memo)
	require.Equal(t, CodeOtherIncome, income.Lines[1].AccountCode)

	for _, call := range []func() (*JournalEntry, error){
		func() (*JournalEntry, error) { return svc.RecordPurchase(ctx, ev, d("0"), "") },
		func() (*JournalEntry, error) { return svc.RecordSale(ctx, ev, SaleAmounts{Total: d("-1")}) },
		func() (*JournalEntry, error) { return svc.RecordCustomerPayment(ctx, ev, d("0.004")) },
		func() (*JournalEntry, error) { return svc.RecordExpense(ctx, ev, decimal.Zero) },
		func() (*JournalEntry, error) { return svc.RecordOtherIncome(ctx, ev, d("-3")) },
	} {
		entry, err := call()
		require.NoError(t, err)
		require.Nil(t, entry)
	}
}

func TestRecordSaleReturnMirrorsSale(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)

	entry, err := svc.RecordSaleReturn(context.Background(), EventInput{Scope: testScope(), ReferenceID: "INV-9"}, SaleReturnAmounts{
		Total: d("40"), Refund: d("25"), Credited: d("15"), COGS: d("22.50"),
	})
	require.NoError(t, err)
	requireBalanced(t, entry)
	require.Equal(t, ReferenceSaleReturn, entry.ReferenceType)
	require.Len(t, entry.Lines, 5)
	require.Equal(t, CodeSalesRevenue, entry.Lines[0].AccountCode)
	require.True(t, d("40").Equal(entry.Lines[0].Debit))
	require.Equal(t, CodeCash, entry.Lines[1].AccountCode)
	require.Equal(t, CodeReceivable, entry.Lines[2].AccountCode)
	require.Equal(t, CodeInventory, entry.Lines[3].AccountCode)
	require.Equal(t, CodeCOGS, entry.Lines[4].AccountCode)
	require.True(t, d("22.50").Equal(entry.Lines[4].Credit))

	_, err = svc.RecordSaleReturn(context.Background(), EventInput{Scope: testScope()}, SaleReturnAmounts{
		Total: d("40"), Refund: d("30"),
	})
	require.ErrorIs(t, err, ErrUnbalanced)
}

func TestOpenReceivableNetsSalesAndPayments(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()
	ev := EventInput{Scope: testScope()}

	open, err := svc.OpenReceivable(ctx, 1)
	require.NoError(t, err)
	require.True(t, open.IsZero())

	_, err = svc.RecordSale(ctx, ev, SaleAmounts{Total: d("100"), Paid: d("40"), Unpaid: d("60")})
	require.NoError(t, err)
	_, err = svc.RecordCustomerPayment(ctx, ev, d("25"))
	require.NoError(t, err)

	open, err = svc.OpenReceivable(ctx, 1)
	require.NoError(t, err)
	require.True(t, d("35").Equal(open), open.String())
	require.Contains(t, repo.locked, "1/"+CodeReceivable)

	open, err = svc.OpenReceivable(ctx, 2)
	require.NoError(t, err)
	require.True(t, open.IsZero())

	_, err = svc.OpenReceivable(ctx, 0)
	require.ErrorIs(t, err, tenancy.ErrTenantRequired)
}

func TestEntryDateDefaultsToToday(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 9, 17, 45, 0, 0, time.UTC) })

	entry, err := svc.RecordOtherIncome(context.Background(), EventInput{Scope: testScope()}, d("1"))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), entry.EntryDate)
}

func TestEntryCarriesStoreAndBranch(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	scope := testScope()
	scope.Store = &tenancy.Store{ID: 10, TenantID: 1}
	scope.Branch = &tenancy.Branch{ID: 100, StoreID: 10, TenantID: 1}

	entry, err := svc.RecordExpense(context.Background(), EventInput{Scope: scope}, d("5"))
	require.NoError(t, err)
	require.Equal(t, int64(10), *entry.StoreID)
	require.Equal(t, int64(100), *entry.BranchID)
}

func TestReverseEntrySwapsSides(t *testing.T) {
	repo := newMemoryRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()

	original, err := svc.RecordPurchase(ctx, EventInput{Scope: testScope()}, d("80"), "")
	require.NoError(t, err)

	reversal, err := svc.ReverseEntry(ctx, ReverseInput{Scope: testScope(), EntryID: original.ID})
	require.NoError(t, err)
	requireBalanced(t, reversal)
	require.Equal(t, ReferenceAdjustment, reversal.ReferenceType)
	require.Equal(t, fmt.Sprintf("reversal:%d", original.ID), reversal.ReferenceID)
	require.Equal(t, CodeInventory, reversal.Lines[0].AccountCode)
	require.True(t, reversal.Lines[0].Credit.Equal(d("80")))
	require.True(t, reversal.Lines[1].Debit.Equal(d("80")))
	require.Equal(t, "journal.reverse", audit.logs[len(audit.logs)-1].Action)

	_, err = svc.ReverseEntry(ctx, ReverseInput{Scope: testScope(), EntryID: original.ID})
	require.ErrorIs(t, err, ErrAlreadyReversed)

	_, err = svc.ReverseEntry(ctx, ReverseInput{Scope: testScope(), EntryID: 9999})
	require.ErrorIs(t, err, ErrEntryNotFound)

	balances, err := svc.Balances(ctx, LineFilter{TenantID: 1})
	require.NoError(t, err)
	for _, bal := range balances {
		require.True(t, bal.Balance.IsZero(), "account %s", bal.Code)
	}
}

func TestCheckIntegrity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordExpense(ctx, EventInput{Scope: testScope()}, d("10"))
	require.NoError(t, err)
	imbalances, err := svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, imbalances)

	repo.state.lines = repo.state.lines[:1]
	imbalances, err = svc.CheckIntegrity(ctx, 1)
	require.NoError(t, err)
	require.Len(t, imbalances, 1)
}
