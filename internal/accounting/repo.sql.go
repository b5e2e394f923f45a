package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/platform/db"
	"github.com/odyssey-erp/storeledger/internal/shared"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. It offers no update or
// delete of entries and lines.
type TxRepository interface {
	EnsureAccounts(ctx context.Context, tenantID int64, chart []ChartAccount) (map[string]Account, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error
	GetEntry(ctx context.Context, tenantID, entryID int64) (JournalEntry, error)
	HasReference(ctx context.Context, tenantID int64, ref ReferenceType, referenceID string) (bool, error)
	LockAccount(ctx context.Context, tenantID int64, code string) error
	AccountTotals(ctx context.Context, tenantID int64, code string) (debit, credit decimal.Decimal, err error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a transaction, joining one already open in ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const selectLines = `SELECT l.id, l.entry_id, l.account_id, a.code, a.name, a.type, l.debit, l.credit, l.description
FROM journal_lines l
JOIN ledger_accounts a ON a.id = l.account_id
JOIN journal_entries e ON e.id = l.entry_id`

// ListLines reads lines for balance reports without taking locks.
func (r *Repository) ListLines(ctx context.Context, filter LineFilter) ([]JournalLine, error) {
	conds := []string{"e.tenant_id = $1"}
	args := []any{filter.TenantID}
	if filter.StoreID != nil {
		args = append(args, *filter.StoreID)
		conds = append(conds, fmt.Sprintf("e.store_id = $%d", len(args)))
	}
	if filter.BranchID != nil {
		args = append(args, *filter.BranchID)
		conds = append(conds, fmt.Sprintf("e.branch_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("e.entry_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("e.entry_date <= $%d", len(args)))
	}
	query := selectLines + "\nWHERE " + strings.Join(conds, " AND ") + "\nORDER BY a.code, l.id"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanLines(rows)
}

// ListImbalances returns entries whose totals differ or that have no lines.
func (r *Repository) ListImbalances(ctx context.Context, tenantID int64) ([]Imbalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_entries e
LEFT JOIN journal_lines l ON l.entry_id = e.id
WHERE e.tenant_id = $1
GROUP BY e.id
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0) OR COUNT(l.id) = 0
ORDER BY e.id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Imbalance
	for rows.Next() {
		imb := Imbalance{TenantID: tenantID}
		if err := rows.Scan(&imb.EntryID, &imb.Debit, &imb.Credit); err != nil {
			return nil, err
		}
		out = append(out, imb)
	}
	return out, rows.Err()
}

func (r *txRepository) EnsureAccounts(ctx context.Context, tenantID int64, chart []ChartAccount) (map[string]Account, error) {
	batch := &pgx.Batch{}
	codes := make([]string, 0, len(chart))
	for _, acc := range chart {
		codes = append(codes, acc.Code)
		batch.Queue(`INSERT INTO ledger_accounts (tenant_id, code, name, type, is_system, is_active)
VALUES ($1, $2, $3, $4, TRUE, TRUE) ON CONFLICT DO NOTHING`, tenantID, acc.Code, acc.Name, string(acc.Type))
	}
	if err := r.tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("accounting: seed accounts: %w", err)
	}

	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, code, name, type, parent_id, is_system, is_active, created_at
FROM ledger_accounts WHERE tenant_id = $1 AND code = ANY($2)`, tenantID, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	accounts := make(map[string]Account, len(chart))
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.IsSystem, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts[a.Code] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, store_id, branch_id, entry_date, reference_type, reference_id, memo, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		entry.TenantID, entry.StoreID, entry.BranchID, entry.EntryDate, string(entry.ReferenceType), entry.ReferenceID, entry.Memo, entry.CreatedBy)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

// InsertLines writes every line in one batch round trip.
func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO journal_lines (entry_id, account_id, debit, credit, description) VALUES ($1, $2, $3, $4, $5)`,
			entryID, line.AccountID, line.Debit.StringFixed(money.Places), line.Credit.StringFixed(money.Places), line.Description)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

// GetEntry loads an entry with its lines, locking the header row.
func (r *txRepository) GetEntry(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	var e JournalEntry
	var ref string
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, store_id, branch_id, entry_date, reference_type, reference_id, memo, created_by, created_at
FROM journal_entries WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, entryID, tenantID).
		Scan(&e.ID, &e.TenantID, &e.StoreID, &e.BranchID, &e.EntryDate, &ref, &e.ReferenceID, &e.Memo, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
		}
		return JournalEntry{}, err
	}
	e.ReferenceType = ReferenceType(ref)
	rows, err := r.tx.Query(ctx, selectLines+"\nWHERE l.entry_id = $1 ORDER BY l.id", entryID)
	if err != nil {
		return JournalEntry{}, err
	}
	lines, err := scanLines(rows)
	if err != nil {
		return JournalEntry{}, err
	}
	e.Lines = lines
	return e, nil
}

func (r *txRepository) HasReference(ctx context.Context, tenantID int64, ref ReferenceType, referenceID string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journal_entries WHERE tenant_id = $1 AND reference_type = $2 AND reference_id = $3)`,
		tenantID, string(ref), referenceID).Scan(&exists)
	return exists, err
}

// LockAccount takes a transaction-scoped advisory lock on one account code.
func (r *txRepository) LockAccount(ctx context.Context, tenantID int64, code string) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('ledger_account:' || $1::text || ':' || $2, 0))`, tenantID, code)
	if err != nil {
		if shared.IsDeadlock(err) {
			return fmt.Errorf("%w: account %s busy, retry", shared.ErrConflict, code)
		}
		return err
	}
	return nil
}

func (r *txRepository) AccountTotals(ctx context.Context, tenantID int64, code string) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM journal_lines l
JOIN ledger_accounts a ON a.id = l.account_id
WHERE a.tenant_id = $1 AND a.code = $2`, tenantID, code).Scan(&debit, &credit)
	return debit, credit, err
}

func scanLines(rows pgx.Rows) ([]JournalLine, error) {
	defer rows.Close()
	var lines []JournalLine
	for rows.Next() {
		var l JournalLine
		var accountType string
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &l.AccountCode, &l.AccountName, &accountType, &l.Debit, &l.Credit, &l.Description); err != nil {
			return nil, err
		}
		l.AccountType = AccountType(accountType)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
