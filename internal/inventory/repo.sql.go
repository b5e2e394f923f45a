package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/storeledger/internal/platform/db"
	"github.com/odyssey-erp/storeledger/internal/shared"
)

// Repository persists stock rows, transfers and movements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Movements and transfers are
// insert only.
type TxRepository interface {
	LockStock(ctx context.Context, tenantID int64, scope Scope, ownerID, productID int64) (StockLevel, error)
	SaveStock(ctx context.Context, level StockLevel) (StockLevel, error)
	UpsertStock(ctx context.Context, level StockLevel) (StockLevel, error)
	InsertTransfer(ctx context.Context, transfer Transfer) (Transfer, error)
	InsertMovements(ctx context.Context, movements []Movement) ([]Movement, error)
	SumMovements(ctx context.Context, tenantID, productID int64, reference string, kind MovementType) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a transaction, joining one already open in ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// StockLevels reads the rows of one owner for the given products without locks.
func (r *Repository) StockLevels(ctx context.Context, tenantID int64, scope Scope, ownerID int64, productIDs []int64) (map[int64]StockLevel, error) {
	table, err := stockTable(scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT tenant_id, owner_id, product_id, stock, num_of_packages, num_items, updated_at
FROM %s WHERE tenant_id=$1 AND owner_id=$2 AND product_id = ANY($3)`, table)
	rows, err := r.pool.Query(ctx, query, tenantID, ownerID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]StockLevel, len(productIDs))
	for rows.Next() {
		level := StockLevel{Scope: scope}
		if err := scanLevel(rows, &level); err != nil {
			return nil, err
		}
		out[level.ProductID] = level
	}
	return out, rows.Err()
}

// ListStock reads every row of one owner ordered by product.
func (r *Repository) ListStock(ctx context.Context, tenantID int64, scope Scope, ownerID int64) ([]StockLevel, error) {
	table, err := stockTable(scope)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT tenant_id, owner_id, product_id, stock, num_of_packages, num_items, updated_at
FROM %s WHERE tenant_id=$1 AND owner_id=$2 ORDER BY product_id`, table)
	rows, err := r.pool.Query(ctx, query, tenantID, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockLevel
	for rows.Next() {
		level := StockLevel{Scope: scope}
		if err := scanLevel(rows, &level); err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, rows.Err()
}

// GetProducts loads tenant products keyed by id.
func (r *Repository) GetProducts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, code, name, package_contain, package_purchase_price, package_sale_price, item_sale_price
FROM products WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.PackageContain,
			&p.PackagePurchasePrice, &p.PackageSalePrice, &p.ItemSalePrice); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *txRepository) LockStock(ctx context.Context, tenantID int64, scope Scope, ownerID, productID int64) (StockLevel, error) {
	table, err := stockTable(scope)
	if err != nil {
		return StockLevel{}, err
	}
	insert := fmt.Sprintf(`INSERT INTO %s (tenant_id, owner_id, product_id) VALUES ($1, $2, $3)
ON CONFLICT (owner_id, product_id) DO NOTHING`, table)
	if _, err := r.tx.Exec(ctx, insert, tenantID, ownerID, productID); err != nil {
		return StockLevel{}, err
	}
	query := fmt.Sprintf(`SELECT tenant_id, owner_id, product_id, stock, num_of_packages, num_items, updated_at
FROM %s WHERE owner_id=$1 AND product_id=$2 FOR UPDATE`, table)
	level := StockLevel{Scope: scope}
	if err := scanLevel(r.tx.QueryRow(ctx, query, ownerID, productID), &level); err != nil {
		if shared.IsDeadlock(err) {
			return StockLevel{}, fmt.Errorf("%w: %s %d stock row busy, retry", shared.ErrConflict, scope, ownerID)
		}
		return StockLevel{}, err
	}
	if level.TenantID != tenantID {
		return StockLevel{}, fmt.Errorf("%w: %s %d", ErrInvalidLocation, scope, ownerID)
	}
	return level, nil
}

func (r *txRepository) SaveStock(ctx context.Context, level StockLevel) (StockLevel, error) {
	table, err := stockTable(level.Scope)
	if err != nil {
		return StockLevel{}, err
	}
	query := fmt.Sprintf(`UPDATE %s SET stock=$3, num_of_packages=$4, num_items=$5, updated_at=NOW()
WHERE owner_id=$1 AND product_id=$2 RETURNING updated_at`, table)
	err = r.tx.QueryRow(ctx, query, level.OwnerID, level.ProductID, level.Total, level.Packages, level.Items).Scan(&level.UpdatedAt)
	if err != nil {
		return StockLevel{}, translateStockErr(err, table)
	}
	return level, nil
}

func (r *txRepository) UpsertStock(ctx context.Context, level StockLevel) (StockLevel, error) {
	table, err := stockTable(level.Scope)
	if err != nil {
		return StockLevel{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (tenant_id, owner_id, product_id, stock, num_of_packages, num_items)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner_id, product_id) DO UPDATE
SET stock=EXCLUDED.stock, num_of_packages=EXCLUDED.num_of_packages, num_items=EXCLUDED.num_items, updated_at=NOW()
RETURNING updated_at`, table)
	err = r.tx.QueryRow(ctx, query, level.TenantID, level.OwnerID, level.ProductID, level.Total, level.Packages, level.Items).Scan(&level.UpdatedAt)
	if err != nil {
		return StockLevel{}, translateStockErr(err, table)
	}
	return level, nil
}

func (r *txRepository) InsertTransfer(ctx context.Context, t Transfer) (Transfer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transfers
(tenant_id, code, product_id, from_scope, from_store_id, from_branch_id, to_scope, to_store_id, to_branch_id, package_qty, item_qty, total_items, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id, created_at`,
		t.TenantID, t.Code, t.ProductID, t.FromScope, t.FromStoreID, t.FromBranchID, t.ToScope, t.ToStoreID, t.ToBranchID,
		t.PackageQty, t.ItemQty, t.TotalItems, t.Note, t.CreatedBy).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (r *txRepository) InsertMovements(ctx context.Context, movements []Movement) ([]Movement, error) {
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO inventory_movements
(tenant_id, product_id, scope, store_id, branch_id, movement_type, package_qty, item_qty, total_items, transfer_id, reference, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at`,
			m.TenantID, m.ProductID, m.Scope, m.StoreID, m.BranchID, m.Type, m.PackageQty, m.ItemQty, m.TotalItems, m.TransferID, m.Reference, m.Note, m.CreatedBy)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]Movement, len(movements))
	for i, m := range movements {
		if err := results.QueryRow().Scan(&m.ID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, results.Close()
}

func (r *txRepository) SumMovements(ctx context.Context, tenantID, productID int64, reference string, kind MovementType) (int64, error) {
	var total int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(total_items), 0) FROM inventory_movements
WHERE tenant_id=$1 AND product_id=$2 AND reference=$3 AND movement_type=$4`, tenantID, productID, reference, kind).Scan(&total)
	return total, err
}

// ListMovements reads movements matching filter, newest first, without locks.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if loc := filter.Location; loc != nil {
		add("scope = $%d", loc.Scope)
		switch loc.Scope {
		case ScopeStore:
			add("store_id = $%d", loc.OwnerID(filter.TenantID))
		case ScopeBranch:
			add("branch_id = $%d", loc.OwnerID(filter.TenantID))
		}
	}
	if filter.ProductID != 0 {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.Reference != "" {
		add("reference = $%d", filter.Reference)
	}
	if len(filter.Types) > 0 {
		kinds := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			kinds[i] = string(t)
		}
		add("movement_type = ANY($%d)", kinds)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	args = append(args, filter.Limit)
	query := `SELECT id, tenant_id, product_id, scope, store_id, branch_id, movement_type, package_qty, item_qty, total_items,
transfer_id, reference, note, created_by, created_at
FROM inventory_movements WHERE ` + strings.Join(conds, " AND ") + fmt.Sprintf("\nORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ProductID, &m.Scope, &m.StoreID, &m.BranchID, &m.Type, &m.PackageQty,
			&m.ItemQty, &m.TotalItems, &m.TransferID, &m.Reference, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanLevel(row pgx.Row, level *StockLevel) error {
	return row.Scan(&level.TenantID, &level.OwnerID, &level.ProductID, &level.Total, &level.Packages, &level.Items, &level.UpdatedAt)
}

func translateStockErr(err error, table string) error {
	if shared.IsCheckViolation(err, "ck_"+table+"_non_negative") {
		return ErrInsufficientStock
	}
	return err
}
