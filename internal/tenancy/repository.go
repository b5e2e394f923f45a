package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads tenancy records from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTenant loads an active tenant.
func (r *Repository) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	var t Tenant
	err := r.pool.QueryRow(ctx, `SELECT id, name, slug, is_active, created_at FROM tenants WHERE id=$1 AND is_active`, id).
		Scan(&t.ID, &t.Name, &t.Slug, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, fmt.Errorf("%w: tenant %d", ErrNotFound, id)
		}
		return Tenant{}, err
	}
	return t, nil
}

// GetStore loads a store of the tenant.
func (r *Repository) GetStore(ctx context.Context, tenantID, id int64) (Store, error) {
	var s Store
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, name, code, is_active FROM stores WHERE id=$1 AND tenant_id=$2`, id, tenantID).
		Scan(&s.ID, &s.TenantID, &s.Name, &s.Code, &s.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Store{}, fmt.Errorf("%w: store %d", ErrNotFound, id)
		}
		return Store{}, err
	}
	return s, nil
}

// GetBranch loads a branch of the tenant.
func (r *Repository) GetBranch(ctx context.Context, tenantID, id int64) (Branch, error) {
	var b Branch
	err := r.pool.QueryRow(ctx, `SELECT id, store_id, tenant_id, name, code, address, is_active FROM branches WHERE id=$1 AND tenant_id=$2`, id, tenantID).
		Scan(&b.ID, &b.StoreID, &b.TenantID, &b.Name, &b.Code, &b.Address, &b.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, fmt.Errorf("%w: branch %d", ErrNotFound, id)
		}
		return Branch{}, err
	}
	return b, nil
}

// ListTenantIDs returns the ids of all active tenants.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tenants WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
