package tenancy

import (
	"context"
)

// Lookup loads tenancy records by id.
type Lookup interface {
	GetTenant(ctx context.Context, id int64) (Tenant, error)
	GetStore(ctx context.Context, tenantID, id int64) (Store, error)
	GetBranch(ctx context.Context, tenantID, id int64) (Branch, error)
}

// Resolver turns raw ids into a validated Scope.
type Resolver struct {
	lookup Lookup
}

// NewResolver constructs Resolver.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve loads the tenant and the optional store and branch, then validates
// the hierarchy.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, storeID, branchID *int64) (Scope, error) {
	if tenantID == 0 {
		return Scope{}, ErrTenantRequired
	}
	tenant, err := r.lookup.GetTenant(ctx, tenantID)
	if err != nil {
		return Scope{}, err
	}
	scope := Scope{Tenant: tenant}
	if storeID != nil {
		store, err := r.lookup.GetStore(ctx, tenantID, *storeID)
		if err != nil {
			return Scope{}, err
		}
		scope.Store = &store
	}
	if branchID != nil {
		branch, err := r.lookup.GetBranch(ctx, tenantID, *branchID)
		if err != nil {
			return Scope{}, err
		}
		scope.Branch = &branch
	}
	if err := scope.Validate(); err != nil {
		return Scope{}, err
	}
	return scope, nil
}
