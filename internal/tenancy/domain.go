// Package tenancy holds the tenant, store and branch hierarchy every ledger
// operation is scoped to.
package tenancy

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/storeledger/internal/shared"
)

// Tenant is the root isolation boundary.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Store belongs to exactly one tenant.
type Store struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	IsActive bool   `json:"is_active"`
}

// Branch belongs to one store; TenantID mirrors the store's tenant.
type Branch struct {
	ID       int64  `json:"id"`
	StoreID  int64  `json:"store_id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
	Code     string `json:"code"`
	Address  string `json:"address,omitempty"`
	IsActive bool   `json:"is_active"`
}

// Scope is an already resolved tenant with optional store and branch.
type Scope struct {
	Tenant Tenant
	Store  *Store
	Branch *Branch
}

var (
	// ErrTenantRequired indicates a scope without a tenant.
	ErrTenantRequired = fmt.Errorf("%w: tenancy: tenant required", shared.ErrValidation)
	// ErrScopeMismatch indicates a store or branch outside the scope's tenant or store.
	ErrScopeMismatch = fmt.Errorf("%w: tenancy: store or branch does not belong to tenant", shared.ErrValidation)
	// ErrNotFound indicates a missing tenant, store or branch.
	ErrNotFound = fmt.Errorf("tenancy: %w", shared.ErrNotFound)
)

// Validate checks that store and branch sit under the tenant, and the branch
// under the store when both are present.
func (s Scope) Validate() error {
	if s.Tenant.ID == 0 {
		return ErrTenantRequired
	}
	if s.Store != nil && s.Store.TenantID != s.Tenant.ID {
		return fmt.Errorf("%w: store %d", ErrScopeMismatch, s.Store.ID)
	}
	if s.Branch != nil {
		if s.Branch.TenantID != s.Tenant.ID {
			return fmt.Errorf("%w: branch %d", ErrScopeMismatch, s.Branch.ID)
		}
		if s.Store != nil && s.Branch.StoreID != s.Store.ID {
			return fmt.Errorf("%w: branch %d is not in store %d", ErrScopeMismatch, s.Branch.ID, s.Store.ID)
		}
	}
	return nil
}

// TenantID returns the scope's tenant id.
func (s Scope) TenantID() int64 {
	return s.Tenant.ID
}

// StoreID returns the store id or nil. A branch without an explicit store
// implies its own store.
func (s Scope) StoreID() *int64 {
	if s.Store != nil {
		id := s.Store.ID
		return &id
	}
	if s.Branch != nil {
		id := s.Branch.StoreID
		return &id
	}
	return nil
}

// BranchID returns the branch id or nil.
func (s Scope) BranchID() *int64 {
	if s.Branch == nil {
		return nil
	}
	id := s.Branch.ID
	return &id
}

// IsNotFound reports whether err marks a missing tenancy record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
