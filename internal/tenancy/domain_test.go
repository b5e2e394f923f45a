package tenancy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/storeledger/internal/shared"
)

func TestScopeValidate(t *testing.T) {
	tenant := Tenant{ID: 1}
	store := &Store{ID: 10, TenantID: 1}
	foreignStore := &Store{ID: 11, TenantID: 2}
	branch := &Branch{ID: 100, StoreID: 10, TenantID: 1}
	otherStoreBranch := &Branch{ID: 101, StoreID: 12, TenantID: 1}

	require.NoError(t, Scope{Tenant: tenant}.Validate())
	require.NoError(t, Scope{Tenant: tenant, Store: store, Branch: branch}.Validate())
	require.NoError(t, Scope{Tenant: tenant, Branch: branch}.Validate())

	require.ErrorIs(t, Scope{}.Validate(), ErrTenantRequired)
	require.ErrorIs(t, Scope{Tenant: tenant, Store: foreignStore}.Validate(), ErrScopeMismatch)
	require.ErrorIs(t, Scope{Tenant: tenant, Store: store, Branch: otherStoreBranch}.Validate(), ErrScopeMismatch)
	require.ErrorIs(t, Scope{Tenant: tenant, Branch: &Branch{ID: 5, TenantID: 3}}.Validate(), shared.ErrValidation)
}

func TestScopeIDs(t *testing.T) {
	scope := Scope{Tenant: Tenant{ID: 1}, Branch: &Branch{ID: 100, StoreID: 10, TenantID: 1}}
	require.Equal(t, int64(10), *scope.StoreID())
	require.Equal(t, int64(100), *scope.BranchID())
	require.Nil(t, Scope{Tenant: Tenant{ID: 1}}.StoreID())
}

type stubLookup struct {
	stores   map[int64]Store
	branches map[int64]Branch
}

func (s stubLookup) GetTenant(_ context.Context, id int64) (Tenant, error) {
	if id != 1 {
		return Tenant{}, fmt.Errorf("%w: tenant %d", ErrNotFound, id)
	}
	return Tenant{ID: 1, Name: "Acme", IsActive: true}, nil
}

func (s stubLookup) GetStore(_ context.Context, tenantID, id int64) (Store, error) {
	store, ok := s.stores[id]
	if !ok || store.TenantID != tenantID {
		return Store{}, fmt.Errorf("%w: store %d", ErrNotFound, id)
	}
	return store, nil
}

func (s stubLookup) GetBranch(_ context.Context, tenantID, id int64) (Branch, error) {
	branch, ok := s.branches[id]
	if !ok || branch.TenantID != tenantID {
		return Branch{}, fmt.Errorf("%w: branch %d", ErrNotFound, id)
	}
	return branch, nil
}

func newStubResolver() *Resolver {
	return NewResolver(stubLookup{
		stores:   map[int64]Store{10: {ID: 10, TenantID: 1}, 20: {ID: 20, TenantID: 1}},
		branches: map[int64]Branch{100: {ID: 100, StoreID: 10, TenantID: 1}},
	})
}

func TestResolverRejectsBranchOutsideStore(t *testing.T) {
	resolver := newStubResolver()
	store, branch := int64(20), int64(100)
	_, err := resolver.Resolve(context.Background(), 1, &store, &branch)
	require.ErrorIs(t, err, ErrScopeMismatch)

	store = 10
	scope, err := resolver.Resolve(context.Background(), 1, &store, &branch)
	require.NoError(t, err)
	require.Equal(t, int64(100), scope.Branch.ID)

	_, err = resolver.Resolve(context.Background(), 2, nil, nil)
	require.True(t, IsNotFound(err))
}

func TestMiddleware(t *testing.T) {
	handler := Middleware(newStubResolver())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := ScopeFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, int64(1), scope.TenantID())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenant, "1")
	req.Header.Set(HeaderStore, "10")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenant, "9")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
