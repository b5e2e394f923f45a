package tenancy

import (
	"context"
	"net/http"

	"github.com/odyssey-erp/storeledger/internal/platform/httpx"
)

// Request headers carrying the active tenant, store and branch.
const (
	HeaderTenant = "X-Tenant-ID"
	HeaderStore  = "X-Store-ID"
	HeaderBranch = "X-Branch-ID"
)

type scopeKey struct{}

// ContextWithScope stores scope in ctx.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope resolved by Middleware.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(Scope)
	return scope, ok
}

// ScopeResolver resolves raw ids into a Scope.
type ScopeResolver interface {
	Resolve(ctx context.Context, tenantID int64, storeID, branchID *int64) (Scope, error)
}

// Middleware resolves the request scope from headers and rejects requests
// without a valid tenant.
func Middleware(resolver ScopeResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := httpx.ParseID(r.Header.Get(HeaderTenant))
			if err != nil {
				httpx.RespondError(w, ErrTenantRequired)
				return
			}
			storeID, err := httpx.ParseOptionalID(r.Header.Get(HeaderStore))
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			branchID, err := httpx.ParseOptionalID(r.Header.Get(HeaderBranch))
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			scope, err := resolver.Resolve(r.Context(), tenantID, storeID, branchID)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithScope(r.Context(), scope)))
		})
	}
}
