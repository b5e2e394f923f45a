package retail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/storeledger/internal/platform/httpx"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

type stubLookup struct{}

func (stubLookup) GetStore(_ context.Context, _ int64, id int64) (tenancy.Store, error) {
	if id != branch.StoreID {
		return tenancy.Store{}, fmt.Errorf("%w: store %d", tenancy.ErrNotFound, id)
	}
	return tenancy.Store{ID: branch.StoreID, TenantID: tenant.ID}, nil
}

func (stubLookup) GetBranch(_ context.Context, _ int64, id int64) (tenancy.Branch, error) {
	if id != branch.ID {
		return tenancy.Branch{}, fmt.Errorf("%w: branch %d", tenancy.ErrNotFound, id)
	}
	return branch, nil
}

func newTestRouter(svc *Service, scope tenancy.Scope) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenancy.ContextWithScope(req.Context(), scope)))
		})
	})
	NewHandler(nil, svc, stubLookup{}).MountRoutes(r)
	return r
}

func post(router http.Handler, target, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCheckoutBranchSelection(t *testing.T) {
	svc, stock, _, ledger, _ := newTestService(nil)
	stock.onHand[sugar.ID] = 10
	line := `"lines":[{"product_id":1,"item_qty":1}]`

	scoped := newTestRouter(svc, tenancy.Scope{Tenant: tenant, Branch: &branch})
	rr := post(scoped, "/checkouts", `{`+line+`,"paid":"4.50","invoice_ref":"INV-20"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var result CheckoutResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, "INV-20", result.InvoiceRef)
	require.True(t, d("4.50").Equal(result.Paid))
	require.Equal(t, branch.ID, *ledger.events[0].Scope.BranchID())

	tenantOnly := newTestRouter(svc, tenancy.Scope{Tenant: tenant})
	rr = post(tenantOnly, "/checkouts", `{`+line+`}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = post(tenantOnly, "/checkouts", `{"branch_id":5,`+line+`}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = post(tenantOnly, "/checkouts", `{"branch_id":999,`+line+`}`, "")
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())

	require.EqualValues(t, 8, stock.onHand[sugar.ID])
}

func TestHandlerCheckoutRejectsBadBody(t *testing.T) {
	svc, _, _, _, _ := newTestService(nil)
	router := newTestRouter(svc, tenancy.Scope{Tenant: tenant, Branch: &branch})

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"no lines", `{"lines":[]}`, "Lines"},
		{"line without product", `{"lines":[{"item_qty":1}]}`, "ProductID"},
		{"negative qty", `{"lines":[{"product_id":1,"item_qty":-1}]}`, "ItemQty"},
		{"bad date", `{"lines":[{"product_id":1,"item_qty":1}],"entry_date":"03/01/2026"}`, "EntryDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := post(router, "/checkouts", tc.body, "")
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
			require.Contains(t, problem.Fields, tc.field)
		})
	}
}

func TestHandlerIdempotencyKeyReplayConflicts(t *testing.T) {
	svc, stock, _, ledger, _ := newTestService(nil)
	svc.WithIdempotency(&memoryIdempotency{claimed: map[string]bool{}})
	stock.onHand[sugar.ID] = 10
	router := newTestRouter(svc, tenancy.Scope{Tenant: tenant, Branch: &branch})
	body := `{"lines":[{"product_id":1,"item_qty":2}]}`

	rr := post(router, "/checkouts", body, "till-7-0001")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = post(router, "/checkouts", body, "till-7-0001")
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	require.EqualValues(t, 8, stock.onHand[sugar.ID])
	require.Len(t, ledger.sales, 1)

	// Requests without a key are never deduplicated.
	require.Equal(t, http.StatusCreated, post(router, "/checkouts", body, "").Code)
	require.Equal(t, http.StatusCreated, post(router, "/checkouts", body, "").Code)
	require.EqualValues(t, 4, stock.onHand[sugar.ID])
}

func TestHandlerPurchase(t *testing.T) {
	svc, stock, _, ledger, _ := newTestService(nil)
	router := newTestRouter(svc, tenancy.Scope{Tenant: tenant})

	rr := post(router, "/purchases", `{"scope":"branch","branch_id":5,"product_id":3,"package_qty":1,"total_cost":"99.999"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.EqualValues(t, 10, stock.onHand[tea.ID])
	require.True(t, d("100.00").Equal(ledger.purchases[0]))

	rr = post(router, "/purchases", `{"scope":"store","product_id":3,"package_qty":1}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "required_if", problem.Fields["StoreID"])

	rr = post(router, "/purchases", `{"scope":"store","store_id":2,"product_id":42,"package_qty":1}`, "")
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
}

func TestHandlerCashRoutes(t *testing.T) {
	svc, _, _, ledger, _ := newTestService(nil)
	router := newTestRouter(svc, tenancy.Scope{Tenant: tenant})

	rr := post(router, "/payments", `{"scope":"tenant","amount":"5"}`, "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	ledger.open = d("20")
	rr = post(router, "/payments", `{"scope":"tenant","amount":"5","reference":"RCPT-2"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var paid CashResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &paid))
	require.True(t, d("15").Equal(*paid.OpenReceivable))

	rr = post(router, "/expenses", `{"scope":"branch","branch_id":5,"amount":12.5,"memo":"Rent"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "Rent", ledger.events[1].Memo)
	require.Equal(t, branch.ID, *ledger.events[1].Scope.BranchID())

	rr = post(router, "/other-income", `{"scope":"tenant","amount":"8"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	for _, body := range []string{
		`{"scope":"tenant"}`,
		`{"scope":"tenant","amount":"abc"}`,
		`{"scope":"tenant","amount":"-2"}`,
		`{"amount":"2"}`,
	} {
		rr = post(router, "/expenses", body, "")
		require.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
	require.Len(t, ledger.expenses, 1)
	require.Len(t, ledger.incomes, 1)
	require.Len(t, ledger.payments, 1)
}

func TestHandlerReturn(t *testing.T) {
	svc, stock, _, ledger, _ := newTestService(nil)
	stock.onHand[sugar.ID] = 10
	sellSugar(t, svc, "INV-30", 2, "9")
	router := newTestRouter(svc, tenancy.Scope{Tenant: tenant, Branch: &branch})

	rr := post(router, "/returns", `{"invoice_ref":"INV-30","lines":[{"product_id":1,"item_qty":1}],"refund":"4.50"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.EqualValues(t, 9, stock.onHand[sugar.ID])
	require.Len(t, ledger.returns, 1)

	rr = post(router, "/returns", `{"lines":[{"product_id":1,"item_qty":1}]}`, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(router, "/returns", `{"invoice_ref":"INV-30","lines":[{"product_id":1,"item_qty":2}],"refund":"9"}`, "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}
