package retail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/storeledger/internal/inventory"
	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/platform/httpx"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// HeaderIdempotencyKey lets clients retry a retail request safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler exposes the retail flows over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	lookup  inventory.LocationLookup
}

// NewHandler builds the retail HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, lookup inventory.LocationLookup) *Handler {
	return &Handler{logger: logger, service: service, lookup: lookup}
}

// MountRoutes registers retail endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.purchase)
	r.Post("/checkouts", h.checkout)
	r.Post("/returns", h.saleReturn)
	r.Post("/payments", h.cashFlow("record payment", (*Service).Payment))
	r.Post("/expenses", h.cashFlow("record expense", (*Service).Expense))
	r.Post("/other-income", h.cashFlow("record other income", (*Service).OtherIncome))
}

type purchaseRequest struct {
	inventory.LocationRequest
	ProductID  int64       `json:"product_id" validate:"required"`
	PackageQty int64       `json:"package_qty" validate:"gte=0"`
	ItemQty    int64       `json:"item_qty" validate:"gte=0"`
	TotalCost  json.Number `json:"total_cost"`
	EntryDate  string      `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	Note       string      `json:"note" validate:"max=255"`
	CreatedBy  *int64      `json:"created_by"`
}

type checkoutLineRequest struct {
	ProductID  int64 `json:"product_id" validate:"required"`
	PackageQty int64 `json:"package_qty" validate:"gte=0"`
	ItemQty    int64 `json:"item_qty" validate:"gte=0"`
}

type checkoutRequest struct {
	BranchID   int64                 `json:"branch_id"`
	Lines      []checkoutLineRequest `json:"lines" validate:"required,min=1,dive"`
	Paid       json.Number           `json:"paid"`
	InvoiceRef string                `json:"invoice_ref" validate:"max=120"`
	EntryDate  string                `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy  *int64                `json:"created_by"`
}

type returnRequest struct {
	BranchID   int64                 `json:"branch_id"`
	InvoiceRef string                `json:"invoice_ref" validate:"required,max=120"`
	Lines      []checkoutLineRequest `json:"lines" validate:"required,min=1,dive"`
	Refund     json.Number           `json:"refund"`
	EntryDate  string                `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy  *int64                `json:"created_by"`
}

type cashRequest struct {
	inventory.LocationRequest
	Amount    json.Number `json:"amount" validate:"required"`
	Reference string      `json:"reference" validate:"max=120"`
	Memo      string      `json:"memo" validate:"max=255"`
	EntryDate string      `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy *int64      `json:"created_by"`
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req purchaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	date, err := parseDate(req.EntryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := inventory.ResolveLocation(r.Context(), h.lookup, scope.Tenant, req.LocationRequest)
	if err != nil {
		h.fail(w, "record purchase", err)
		return
	}
	input := PurchaseInput{
		Tenant:     scope.Tenant,
		Location:   loc,
		ProductID:  req.ProductID,
		PackageQty: req.PackageQty,
		ItemQty:    req.ItemQty,
		EntryDate:  date,
		Note:       req.Note,
		CreatedBy:  req.CreatedBy,

		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	}
	if req.TotalCost != "" {
		cost := money.Normalize(req.TotalCost)
		input.TotalCost = &cost
	}
	result, err := h.service.Purchase(r.Context(), input)
	if err != nil {
		h.fail(w, "record purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	date, err := parseDate(req.EntryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branch, err := h.branch(r, scope, req.BranchID)
	if err != nil {
		h.fail(w, "checkout", err)
		return
	}
	input := CheckoutInput{
		Tenant:     scope.Tenant,
		Branch:     branch,
		Paid:       decimal.Zero,
		InvoiceRef: req.InvoiceRef,
		EntryDate:  date,
		CreatedBy:  req.CreatedBy,

		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	}
	if req.Paid != "" {
		input.Paid = money.Normalize(req.Paid)
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, CheckoutLine{ProductID: l.ProductID, PackageQty: l.PackageQty, ItemQty: l.ItemQty})
	}
	result, err := h.service.Checkout(r.Context(), input)
	if err != nil {
		h.fail(w, "checkout", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) saleReturn(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	date, err := parseDate(req.EntryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branch, err := h.branch(r, scope, req.BranchID)
	if err != nil {
		h.fail(w, "record return", err)
		return
	}
	input := ReturnInput{
		Tenant:     scope.Tenant,
		Branch:     branch,
		InvoiceRef: req.InvoiceRef,
		Refund:     money.Normalize(req.Refund),
		EntryDate:  date,
		CreatedBy:  req.CreatedBy,

		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, CheckoutLine{ProductID: l.ProductID, PackageQty: l.PackageQty, ItemQty: l.ItemQty})
	}
	result, err := h.service.Return(r.Context(), input)
	if err != nil {
		h.fail(w, "record return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) cashFlow(op string, run func(*Service, context.Context, CashInput) (CashResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := tenancy.ScopeFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, tenancy.ErrTenantRequired)
			return
		}
		var req cashRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondDecodeError(w, err)
			return
		}
		date, err := parseDate(req.EntryDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		loc, err := inventory.ResolveLocation(r.Context(), h.lookup, scope.Tenant, req.LocationRequest)
		if err != nil {
			h.fail(w, op, err)
			return
		}
		result, err := run(h.service, r.Context(), CashInput{
			Tenant:    scope.Tenant,
			Location:  loc,
			Amount:    money.Normalize(req.Amount),
			Reference: req.Reference,
			Memo:      req.Memo,
			EntryDate: date,
			CreatedBy: req.CreatedBy,

			IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
		})
		if err != nil {
			h.fail(w, op, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, result)
	}
}

// branch picks the branch named in the body, falling back to the request scope.
func (h *Handler) branch(r *http.Request, scope tenancy.Scope, id int64) (tenancy.Branch, error) {
	switch {
	case id != 0:
		return h.lookup.GetBranch(r.Context(), scope.TenantID(), id)
	case scope.Branch != nil:
		return *scope.Branch, nil
	default:
		return tenancy.Branch{}, fmt.Errorf("%w: branch required", shared.ErrValidation)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	return t, nil
}
