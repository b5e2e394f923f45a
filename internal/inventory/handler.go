package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/storeledger/internal/platform/httpx"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// LocationLookup loads the stores and branches a location may name.
type LocationLookup interface {
	GetStore(ctx context.Context, tenantID, id int64) (tenancy.Store, error)
	GetBranch(ctx context.Context, tenantID, id int64) (tenancy.Branch, error)
}

// Handler exposes stock operations over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	lookup  LocationLookup
}

// NewHandler builds the inventory HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, lookup LocationLookup) *Handler {
	return &Handler{logger: logger, service: service, lookup: lookup}
}

// MountRoutes registers inventory endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock", h.listStock)
	r.Put("/stock", h.setStock)
	r.Post("/stock/adjust", h.adjustStock)
	r.Post("/transfers", h.transfer)
	r.Get("/movements", h.listMovements)
}

// LocationRequest names a stock location in a request body.
type LocationRequest struct {
	Scope    string `json:"scope" validate:"required,oneof=tenant store branch"`
	StoreID  int64  `json:"store_id" validate:"required_if=Scope store"`
	BranchID int64  `json:"branch_id" validate:"required_if=Scope branch"`
}

type setStockRequest struct {
	LocationRequest
	ProductID int64 `json:"product_id" validate:"required"`
	Stock     int64 `json:"stock" validate:"gte=0"`
}

type adjustStockRequest struct {
	LocationRequest
	ProductID int64 `json:"product_id" validate:"required"`
	Delta     int64 `json:"delta"`
}

type transferRequest struct {
	ProductID  int64           `json:"product_id" validate:"required"`
	From       LocationRequest `json:"from"`
	To         LocationRequest `json:"to"`
	PackageQty int64           `json:"package_qty" validate:"gte=0"`
	ItemQty    int64           `json:"item_qty" validate:"gte=0"`
	Note       string          `json:"note" validate:"max=255"`
	CreatedBy  *int64          `json:"created_by"`
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req setStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	loc, product, err := h.target(r.Context(), scope.Tenant, req.LocationRequest, req.ProductID)
	if err != nil {
		h.fail(w, "set stock", err)
		return
	}
	level, err := h.service.SetStock(r.Context(), scope.Tenant, loc, product, req.Stock)
	if err != nil {
		h.fail(w, "set stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req adjustStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	loc, product, err := h.target(r.Context(), scope.Tenant, req.LocationRequest, req.ProductID)
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	level, err := h.service.AdjustStock(r.Context(), scope.Tenant, loc, product, req.Delta)
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

// listStock returns the rows at a location, or annotated products when
// product_id values are given.
func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	q := r.URL.Query()
	loc, err := h.queryLocation(r.Context(), scope.Tenant, q)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	var ids []int64
	for _, raw := range q["product_id"] {
		for _, part := range strings.Split(raw, ",") {
			id, err := httpx.ParseID(strings.TrimSpace(part))
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		levels, err := h.service.ListStock(r.Context(), scope.Tenant, loc)
		if err != nil {
			h.fail(w, "list stock", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"stock": levels})
		return
	}
	byID, err := h.service.Products(r.Context(), scope.TenantID(), ids)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	products := make([]Product, 0, len(ids))
	for _, id := range ids {
		products = append(products, byID[id])
	}
	annotated, err := h.service.AnnotateStock(r.Context(), scope.Tenant, loc, products)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": annotated})
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	from, product, err := h.target(r.Context(), scope.Tenant, req.From, req.ProductID)
	if err != nil {
		h.fail(w, "transfer stock", err)
		return
	}
	to, err := ResolveLocation(r.Context(), h.lookup, scope.Tenant, req.To)
	if err != nil {
		h.fail(w, "transfer stock", err)
		return
	}
	transfer, err := h.service.Transfer(r.Context(), TransferInput{
		Tenant:     scope.Tenant,
		Product:    product,
		From:       from,
		To:         to,
		PackageQty: req.PackageQty,
		ItemQty:    req.ItemQty,
		Note:       req.Note,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		h.fail(w, "transfer stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, transfer)
}

// listMovements returns the stock card at a location, optionally narrowed to
// one product, movement types and a date range.
func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	q := r.URL.Query()
	loc, err := h.queryLocation(r.Context(), scope.Tenant, q)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	var filter MovementFilter
	if filter.ProductID, err = optionalID(q.Get("product_id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	for _, raw := range strings.Split(q.Get("type"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !MovementType(raw).Valid() {
			httpx.RespondError(w, fmt.Errorf("%w: unknown movement type %q", shared.ErrValidation, raw))
			return
		}
		filter.Types = append(filter.Types, MovementType(raw))
	}
	if filter.From, err = parseDay(q.Get("from"), false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDay(q.Get("to"), true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: invalid limit %q", shared.ErrValidation, raw))
			return
		}
		filter.Limit = limit
	}
	movements, err := h.service.Movements(r.Context(), scope.Tenant, loc, filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

// queryLocation reads scope, store_id and branch_id; scope defaults to tenant.
func (h *Handler) queryLocation(ctx context.Context, tenant tenancy.Tenant, q url.Values) (Location, error) {
	req := LocationRequest{Scope: q.Get("scope")}
	if req.Scope == "" {
		req.Scope = string(ScopeTenant)
	}
	var err error
	if req.StoreID, err = optionalID(q.Get("store_id")); err != nil {
		return Location{}, err
	}
	if req.BranchID, err = optionalID(q.Get("branch_id")); err != nil {
		return Location{}, err
	}
	return ResolveLocation(ctx, h.lookup, tenant, req)
}

func parseDay(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return day, nil
}

func (h *Handler) target(ctx context.Context, tenant tenancy.Tenant, req LocationRequest, productID int64) (Location, Product, error) {
	loc, err := ResolveLocation(ctx, h.lookup, tenant, req)
	if err != nil {
		return Location{}, Product{}, err
	}
	products, err := h.service.Products(ctx, tenant.ID, []int64{productID})
	if err != nil {
		return Location{}, Product{}, err
	}
	return loc, products[productID], nil
}

// ResolveLocation loads the store or branch a request names.
func ResolveLocation(ctx context.Context, lookup LocationLookup, tenant tenancy.Tenant, req LocationRequest) (Location, error) {
	switch Scope(req.Scope) {
	case ScopeTenant:
		return TenantLocation(), nil
	case ScopeStore:
		if req.StoreID == 0 {
			return Location{}, fmt.Errorf("%w: store_id required", ErrInvalidLocation)
		}
		store, err := lookup.GetStore(ctx, tenant.ID, req.StoreID)
		if err != nil {
			return Location{}, err
		}
		return StoreLocation(store), nil
	case ScopeBranch:
		if req.BranchID == 0 {
			return Location{}, fmt.Errorf("%w: branch_id required", ErrInvalidLocation)
		}
		branch, err := lookup.GetBranch(ctx, tenant.ID, req.BranchID)
		if err != nil {
			return Location{}, err
		}
		return BranchLocation(branch), nil
	default:
		return Location{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidLocation, req.Scope)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil && !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func optionalID(raw string) (int64, error) {
	id, err := httpx.ParseOptionalID(raw)
	if err != nil || id == nil {
		return 0, err
	}
	return *id, nil
}
