package accounting

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/storeledger/internal/money"
	"github.com/odyssey-erp/storeledger/internal/platform/httpx"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// Handler exposes the ledger over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the accounting HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers accounting endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/accounts/seed", h.seedAccounts)
	r.Post("/entries", h.postEntry)
	r.Post("/entries/{id}/reverse", h.reverseEntry)
	r.Get("/balances", h.balances)
}

type lineRequest struct {
	AccountCode string      `json:"account_code" validate:"required"`
	Debit       json.Number `json:"debit"`
	Credit      json.Number `json:"credit"`
	Description string      `json:"description"`
}

type postEntryRequest struct {
	ReferenceType string        `json:"reference_type" validate:"required"`
	ReferenceID   string        `json:"reference_id" validate:"max=120"`
	Memo          string        `json:"memo" validate:"max=255"`
	EntryDate     string        `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy     *int64        `json:"created_by"`
	Lines         []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type reverseRequest struct {
	Memo      string `json:"memo" validate:"max=255"`
	EntryDate string `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	CreatedBy *int64 `json:"created_by"`
}

func (h *Handler) seedAccounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	accounts, err := h.service.EnsureDefaultAccounts(r.Context(), scope.Tenant)
	if err != nil {
		h.fail(w, "seed accounts", err)
		return
	}
	list := make([]Account, 0, len(accounts))
	for _, tmpl := range h.service.Chart().Accounts() {
		if acc, ok := accounts[tmpl.Code]; ok {
			list = append(list, acc)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"chart_version": h.service.Chart().Version(), "accounts": list})
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	var req postEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	date, err := parseDate(req.EntryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PostingInput{
		Scope:         scope,
		EntryDate:     date,
		ReferenceType: ReferenceType(req.ReferenceType),
		ReferenceID:   req.ReferenceID,
		Memo:          req.Memo,
		CreatedBy:     req.CreatedBy,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			AccountCode: l.AccountCode,
			Debit:       money.Normalize(l.Debit),
			Credit:      money.Normalize(l.Credit),
			Description: l.Description,
		})
	}
	entry, err := h.service.PostJournalEntry(r.Context(), input)
	if err != nil {
		h.fail(w, "post journal entry", err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, tenancy.ErrTenantRequired)
		return
	}
	id, err := httpx.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondDecodeError(w, err)
		return
	}
	date, err := parseDate(req.EntryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.ReverseEntry(r.Context(), ReverseInput{
		Scope:     scope,
		EntryID:   id,
		EntryDate: date,
		Memo:      req.Memo,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		h.fail(w, "reverse journal entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	filter, err := FilterFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.Balances(r.Context(), filter)
	if err != nil {
		h.fail(w, "account balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

// FilterFromRequest builds a LineFilter from the request scope and the
// from/to query parameters (YYYY-MM-DD).
func FilterFromRequest(r *http.Request) (LineFilter, error) {
	scope, ok := tenancy.ScopeFromContext(r.Context())
	if !ok {
		return LineFilter{}, tenancy.ErrTenantRequired
	}
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		return LineFilter{}, err
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		return LineFilter{}, err
	}
	filter := LineFilter{TenantID: scope.TenantID(), BranchID: scope.BranchID(), From: from, To: to}
	if scope.Store != nil {
		filter.StoreID = scope.StoreID()
	}
	return filter, nil
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
