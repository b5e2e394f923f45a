package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	"github.com/odyssey-erp/storeledger/internal/audit"
	"github.com/odyssey-erp/storeledger/internal/inventory"
	"github.com/odyssey-erp/storeledger/internal/observability"
	"github.com/odyssey-erp/storeledger/internal/platform/httpx"
	"github.com/odyssey-erp/storeledger/internal/reports"
	"github.com/odyssey-erp/storeledger/internal/retail"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
	"github.com/odyssey-erp/storeledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Scopes            tenancy.ScopeResolver
	AccountingHandler *accounting.Handler
	ReportsHandler    *reports.Handler
	InventoryHandler  *inventory.Handler
	RetailHandler     *retail.Handler
	AuditHandler      *audit.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with storeledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(requestLogger(params.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	// Everything below acts on behalf of one tenant.
	r.Group(func(r chi.Router) {
		if params.Scopes != nil {
			r.Use(tenancy.Middleware(params.Scopes))
		}
		if params.AccountingHandler != nil || params.ReportsHandler != nil {
			r.Route("/accounting", func(r chi.Router) {
				if params.AccountingHandler != nil {
					params.AccountingHandler.MountRoutes(r)
				}
				if params.ReportsHandler != nil {
					params.ReportsHandler.MountRoutes(r)
				}
			})
		}
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.RetailHandler != nil {
			r.Route("/retail", params.RetailHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	return r
}
