package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gearledger/gearledger/internal/batch"
	"github.com/gearledger/gearledger/internal/catalog"
	"github.com/gearledger/gearledger/internal/expiry"
	"github.com/gearledger/gearledger/internal/identity"
	"github.com/gearledger/gearledger/internal/issuance"
	"github.com/gearledger/gearledger/internal/observability"
	"github.com/gearledger/gearledger/internal/shared"
	"github.com/gearledger/gearledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Identity        identity.Middleware
	CatalogHandler  *catalog.Handler
	IssuanceHandler *issuance.Handler
	BatchHandler    *batch.Handler
	ExpiryHandler   *expiry.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with engine defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.Identity.ResolveActor)

		params.CatalogHandler.MountRoutes(r)
		params.IssuanceHandler.MountRoutes(r)
		params.BatchHandler.MountRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(params.Identity.RequireRole(shared.RoleAdmin))
			r.Route("/expiry", params.ExpiryHandler.MountRoutes)
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
