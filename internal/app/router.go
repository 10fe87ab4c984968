package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marquee-ops/inventory-engine/internal/adjustment"
	"github.com/marquee-ops/inventory-engine/internal/bom"
	"github.com/marquee-ops/inventory-engine/internal/deduction"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/observability"
	"github.com/marquee-ops/inventory-engine/internal/reservation"
	"github.com/marquee-ops/inventory-engine/internal/stock"
	"github.com/marquee-ops/inventory-engine/internal/stocktaking"
	"github.com/marquee-ops/inventory-engine/internal/transfer"
	"github.com/marquee-ops/inventory-engine/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	StockHandler       *stock.Handler
	LedgerHandler      *ledger.Handler
	BOMHandler         *bom.Handler
	ReservationHandler *reservation.Handler
	DeductionHandler   *deduction.Handler
	AdjustmentHandler  *adjustment.Handler
	TransferHandler    *transfer.Handler
	StocktakingHandler *stocktaking.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with engine defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		params.StockHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
		params.BOMHandler.MountRoutes(r)
		params.ReservationHandler.MountRoutes(r)
		params.DeductionHandler.MountRoutes(r)
		params.AdjustmentHandler.MountRoutes(r)
		params.TransferHandler.MountRoutes(r)
		params.StocktakingHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
