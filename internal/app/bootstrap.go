package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/marquee-ops/inventory-engine/internal/adjustment"
	"github.com/marquee-ops/inventory-engine/internal/bom"
	"github.com/marquee-ops/inventory-engine/internal/deduction"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
	"github.com/marquee-ops/inventory-engine/internal/observability"
	"github.com/marquee-ops/inventory-engine/internal/platform/db"
	"github.com/marquee-ops/inventory-engine/internal/reservation"
	"github.com/marquee-ops/inventory-engine/internal/shared"
	"github.com/marquee-ops/inventory-engine/internal/stock"
	"github.com/marquee-ops/inventory-engine/internal/stocktaking"
	"github.com/marquee-ops/inventory-engine/internal/transfer"
)

// Engine bundles the wired component graph shared by the HTTP server and the
// worker so both assemble storage the same way.
type Engine struct {
	Pool *pgxpool.Pool

	Store    stock.Store
	Log      ledger.Log
	Recorder *ledger.Recorder

	Catalog  bom.Catalog
	Expander *bom.Expander

	Reservations *reservation.Manager
	Deduction    *deduction.Coordinator
	Adjustments  *adjustment.Workflow
	Transfers    *transfer.Coordinator
	Stocktaking  *stocktaking.Engine
}

// BuildEngine assembles the component graph for the configured storage
// driver. The metrics port may be nil.
func BuildEngine(ctx context.Context, cfg *Config, logger *slog.Logger, redisClient *redis.Client, metrics *observability.Metrics) (*Engine, error) {
	eng := &Engine{}

	policy := stock.Policy(stock.DenyNegative)
	if len(cfg.AllowNegativeSKUs) > 0 {
		policy = stock.AllowList(cfg.AllowNegativeSKUs)
	}

	var approvals *shared.ApprovalRecorder
	var reservationRepo reservation.Repository
	var adjustmentRepo adjustment.Repository
	var transferRepo transfer.Repository
	var stocktakingRepo stocktaking.Repository

	if cfg.StorageDriver == "postgres" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		eng.Pool = pool
		eng.Store = stock.NewPgStore(pool, policy)
		eng.Log = ledger.NewPgLog(pool)
		eng.Catalog = bom.NewPgCatalog(pool)
		approvals = shared.NewApprovalRecorder(pool, logger)
		reservationRepo = reservation.NewPgRepository(pool)
		adjustmentRepo = adjustment.NewPgRepository(pool)
		transferRepo = transfer.NewPgRepository(pool)
		stocktakingRepo = stocktaking.NewPgRepository(pool)
	} else {
		eng.Store = stock.NewMemoryStore(policy)
		eng.Log = ledger.NewMemoryLog()
		eng.Catalog = bom.NewMemoryCatalog()
		// approvals stays nil: history recording is a no-op without a database.
		reservationRepo = reservation.NewMemoryRepository()
		adjustmentRepo = adjustment.NewMemoryRepository()
		transferRepo = transfer.NewMemoryRepository()
		stocktakingRepo = stocktaking.NewMemoryRepository()
	}

	var metricsPort ledger.MetricsPort
	if metrics != nil {
		metricsPort = metrics
	}
	eng.Recorder = ledger.NewRecorder(eng.Store, eng.Log, logger, metricsPort)
	eng.Expander = bom.NewExpander(eng.Catalog)

	idem := shared.NewIdempotencyStore(redisClient, cfg.IdempotencyRetention)

	eng.Reservations = reservation.NewManager(reservationRepo, eng.Recorder, idem,
		reservation.ManagerConfig{TTL: cfg.ReservationTTL}, logger)
	if metrics != nil {
		eng.Reservations.SetSweepObserver(metrics.SweepReleased)
	}
	eng.Deduction = deduction.NewCoordinator(eng.Expander, eng.Recorder, idem)
	eng.Adjustments = adjustment.NewWorkflow(adjustmentRepo, eng.Recorder, approvals, logger)
	eng.Transfers = transfer.NewCoordinator(transferRepo, eng.Recorder, eng.Log, logger)

	routing := stocktaking.RouteRequireApproval
	if cfg.StocktakingAutoApprove {
		routing = stocktaking.RouteAutoApprove
	}
	eng.Stocktaking = stocktaking.NewEngine(stocktakingRepo, eng.Store, eng.Adjustments, routing, logger)

	return eng, nil
}

// Close releases pooled resources.
func (e *Engine) Close() {
	if e != nil && e.Pool != nil {
		e.Pool.Close()
	}
}
