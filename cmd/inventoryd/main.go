package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/marquee-ops/inventory-engine/cmd/inventoryd/cli"
	"github.com/marquee-ops/inventory-engine/internal/adjustment"
	"github.com/marquee-ops/inventory-engine/internal/app"
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

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(ctx, cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	engine, err := app.BuildEngine(ctx, cfg, logger, redisClient, metrics)
	if err != nil {
		logger.Error("build engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer engine.Close()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		StockHandler:       stock.NewHandler(logger, engine.Store),
		LedgerHandler:      ledger.NewHandler(logger, engine.Log, engine.Recorder),
		BOMHandler:         bom.NewHandler(logger, engine.Catalog, engine.Expander),
		ReservationHandler: reservation.NewHandler(logger, engine.Reservations),
		DeductionHandler:   deduction.NewHandler(logger, engine.Deduction),
		AdjustmentHandler:  adjustment.NewHandler(logger, engine.Adjustments),
		TransferHandler:    transfer.NewHandler(logger, engine.Transfers),
		StocktakingHandler: stocktaking.NewHandler(logger, engine.Stocktaking),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = jobsCLI.Close() }()

	if len(args) == 0 {
		return fmt.Errorf("usage: inventoryd jobs <trigger TASK|stats>")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: inventoryd jobs trigger <%s|%s>", jobs.TaskReservationSweep, jobs.TaskLedgerIntegrity)
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", args[1], info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("jobs: unknown subcommand %s", args[0])
	}
}
