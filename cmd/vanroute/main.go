package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vanroute/vanroute/internal/app"
	"github.com/vanroute/vanroute/internal/livestock"
	"github.com/vanroute/vanroute/internal/observability"
	"github.com/vanroute/vanroute/internal/ordersync"
	"github.com/vanroute/vanroute/internal/platform/cache"
	"github.com/vanroute/vanroute/internal/platform/db"
	"github.com/vanroute/vanroute/internal/shared"
	"github.com/vanroute/vanroute/internal/unit"
	"github.com/vanroute/vanroute/internal/vanstock"
	"github.com/vanroute/vanroute/jobs"
)

// liveSnapshotSource adapts the livestock repository to the engine's
// snapshot port.
type liveSnapshotSource struct {
	repo *livestock.Repository
}

func (s liveSnapshotSource) LatestPositiveStock(ctx context.Context, vehicleID int64, before time.Time) ([]vanstock.SnapshotEntry, error) {
	entries, err := s.repo.LatestPositiveStock(ctx, vehicleID, before)
	if err != nil {
		return nil, err
	}
	out := make([]vanstock.SnapshotEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, vanstock.SnapshotEntry{
			ProductID: e.ProductID,
			Qty:       e.Qty,
			Unit:      unit.Normalize(e.Unit),
			AsOf:      e.AsOf,
		})
	}
	return out, nil
}

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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	stockRepo := vanstock.NewRepository(dbpool)
	liveRepo := livestock.NewRepository(dbpool)
	resolver := vanstock.NewCarryForwardResolver(stockRepo, liveSnapshotSource{repo: liveRepo})

	sessions := vanstock.NewSessionRegistry()
	notifier := vanstock.NewNotifier(redisClient, logger)
	syncClient := ordersync.NewClient(cfg.OrderSyncBaseURL, cfg.OrderSyncTimeout)

	stockService := vanstock.NewService(stockRepo, resolver, sessions, syncClient, auditLogger, idempotencyStore, notifier)

	events, stopEvents := notifier.Subscribe(ctx)
	defer stopEvents()
	go vanstock.ListenSessions(ctx, events, sessions, logger)

	metrics := observability.NewMetrics()
	stockHandler := vanstock.NewHandler(logger, stockService, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		VanstockHandler: stockHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
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
