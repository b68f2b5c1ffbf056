package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldstock/fieldstock/internal/app"
	"github.com/fieldstock/fieldstock/internal/installers"
	"github.com/fieldstock/fieldstock/internal/inventory"
	"github.com/fieldstock/fieldstock/internal/jobstock"
	"github.com/fieldstock/fieldstock/internal/masterdata"
	"github.com/fieldstock/fieldstock/internal/observability"
	"github.com/fieldstock/fieldstock/internal/orderrequests"
	"github.com/fieldstock/fieldstock/internal/platform/cache"
	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/purchasing"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/transfers"
	"github.com/fieldstock/fieldstock/jobs"
)

const service = "fieldstock-api"

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

	logger := app.NewLogger(cfg, service)

	pool, err := db.New(ctx, cfg.Database(service))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	ledgerMetrics := metrics.Ledger()
	// Failed rollbacks surface as *db.RollbackError and are counted by the ledger observer.
	runner := db.NewRunner(pool, logger, nil)

	observers := []inventory.Observer{ledgerMetrics}
	var inventoryCache *inventory.Cache
	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, inventory cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		inventoryCache = inventory.NewCache(redisClient, cfg.InventoryCacheTTL, logger)
		observers = append(observers, inventoryCache)
	}
	observer := inventory.Observers(observers...)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	masterdataService := masterdata.NewService(masterdata.NewRepository(pool), logger)

	inventoryService := inventory.NewService(inventory.NewRepository(pool, runner), inventoryCache, auditLogger, observer, logger)
	purchasingService := purchasing.NewService(purchasing.NewRepository(pool, runner), auditLogger, idempotencyStore, observer, logger)
	transfersService := transfers.NewService(transfers.NewRepository(pool, runner), masterdataService, auditLogger, idempotencyStore, observer, logger)
	jobstockService := jobstock.NewService(jobstock.NewRepository(pool, runner), masterdataService, auditLogger, observer, logger, jobstock.Options{
		UnassignedInstallerID: cfg.UnassignedInstaller(),
		ReturnPolicy:          cfg.ReturnPolicy(),
	})
	installersService := installers.NewService(installers.NewRepository(pool))
	orderRequestsService := orderrequests.NewService(orderrequests.NewRepository(pool), inventoryService, masterdataService, cfg.SystemUser(), logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Metrics:              metrics,
		InventoryHandler:     inventory.NewHandler(logger, inventoryService),
		PurchasingHandler:    purchasing.NewHandler(logger, purchasingService),
		TransfersHandler:     transfers.NewHandler(logger, transfersService),
		JobStockHandler:      jobstock.NewHandler(logger, jobstockService),
		InstallersHandler:    installers.NewHandler(logger, installersService),
		OrderRequestsHandler: orderrequests.NewHandler(logger, orderRequestsService),
		MasterDataHandler:    masterdata.NewHandler(logger, masterdataService),
		QueueHandler:         jobs.NewHandler(inspector, queueClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
