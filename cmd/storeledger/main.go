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
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	"github.com/odyssey-erp/storeledger/internal/app"
	"github.com/odyssey-erp/storeledger/internal/audit"
	"github.com/odyssey-erp/storeledger/internal/inventory"
	"github.com/odyssey-erp/storeledger/internal/observability"
	"github.com/odyssey-erp/storeledger/internal/platform/cache"
	"github.com/odyssey-erp/storeledger/internal/platform/db"
	"github.com/odyssey-erp/storeledger/internal/platform/events"
	"github.com/odyssey-erp/storeledger/internal/reports"
	"github.com/odyssey-erp/storeledger/internal/retail"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
	"github.com/odyssey-erp/storeledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		// Reports fall back to uncached reads.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.EventsEnabled() {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		publisher = events.Logged(kafkaPublisher, logger)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	tenancyRepo := tenancy.NewRepository(pool)
	resolver := tenancy.NewResolver(tenancyRepo)

	reportCache := reports.NewCache(redisClient, cfg.ReportCacheTTL)

	accountingRepo := accounting.NewRepository(pool)
	accountingService := accounting.NewService(accountingRepo, auditLogger, metrics)
	reportsService := reports.NewService(accountingService, reportCache, logger)
	accountingService.OnPosted(reportsService.OnPosted)
	accountingService.OnPosted(accounting.PublishPosted(publisher))

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, metrics, publisher)

	retailService := retail.NewService(db.NewTransactor(pool), inventoryService, accountingService, publisher).
		WithIdempotency(shared.NewIdempotencyStore(pool))

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(cfg.RedisOptions().Asynq())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Scopes:            resolver,
		AccountingHandler: accounting.NewHandler(logger, accountingService),
		ReportsHandler:    reports.NewHandler(logger, reportsService),
		InventoryHandler:  inventory.NewHandler(logger, inventoryService, tenancyRepo),
		RetailHandler:     retail.NewHandler(logger, retailService, tenancyRepo),
		AuditHandler:      audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
		JobHandler:        jobHandler,
		Metrics:           metrics,
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
