// Package main is the entry point for the costing engine API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"costengine/internal/config"
	"costengine/internal/domain/batchcost"
	"costengine/internal/domain/byproduct"
	"costengine/internal/domain/catalog"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/override"
	"costengine/internal/domain/purchase"
	"costengine/internal/domain/stagecost"
	"costengine/internal/infrastructure/cache"
	v1 "costengine/internal/infrastructure/http/v1"
	"costengine/internal/infrastructure/lock"
	"costengine/internal/infrastructure/storage/postgres"
	"costengine/internal/infrastructure/storage/postgres/catalog_repo"
	"costengine/internal/infrastructure/storage/postgres/document_repo"
	"costengine/internal/infrastructure/storage/postgres/register_repo"
	"costengine/pkg/logger"
)

// payloadThreshold is the encoded size above which stored payloads are compressed.
const payloadThreshold = 4 << 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	ctx := logger.WithLogger(context.Background(), log)
	log.Info("starting costengine server")

	// --- Store ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DBMaxConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	pool.LogStats(ctx)

	txm := postgres.NewTxManager(pool)
	codec, err := postgres.NewPayloadCodec(payloadThreshold)
	if err != nil {
		log.Fatalw("failed to create payload codec", "error", err)
	}

	elementRepo := catalog_repo.NewCostElementRepo(txm)
	overrideRepo := catalog_repo.NewOverrideRepo(txm)
	ledgerRepo := register_repo.NewMaterialLedgerRepo(txm)
	lotRepo := register_repo.NewLotRepo(txm)
	summaryRepo := document_repo.NewBatchSummaryRepo(txm, codec)
	invoiceRepo := document_repo.NewInvoiceRepo(txm, codec)

	// --- Catalog ---
	rateCatalog := catalog.New(elementRepo, catalog.WithTTL(cfg.CatalogTTL))
	listener := cache.NewCatalogListener(pool.Pool, rateCatalog)
	listener.Start(ctx)
	defer listener.Stop()

	// --- Lot locks ---
	var locker byproduct.Locker = byproduct.NoopLocker{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		log.Infow("distributed lot locks enabled", "redis", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	// --- Services ---
	threshold := cfg.DeviationThreshold()
	auditor := override.NewAuditor(&threshold)
	calculator := stagecost.NewCalculator(auditor, cfg.BagSizeQuantity())

	ledgerService := ledger.NewService(ledgerRepo, txm)
	purchaseService := purchase.NewService(ledgerService, invoiceRepo, txm)
	overrideService := override.NewService(auditor, overrideRepo, rateCatalog, elementRepo, txm)
	batchService := batchcost.NewService(summaryRepo, rateCatalog, calculator, ledgerService, lotRepo, overrideRepo, txm)
	saleService := byproduct.NewSaleService(lotRepo, locker, batchService, txm)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:      pool,
		Logger:    log,
		Catalog:   rateCatalog,
		Batches:   batchService,
		Overrides: overrideService,
		Purchases: purchaseService,
		Ledger:    ledgerService,
		Sales:     saleService,
	})

	server := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.AppPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}
	log.Info("server stopped")
}
