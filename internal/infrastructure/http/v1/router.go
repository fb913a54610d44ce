// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"costengine/internal/domain/batchcost"
	"costengine/internal/domain/byproduct"
	"costengine/internal/domain/ledger"
	"costengine/internal/domain/override"
	"costengine/internal/domain/purchase"
	"costengine/internal/infrastructure/http/v1/handlers"
	"costengine/internal/infrastructure/http/v1/middleware"
	"costengine/internal/infrastructure/storage/postgres"
	"costengine/pkg/logger"
)

// RouterConfig holds the services exposed over HTTP.
type RouterConfig struct {
	Pool   *postgres.Pool
	Logger *logger.Logger

	Catalog   handlers.RateCatalog
	Batches   *batchcost.Service
	Overrides *override.Service
	Purchases *purchase.Service
	Ledger    *ledger.Service
	Sales     *byproduct.SaleService
}

// NewRouter creates the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Order matters: recovery wraps everything, errors render last.
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	if cfg.Pool != nil {
		health := handlers.NewHealthHandler(cfg.Pool)
		router.GET("/health/live", health.Live)
		router.GET("/health/ready", health.Ready)
	}

	api := router.Group("/api/v1")
	api.Use(middleware.UserContext())

	base := handlers.NewBaseHandler()
	registerCatalogRoutes(api, base, cfg)
	registerBatchRoutes(api, base, cfg)
	registerOverrideRoutes(api, base, cfg)
	registerPurchaseRoutes(api, base, cfg)
	registerSaleRoutes(api, base, cfg)

	return router
}

func registerCatalogRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Catalog == nil {
		return
	}
	h := handlers.NewCatalogHandler(base, cfg.Catalog)
	rg.GET("/catalog/elements", h.List)
	rg.POST("/catalog/refresh", h.Refresh)
}

func registerBatchRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Batches == nil {
		return
	}
	h := handlers.NewBatchHandler(base, cfg.Batches)
	rg.POST("/stages/preview", h.PreviewStage)

	batches := rg.Group("/batches")
	batches.POST("", h.Finalize)
	batches.GET("/:id", h.Get)
	batches.GET("/:id/adjustments", h.Adjustments)
}

func registerOverrideRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Overrides == nil {
		return
	}
	h := handlers.NewOverrideHandler(base, cfg.Overrides)
	overrides := rg.Group("/overrides")
	overrides.POST("/evaluate", h.Evaluate)
	overrides.POST("", h.Submit)
	overrides.GET("/:id", h.History)
}

func registerPurchaseRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Purchases == nil || cfg.Ledger == nil {
		return
	}
	h := handlers.NewPurchaseHandler(base, cfg.Purchases, cfg.Ledger)
	rg.POST("/purchases", h.Record)

	materials := rg.Group("/materials")
	materials.GET("/:id/balance", h.Balance)
	materials.GET("/:id/movements", h.Movements)
}

func registerSaleRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	if cfg.Sales == nil {
		return
	}
	h := handlers.NewSaleHandler(base, cfg.Sales)
	sales := rg.Group("/sales")
	sales.POST("/preview", h.Preview)
	sales.POST("/commit", h.Commit)
	sales.GET("/:id/allocations", h.Allocations)
}
