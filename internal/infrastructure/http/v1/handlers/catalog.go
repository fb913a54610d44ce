package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"costengine/internal/domain/catalog"
	"costengine/internal/infrastructure/http/v1/dto"
)

// RateCatalog is the catalog as seen by HTTP clients.
type RateCatalog interface {
	Fetch(ctx context.Context, forceRefresh bool) catalog.Snapshot
}

// CatalogHandler serves the rate catalog.
type CatalogHandler struct {
	*BaseHandler
	catalog RateCatalog
}

// NewCatalogHandler creates a catalog handler.
func NewCatalogHandler(base *BaseHandler, cat RateCatalog) *CatalogHandler {
	return &CatalogHandler{BaseHandler: base, catalog: cat}
}

// List handles GET /catalog/elements?stage=&refresh=.
func (h *CatalogHandler) List(c *gin.Context) {
	var q dto.CatalogQuery
	if !h.BindQuery(c, &q) {
		return
	}
	snap := h.catalog.Fetch(c.Request.Context(), q.Refresh)
	h.OK(c, dto.FromSnapshot(snap, catalog.Stage(q.Stage)))
}

// Refresh handles POST /catalog/refresh.
func (h *CatalogHandler) Refresh(c *gin.Context) {
	snap := h.catalog.Fetch(c.Request.Context(), true)
	h.OK(c, dto.FromSnapshot(snap, ""))
}
