package handlers

import (
	"github.com/gin-gonic/gin"

	"costengine/internal/domain/byproduct"
	"costengine/internal/infrastructure/http/v1/dto"
)

// SaleHandler previews and commits byproduct sales.
type SaleHandler struct {
	*BaseHandler
	service *byproduct.SaleService
}

// NewSaleHandler creates a sale handler.
func NewSaleHandler(base *BaseHandler, service *byproduct.SaleService) *SaleHandler {
	return &SaleHandler{BaseHandler: base, service: service}
}

// Preview handles POST /sales/preview. Inventory is not touched.
func (h *SaleHandler) Preview(c *gin.Context) {
	var req dto.SaleRequest
	if !h.BindJSON(c, &req) {
		return
	}
	plan, err := h.service.Preview(c.Request.Context(), req.ToDomain())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, plan)
}

// Commit handles POST /sales/commit with a plan returned by Preview.
func (h *SaleHandler) Commit(c *gin.Context) {
	var plan byproduct.Plan
	if !h.BindJSON(c, &plan) {
		return
	}
	sale, err := h.service.Commit(c.Request.Context(), plan)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, sale)
}

// Allocations handles GET /sales/:id/allocations.
func (h *SaleHandler) Allocations(c *gin.Context) {
	saleID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	allocations, err := h.service.Allocations(c.Request.Context(), saleID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(allocations))
}
