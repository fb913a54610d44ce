package handlers

import (
	"github.com/gin-gonic/gin"

	"costengine/internal/domain/batchcost"
	"costengine/internal/infrastructure/http/v1/dto"
)

// BatchHandler serves stage previews, batch finalization and batch cost summaries.
type BatchHandler struct {
	*BaseHandler
	service *batchcost.Service
}

// NewBatchHandler creates a batch handler.
func NewBatchHandler(base *BaseHandler, service *batchcost.Service) *BatchHandler {
	return &BatchHandler{BaseHandler: base, service: service}
}

// PreviewStage handles POST /stages/preview. Nothing is persisted.
func (h *BatchHandler) PreviewStage(c *gin.Context) {
	var req dto.StageRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.service.Preview(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, res)
}

// Finalize handles POST /batches.
func (h *BatchHandler) Finalize(c *gin.Context) {
	var req dto.FinalizeRequest
	if !h.BindJSON(c, &req) {
		return
	}
	res, err := h.service.Finalize(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FinalizeResponse{FinalizeResult: res, Warning: dto.Warning(res.Warning)})
}

// Get handles GET /batches/:id.
func (h *BatchHandler) Get(c *gin.Context) {
	batchID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	s, err := h.service.Get(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, s)
}

// Adjustments handles GET /batches/:id/adjustments.
func (h *BatchHandler) Adjustments(c *gin.Context) {
	batchID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.service.Adjustments(c.Request.Context(), batchID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(entries))
}
