package handlers

import (
	"github.com/gin-gonic/gin"

	"costengine/internal/domain/override"
	"costengine/internal/infrastructure/http/v1/dto"
)

// OverrideHandler evaluates and records rate overrides.
type OverrideHandler struct {
	*BaseHandler
	service *override.Service
}

// NewOverrideHandler creates an override handler.
func NewOverrideHandler(base *BaseHandler, service *override.Service) *OverrideHandler {
	return &OverrideHandler{BaseHandler: base, service: service}
}

// Evaluate handles POST /overrides/evaluate.
func (h *OverrideHandler) Evaluate(c *gin.Context) {
	var req dto.EvaluateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ev, err := h.service.Evaluate(c.Request.Context(), req.ElementID, req.ProposedRate)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromEvaluation(ev))
}

// Submit handles POST /overrides.
func (h *OverrideHandler) Submit(c *gin.Context) {
	var req dto.SubmitOverrideRequest
	if !h.BindJSON(c, &req) {
		return
	}
	rec, err := h.service.Submit(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, rec)
}

// History handles GET /overrides/:id?limit=.
func (h *OverrideHandler) History(c *gin.Context) {
	elementID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var q dto.LimitQuery
	if !h.BindQuery(c, &q) {
		return
	}
	records, err := h.service.History(c.Request.Context(), elementID, q.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(records))
}
