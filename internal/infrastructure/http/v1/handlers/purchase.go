package handlers

import (
	"github.com/gin-gonic/gin"

	"costengine/internal/domain/ledger"
	"costengine/internal/domain/purchase"
	"costengine/internal/infrastructure/http/v1/dto"
)

// PurchaseHandler records supplier invoices and exposes the material ledger.
type PurchaseHandler struct {
	*BaseHandler
	purchases *purchase.Service
	ledger    *ledger.Service
}

// NewPurchaseHandler creates a purchase handler.
func NewPurchaseHandler(base *BaseHandler, purchases *purchase.Service, l *ledger.Service) *PurchaseHandler {
	return &PurchaseHandler{BaseHandler: base, purchases: purchases, ledger: l}
}

// Record handles POST /purchases.
func (h *PurchaseHandler) Record(c *gin.Context) {
	var req dto.InvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv, err := req.ToInvoice()
	if err != nil {
		h.Error(c, err)
		return
	}
	res, err := h.purchases.Record(c.Request.Context(), inv)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, res)
}

// Balance handles GET /materials/:id/balance.
func (h *PurchaseHandler) Balance(c *gin.Context) {
	materialID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	bal, err := h.ledger.Balance(c.Request.Context(), materialID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, bal)
}

// Movements handles GET /materials/:id/movements?limit=.
func (h *PurchaseHandler) Movements(c *gin.Context) {
	materialID, ok := h.PathID(c, "id")
	if !ok {
		return
	}
	var q dto.LimitQuery
	if !h.BindQuery(c, &q) {
		return
	}
	movements, err := h.ledger.Movements(c.Request.Context(), materialID, q.Limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(movements))
}
