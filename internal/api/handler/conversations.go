package handler

import (
	"net/http"
	"strconv"

	"helpdesk/backend/internal/lifecycle"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type changeStatusBody struct {
	OldStatusID uint           `json:"old_status_id" binding:"required"`
	StatusID    uint           `json:"status_id" binding:"required"`
	Reason      string         `json:"reason"`
	Fields      map[string]any `json:"fields"`
}

type completeCycleBody struct {
	FinalStatusID    *uint            `json:"final_status_id"`
	ExpectedStatusID *uint            `json:"expected_status_id"`
	SaleAmount       *decimal.Decimal `json:"sale_amount"`
	QuotationID      *uint            `json:"quotation_id"`
	Notes            string           `json:"notes"`
	Reason           string           `json:"reason"`
}

type quotationBody struct {
	Number string          `json:"number" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func conversationID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation id"})
		return 0, false
	}
	return uint(id), true
}

// ChangeStatus moves a conversation to another status. The client sends the status
// it last saw; a conversation that moved since then answers 409.
func (h *Handler) ChangeStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var body changeStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Lifecycle.ChangeStatus(c.Request.Context(), lifecycle.ChangeStatusRequest{
		ConversationID: id,
		OldStatusID:    body.OldStatusID,
		NewStatusID:    body.StatusID,
		Actor:          actor,
		Reason:         body.Reason,
		Fields:         body.Fields,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CompleteCycle closes the active cycle of a conversation.
func (h *Handler) CompleteCycle(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var body completeCycleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Lifecycle.CompleteCycle(c.Request.Context(), lifecycle.CompleteCycleRequest{
		ConversationID:   id,
		Actor:            actor,
		Reason:           body.Reason,
		FinalStatusID:    body.FinalStatusID,
		SaleAmount:       body.SaleAmount,
		Notes:            body.Notes,
		QuotationID:      body.QuotationID,
		ExpectedStatusID: body.ExpectedStatusID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CreateQuotation records a quotation against the active cycle.
func (h *Handler) CreateQuotation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var body quotationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := h.Lifecycle.CreateQuotation(c.Request.Context(), lifecycle.QuotationRequest{
		ConversationID: id,
		Actor:          actor,
		Number:         body.Number,
		Amount:         body.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// ListCycles reports every completed cycle and the active one with their amounts.
func (h *Handler) ListCycles(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := conversationID(c)
	if !ok {
		return
	}
	report, err := h.Lifecycle.CycleTotals(c.Request.Context(), id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
