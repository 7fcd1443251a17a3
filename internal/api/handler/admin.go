package handler

import (
	"context"
	"errors"
	"net/http"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/similarity"
	"helpdesk/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type autoReplyTestBody struct {
	ConversationID uint   `json:"conversation_id"`
	Text           string `json:"text" binding:"required"`
}

// RunSLACheck runs one breach scan now.
func (h *Handler) RunSLACheck(c *gin.Context) {
	report, err := h.SLA.Scan(c.Request.Context())
	if errors.Is(err, storage.ErrLockHeld) {
		c.JSON(http.StatusConflict, gin.H{"error": "A scan is already running"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("manual sla scan failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "SLA scan failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// TestAutoReply returns what the engine would answer without sending anything.
func (h *Handler) TestAutoReply(c *gin.Context) {
	var body autoReplyTestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision, err := h.AutoReply.Decide(c.Request.Context(), body.ConversationID, body.Text)
	if err != nil {
		log.Error().Err(err).Msg("auto-reply dry run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Auto-reply decision failed"})
		return
	}
	c.JSON(http.StatusOK, decision)
}

// EmbedRules regenerates the similarity vectors of the active rules.
func (h *Handler) EmbedRules(c *gin.Context) {
	stored, err := h.AutoReply.EmbedRules(c.Request.Context())
	if errors.Is(err, similarity.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("rule embedding failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Similarity service failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored})
}

// SimilarityHealth reports whether the scorer answers.
func (h *Handler) SimilarityHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), config.ScorerHealthTimeout)
	defer cancel()
	if err := h.Scorer.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReloadSettings forgets the cached settings, rules and business hours so the next
// message sees the admin's latest edits.
func (h *Handler) ReloadSettings(c *gin.Context) {
	if h.Settings != nil {
		h.Settings.Invalidate()
	}
	c.Status(http.StatusNoContent)
}
