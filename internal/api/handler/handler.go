// Package handler is the HTTP surface of the helpdesk: the channel webhook, agent
// actions on conversations, viewer streams and admin triggers.
package handler

import (
	"context"
	"errors"
	"net/http"

	"helpdesk/backend/internal/autoreply"
	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/chathub"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/lifecycle"
	"helpdesk/backend/internal/metrics"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/sla"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Ingestor consumes normalized channel events.
type Ingestor interface {
	Process(ctx context.Context, events []channel.Event) error
}

// Lifecycle is the conversation state machine.
type Lifecycle interface {
	ChangeStatus(ctx context.Context, req lifecycle.ChangeStatusRequest) (*lifecycle.ChangeStatusResult, error)
	CompleteCycle(ctx context.Context, req lifecycle.CompleteCycleRequest) (*lifecycle.CycleResult, error)
	CreateQuotation(ctx context.Context, req lifecycle.QuotationRequest) (*models.Quotation, error)
	CycleTotals(ctx context.Context, conversationID uint, actor lifecycle.Actor) (*lifecycle.CycleReport, error)
}

// AutoReplies exposes the matching engine to admins.
type AutoReplies interface {
	Decide(ctx context.Context, conversationID uint, text string) (*autoreply.Decision, error)
	EmbedRules(ctx context.Context) (int, error)
}

// Scanner runs an SLA scan on demand.
type Scanner interface {
	Scan(ctx context.Context) (*sla.Report, error)
}

// HealthChecker reports whether the similarity scorer answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// SettingsCache drops cached auto-reply settings after an admin edits them.
type SettingsCache interface {
	Invalidate()
}

// Services groups the components the handlers call into.
type Services struct {
	Ingest    Ingestor
	Lifecycle Lifecycle
	AutoReply AutoReplies
	SLA       Scanner
	Scorer    HealthChecker
	Settings  SettingsCache
	Metrics   *metrics.Metrics
}

// Handler holds the hub and the services behind the routes.
type Handler struct {
	Hub *chathub.ManagerService
	Services

	jwtSecret   []byte
	verifyToken string
	appSecret   string
}

func NewHandler(hub *chathub.ManagerService, cfg *config.Config, svc Services) *Handler {
	return &Handler{
		Hub:         hub,
		Services:    svc,
		jwtSecret:   []byte(cfg.JWTSecret),
		verifyToken: cfg.WebhookVerifyToken,
		appSecret:   cfg.WebhookAppSecret,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r *gin.Engine) {
	r.GET("/health", h.Health)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	r.GET("/webhook", h.VerifyWebhook)
	r.POST("/webhook", h.ReceiveWebhook)

	r.GET("/ws", h.ServeWebSocket)

	api := r.Group("/api", h.RequireAuth())
	api.GET("/events", h.StreamEvents)
	api.PATCH("/conversations/:id/status", h.ChangeStatus)
	api.POST("/conversations/:id/status", h.ChangeStatus)
	api.POST("/conversations/:id/complete-cycle", h.CompleteCycle)
	api.POST("/conversations/:id/quotations", h.CreateQuotation)
	api.GET("/conversations/:id/cycles", h.ListCycles)

	admin := api.Group("/admin", h.RequireAdmin())
	admin.POST("/sla-check", h.RunSLACheck)
	admin.POST("/auto-reply/test", h.TestAutoReply)
	admin.POST("/rules/embeddings", h.EmbedRules)
	admin.GET("/similarity/health", h.SimilarityHealth)
	admin.POST("/settings/reload", h.ReloadSettings)
}

// Health is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps lifecycle errors to HTTP statuses. Anything unexpected is a 500
// and its detail stays in the log.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lifecycle.ErrStatusConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
