package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"helpdesk/backend/internal/channel"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// VerifyWebhook answers the channel's subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.Metrics.Webhook("verify_rejected")
		c.String(http.StatusForbidden, "Forbidden")
		return
	}
	h.Metrics.Webhook("verified")
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// ReceiveWebhook checks the signature of the raw body, normalizes the payload and
// hands the events to ingestion. Once the payload is accepted the channel always
// gets a 200 so it does not redeliver on internal failures.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.Metrics.Webhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	if err := channel.VerifySignature(h.appSecret, c.GetHeader(channel.SignatureHeader), body); err != nil {
		log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("webhook signature rejected")
		h.Metrics.Webhook("unauthorized")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var payload channel.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.Metrics.Webhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed payload"})
		return
	}

	events := channel.Normalize(&payload)
	// The channel may drop the connection once it has its 200; ingestion must not
	// be cut short by that.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.Ingest.Process(ctx, events); err != nil {
		log.Error().Err(err).Int("events", len(events)).Msg("webhook ingestion had failures")
		h.Metrics.Webhook("ingest_error")
	} else {
		h.Metrics.Webhook("ok")
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
