package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"helpdesk/backend/internal/chathub"
	"helpdesk/backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// focusParam reads the optional conversation_id query parameter. 0 is the list view.
func focusParam(c *gin.Context) (uint, error) {
	raw := c.Query("conversation_id")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation_id %q", raw)
	}
	return uint(id), nil
}

// StreamEvents serves viewer events as Server-Sent Events. Each event is named after
// the update kind; a comment line keeps idle proxies from closing the stream.
func (h *Handler) StreamEvents(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	focus, err := focusParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client := chathub.NewSSEClient(uuid.NewString(), actor.UserID, focus, config.ViewerBufferSize)
	h.Hub.Register(client)
	h.Metrics.ViewerConnected(1)
	defer func() {
		h.Hub.Unregister(client)
		h.Metrics.ViewerConnected(-1)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(config.SSEHeartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-client.Events():
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev)
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
}
