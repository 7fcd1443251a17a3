package handler

import (
	"net/http"

	"helpdesk/backend/internal/chathub"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The agent console is served from another origin; the token is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the connection and registers it as a viewer. Browsers
// cannot set headers on a WebSocket, so the token may come as ?token=.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}
	actor, err := h.parseActor(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}
	focus, err := focusParam(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	client := &chathub.WebSocketClient{
		ID:             uuid.NewString(),
		UserID:         actor.UserID,
		ConversationID: focus,
		Conn:           conn,
		Hub:            h.Hub,
		Send:           make(chan models.ViewerEvent, config.ViewerBufferSize),
	}
	h.Hub.Register(client)
	client.Run()
}
