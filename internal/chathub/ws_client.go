package chathub

import (
	"encoding/json"
	"time"

	"helpdesk/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketClient is a viewer connected over a WebSocket.
type WebSocketClient struct {
	ID             string
	UserID         string
	ConversationID uint
	Conn           *websocket.Conn
	Hub            *ManagerService
	Send           chan models.ViewerEvent
}

func (c *WebSocketClient) GetID() string                               { return c.ID }
func (c *WebSocketClient) GetUserID() string                           { return c.UserID }
func (c *WebSocketClient) GetConversationID() uint                     { return c.ConversationID }
func (c *WebSocketClient) SetConversationID(id uint)                   { c.ConversationID = id }
func (c *WebSocketClient) GetSendChannel() chan<- models.ViewerEvent { return c.Send }

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which stops writePump.
func (c *WebSocketClient) Close() {
	close(c.Send)
}

// watchCommand is the only frame a viewer sends: {"watch": <conversation id>}.
type watchCommand struct {
	Watch *uint `json:"watch"`
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.ID).Msg("websocket read failed")
			}
			break
		}

		var cmd watchCommand
		if err := json.Unmarshal(message, &cmd); err != nil || cmd.Watch == nil {
			log.Debug().Str("client_id", c.ID).Msg("ignoring malformed viewer frame")
			continue
		}
		c.Hub.Focus(c, *cmd.Watch)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
