package chathub

import "helpdesk/backend/internal/models"

// SSEClient is a viewer connected over a Server-Sent Events stream. The HTTP
// handler drains Events and writes them to the response.
type SSEClient struct {
	ID             string
	UserID         string
	ConversationID uint
	Send           chan models.ViewerEvent
}

// NewSSEClient creates a client with a buffered event channel.
func NewSSEClient(id, userID string, conversationID uint, buffer int) *SSEClient {
	return &SSEClient{
		ID:             id,
		UserID:         userID,
		ConversationID: conversationID,
		Send:           make(chan models.ViewerEvent, buffer),
	}
}

func (c *SSEClient) GetID() string                               { return c.ID }
func (c *SSEClient) GetUserID() string                           { return c.UserID }
func (c *SSEClient) GetConversationID() uint                     { return c.ConversationID }
func (c *SSEClient) SetConversationID(id uint)                   { c.ConversationID = id }
func (c *SSEClient) GetSendChannel() chan<- models.ViewerEvent { return c.Send }

// Events is the stream the handler reads from. It is closed when the hub drops the client.
func (c *SSEClient) Events() <-chan models.ViewerEvent { return c.Send }

// Run is a no-op; the request goroutine does the writing.
func (c *SSEClient) Run() {}

// Close closes the event channel.
func (c *SSEClient) Close() {
	close(c.Send)
}
