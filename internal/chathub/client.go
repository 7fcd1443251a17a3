package chathub

import "helpdesk/backend/internal/models"

// Client is one connected viewer (an SSE stream or a WebSocket).
// The hub owns the client's send channel once it is registered.
type Client interface {
	// GetID returns the connection id, unique per registration.
	GetID() string
	// GetUserID returns the agent the viewer belongs to.
	GetUserID() string
	// GetConversationID returns the conversation in focus, or 0 for the list view.
	GetConversationID() uint
	// SetConversationID changes focus. Only the hub calls it.
	SetConversationID(uint)

	// GetSendChannel returns the channel the hub pushes events into.
	GetSendChannel() chan<- models.ViewerEvent

	// Run starts the client's pumps, if it has any.
	Run()
	// Close releases the send channel. The hub calls it exactly once.
	Close()
}

// FocusRequest moves a viewer to another conversation.
type FocusRequest struct {
	Client         Client
	ConversationID uint
}
