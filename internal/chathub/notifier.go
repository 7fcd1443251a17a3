package chathub

import (
	"context"

	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// Dispatcher records in-app notifications and pushes real-time updates to viewers.
type Dispatcher struct {
	Store storage.NotificationStore
	Hub   *ManagerService
}

// NewDispatcher wires a dispatcher to its store and hub.
func NewDispatcher(store storage.NotificationStore, hub *ManagerService) *Dispatcher {
	return &Dispatcher{Store: store, Hub: hub}
}

// Publish pushes a named event for a conversation (0 for list-level events).
// Encoding failures are logged; viewers simply miss the update.
func (d *Dispatcher) Publish(ctx context.Context, name string, conversationID uint, payload any) {
	if d == nil || d.Hub == nil {
		return
	}
	ev, err := models.NewViewerEvent(name, conversationID, payload)
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to encode viewer event")
		return
	}
	d.Hub.Broadcast(ctx, ev)
}

// NotifyUsers stores one notification per user and announces it on the list stream.
// A failure for one user does not stop the others.
func (d *Dispatcher) NotifyUsers(ctx context.Context, userIDs []string, conversationID uint, messageID *uint, kind string) {
	if d == nil {
		return
	}
	for _, userID := range userIDs {
		n := &models.AgentNotification{
			UserID:         userID,
			ConversationID: conversationID,
			MessageID:      messageID,
			Kind:           kind,
		}
		if err := d.Store.CreateNotification(ctx, n); err != nil {
			log.Error().Err(err).Str("user_id", userID).Uint("conversation_id", conversationID).
				Str("kind", kind).Msg("failed to store notification")
			continue
		}
		d.Publish(ctx, models.EventConversations, conversationID, n)
	}
}
