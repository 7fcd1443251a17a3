package chathub

import (
	"context"

	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// ManagerService is the registry of connected viewers. All registry state is
// owned by the Run goroutine; other goroutines talk to it over channels.
type ManagerService struct {
	Clients map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	FocusCh      chan FocusRequest
	BroadcastCh  chan models.ViewerEvent

	Bus     storage.EventBus
	Channel string

	pubSubChannel chan models.ViewerEvent
	done          chan struct{}
}

// NewManagerService creates a hub. bus may be nil for a single-process deployment.
func NewManagerService(bus storage.EventBus, channel string) *ManagerService {
	return &ManagerService{
		Clients:       make(map[string]Client),
		RegisterCh:    make(chan Client),
		UnregisterCh:  make(chan Client),
		FocusCh:       make(chan FocusRequest),
		BroadcastCh:   make(chan models.ViewerEvent, 256),
		Bus:           bus,
		Channel:       channel,
		pubSubChannel: make(chan models.ViewerEvent, 256),
		done:          make(chan struct{}),
	}
}

// Run processes registrations and deliveries until ctx is cancelled, then closes
// every remaining client.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)
	if m.Bus != nil {
		m.StartPubSubListener(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for id, client := range m.Clients {
				delete(m.Clients, id)
				client.Close()
			}
			return

		case client := <-m.RegisterCh:
			m.Clients[client.GetID()] = client
			log.Debug().Str("client_id", client.GetID()).Str("user_id", client.GetUserID()).
				Uint("conversation_id", client.GetConversationID()).Msg("viewer registered")

		case client := <-m.UnregisterCh:
			m.remove(client.GetID())

		case req := <-m.FocusCh:
			if _, ok := m.Clients[req.Client.GetID()]; ok {
				req.Client.SetConversationID(req.ConversationID)
			}

		case ev := <-m.BroadcastCh:
			m.deliver(ev)

		case ev := <-m.pubSubChannel:
			m.deliver(ev)
		}
	}
}

// Register adds a client. It is a no-op after the hub stopped.
func (m *ManagerService) Register(c Client) {
	select {
	case m.RegisterCh <- c:
	case <-m.done:
		c.Close()
	}
}

// Unregister removes a client. It is a no-op after the hub stopped.
func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

// Focus changes the conversation a client watches.
func (m *ManagerService) Focus(c Client, conversationID uint) {
	select {
	case m.FocusCh <- FocusRequest{Client: c, ConversationID: conversationID}:
	case <-m.done:
	}
}

func (m *ManagerService) remove(id string) {
	client, ok := m.Clients[id]
	if !ok {
		return
	}
	delete(m.Clients, id)
	client.Close()
	log.Debug().Str("client_id", id).Msg("viewer unregistered")
}

// wants reports whether a viewer should receive ev. Conversation events go to
// viewers of that conversation; list events go to viewers without focus.
func wants(c Client, ev models.ViewerEvent) bool {
	focus := c.GetConversationID()
	if ev.Name == models.EventConversations {
		return focus == 0 || focus == ev.ConversationID
	}
	if ev.ConversationID == 0 {
		return true
	}
	return focus == ev.ConversationID
}

func (m *ManagerService) deliver(ev models.ViewerEvent) {
	for id, client := range m.Clients {
		if !wants(client, ev) {
			continue
		}
		select {
		case client.GetSendChannel() <- ev:
		default:
			// Slow viewer: drop it rather than stall everyone else.
			log.Warn().Str("client_id", id).Msg("viewer buffer full, disconnecting")
			m.remove(id)
		}
	}
}
