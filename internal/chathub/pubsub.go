package chathub

import (
	"context"
	"encoding/json"

	"helpdesk/backend/internal/models"

	"github.com/rs/zerolog/log"
)

// StartPubSubListener forwards events published by any server process to the local hub.
func (m *ManagerService) StartPubSubListener(ctx context.Context) {
	pubsub := m.Bus.SubscribeEvents(ctx, m.Channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.ViewerEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Error().Err(err).Msg("failed to decode viewer event from redis")
					continue
				}
				select {
				case m.pubSubChannel <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Broadcast pushes ev to viewers of every process. Without a bus, or when the
// publish fails, only local viewers are reached.
func (m *ManagerService) Broadcast(ctx context.Context, ev models.ViewerEvent) {
	if m.Bus != nil {
		err := m.Bus.PublishEvent(ctx, m.Channel, ev)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("event", ev.Name).Msg("redis publish failed, delivering locally")
	}

	select {
	case m.BroadcastCh <- ev:
	case <-m.done:
	default:
		log.Warn().Str("event", ev.Name).Msg("broadcast queue full, event dropped")
	}
}
