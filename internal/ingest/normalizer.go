// Package ingest applies normalized channel events to the store: conversations are
// resolved or created, messages upserted on their external id, delivery reports and
// reactions routed to existing messages, and side effects fanned out.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/metrics"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// Lifecycle is the part of the state machine ingestion depends on.
type Lifecycle interface {
	InitialStatus(ctx context.Context) (*models.ConversationStatus, error)
	CompleteIfFinal(ctx context.Context, conv *models.Conversation, triggeredAt time.Time) (bool, error)
}

// Notifier pushes viewer events and records in-app notifications.
type Notifier interface {
	Publish(ctx context.Context, name string, conversationID uint, payload any)
	NotifyUsers(ctx context.Context, userIDs []string, conversationID uint, messageID *uint, kind string)
}

// AutoReplyQueue accepts inbound texts for asynchronous matching. Enqueue never
// blocks and reports false when the task was dropped.
type AutoReplyQueue interface {
	Enqueue(conversationID uint, text string) bool
}

// Normalizer is the message ingestion entry point.
type Normalizer struct {
	Store     storage.ConversationStore
	Lifecycle Lifecycle
	Notifier  Notifier
	AutoReply AutoReplyQueue
	Metrics   *metrics.Metrics

	now func() time.Time
}

// NewNormalizer wires the ingestion path. notifier and queue may be nil.
func NewNormalizer(store storage.ConversationStore, lc Lifecycle, notifier Notifier, queue AutoReplyQueue, m *metrics.Metrics) *Normalizer {
	return &Normalizer{Store: store, Lifecycle: lc, Notifier: notifier, AutoReply: queue, Metrics: m, now: time.Now}
}

// SetClock overrides the time source.
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// Process applies every event of one delivery. A failing event does not stop the
// others; the failures are returned joined.
func (n *Normalizer) Process(ctx context.Context, events []channel.Event) error {
	var errs []error
	for _, ev := range events {
		var err error
		switch e := ev.(type) {
		case channel.MessageEvent:
			_, _, err = n.HandleMessage(ctx, e)
		case channel.StatusEvent:
			err = n.HandleStatus(ctx, e)
		case channel.ReactionEvent:
			err = n.HandleReaction(ctx, e)
		case channel.CallEvent:
			err = n.HandleCall(ctx, e)
		default:
			log.Warn().Str("type", fmt.Sprintf("%T", ev)).Msg("unhandled channel event")
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleMessage stores one inbound message. Redeliveries update the stored row and
// trigger no side effects beyond viewer refreshes. It reports whether the row is new.
func (n *Normalizer) HandleMessage(ctx context.Context, ev channel.MessageEvent) (*models.Message, bool, error) {
	conv, created, err := n.resolveConversation(ctx, ev.ExternalUserID, ev.ProfileName)
	if err != nil {
		n.Metrics.Ingested("message", "error")
		return nil, false, err
	}

	msg := ev.Message
	msg.ConversationID = conv.ID

	// A message newer than anything seen on a closed conversation starts a new cycle.
	if !created && msg.IsInbound() && (conv.LastMessageAt == nil || msg.Timestamp.After(*conv.LastMessageAt)) {
		if _, err := n.Lifecycle.CompleteIfFinal(ctx, conv, msg.Timestamp); err != nil {
			log.Error().Err(err).Uint("conversation_id", conv.ID).Msg("automatic cycle completion failed")
		}
	}

	inserted, err := n.Store.UpsertMessage(ctx, &msg)
	if err != nil {
		n.Metrics.Ingested("message", "error")
		return nil, false, fmt.Errorf("upsert message: %w", err)
	}
	if err := n.Store.TouchLastMessage(ctx, conv.ID, Preview(msg.Body), msg.Timestamp); err != nil {
		log.Error().Err(err).Uint("conversation_id", conv.ID).Msg("failed to update last message")
	}

	n.publish(ctx, models.EventMessages, conv.ID, &msg)
	n.publish(ctx, models.EventConversations, conv.ID, map[string]any{"conversation_id": conv.ID})

	if !inserted {
		n.Metrics.Ingested("message", "redelivered")
		log.Debug().Uint("conversation_id", conv.ID).Uint("message_id", msg.ID).Msg("message redelivered")
		return &msg, false, nil
	}
	n.Metrics.Ingested("message", "inserted")

	if conv.AssignedTo != nil && n.Notifier != nil {
		id := msg.ID
		n.Notifier.NotifyUsers(ctx, []string{*conv.AssignedTo}, conv.ID, &id, models.NotificationNewMessage)
	}

	if msg.IsInbound() && msg.Type == models.MessageText && msg.Body != "" && n.AutoReply != nil {
		if !n.AutoReply.Enqueue(conv.ID, msg.Body) {
			log.Warn().Uint("conversation_id", conv.ID).Uint("message_id", msg.ID).Msg("auto-reply queue full, message skipped")
		}
	}
	return &msg, true, nil
}

func (n *Normalizer) resolveConversation(ctx context.Context, externalUserID, profileName string) (*models.Conversation, bool, error) {
	conv, err := n.Store.ConversationByExternalUser(ctx, externalUserID)
	if err != nil {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}
	if conv != nil {
		if profileName != "" && profileName != conv.DisplayName {
			if err := n.Store.UpdateDisplayName(ctx, conv.ID, profileName); err != nil {
				log.Error().Err(err).Uint("conversation_id", conv.ID).Msg("failed to update display name")
			} else {
				conv.DisplayName = profileName
			}
		}
		return conv, false, nil
	}

	status, err := n.Lifecycle.InitialStatus(ctx)
	if err != nil {
		return nil, false, err
	}
	conv, created, err := n.Store.EnsureConversation(ctx, &models.Conversation{
		ExternalUserID:        externalUserID,
		DisplayName:           profileName,
		StatusID:              status.ID,
		CurrentCycleStartedAt: n.now(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	if !created {
		return conv, false, nil
	}

	if err := n.Store.AppendStatusHistory(ctx, &models.ConversationStatusHistory{
		ConversationID: conv.ID,
		NewStatusID:    status.ID,
		CreatedAt:      conv.CurrentCycleStartedAt,
	}); err != nil {
		log.Error().Err(err).Uint("conversation_id", conv.ID).Msg("failed to record initial status")
	}
	log.Info().Uint("conversation_id", conv.ID).Str("external_user_id", externalUserID).
		Uint("status_id", status.ID).Msg("conversation created")
	return conv, true, nil
}

// deliveryPredecessors lists, per reported status, the stored statuses it may replace.
var deliveryPredecessors = map[string][]string{
	models.DeliverySent:      {models.DeliverySent},
	models.DeliveryDelivered: {models.DeliverySent},
	models.DeliveryRead:      {models.DeliverySent, models.DeliveryDelivered},
	models.DeliveryFailed:    {models.DeliverySent, models.DeliveryDelivered},
}

// HandleStatus applies a delivery report. Reports for unknown messages, unknown
// statuses and out-of-order regressions are dropped silently.
func (n *Normalizer) HandleStatus(ctx context.Context, ev channel.StatusEvent) error {
	from, ok := deliveryPredecessors[ev.Status]
	if !ok || ev.ExternalID == "" {
		n.Metrics.Ingested("status", "ignored")
		return nil
	}

	msg, err := n.Store.UpdateDeliveryStatus(ctx, storage.DeliveryUpdate{
		ExternalID: ev.ExternalID,
		Status:     ev.Status,
		At:         ev.At,
		From:       from,
		ErrorCode:  ev.ErrorCode,
		ErrorTitle: ev.ErrorTitle,
	})
	if err != nil {
		n.Metrics.Ingested("status", "error")
		return fmt.Errorf("update delivery status: %w", err)
	}
	if msg == nil {
		n.Metrics.Ingested("status", "unknown")
		log.Debug().Str("external_id", ev.ExternalID).Str("status", ev.Status).Msg("status for unknown or newer message ignored")
		return nil
	}

	n.Metrics.Ingested("status", "applied")
	if ev.Status == models.DeliveryFailed {
		log.Warn().Uint("conversation_id", msg.ConversationID).Uint("message_id", msg.ID).
			Str("error", ev.ErrorTitle).Msg("outbound message failed")
	}
	n.publish(ctx, models.EventMessages, msg.ConversationID, msg)
	return nil
}

// HandleReaction sets or clears the customer's reaction on a stored message.
func (n *Normalizer) HandleReaction(ctx context.Context, ev channel.ReactionEvent) error {
	if ev.TargetExternalID == "" {
		n.Metrics.Ingested("reaction", "ignored")
		return nil
	}
	msg, err := n.Store.SetReaction(ctx, ev.TargetExternalID, ev.Emoji)
	if err != nil {
		n.Metrics.Ingested("reaction", "error")
		return fmt.Errorf("set reaction: %w", err)
	}
	if msg == nil {
		n.Metrics.Ingested("reaction", "unknown")
		return nil
	}
	n.Metrics.Ingested("reaction", "applied")
	n.publish(ctx, models.EventMessages, msg.ConversationID, msg)
	return nil
}

// HandleCall forwards a call notice to viewers of the caller's conversation.
func (n *Normalizer) HandleCall(ctx context.Context, ev channel.CallEvent) error {
	var conversationID uint
	conv, err := n.Store.ConversationByExternalUser(ctx, ev.ExternalUserID)
	if err != nil {
		return fmt.Errorf("find conversation: %w", err)
	}
	if conv != nil {
		conversationID = conv.ID
	}
	n.Metrics.Ingested("call", "forwarded")
	n.publish(ctx, models.EventCall, conversationID, ev)
	return nil
}

// RecordOutbound stores a message the system sent through the channel.
func (n *Normalizer) RecordOutbound(ctx context.Context, conversationID uint, body, externalID string, autoReply bool) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Direction:      models.DirectionOutbound,
		Type:           models.MessageText,
		Body:           body,
		Timestamp:      n.now(),
		DeliveryStatus: models.DeliverySent,
		IsAutoReply:    autoReply,
	}
	if externalID != "" {
		msg.ExternalID = &externalID
	}
	if _, err := n.Store.UpsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store outbound message: %w", err)
	}
	if err := n.Store.TouchLastMessage(ctx, conversationID, Preview(body), msg.Timestamp); err != nil {
		log.Error().Err(err).Uint("conversation_id", conversationID).Msg("failed to update last message")
	}
	n.publish(ctx, models.EventMessages, conversationID, msg)
	n.publish(ctx, models.EventConversations, conversationID, map[string]any{"conversation_id": conversationID})
	return msg, nil
}

func (n *Normalizer) publish(ctx context.Context, name string, conversationID uint, payload any) {
	if n.Notifier == nil {
		return
	}
	n.Notifier.Publish(ctx, name, conversationID, payload)
}

// Preview shortens body to the stored preview length without splitting a rune.
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= config.MaxPreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:config.MaxPreviewLength])
}
