package storage

import (
	"context"
	"time"

	"helpdesk/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertMessageSQL inserts a message or, on a redelivered external id, refreshes the
// mutable fields. xmax = 0 only holds for freshly inserted tuples.
const upsertMessageSQL = `
INSERT INTO messages (
	conversation_id, direction, type, body, media_id, mime_type, external_id, "timestamp",
	delivery_status, reply_to_external_id, is_auto_reply, sent_by, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
ON CONFLICT (external_id) DO UPDATE SET
	"timestamp" = EXCLUDED."timestamp",
	body = EXCLUDED.body,
	media_id = EXCLUDED.media_id,
	mime_type = EXCLUDED.mime_type,
	reply_to_external_id = EXCLUDED.reply_to_external_id,
	updated_at = NOW()
RETURNING id, (xmax = 0) AS inserted`

// UpsertMessage stores msg idempotently on its external id and fills msg.ID.
// It reports true when a new row was created.
func (s *Service) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if msg.DeliveryStatus == "" {
		msg.DeliveryStatus = models.DeliveryReceived
	}
	if msg.ExternalID == nil {
		if err := s.db(ctx).Create(msg).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	var row struct {
		ID       uint
		Inserted bool
	}
	err := s.db(ctx).Raw(upsertMessageSQL,
		msg.ConversationID, msg.Direction, msg.Type, msg.Body, msg.MediaID, msg.MimeType,
		msg.ExternalID, msg.Timestamp, msg.DeliveryStatus, msg.ReplyToExternalID,
		msg.IsAutoReply, msg.SentBy,
	).Scan(&row).Error
	if err != nil {
		return false, err
	}
	msg.ID = row.ID
	return row.Inserted, nil
}

// DeliveryUpdate is a channel status report for an outbound message.
// Only rows currently in one of From are updated so statuses never move backwards.
type DeliveryUpdate struct {
	ExternalID string
	Status     string
	At         time.Time
	From       []string
	ErrorCode  *int
	ErrorTitle string
}

// UpdateDeliveryStatus applies a status report. It returns nil when the message is
// unknown or already further along.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, update DeliveryUpdate) (*models.Message, error) {
	values := map[string]any{
		"delivery_status": update.Status,
		"status_at":       update.At,
		"updated_at":      gorm.Expr("NOW()"),
	}
	if update.ErrorCode != nil {
		values["error_code"] = *update.ErrorCode
		values["error_title"] = update.ErrorTitle
	}

	var updated []models.Message
	res := s.db(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("external_id = ? AND delivery_status IN ?", update.ExternalID, update.From).
		Updates(values)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || len(updated) == 0 {
		return nil, nil
	}
	return &updated[0], nil
}

// SetReaction records the customer's reaction on a message. An empty emoji clears it.
func (s *Service) SetReaction(ctx context.Context, externalID, emoji string) (*models.Message, error) {
	var updated []models.Message
	res := s.db(ctx).Model(&updated).
		Clauses(clause.Returning{}).
		Where("external_id = ?", externalID).
		Updates(map[string]any{
			"reaction_emoji": emoji,
			"updated_at":     gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || len(updated) == 0 {
		return nil, nil
	}
	return &updated[0], nil
}

// LastAgentMessageAt returns when a human agent last wrote in the conversation.
func (s *Service) LastAgentMessageAt(ctx context.Context, conversationID uint) (*time.Time, error) {
	var at *time.Time
	err := s.db(ctx).Model(&models.Message{}).
		Select(`MAX("timestamp")`).
		Where("conversation_id = ? AND direction = ? AND is_auto_reply = ?", conversationID, models.DirectionOutbound, false).
		Scan(&at).Error
	return at, err
}

// CountMessagesBetween counts messages of both directions in [from, to).
func (s *Service) CountMessagesBetween(ctx context.Context, conversationID uint, from, to time.Time) (int64, error) {
	var n int64
	err := s.db(ctx).Model(&models.Message{}).
		Where(`conversation_id = ? AND "timestamp" >= ? AND "timestamp" < ?`, conversationID, from, to).
		Count(&n).Error
	return n, err
}
