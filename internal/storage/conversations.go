package storage

import (
	"context"
	"time"

	"helpdesk/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationByID returns the conversation or nil when it does not exist.
func (s *Service) ConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	found, err := first(s.db(ctx).Where("id = ?", id), &conv)
	if err != nil || !found {
		return nil, err
	}
	return &conv, nil
}

// ConversationByExternalUser looks a conversation up by the customer's channel id.
func (s *Service) ConversationByExternalUser(ctx context.Context, externalUserID string) (*models.Conversation, error) {
	var conv models.Conversation
	found, err := first(s.db(ctx).Where("external_user_id = ?", externalUserID), &conv)
	if err != nil || !found {
		return nil, err
	}
	return &conv, nil
}

// EnsureConversation inserts conv unless a conversation with the same external
// user already exists, in which case the stored row is returned. The boolean
// reports whether a row was created. Concurrent first deliveries converge on one row.
func (s *Service) EnsureConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	if conv.CurrentCycleStartedAt.IsZero() {
		conv.CurrentCycleStartedAt = time.Now()
	}

	res := s.db(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_user_id"}}, DoNothing: true}).
		Create(conv)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return conv, true, nil
	}

	existing, err := s.ConversationByExternalUser(ctx, conv.ExternalUserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateDisplayName refreshes the customer's profile name when the channel reports a new one.
func (s *Service) UpdateDisplayName(ctx context.Context, conversationID uint, name string) error {
	if name == "" {
		return nil
	}
	return s.db(ctx).Model(&models.Conversation{}).
		Where("id = ? AND display_name IS DISTINCT FROM ?", conversationID, name).
		Update("display_name", name).Error
}

// TouchLastMessage moves the preview forward. Older messages arriving late never
// overwrite a newer preview.
func (s *Service) TouchLastMessage(ctx context.Context, conversationID uint, preview string, at time.Time) error {
	return s.db(ctx).Model(&models.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", conversationID, at).
		Updates(map[string]any{
			"last_message_preview": preview,
			"last_message_at":      at,
			"updated_at":           gorm.Expr("NOW()"),
		}).Error
}

// LockConversation reads the conversation with a row lock. Only meaningful inside WithTx.
func (s *Service) LockConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	found, err := first(s.db(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id), &conv)
	if err != nil || !found {
		return nil, err
	}
	return &conv, nil
}

// CompareAndSetStatus changes the status only while the conversation still holds oldStatusID.
func (s *Service) CompareAndSetStatus(ctx context.Context, conversationID, oldStatusID, newStatusID uint) (bool, error) {
	res := s.db(ctx).Model(&models.Conversation{}).
		Where("id = ? AND status_id = ?", conversationID, oldStatusID).
		Updates(map[string]any{
			"status_id":  newStatusID,
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CycleReset describes the conversation update that closes a cycle.
// ExpectedCycleCount guards against a concurrent completion.
type CycleReset struct {
	ConversationID     uint
	StatusID           uint
	ExpectedCycleCount int
	StartedAt          time.Time
}

// ResetConversationCycle applies the status reset, increments the cycle counter and
// restamps the cycle start in one statement.
func (s *Service) ResetConversationCycle(ctx context.Context, reset CycleReset) (bool, error) {
	res := s.db(ctx).Model(&models.Conversation{}).
		Where("id = ? AND cycle_count = ?", reset.ConversationID, reset.ExpectedCycleCount).
		Updates(map[string]any{
			"status_id":                reset.StatusID,
			"cycle_count":              gorm.Expr("cycle_count + 1"),
			"current_cycle_started_at": reset.StartedAt,
			"updated_at":               gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStatuses returns all statuses in pipeline order.
func (s *Service) ListStatuses(ctx context.Context) ([]models.ConversationStatus, error) {
	var statuses []models.ConversationStatus
	err := s.db(ctx).Order("display_order ASC, id ASC").Find(&statuses).Error
	return statuses, err
}

// StatusByID returns the status or nil.
func (s *Service) StatusByID(ctx context.Context, id uint) (*models.ConversationStatus, error) {
	var status models.ConversationStatus
	found, err := first(s.db(ctx).Where("id = ?", id), &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// AppendStatusHistory inserts one transition record.
func (s *Service) AppendStatusHistory(ctx context.Context, entry *models.ConversationStatusHistory) error {
	return s.db(ctx).Create(entry).Error
}

// LatestStatusHistory returns the most recent transition of a conversation, or nil.
func (s *Service) LatestStatusHistory(ctx context.Context, conversationID uint) (*models.ConversationStatusHistory, error) {
	var entry models.ConversationStatusHistory
	found, err := first(s.db(ctx).Where("conversation_id = ?", conversationID).Order("created_at DESC, id DESC"), &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

// StatusAsOf returns the status a conversation entered most recently at or before at,
// or nil when no transition was recorded by then.
func (s *Service) StatusAsOf(ctx context.Context, conversationID uint, at time.Time) (*uint, error) {
	var entry models.ConversationStatusHistory
	found, err := first(s.db(ctx).
		Where("conversation_id = ? AND created_at <= ?", conversationID, at).
		Order("created_at DESC, id DESC"), &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry.NewStatusID, nil
}

// AppendEvent inserts a system event into the conversation timeline.
func (s *Service) AppendEvent(ctx context.Context, event *models.ConversationEvent) error {
	return s.db(ctx).Create(event).Error
}

// UserByID returns the user or nil.
func (s *Service) UserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	found, err := first(s.db(ctx).Where("id = ?", id), &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// UsersByIDs returns the active users among ids.
func (s *Service) UsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := s.db(ctx).Where("id IN ? AND active = ?", ids, true).Find(&users).Error
	return users, err
}

// CreateNotification stores an in-app notification.
func (s *Service) CreateNotification(ctx context.Context, n *models.AgentNotification) error {
	return s.db(ctx).Create(n).Error
}
