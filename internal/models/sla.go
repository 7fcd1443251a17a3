package models

import (
	"time"

	"helpdesk/backend/internal/config"

	"github.com/lib/pq"
)

// SlaSettings is the single active row configuring the breach monitor.
type SlaSettings struct {
	ID                         uint   `gorm:"primaryKey" json:"id"`
	Active                     bool   `gorm:"not null;default:false" json:"active"`
	UnansweredThresholdMinutes int    `gorm:"not null;default:30" json:"unanswered_threshold_minutes"`
	GracePeriodMinutes         int    `gorm:"not null;default:120" json:"grace_period_minutes"`
	TemplateName               string `gorm:"type:text" json:"template_name"`
	// NotifyUnassigned lists User.IDs alerted for conversations with no usable agent.
	NotifyUnassigned pq.StringArray `gorm:"type:text[]" json:"notify_unassigned"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Threshold returns the unanswered threshold as a duration. Non-positive values
// fall back to the default.
func (s *SlaSettings) Threshold() time.Duration {
	if s.UnansweredThresholdMinutes <= 0 {
		return config.DefaultSLAThreshold
	}
	return time.Duration(s.UnansweredThresholdMinutes) * time.Minute
}

// GracePeriod returns the post-cycle grace period as a duration. A negative value
// falls back to the default; zero disables the grace period.
func (s *SlaSettings) GracePeriod() time.Duration {
	if s.GracePeriodMinutes < 0 {
		return config.DefaultSLAGracePeriod
	}
	return time.Duration(s.GracePeriodMinutes) * time.Minute
}

// SlaBreachLog marks that a breach on (conversation, message) was alerted.
type SlaBreachLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;uniqueIndex:idx_sla_breach_conversation_message" json:"conversation_id"`
	MessageID      uint      `gorm:"not null;uniqueIndex:idx_sla_breach_conversation_message" json:"message_id"`
	PendingMinutes int       `gorm:"not null" json:"pending_minutes"`
	Recipients     int       `gorm:"not null;default:0" json:"recipients"`
	Delivered      int       `gorm:"not null;default:0" json:"delivered"`
	CreatedAt      time.Time `json:"created_at"`
}

// BreachCandidate is a conversation whose last inbound message went unanswered too long.
type BreachCandidate struct {
	ConversationID   uint
	DisplayName      string
	ExternalUserID   string
	AssignedTo       *string
	MessageID        uint
	MessageBody      string
	MessageTimestamp time.Time
}
