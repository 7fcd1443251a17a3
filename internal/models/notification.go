package models

import "time"

// Kinds of in-app notifications.
const (
	NotificationNewMessage = "new_message"
	NotificationSLABreach  = "sla_breach"
)

// AgentNotification is an in-app notice for one user.
type AgentNotification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"type:text;not null;index" json:"user_id"`
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	MessageID      *uint     `json:"message_id,omitempty"`
	Kind           string    `gorm:"type:text;not null" json:"kind"`
	Read           bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
