package models

import "time"

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Canonical message types.
const (
	MessageText        = "text"
	MessageImage       = "image"
	MessageVideo       = "video"
	MessageAudio       = "audio"
	MessageDocument    = "document"
	MessageSticker     = "sticker"
	MessageInteractive = "interactive"
	MessageLocation    = "location"
	MessageContacts    = "contacts"
	MessageReaction    = "reaction"
	MessageTemplate    = "template"
	MessageUnknown     = "unknown"
)

// Delivery statuses reported by the channel.
const (
	DeliveryReceived  = "received"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// Message is one inbound or outbound unit of a conversation.
// ExternalID is the channel's message id and the idempotency key of the row.
type Message struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	ConversationID uint   `gorm:"not null;index:idx_message_conversation_ts" json:"conversation_id"`
	Direction      string `gorm:"type:text;not null" json:"direction"`
	Type           string `gorm:"type:text;not null" json:"type"`
	// Body holds text, a caption, or a placeholder for media without one.
	Body     string `gorm:"type:text" json:"body"`
	MediaID  string `gorm:"type:text" json:"media_id,omitempty"`
	MimeType string `gorm:"type:text" json:"mime_type,omitempty"`
	// ExternalID is unique when present. Postgres allows several NULLs.
	ExternalID *string   `gorm:"uniqueIndex" json:"external_id,omitempty"`
	Timestamp  time.Time `gorm:"not null;index:idx_message_conversation_ts" json:"timestamp"`

	DeliveryStatus string     `gorm:"type:text;not null;default:'received'" json:"delivery_status"`
	StatusAt       *time.Time `json:"status_at,omitempty"`
	ErrorCode      *int       `json:"error_code,omitempty"`
	ErrorTitle     string     `gorm:"type:text" json:"error_title,omitempty"`

	// ReplyToExternalID references another message of the conversation by its channel id.
	ReplyToExternalID *string `gorm:"type:text" json:"reply_to_external_id,omitempty"`
	ReactionEmoji     string  `gorm:"type:text" json:"reaction_emoji,omitempty"`
	IsAutoReply       bool    `gorm:"not null;default:false" json:"is_auto_reply"`
	// SentBy is the agent who wrote an outbound message; nil for customers and the bot.
	SentBy    *string   `gorm:"type:text;index" json:"sent_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsInbound reports whether the customer sent the message.
func (m *Message) IsInbound() bool {
	return m.Direction == DirectionInbound
}
