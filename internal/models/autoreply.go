package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Keyword match modes of an AutoReplyRule.
const (
	MatchExact      = "exact"
	MatchContains   = "contains"
	MatchStartsWith = "starts_with"
)

// AutoReplyRule maps trigger keywords to a canned response.
type AutoReplyRule struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:text;not null" json:"name"`
	// Trigger is a comma-delimited keyword list.
	Trigger       string `gorm:"type:text;not null" json:"trigger"`
	Response      string `gorm:"type:text;not null" json:"response"`
	IsActive      bool   `gorm:"not null;default:true;index" json:"is_active"`
	Priority      int    `gorm:"not null;default:0" json:"priority"`
	MatchMode     string `gorm:"type:text;not null;default:'contains'" json:"match_mode"`
	CaseSensitive bool   `gorm:"not null;default:false" json:"case_sensitive"`
	// Embedding is the precomputed similarity vector of Trigger, a JSON float array.
	Embedding            datatypes.JSON `gorm:"type:jsonb" json:"-"`
	EmbeddingGeneratedAt *time.Time     `json:"embedding_generated_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Keywords splits Trigger into trimmed, non-empty keywords in declaration order.
func (r *AutoReplyRule) Keywords() []string {
	parts := strings.Split(r.Trigger, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

// HasEmbedding reports whether a non-empty vector was generated for the rule.
func (r *AutoReplyRule) HasEmbedding() bool {
	if len(r.Embedding) == 0 {
		return false
	}
	var vec []float64
	if err := json.Unmarshal(r.Embedding, &vec); err != nil {
		return false
	}
	return len(vec) > 0
}

// AutoReplySetting is one key/value row of the auto-reply configuration.
type AutoReplySetting struct {
	Key       string    `gorm:"primaryKey;type:text" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoReplySettings is the typed snapshot the matching engine works from.
type AutoReplySettings struct {
	Enabled             bool
	ReplyDelay          time.Duration
	// MaxPerConversation caps replies per conversation over the last 24 hours.
	// Zero or less means the bot never replies.
	MaxPerConversation  int
	AgentActivityWindow time.Duration
	OutOfHoursEnabled   bool
	OutOfHoursMessage   string
	SimilarityEnabled   bool
	SimilarityThreshold float64
}

// BusinessHour is one opening window. Several windows per weekday are allowed.
type BusinessHour struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// DayOfWeek follows time.Weekday: 0 is Sunday.
	DayOfWeek int `gorm:"not null;index" json:"day_of_week"`
	// StartTime and EndTime are "HH:MM" or "HH:MM:SS" wall-clock times.
	StartTime string `gorm:"type:text;not null" json:"start_time"`
	EndTime   string `gorm:"type:text;not null" json:"end_time"`
	IsActive  bool   `gorm:"not null;default:true" json:"is_active"`
}

// AutoReplyLog records every automated reply that was sent.
type AutoReplyLog struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	ConversationID uint `gorm:"not null;index:idx_auto_reply_log_conversation" json:"conversation_id"`
	// RuleID is nil for generic replies such as the out-of-hours message.
	RuleID       *uint     `json:"rule_id,omitempty"`
	TriggerText  string    `gorm:"type:text" json:"trigger_text"`
	ResponseText string    `gorm:"type:text" json:"response_text"`
	MatchTier    string    `gorm:"type:text" json:"match_tier"`
	CreatedAt    time.Time `gorm:"index:idx_auto_reply_log_conversation" json:"created_at"`
}

// UnrecognizedMessage is inbound text that no rule answered.
type UnrecognizedMessage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"not null;index" json:"conversation_id"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	ClosestRuleID  *uint     `json:"closest_rule_id,omitempty"`
	ClosestScore   *float64  `json:"closest_score,omitempty"`
	Processed      bool      `gorm:"not null;default:false" json:"processed"`
	CreatedAt      time.Time `json:"created_at"`
}
