package config

import "time"

const (
	// Auto-reply
	DefaultAutoReplyEnabled    = true
	DefaultMaxAutoReplies      = 3
	DefaultReplyDelay          = 2 * time.Second
	DefaultAgentActivityWindow = 10 * time.Minute
	DefaultSimilarityThreshold = 0.7
	AutoReplyCapWindow         = 24 * time.Hour
	SimilarityPriorityWeight   = 0.01
	AutoReplyTaskTimeout       = 2 * time.Minute
	MaxPreviewLength           = 255

	// Similarity scorer
	ScorerHealthTimeout     = 2 * time.Second
	ScorerEmbedTimeout      = 5 * time.Second
	ScorerSimilarityTimeout = 3 * time.Second

	// SLA
	DefaultSLAThreshold   = 30 * time.Minute
	DefaultSLAGracePeriod = 120 * time.Minute
	SLASnippetLength      = 80
	SLALockName           = "helpdesk:sla-scan"
	DefaultSLAInterval    = 60 * time.Second

	// Viewer streams
	SSEHeartbeat     = 30 * time.Second
	ViewerBufferSize = 64
	EventsChannel    = "helpdesk:events"
)

// Keys of the auto_reply_settings table.
const (
	SettingAutoReplyEnabled     = "auto_reply_enabled"
	SettingReplyDelaySeconds    = "auto_reply_delay_seconds"
	SettingMaxAutoReplies       = "max_auto_replies_per_conversation"
	SettingAgentActivityMinutes = "agent_activity_window_minutes"
	SettingOutOfHoursEnabled    = "out_of_hours_enabled"
	SettingOutOfHoursMessage    = "out_of_hours_message"
	SettingSimilarityEnabled    = "embedding_service_enabled"
	SettingSimilarityThreshold  = "embedding_similarity_threshold"
)
