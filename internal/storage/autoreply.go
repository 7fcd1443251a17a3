package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// LoadAutoReplySettings reads the key/value settings rows into a typed snapshot.
func (s *Service) LoadAutoReplySettings(ctx context.Context) (*models.AutoReplySettings, error) {
	var rows []models.AutoReplySetting
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	values := make(map[string]string, len(rows))
	for _, r := range rows {
		values[r.Key] = r.Value
	}
	settings := ParseAutoReplySettings(values)
	return &settings, nil
}

// ParseAutoReplySettings applies defaults to missing or malformed values.
func ParseAutoReplySettings(values map[string]string) models.AutoReplySettings {
	return models.AutoReplySettings{
		Enabled:             parseBool(values, config.SettingAutoReplyEnabled, config.DefaultAutoReplyEnabled),
		ReplyDelay:          time.Duration(parseInt(values, config.SettingReplyDelaySeconds, int(config.DefaultReplyDelay/time.Second))) * time.Second,
		MaxPerConversation:  parseInt(values, config.SettingMaxAutoReplies, config.DefaultMaxAutoReplies),
		AgentActivityWindow: time.Duration(parseInt(values, config.SettingAgentActivityMinutes, int(config.DefaultAgentActivityWindow/time.Minute))) * time.Minute,
		OutOfHoursEnabled:   parseBool(values, config.SettingOutOfHoursEnabled, false),
		OutOfHoursMessage:   strings.TrimSpace(values[config.SettingOutOfHoursMessage]),
		SimilarityEnabled:   parseBool(values, config.SettingSimilarityEnabled, false),
		SimilarityThreshold: parseFloat(values, config.SettingSimilarityThreshold, config.DefaultSimilarityThreshold),
	}
}

func parseBool(values map[string]string, key string, def bool) bool {
	raw, ok := values[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	log.Warn().Str("key", key).Str("value", raw).Msg("invalid boolean setting, using default")
	return def
}

func parseInt(values map[string]string, key string, def int) int {
	raw, ok := values[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid integer setting, using default")
		return def
	}
	return n
}

func parseFloat(values map[string]string, key string, def float64) float64 {
	raw, ok := values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("invalid float setting, using default")
		return def
	}
	return f
}

// ActiveRules returns active rules by descending priority, ties by id.
func (s *Service) ActiveRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	err := s.db(ctx).
		Where("is_active = ?", true).
		Order("priority DESC, id ASC").
		Find(&rules).Error
	return rules, err
}

// BusinessHours returns the active opening windows of one weekday.
func (s *Service) BusinessHours(ctx context.Context, weekday time.Weekday) ([]models.BusinessHour, error) {
	var hours []models.BusinessHour
	err := s.db(ctx).
		Where("day_of_week = ? AND is_active = ?", int(weekday), true).
		Order("start_time ASC").
		Find(&hours).Error
	return hours, err
}

// CountAutoRepliesSince counts automated replies sent to a conversation since a point in time.
func (s *Service) CountAutoRepliesSince(ctx context.Context, conversationID uint, since time.Time) (int64, error) {
	var n int64
	err := s.db(ctx).Model(&models.AutoReplyLog{}).
		Where("conversation_id = ? AND created_at >= ?", conversationID, since).
		Count(&n).Error
	return n, err
}

// InsertAutoReplyLog records a sent automated reply.
func (s *Service) InsertAutoReplyLog(ctx context.Context, entry *models.AutoReplyLog) error {
	return s.db(ctx).Create(entry).Error
}

// InsertUnrecognized records inbound text no rule answered.
func (s *Service) InsertUnrecognized(ctx context.Context, msg *models.UnrecognizedMessage) error {
	return s.db(ctx).Create(msg).Error
}

// SaveRuleEmbedding stores a freshly generated similarity vector for a rule.
func (s *Service) SaveRuleEmbedding(ctx context.Context, ruleID uint, vector []float64, at time.Time) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return s.db(ctx).Model(&models.AutoReplyRule{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{
			"embedding":              datatypes.JSON(raw),
			"embedding_generated_at": at,
		}).Error
}
