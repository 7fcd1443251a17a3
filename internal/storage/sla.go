package storage

import (
	"context"
	"time"

	"helpdesk/backend/internal/models"

	"gorm.io/gorm/clause"
)

// breachCandidatesSQL selects non-final conversations whose latest message is an
// inbound one older than the cutoff that has not been alerted yet.
const breachCandidatesSQL = `
SELECT c.id AS conversation_id, c.display_name, c.external_user_id, c.assigned_to,
       m.id AS message_id, m.body AS message_body, m."timestamp" AS message_timestamp
FROM conversations c
JOIN conversation_statuses cs ON cs.id = c.status_id
JOIN LATERAL (
	SELECT id, direction, body, "timestamp"
	FROM messages
	WHERE conversation_id = c.id
	ORDER BY "timestamp" DESC, id DESC
	LIMIT 1
) m ON TRUE
WHERE cs.is_final = FALSE
  AND m.direction = ?
  AND m."timestamp" < ?
  AND NOT EXISTS (
	SELECT 1 FROM sla_breach_logs l
	WHERE l.conversation_id = c.id AND l.message_id = m.id
  )
ORDER BY m."timestamp" ASC`

// ActiveSlaSettings returns the active settings row, or nil when monitoring is off.
func (s *Service) ActiveSlaSettings(ctx context.Context) (*models.SlaSettings, error) {
	var settings models.SlaSettings
	found, err := first(s.db(ctx).Where("active = ?", true).Order("id DESC"), &settings)
	if err != nil || !found {
		return nil, err
	}
	return &settings, nil
}

// FindBreachCandidates lists unanswered conversations whose last inbound message is older than cutoff.
func (s *Service) FindBreachCandidates(ctx context.Context, cutoff time.Time) ([]models.BreachCandidate, error) {
	var candidates []models.BreachCandidate
	err := s.db(ctx).Raw(breachCandidatesSQL, models.DirectionInbound, cutoff).Scan(&candidates).Error
	return candidates, err
}

// ClaimBreach inserts the breach log row. It reports false when another scan already
// logged the same (conversation, message) pair.
func (s *Service) ClaimBreach(ctx context.Context, entry *models.SlaBreachLog) (bool, error) {
	res := s.db(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "message_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordBreachDelivery stores how many recipients were alerted for a claimed breach.
func (s *Service) RecordBreachDelivery(ctx context.Context, id uint, recipients, delivered int) error {
	return s.db(ctx).Model(&models.SlaBreachLog{}).
		Where("id = ?", id).
		Updates(map[string]any{"recipients": recipients, "delivered": delivered}).Error
}
