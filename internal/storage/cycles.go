package storage

import (
	"context"
	"time"

	"helpdesk/backend/internal/models"
)

// InsertCycle stores a completed cycle. The (conversation, cycle number) unique
// index rejects a duplicate number.
func (s *Service) InsertCycle(ctx context.Context, cycle *models.ConversationCycle) error {
	return s.db(ctx).Omit("Quotations").Create(cycle).Error
}

// CyclesWithQuotations lists a conversation's completed cycles, oldest first,
// with their attached quotations.
func (s *Service) CyclesWithQuotations(ctx context.Context, conversationID uint) ([]models.ConversationCycle, error) {
	var cycles []models.ConversationCycle
	err := s.db(ctx).
		Preload("Quotations").
		Where("conversation_id = ?", conversationID).
		Order("cycle_number ASC").
		Find(&cycles).Error
	return cycles, err
}

// LastCycleCompletedAt returns when the conversation's latest cycle closed, or nil.
func (s *Service) LastCycleCompletedAt(ctx context.Context, conversationID uint) (*time.Time, error) {
	var at *time.Time
	err := s.db(ctx).Model(&models.ConversationCycle{}).
		Select("MAX(completed_at)").
		Where("conversation_id = ?", conversationID).
		Scan(&at).Error
	return at, err
}

// CreateQuotation stores a quotation for the active cycle.
func (s *Service) CreateQuotation(ctx context.Context, q *models.Quotation) error {
	return s.db(ctx).Create(q).Error
}

// QuotationByID returns the quotation or nil.
func (s *Service) QuotationByID(ctx context.Context, id uint) (*models.Quotation, error) {
	var q models.Quotation
	found, err := first(s.db(ctx).Where("id = ?", id), &q)
	if err != nil || !found {
		return nil, err
	}
	return &q, nil
}

// QuotationsSince returns every quotation of the conversation created at or after since,
// whichever cycle it is attached to.
func (s *Service) QuotationsSince(ctx context.Context, conversationID uint, since time.Time) ([]models.Quotation, error) {
	var qs []models.Quotation
	err := s.db(ctx).
		Where("conversation_id = ? AND created_at >= ?", conversationID, since).
		Order("created_at ASC, id ASC").
		Find(&qs).Error
	return qs, err
}

// AttachQuotations links the open quotations created in [from, to] to a completed cycle.
func (s *Service) AttachQuotations(ctx context.Context, conversationID, cycleID uint, from, to time.Time) (int64, error) {
	res := s.db(ctx).Model(&models.Quotation{}).
		Where("conversation_id = ? AND cycle_id IS NULL AND created_at >= ? AND created_at <= ?", conversationID, from, to).
		Update("cycle_id", cycleID)
	return res.RowsAffected, res.Error
}
