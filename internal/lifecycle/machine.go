// Package lifecycle is the conversation state machine: status transitions with
// history, cycle completion and reset, and quotation accounting per cycle.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"helpdesk/backend/internal/localization"
	"helpdesk/backend/internal/metrics"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

// Publisher pushes real-time updates to viewers.
type Publisher interface {
	Publish(ctx context.Context, name string, conversationID uint, payload any)
}

// Service applies lifecycle operations against the store.
type Service struct {
	Store     storage.LifecycleStore
	Publisher Publisher
	Texts     *localization.Localizer
	Lang      string
	Metrics   *metrics.Metrics

	now func() time.Time
}

// NewService creates the state machine. publisher may be nil.
func NewService(store storage.LifecycleStore, publisher Publisher, texts *localization.Localizer, lang string) *Service {
	return &Service{Store: store, Publisher: publisher, Texts: texts, Lang: lang, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ResolveInitialStatus picks the status new conversations start in: the active
// default, else the first active status in pipeline order, else any status.
// statuses must be in pipeline order.
func ResolveInitialStatus(statuses []models.ConversationStatus) (*models.ConversationStatus, bool) {
	for i := range statuses {
		if statuses[i].IsDefault && statuses[i].IsActive {
			return &statuses[i], true
		}
	}
	for i := range statuses {
		if statuses[i].IsActive {
			return &statuses[i], true
		}
	}
	if len(statuses) > 0 {
		return &statuses[0], true
	}
	return nil, false
}

// resolveResetTarget picks where a completed cycle lands: the current status's
// auto-reset target when it exists and is active, else the initial status chain,
// else the current status itself.
func resolveResetTarget(current *models.ConversationStatus, statuses []models.ConversationStatus) *models.ConversationStatus {
	if current.AutoResetToStatusID != nil && *current.AutoResetToStatusID != current.ID {
		for i := range statuses {
			if statuses[i].ID == *current.AutoResetToStatusID && statuses[i].IsActive {
				return &statuses[i]
			}
		}
	}
	for i := range statuses {
		if statuses[i].IsDefault && statuses[i].IsActive {
			return &statuses[i]
		}
	}
	for i := range statuses {
		if statuses[i].IsActive {
			return &statuses[i]
		}
	}
	return current
}

// InitialStatus returns the status new conversations start in.
func (s *Service) InitialStatus(ctx context.Context) (*models.ConversationStatus, error) {
	statuses, err := s.Store.ListStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	status, ok := ResolveInitialStatus(statuses)
	if !ok {
		return nil, errors.New("no conversation statuses configured")
	}
	return status, nil
}

// ChangeStatusRequest is an explicit status transition.
type ChangeStatusRequest struct {
	ConversationID uint
	OldStatusID    uint
	NewStatusID    uint
	Actor          Actor
	Reason         string
	Fields         map[string]any
}

// ChangeStatusResult describes the applied transition.
type ChangeStatusResult struct {
	Changed   bool                       `json:"changed"`
	OldStatus *models.ConversationStatus `json:"old_status,omitempty"`
	NewStatus *models.ConversationStatus `json:"new_status,omitempty"`
}

// ChangeStatus moves a conversation from OldStatusID to NewStatusID. Equal ids are a
// no-op. The update only applies while the conversation still holds OldStatusID.
func (s *Service) ChangeStatus(ctx context.Context, req ChangeStatusRequest) (*ChangeStatusResult, error) {
	if req.OldStatusID == req.NewStatusID {
		return &ChangeStatusResult{Changed: false}, nil
	}

	actorName := s.actorName(ctx, req.Actor)
	result := &ChangeStatusResult{Changed: true}

	err := s.Store.WithTx(ctx, func(tx storage.LifecycleStore) error {
		conv, err := tx.LockConversation(ctx, req.ConversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return notFound("conversation", req.ConversationID)
		}
		if err := authorize(req.Actor, conv); err != nil {
			return err
		}
		if conv.StatusID != req.OldStatusID {
			return ErrStatusConflict
		}

		oldStatus, err := tx.StatusByID(ctx, req.OldStatusID)
		if err != nil {
			return err
		}
		newStatus, err := tx.StatusByID(ctx, req.NewStatusID)
		if err != nil {
			return err
		}
		if newStatus == nil || !newStatus.IsActive {
			return validationError("status %d is not an active status", req.NewStatusID)
		}
		if err := checkRequiredFields(newStatus, req.Fields); err != nil {
			return err
		}

		ok, err := tx.CompareAndSetStatus(ctx, conv.ID, req.OldStatusID, req.NewStatusID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStatusConflict
		}

		fieldData, err := encodeFields(req.Fields)
		if err != nil {
			return validationError("field payload: %v", err)
		}
		oldID := req.OldStatusID
		if err := tx.AppendStatusHistory(ctx, &models.ConversationStatusHistory{
			ConversationID: conv.ID,
			OldStatusID:    &oldID,
			NewStatusID:    req.NewStatusID,
			ChangedBy:      req.Actor.idPtr(),
			Reason:         req.Reason,
			FieldData:      fieldData,
			CreatedAt:      s.now(),
		}); err != nil {
			return err
		}

		if err := tx.AppendEvent(ctx, &models.ConversationEvent{
			ConversationID: conv.ID,
			Kind:           models.EventStatusChange,
			Text:           s.statusChangeText(statusName(oldStatus), newStatus.Name, actorName, req.Reason),
			ActorID:        req.Actor.idPtr(),
			CreatedAt:      s.now(),
		}); err != nil {
			return err
		}

		result.OldStatus = oldStatus
		result.NewStatus = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Uint("conversation_id", req.ConversationID).Uint("old_status_id", req.OldStatusID).
		Uint("new_status_id", req.NewStatusID).Str("actor", req.Actor.UserID).Msg("conversation status changed")
	s.publish(ctx, models.EventStatus, req.ConversationID, map[string]any{
		"conversation_id": req.ConversationID,
		"old_status":      result.OldStatus,
		"new_status":      result.NewStatus,
	})
	return result, nil
}

func checkRequiredFields(status *models.ConversationStatus, fields map[string]any) error {
	schema, err := status.Fields()
	if err != nil {
		log.Warn().Err(err).Uint("status_id", status.ID).Msg("unreadable required-field schema, skipping validation")
		return nil
	}
	for _, f := range schema {
		if !f.Required {
			continue
		}
		v, ok := fields[f.Key]
		if !ok || v == nil || v == "" {
			label := f.Label
			if label == "" {
				label = f.Key
			}
			return validationError("field %q is required for status %q", label, status.Name)
		}
	}
	return nil
}

func encodeFields(fields map[string]any) (datatypes.JSON, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func statusName(s *models.ConversationStatus) string {
	if s == nil {
		return "?"
	}
	return s.Name
}

func (s *Service) actorName(ctx context.Context, a Actor) string {
	if a.IsSystem() {
		return s.Texts.GetString(s.Lang, "actor.system")
	}
	if a.Name != "" {
		return a.Name
	}
	user, err := s.Store.UserByID(ctx, a.UserID)
	if err != nil || user == nil || user.Name == "" {
		return a.UserID
	}
	return user.Name
}

func (s *Service) statusChangeText(from, to, actor, reason string) string {
	if reason != "" {
		return s.Texts.Format(s.Lang, "event.status_changed_reason", from, to, actor, reason)
	}
	return s.Texts.Format(s.Lang, "event.status_changed", from, to, actor)
}

func (s *Service) publish(ctx context.Context, name string, conversationID uint, payload any) {
	if s.Publisher == nil {
		return
	}
	s.Publisher.Publish(ctx, name, conversationID, payload)
	s.Publisher.Publish(ctx, models.EventConversations, conversationID, map[string]any{"conversation_id": conversationID})
}
