package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CompleteCycleRequest closes the active cycle of a conversation.
type CompleteCycleRequest struct {
	ConversationID uint
	Actor          Actor
	Reason         string
	// FinalStatusID, when set and different from the current status, is applied
	// before the cycle is recorded.
	FinalStatusID *uint
	SaleAmount    *decimal.Decimal
	Notes         string
	// QuotationID names the winning quotation. It must belong to the conversation.
	QuotationID *uint
	// ExpectedStatusID makes the completion conflict when the conversation has
	// moved to another status since the caller looked at it.
	ExpectedStatusID *uint
	// StartNextAt, when set, is the instant the finished interval ends and the next
	// cycle begins instead of now. It is clamped between the current cycle start
	// and now.
	StartNextAt *time.Time
}

// CycleResult reports the recorded cycle and where the conversation landed.
type CycleResult struct {
	Cycle            *models.ConversationCycle  `json:"cycle"`
	CycleNumber      int                        `json:"cycle_number"`
	SaleAmount       *decimal.Decimal           `json:"sale_amount,omitempty"`
	WinningQuotation *models.Quotation          `json:"winning_quotation,omitempty"`
	NewStatus        *models.ConversationStatus `json:"new_status"`
}

// CompleteCycle records the finished interval as a cycle row, resets the conversation
// into the reset target and starts a new cycle. Every step runs in one transaction.
// The assigned agent is kept.
func (s *Service) CompleteCycle(ctx context.Context, req CompleteCycleRequest) (*CycleResult, error) {
	if req.SaleAmount != nil && req.SaleAmount.IsNegative() {
		return nil, validationError("sale amount must not be negative")
	}

	actorName := s.actorName(ctx, req.Actor)
	result := &CycleResult{SaleAmount: req.SaleAmount}

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
		if req.ExpectedStatusID != nil && *req.ExpectedStatusID != conv.StatusID {
			return ErrStatusConflict
		}

		outcome := models.CycleOutcome{SaleAmount: req.SaleAmount, Notes: req.Notes, Reason: req.Reason}
		if req.QuotationID != nil {
			q, err := tx.QuotationByID(ctx, *req.QuotationID)
			if err != nil {
				return err
			}
			if q == nil {
				return notFound("quotation", *req.QuotationID)
			}
			if q.ConversationID != conv.ID {
				return validationError("quotation %d does not belong to conversation %d", q.ID, conv.ID)
			}
			amount := q.Amount
			outcome.WinningQuotationID = &q.ID
			outcome.WinningQuotationNumber = q.Number
			outcome.WinningQuotationAmount = &amount
			result.WinningQuotation = q
		}

		now := s.now()

		if req.FinalStatusID != nil && *req.FinalStatusID != conv.StatusID {
			final, err := tx.StatusByID(ctx, *req.FinalStatusID)
			if err != nil {
				return err
			}
			if final == nil || !final.IsActive {
				return validationError("status %d is not an active status", *req.FinalStatusID)
			}
			ok, err := tx.CompareAndSetStatus(ctx, conv.ID, conv.StatusID, final.ID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrStatusConflict
			}
			prev := conv.StatusID
			if err := tx.AppendStatusHistory(ctx, &models.ConversationStatusHistory{
				ConversationID: conv.ID,
				OldStatusID:    &prev,
				NewStatusID:    final.ID,
				ChangedBy:      req.Actor.idPtr(),
				Reason:         req.Reason,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
			conv.StatusID = final.ID
		}

		current, err := tx.StatusByID(ctx, conv.StatusID)
		if err != nil {
			return err
		}
		if current == nil {
			return notFound("status", conv.StatusID)
		}

		boundary := now
		if req.StartNextAt != nil {
			boundary = clamp(*req.StartNextAt, conv.CurrentCycleStartedAt, now)
		}

		count, err := tx.CountMessagesBetween(ctx, conv.ID, conv.CurrentCycleStartedAt, boundary)
		if err != nil {
			return fmt.Errorf("count cycle messages: %w", err)
		}
		initialStatusID, err := tx.StatusAsOf(ctx, conv.ID, conv.CurrentCycleStartedAt)
		if err != nil {
			return err
		}

		cycle := &models.ConversationCycle{
			ConversationID:  conv.ID,
			CycleNumber:     conv.CycleCount + 1,
			StartedAt:       conv.CurrentCycleStartedAt,
			CompletedAt:     boundary,
			InitialStatusID: initialStatusID,
			FinalStatusID:   conv.StatusID,
			MessageCount:    count,
			AssignedTo:      conv.AssignedTo,
			CompletedBy:     req.Actor.idPtr(),
		}
		if err := cycle.SetOutcome(outcome); err != nil {
			return err
		}
		if err := tx.InsertCycle(ctx, cycle); err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
		if _, err := tx.AttachQuotations(ctx, conv.ID, cycle.ID, conv.CurrentCycleStartedAt, boundary); err != nil {
			return fmt.Errorf("attach quotations: %w", err)
		}

		statuses, err := tx.ListStatuses(ctx)
		if err != nil {
			return err
		}
		target := resolveResetTarget(current, statuses)

		ok, err := tx.ResetConversationCycle(ctx, storage.CycleReset{
			ConversationID:     conv.ID,
			StatusID:           target.ID,
			ExpectedCycleCount: conv.CycleCount,
			StartedAt:          boundary,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrStatusConflict
		}

		from := conv.StatusID
		if err := tx.AppendStatusHistory(ctx, &models.ConversationStatusHistory{
			ConversationID: conv.ID,
			OldStatusID:    &from,
			NewStatusID:    target.ID,
			ChangedBy:      req.Actor.idPtr(),
			Reason:         s.Texts.Format(s.Lang, "cycle.reset_reason", cycle.CycleNumber),
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		meta, err := json.Marshal(map[string]any{"cycle_id": cycle.ID, "cycle_number": cycle.CycleNumber})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &models.ConversationEvent{
			ConversationID: conv.ID,
			Kind:           models.EventCycleCompleted,
			Text:           s.cycleEventText(cycle.CycleNumber, actorName, outcome, target.Name),
			ActorID:        req.Actor.idPtr(),
			Metadata:       meta,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		result.Cycle = cycle
		result.CycleNumber = cycle.CycleNumber
		result.NewStatus = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	trigger := "agent"
	if req.Actor.IsSystem() {
		trigger = "auto"
	}
	s.Metrics.CycleCompleted(trigger)
	log.Info().Uint("conversation_id", req.ConversationID).Int("cycle_number", result.CycleNumber).
		Uint("new_status_id", result.NewStatus.ID).Str("actor", req.Actor.UserID).Msg("conversation cycle completed")
	s.publish(ctx, models.EventStatus, req.ConversationID, map[string]any{
		"conversation_id": req.ConversationID,
		"cycle_number":    result.CycleNumber,
		"new_status":      result.NewStatus,
	})
	return result, nil
}

// CompleteIfFinal closes the cycle on behalf of the system when conv sits in a final
// status. The next cycle starts at triggeredAt, the time of the message that reopened
// the conversation, so that message counts toward it. The outcome comes from the
// field payload of the last transition when there is one. It reports whether a cycle
// was completed.
func (s *Service) CompleteIfFinal(ctx context.Context, conv *models.Conversation, triggeredAt time.Time) (bool, error) {
	status, err := s.Store.StatusByID(ctx, conv.StatusID)
	if err != nil {
		return false, err
	}
	if status == nil || !status.IsFinal {
		return false, nil
	}

	req := CompleteCycleRequest{
		ConversationID:   conv.ID,
		Actor:            SystemActor,
		Reason:           s.Texts.GetString(s.Lang, "cycle.auto_reason"),
		ExpectedStatusID: &status.ID,
	}
	if !triggeredAt.IsZero() {
		req.StartNextAt = &triggeredAt
	}
	last, err := s.Store.LatestStatusHistory(ctx, conv.ID)
	if err != nil {
		return false, err
	}
	if last != nil && len(last.FieldData) > 0 {
		req.SaleAmount, req.Notes = outcomeFromFields(last.FieldData)
	}

	if _, err := s.CompleteCycle(ctx, req); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			// another delivery completed it first
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// outcomeFromFields reads sale_amount (or amount) and notes from a transition payload.
// Unparseable or negative amounts are ignored.
func outcomeFromFields(raw []byte) (*decimal.Decimal, string) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ""
	}
	notes, _ := fields["notes"].(string)

	for _, key := range []string{"sale_amount", "amount"} {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		var (
			d   decimal.Decimal
			err error
		)
		switch val := v.(type) {
		case float64:
			d = decimal.NewFromFloat(val)
		case string:
			d, err = decimal.NewFromString(val)
		default:
			continue
		}
		if err != nil || d.IsNegative() {
			continue
		}
		return &d, notes
	}
	return nil, notes
}

func (s *Service) cycleEventText(number int, actor string, outcome models.CycleOutcome, target string) string {
	if amount, ok := outcome.ExplicitSaleAmount(); ok {
		return s.Texts.Format(s.Lang, "event.cycle_completed_sale", number, actor, amount.StringFixed(2), target)
	}
	return s.Texts.Format(s.Lang, "event.cycle_completed", number, actor, target)
}

func clamp(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}
