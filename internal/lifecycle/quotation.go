package lifecycle

import (
	"context"
	"strings"
	"time"

	"helpdesk/backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Strategy selects how a set of quotations is summed.
type Strategy int

const (
	// SumAll adds every quotation.
	SumAll Strategy = iota
	// LatestByNumber keeps only the most recent quotation per number.
	LatestByNumber
)

// Aggregate sums qs with the given strategy.
func Aggregate(qs []models.Quotation, strategy Strategy) decimal.Decimal {
	total := decimal.Zero
	if strategy == SumAll {
		for _, q := range qs {
			total = total.Add(q.Amount)
		}
		return total
	}

	latest := make(map[string]models.Quotation, len(qs))
	for _, q := range qs {
		cur, ok := latest[q.Number]
		if !ok || q.CreatedAt.After(cur.CreatedAt) || (q.CreatedAt.Equal(cur.CreatedAt) && q.ID > cur.ID) {
			latest[q.Number] = q
		}
	}
	for _, q := range latest {
		total = total.Add(q.Amount)
	}
	return total
}

// Amount sources of a completed cycle.
const (
	SourceSaleAmount = "sale_amount"
	SourceQuotations = "quotations"
)

// CompletedCycleAmount returns the effective amount of a completed cycle and where it
// came from. A positive sale amount in the outcome wins. Otherwise the attached
// quotations are summed, leaving out those created at or after activeStart, which
// belong to the active cycle.
func CompletedCycleAmount(cycle models.ConversationCycle, activeStart time.Time) (decimal.Decimal, string) {
	outcome, err := cycle.DecodeOutcome()
	if err != nil {
		log.Warn().Err(err).Uint("cycle_id", cycle.ID).Msg("unreadable cycle outcome")
	} else if amount, ok := outcome.ExplicitSaleAmount(); ok {
		return amount, SourceSaleAmount
	}
	return Aggregate(ownQuotations(cycle.Quotations, activeStart), SumAll), SourceQuotations
}

// ActiveCycleAmount sums the quotations of the open cycle, latest per number.
func ActiveCycleAmount(qs []models.Quotation) decimal.Decimal {
	return Aggregate(qs, LatestByNumber)
}

func ownQuotations(qs []models.Quotation, activeStart time.Time) []models.Quotation {
	kept := make([]models.Quotation, 0, len(qs))
	for _, q := range qs {
		if !q.CreatedAt.Before(activeStart) {
			continue
		}
		kept = append(kept, q)
	}
	return kept
}

// CycleTotal is the monetary summary of one completed cycle.
type CycleTotal struct {
	CycleID     uint               `json:"cycle_id"`
	CycleNumber int                `json:"cycle_number"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Amount      decimal.Decimal    `json:"amount"`
	Source      string             `json:"source"`
	Quotations  []models.Quotation `json:"quotations"`
}

// ActiveTotal is the monetary summary of the open cycle.
type ActiveTotal struct {
	CycleNumber int                `json:"cycle_number"`
	StartedAt   time.Time          `json:"started_at"`
	Amount      decimal.Decimal    `json:"amount"`
	Quotations  []models.Quotation `json:"quotations"`
}

// CycleReport lists every cycle of a conversation with its amount.
type CycleReport struct {
	ConversationID uint            `json:"conversation_id"`
	Cycles         []CycleTotal    `json:"cycles"`
	Active         ActiveTotal     `json:"active"`
	Total          decimal.Decimal `json:"total"`
}

// CycleTotals reports the completed cycles and the active cycle of a conversation.
func (s *Service) CycleTotals(ctx context.Context, conversationID uint, actor Actor) (*CycleReport, error) {
	conv, err := s.Store.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, notFound("conversation", conversationID)
	}
	if err := authorize(actor, conv); err != nil {
		return nil, err
	}

	cycles, err := s.Store.CyclesWithQuotations(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	active, err := s.Store.QuotationsSince(ctx, conv.ID, conv.CurrentCycleStartedAt)
	if err != nil {
		return nil, err
	}

	report := &CycleReport{
		ConversationID: conv.ID,
		Cycles:         make([]CycleTotal, 0, len(cycles)),
		Active: ActiveTotal{
			CycleNumber: conv.CycleCount + 1,
			StartedAt:   conv.CurrentCycleStartedAt,
			Amount:      ActiveCycleAmount(active),
			Quotations:  active,
		},
	}
	report.Total = report.Active.Amount
	for _, c := range cycles {
		amount, source := CompletedCycleAmount(c, conv.CurrentCycleStartedAt)
		report.Cycles = append(report.Cycles, CycleTotal{
			CycleID:     c.ID,
			CycleNumber: c.CycleNumber,
			StartedAt:   c.StartedAt,
			CompletedAt: c.CompletedAt,
			Amount:      amount,
			Source:      source,
			Quotations:  ownQuotations(c.Quotations, conv.CurrentCycleStartedAt),
		})
		report.Total = report.Total.Add(amount)
	}
	return report, nil
}

// QuotationRequest records a quotation against the active cycle.
type QuotationRequest struct {
	ConversationID uint
	Actor          Actor
	Number         string
	Amount         decimal.Decimal
}

// CreateQuotation validates and stores a quotation.
func (s *Service) CreateQuotation(ctx context.Context, req QuotationRequest) (*models.Quotation, error) {
	number := strings.TrimSpace(req.Number)
	if number == "" {
		return nil, validationError("quotation number is required")
	}
	if req.Amount.IsNegative() {
		return nil, validationError("quotation amount must not be negative")
	}

	conv, err := s.Store.ConversationByID(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, notFound("conversation", req.ConversationID)
	}
	if err := authorize(req.Actor, conv); err != nil {
		return nil, err
	}

	q := &models.Quotation{
		ConversationID: conv.ID,
		Number:         number,
		Amount:         req.Amount,
		CreatedBy:      req.Actor.idPtr(),
		CreatedAt:      s.now(),
	}
	if err := s.Store.CreateQuotation(ctx, q); err != nil {
		return nil, err
	}
	if s.Publisher != nil {
		s.Publisher.Publish(ctx, models.EventConversations, conv.ID, map[string]any{"conversation_id": conv.ID, "quotation": q})
	}
	return q, nil
}
