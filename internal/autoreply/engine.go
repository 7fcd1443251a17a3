// Package autoreply decides whether an inbound text gets an automated answer and
// sends it. Matching runs a keyword tier and then a semantic similarity tier.
package autoreply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/metrics"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/similarity"
	"helpdesk/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// Match tiers recorded in the reply log.
const (
	TierKeyword    = "keyword"
	TierSimilarity = "similarity"
	TierOutOfHours = "out_of_hours"
)

// Reasons a decision does not reply.
const (
	SkipEmpty       = "empty"
	SkipDisabled    = "disabled"
	SkipAgentActive = "agent_active"
	SkipCapReached  = "cap_reached"
	SkipNoMatch     = "no_match"
)

// Scorer is the similarity service.
type Scorer interface {
	IsEnabled() bool
	Similarity(ctx context.Context, req similarity.SimilarityRequest) (*similarity.SimilarityResponse, error)
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Recorder persists messages the bot sent.
type Recorder interface {
	RecordOutbound(ctx context.Context, conversationID uint, body, externalID string, autoReply bool) (*models.Message, error)
}

// Decision is the outcome of matching one inbound text.
type Decision struct {
	Reply    bool                  `json:"reply"`
	Skip     string                `json:"skip,omitempty"`
	Tier     string                `json:"tier,omitempty"`
	Rule     *models.AutoReplyRule `json:"rule,omitempty"`
	Keyword  string                `json:"keyword,omitempty"`
	Score    *float64              `json:"score,omitempty"`
	Response string                `json:"response,omitempty"`
	Delay    time.Duration         `json:"delay"`
	// Closest is the best similarity candidate that fell short of the threshold.
	Closest *Candidate `json:"-"`
}

// Engine is the auto-reply matching engine.
type Engine struct {
	Store    storage.AutoReplyStore
	Scorer   Scorer
	Sender   channel.Sender
	Recorder Recorder
	Location *time.Location
	Metrics  *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine builds an engine. loc is the business-hours time zone; nil means UTC.
func NewEngine(store storage.AutoReplyStore, scorer Scorer, sender channel.Sender, recorder Recorder, loc *time.Location, m *metrics.Metrics) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		Store:    store,
		Scorer:   scorer,
		Sender:   sender,
		Recorder: recorder,
		Location: loc,
		Metrics:  m,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetClock overrides the time source and the delay implementation.
func (e *Engine) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	e.now = now
	e.sleep = sleep
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Decide runs the guards, the out-of-hours check and both match tiers without
// sending anything.
func (e *Engine) Decide(ctx context.Context, conversationID uint, text string) (*Decision, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Decision{Skip: SkipEmpty}, nil
	}

	settings, err := e.Store.LoadAutoReplySettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.Enabled {
		return &Decision{Skip: SkipDisabled}, nil
	}

	now := e.now()
	skip, err := e.guard(ctx, settings, conversationID, now)
	if err != nil {
		return nil, err
	}
	if skip != "" {
		return &Decision{Skip: skip}, nil
	}

	if settings.OutOfHoursEnabled && strings.TrimSpace(settings.OutOfHoursMessage) != "" {
		local := now.In(e.Location)
		hours, err := e.Store.BusinessHours(ctx, local.Weekday())
		if err != nil {
			return nil, fmt.Errorf("business hours: %w", err)
		}
		if !WithinBusinessHours(hours, local) {
			return &Decision{
				Reply:    true,
				Tier:     TierOutOfHours,
				Response: settings.OutOfHoursMessage,
				Delay:    settings.ReplyDelay,
			}, nil
		}
	}

	rules, err := e.Store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("active rules: %w", err)
	}
	if rule, kw := MatchKeyword(rules, text); rule != nil {
		return &Decision{
			Reply:    true,
			Tier:     TierKeyword,
			Rule:     rule,
			Keyword:  kw,
			Response: rule.Response,
			Delay:    settings.ReplyDelay,
		}, nil
	}

	if settings.SimilarityEnabled && e.Scorer != nil && e.Scorer.IsEnabled() {
		best := e.similarityCandidate(ctx, rules, text, settings.SimilarityThreshold)
		if best != nil && best.Score >= settings.SimilarityThreshold {
			score := best.Score
			return &Decision{
				Reply:    true,
				Tier:     TierSimilarity,
				Rule:     best.Rule,
				Score:    &score,
				Response: best.Rule.Response,
				Delay:    settings.ReplyDelay,
			}, nil
		}
		return &Decision{Skip: SkipNoMatch, Closest: best}, nil
	}
	return &Decision{Skip: SkipNoMatch}, nil
}

// guard runs the agent-activity and cap checks and returns the skip reason, or ""
// when a reply may go out.
func (e *Engine) guard(ctx context.Context, settings *models.AutoReplySettings, conversationID uint, now time.Time) (string, error) {
	if settings.AgentActivityWindow > 0 {
		last, err := e.Store.LastAgentMessageAt(ctx, conversationID)
		if err != nil {
			return "", fmt.Errorf("last agent message: %w", err)
		}
		if last != nil && now.Sub(*last) < settings.AgentActivityWindow {
			return SkipAgentActive, nil
		}
	}
	if settings.MaxPerConversation <= 0 {
		return SkipCapReached, nil
	}
	sent, err := e.Store.CountAutoRepliesSince(ctx, conversationID, now.Add(-config.AutoReplyCapWindow))
	if err != nil {
		return "", fmt.Errorf("count auto replies: %w", err)
	}
	if sent >= int64(settings.MaxPerConversation) {
		return SkipCapReached, nil
	}
	return "", nil
}

// stillAllowed repeats the guards after the reply delay. An agent may have answered
// or another reply may have gone out in the meantime.
func (e *Engine) stillAllowed(ctx context.Context, conversationID uint) (string, error) {
	settings, err := e.Store.LoadAutoReplySettings(ctx)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}
	if !settings.Enabled {
		return SkipDisabled, nil
	}
	return e.guard(ctx, settings, conversationID, e.now())
}

// similarityCandidate asks the scorer about the rules that carry a vector. Scorer
// failures mean no candidate.
func (e *Engine) similarityCandidate(ctx context.Context, rules []models.AutoReplyRule, text string, threshold float64) *Candidate {
	var withVector []models.AutoReplyRule
	refs := make([]similarity.Reference, 0, len(rules))
	for _, r := range rules {
		if !r.HasEmbedding() {
			continue
		}
		withVector = append(withVector, r)
		refs = append(refs, similarity.Reference{ID: r.ID, Text: r.Trigger, Priority: r.Priority})
	}
	if len(refs) == 0 {
		return nil
	}

	resp, err := e.Scorer.Similarity(ctx, similarity.SimilarityRequest{Query: text, References: refs, Threshold: threshold})
	if err != nil {
		log.Warn().Err(err).Msg("similarity scorer unavailable, skipping semantic tier")
		return nil
	}
	return BestCandidate(withVector, resp.Matches)
}

// Handle decides and, on a match, waits the reply delay, sends the response,
// stores it and logs it. Every failure is logged and absorbed.
func (e *Engine) Handle(ctx context.Context, conversationID uint, text string) {
	start := e.now()
	outcome := e.handle(ctx, conversationID, text)
	e.Metrics.AutoReply(outcome, e.now().Sub(start))
}

func (e *Engine) handle(ctx context.Context, conversationID uint, text string) string {
	logger := log.With().Uint("conversation_id", conversationID).Logger()

	d, err := e.Decide(ctx, conversationID, text)
	if err != nil {
		logger.Error().Err(err).Msg("auto-reply decision failed")
		return "error"
	}
	if !d.Reply {
		if d.Skip == SkipNoMatch {
			e.recordUnrecognized(ctx, conversationID, strings.TrimSpace(text), d.Closest)
		}
		logger.Debug().Str("skip", d.Skip).Msg("no auto-reply")
		return d.Skip
	}

	if err := e.sleep(ctx, d.Delay); err != nil {
		logger.Warn().Err(err).Msg("auto-reply cancelled during delay")
		return "cancelled"
	}
	skip, err := e.stillAllowed(ctx, conversationID)
	if err != nil {
		logger.Error().Err(err).Msg("auto-reply recheck failed")
		return "error"
	}
	if skip != "" {
		logger.Debug().Str("skip", skip).Msg("auto-reply withdrawn after delay")
		return skip
	}

	conv, err := e.Store.ConversationByID(ctx, conversationID)
	if err != nil || conv == nil {
		logger.Error().Err(err).Msg("conversation unavailable for auto-reply")
		return "error"
	}

	res, err := e.Sender.SendText(ctx, conv.ExternalUserID, d.Response)
	if err != nil {
		logger.Error().Err(err).Str("tier", d.Tier).Msg("failed to send auto-reply")
		return "send_failed"
	}

	if e.Recorder != nil {
		if _, err := e.Recorder.RecordOutbound(ctx, conversationID, d.Response, res.MessageID(), true); err != nil {
			logger.Error().Err(err).Msg("failed to store auto-reply message")
		}
	}

	entry := &models.AutoReplyLog{
		ConversationID: conversationID,
		TriggerText:    strings.TrimSpace(text),
		ResponseText:   d.Response,
		MatchTier:      d.Tier,
		CreatedAt:      e.now(),
	}
	if d.Rule != nil {
		id := d.Rule.ID
		entry.RuleID = &id
	}
	if err := e.Store.InsertAutoReplyLog(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("failed to log auto-reply")
	}

	ev := logger.Info().Str("tier", d.Tier)
	if d.Rule != nil {
		ev = ev.Uint("rule_id", d.Rule.ID)
	}
	ev.Msg("auto-reply sent")
	return d.Tier
}

func (e *Engine) recordUnrecognized(ctx context.Context, conversationID uint, text string, closest *Candidate) {
	msg := &models.UnrecognizedMessage{
		ConversationID: conversationID,
		Text:           text,
		CreatedAt:      e.now(),
	}
	if closest != nil {
		id, score := closest.Rule.ID, closest.Score
		msg.ClosestRuleID = &id
		msg.ClosestScore = &score
	}
	if err := e.Store.InsertUnrecognized(ctx, msg); err != nil {
		log.Error().Err(err).Uint("conversation_id", conversationID).Msg("failed to record unrecognized message")
	}
}

// EmbedRules regenerates the similarity vector of every active rule and returns how
// many were stored.
func (e *Engine) EmbedRules(ctx context.Context) (int, error) {
	if e.Scorer == nil || !e.Scorer.IsEnabled() {
		return 0, similarity.ErrNotConfigured
	}
	rules, err := e.Store.ActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("active rules: %w", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	texts := make([]string, len(rules))
	for i, r := range rules {
		texts[i] = r.Trigger
	}
	vectors, err := e.Scorer.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	stored := 0
	at := e.now()
	for i, r := range rules {
		if len(vectors[i]) == 0 {
			continue
		}
		if err := e.Store.SaveRuleEmbedding(ctx, r.ID, vectors[i], at); err != nil {
			log.Error().Err(err).Uint("rule_id", r.ID).Msg("failed to store rule embedding")
			continue
		}
		stored++
	}
	log.Info().Int("rules", len(rules)).Int("stored", stored).Msg("rule embeddings regenerated")
	return stored, nil
}
