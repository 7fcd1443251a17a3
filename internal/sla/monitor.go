// Package sla alerts agents about customer messages that went unanswered too long.
package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/localization"
	"helpdesk/backend/internal/metrics"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"
)

// Notifier records in-app notifications.
type Notifier interface {
	NotifyUsers(ctx context.Context, userIDs []string, conversationID uint, messageID *uint, kind string)
}

// Report summarizes one scan.
type Report struct {
	Candidates int `json:"candidates"`
	Grace      int `json:"skipped_grace"`
	Claimed    int `json:"claimed"`
	Alerts     int `json:"alerts_sent"`
	Failed     int `json:"alerts_failed"`
}

// Monitor scans for breaches and alerts the responsible users.
type Monitor struct {
	Store    storage.SLAStore
	Locker   storage.Locker
	Sender   channel.Sender
	Notifier Notifier
	Texts    *localization.Localizer
	Lang     string
	// TemplateLang is the channel language code of the alert template.
	TemplateLang string
	Metrics      *metrics.Metrics
	LockTTL      time.Duration

	now func() time.Time
}

// NewMonitor builds a monitor. A nil locker runs scans without the distributed lock.
func NewMonitor(store storage.SLAStore, locker storage.Locker, sender channel.Sender, notifier Notifier, texts *localization.Localizer, cfg *config.Config, m *metrics.Metrics) *Monitor {
	return &Monitor{
		Store:        store,
		Locker:       locker,
		Sender:       sender,
		Notifier:     notifier,
		Texts:        texts,
		Lang:         cfg.AlertLang,
		TemplateLang: cfg.ChannelTemplateLang,
		Metrics:      m,
		LockTTL:      cfg.SLALockTTL,
		now:          time.Now,
	}
}

// SetClock overrides the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Scan runs one breach scan. Only one scan runs at a time across processes; a
// scan that finds the lock taken returns storage.ErrLockHeld.
func (m *Monitor) Scan(ctx context.Context) (*Report, error) {
	start := m.now()
	var report *Report
	run := func(ctx context.Context) error {
		var err error
		report, err = m.scan(ctx)
		return err
	}

	var err error
	if m.Locker != nil {
		err = m.Locker.WithLock(ctx, config.SLALockName, m.LockTTL, run)
	} else {
		err = run(ctx)
	}

	switch {
	case errors.Is(err, storage.ErrLockHeld):
		m.Metrics.SLAScan("locked", m.now().Sub(start))
	case err != nil:
		m.Metrics.SLAScan("error", m.now().Sub(start))
	default:
		m.Metrics.SLAScan("ok", m.now().Sub(start))
	}
	return report, err
}

func (m *Monitor) scan(ctx context.Context) (*Report, error) {
	report := &Report{}
	settings, err := m.Store.ActiveSlaSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sla settings: %w", err)
	}
	if settings == nil || !settings.Active {
		return report, nil
	}

	now := m.now()
	candidates, err := m.Store.FindBreachCandidates(ctx, now.Add(-settings.Threshold()))
	if err != nil {
		return nil, fmt.Errorf("find breach candidates: %w", err)
	}
	report.Candidates = len(candidates)

	for _, c := range candidates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		m.handleCandidate(ctx, settings, c, now, report)
	}

	log.Info().Int("candidates", report.Candidates).Int("claimed", report.Claimed).
		Int("alerts", report.Alerts).Int("failed", report.Failed).Msg("sla scan finished")
	return report, nil
}

// handleCandidate alerts one breach. Failures are logged so the rest of the batch
// still runs.
func (m *Monitor) handleCandidate(ctx context.Context, settings *models.SlaSettings, c models.BreachCandidate, now time.Time, report *Report) {
	logger := log.With().Uint("conversation_id", c.ConversationID).Uint("message_id", c.MessageID).Logger()

	if grace := settings.GracePeriod(); grace > 0 {
		completed, err := m.Store.LastCycleCompletedAt(ctx, c.ConversationID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to read last cycle completion")
			return
		}
		if completed != nil && now.Sub(*completed) < grace {
			report.Grace++
			return
		}
	}

	recipients, err := m.recipients(ctx, settings, c)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve sla recipients")
		return
	}

	pending := int(now.Sub(c.MessageTimestamp) / time.Minute)
	entry := &models.SlaBreachLog{
		ConversationID: c.ConversationID,
		MessageID:      c.MessageID,
		PendingMinutes: pending,
		CreatedAt:      now,
	}
	claimed, err := m.Store.ClaimBreach(ctx, entry)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim sla breach")
		return
	}
	if !claimed {
		return
	}
	report.Claimed++

	tpl := channel.Template{
		Name:       settings.TemplateName,
		Language:   m.TemplateLang,
		BodyParams: []string{m.alertText(c, pending)},
	}
	delivered := 0
	for _, u := range recipients {
		if _, err := m.Sender.SendTemplate(ctx, u.Phone, tpl); err != nil {
			logger.Error().Err(err).Str("user_id", u.ID).Msg("failed to send sla alert")
			m.Metrics.SLAAlert("failed")
			report.Failed++
			continue
		}
		m.Metrics.SLAAlert("sent")
		delivered++
	}
	report.Alerts += delivered

	if err := m.Store.RecordBreachDelivery(ctx, entry.ID, len(recipients), delivered); err != nil {
		logger.Error().Err(err).Msg("failed to record sla delivery")
	}

	if m.Notifier != nil && len(recipients) > 0 {
		ids := make([]string, len(recipients))
		for i, u := range recipients {
			ids[i] = u.ID
		}
		msgID := c.MessageID
		m.Notifier.NotifyUsers(ctx, ids, c.ConversationID, &msgID, models.NotificationSLABreach)
	}
	logger.Warn().Int("pending_minutes", pending).Int("recipients", len(recipients)).
		Int("delivered", delivered).Msg("sla breach alerted")
}

// recipients is the assigned agent when they have a phone, otherwise the
// configured list for unassigned conversations.
func (m *Monitor) recipients(ctx context.Context, settings *models.SlaSettings, c models.BreachCandidate) ([]models.User, error) {
	if c.AssignedTo != nil && *c.AssignedTo != "" {
		agent, err := m.Store.UserByID(ctx, *c.AssignedTo)
		if err != nil {
			return nil, err
		}
		if agent != nil && agent.Active && agent.Phone != "" {
			return []models.User{*agent}, nil
		}
	}
	if len(settings.NotifyUnassigned) == 0 {
		return nil, nil
	}
	users, err := m.Store.UsersByIDs(ctx, settings.NotifyUnassigned)
	if err != nil {
		return nil, err
	}
	withPhone := users[:0]
	for _, u := range users {
		if u.Phone != "" {
			withPhone = append(withPhone, u)
		}
	}
	return withPhone, nil
}

func (m *Monitor) alertText(c models.BreachCandidate, pending int) string {
	name := c.DisplayName
	if name == "" {
		name = m.Texts.GetString(m.Lang, "sla.unknown_customer")
	}
	return m.Texts.Format(m.Lang, "sla.alert", name, pending, Snippet(c.MessageBody))
}

// Snippet shortens body to the alert preview length.
func Snippet(body string) string {
	runes := []rune(body)
	if len(runes) <= config.SLASnippetLength {
		return body
	}
	return string(runes[:config.SLASnippetLength-3]) + "..."
}

// Run scans every interval, or on the cron schedule when one is given, until ctx
// is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, schedule string) error {
	if schedule != "" && !gronx.New().IsValid(schedule) {
		return fmt.Errorf("invalid sla schedule %q", schedule)
	}
	log.Info().Dur("interval", interval).Str("schedule", schedule).Msg("sla monitor started")

	for {
		wait, err := m.nextWait(interval, schedule)
		if err != nil {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("sla monitor stopped")
			return nil
		case <-timer.C:
		}

		if _, err := m.Scan(ctx); err != nil {
			if errors.Is(err, storage.ErrLockHeld) {
				log.Debug().Msg("sla scan skipped, another instance holds the lock")
				continue
			}
			log.Error().Err(err).Msg("sla scan failed")
		}
	}
}

func (m *Monitor) nextWait(interval time.Duration, schedule string) (time.Duration, error) {
	if schedule == "" {
		if interval <= 0 {
			interval = config.DefaultSLAInterval
		}
		return interval, nil
	}
	now := m.now()
	next, err := gronx.NextTickAfter(schedule, now, false)
	if err != nil {
		return 0, fmt.Errorf("next sla tick: %w", err)
	}
	return next.Sub(now), nil
}
