package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"helpdesk/backend/internal/models"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ConversationStore is what the ingestion path needs to resolve conversations and store messages.
type ConversationStore interface {
	ConversationByID(ctx context.Context, id uint) (*models.Conversation, error)
	ConversationByExternalUser(ctx context.Context, externalUserID string) (*models.Conversation, error)
	EnsureConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error)
	UpdateDisplayName(ctx context.Context, conversationID uint, name string) error
	TouchLastMessage(ctx context.Context, conversationID uint, preview string, at time.Time) error
	AppendStatusHistory(ctx context.Context, entry *models.ConversationStatusHistory) error

	UpsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, update DeliveryUpdate) (*models.Message, error)
	SetReaction(ctx context.Context, externalID, emoji string) (*models.Message, error)
}

// AutoReplyStore is the Rule Store read by the matching engine.
type AutoReplyStore interface {
	LoadAutoReplySettings(ctx context.Context) (*models.AutoReplySettings, error)
	ActiveRules(ctx context.Context) ([]models.AutoReplyRule, error)
	BusinessHours(ctx context.Context, weekday time.Weekday) ([]models.BusinessHour, error)

	LastAgentMessageAt(ctx context.Context, conversationID uint) (*time.Time, error)
	CountAutoRepliesSince(ctx context.Context, conversationID uint, since time.Time) (int64, error)
	ConversationByID(ctx context.Context, id uint) (*models.Conversation, error)

	InsertAutoReplyLog(ctx context.Context, entry *models.AutoReplyLog) error
	InsertUnrecognized(ctx context.Context, msg *models.UnrecognizedMessage) error
	SaveRuleEmbedding(ctx context.Context, ruleID uint, vector []float64, at time.Time) error
}

// LifecycleStore backs the conversation state machine. WithTx runs fn against a
// store bound to one database transaction.
type LifecycleStore interface {
	WithTx(ctx context.Context, fn func(tx LifecycleStore) error) error

	ListStatuses(ctx context.Context) ([]models.ConversationStatus, error)
	StatusByID(ctx context.Context, id uint) (*models.ConversationStatus, error)
	ConversationByID(ctx context.Context, id uint) (*models.Conversation, error)
	LockConversation(ctx context.Context, id uint) (*models.Conversation, error)
	UserByID(ctx context.Context, id string) (*models.User, error)

	CompareAndSetStatus(ctx context.Context, conversationID, oldStatusID, newStatusID uint) (bool, error)
	AppendStatusHistory(ctx context.Context, entry *models.ConversationStatusHistory) error
	LatestStatusHistory(ctx context.Context, conversationID uint) (*models.ConversationStatusHistory, error)
	StatusAsOf(ctx context.Context, conversationID uint, at time.Time) (*uint, error)
	AppendEvent(ctx context.Context, event *models.ConversationEvent) error

	CountMessagesBetween(ctx context.Context, conversationID uint, from, to time.Time) (int64, error)
	InsertCycle(ctx context.Context, cycle *models.ConversationCycle) error
	ResetConversationCycle(ctx context.Context, reset CycleReset) (bool, error)
	CyclesWithQuotations(ctx context.Context, conversationID uint) ([]models.ConversationCycle, error)

	CreateQuotation(ctx context.Context, q *models.Quotation) error
	QuotationByID(ctx context.Context, id uint) (*models.Quotation, error)
	QuotationsSince(ctx context.Context, conversationID uint, since time.Time) ([]models.Quotation, error)
	AttachQuotations(ctx context.Context, conversationID, cycleID uint, from, to time.Time) (int64, error)
}

// SLAStore backs the breach monitor.
type SLAStore interface {
	ActiveSlaSettings(ctx context.Context) (*models.SlaSettings, error)
	FindBreachCandidates(ctx context.Context, cutoff time.Time) ([]models.BreachCandidate, error)
	LastCycleCompletedAt(ctx context.Context, conversationID uint) (*time.Time, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	UsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	ClaimBreach(ctx context.Context, entry *models.SlaBreachLog) (bool, error)
	RecordBreachDelivery(ctx context.Context, id uint, recipients, delivered int) error
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.AgentNotification) error
}

// EventBus fans viewer events out across server processes.
type EventBus interface {
	PublishEvent(ctx context.Context, channel string, ev models.ViewerEvent) error
	SubscribeEvents(ctx context.Context, channel string) *redis.PubSub
}

// Locker runs fn while holding a cluster-wide named lock.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// ErrLockHeld is returned by WithLock when another process owns the lock.
var ErrLockHeld = errors.New("lock is held by another process")

// Service is the gorm/redis implementation of every store interface.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	rs    *redsync.Redsync
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	s := &Service{DB: db, Redis: rdb}
	if rdb != nil {
		s.rs = redsync.New(goredis.NewPool(rdb))
	}
	return s
}

// Migrate creates or updates every table.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(models.All()...)
}

// db returns the handle bound to ctx.
func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

// WithTx runs fn inside one database transaction.
func (s *Service) WithTx(ctx context.Context, fn func(tx LifecycleStore) error) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx, Redis: s.Redis, rs: s.rs})
	})
}

// PublishEvent publishes a viewer event to Redis Pub/Sub.
func (s *Service) PublishEvent(ctx context.Context, channel string, ev models.ViewerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, channel, payload).Err()
}

// SubscribeEvents subscribes to the viewer event channel.
func (s *Service) SubscribeEvents(ctx context.Context, channel string) *redis.PubSub {
	return s.Redis.Subscribe(ctx, channel)
}

// WithLock holds a redsync mutex for the duration of fn. The lock expires after ttl
// so a crashed holder cannot block other processes forever.
func (s *Service) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if s.rs == nil {
		return fn(ctx)
	}

	mutex := s.rs.NewMutex(name, redsync.WithExpiry(ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return ErrLockHeld
		}
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer func() {
		if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Str("lock", name).Msg("failed to release lock")
		}
	}()

	return fn(ctx)
}

// first loads one row into dest, returning (false, nil) when nothing matches.
func first(q *gorm.DB, dest any) (bool, error) {
	err := q.First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
