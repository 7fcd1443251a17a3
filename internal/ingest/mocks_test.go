package ingest_test

import (
	"context"
	"time"

	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *MockStore) ConversationByExternalUser(ctx context.Context, externalUserID string) (*models.Conversation, error) {
	args := m.Called(ctx, externalUserID)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *MockStore) EnsureConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	args := m.Called(ctx, conv)
	out, _ := args.Get(0).(*models.Conversation)
	return out, args.Bool(1), args.Error(2)
}

func (m *MockStore) UpdateDisplayName(ctx context.Context, conversationID uint, name string) error {
	return m.Called(ctx, conversationID, name).Error(0)
}

func (m *MockStore) TouchLastMessage(ctx context.Context, conversationID uint, preview string, at time.Time) error {
	return m.Called(ctx, conversationID, preview, at).Error(0)
}

func (m *MockStore) AppendStatusHistory(ctx context.Context, entry *models.ConversationStatusHistory) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockStore) UpsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) UpdateDeliveryStatus(ctx context.Context, update storage.DeliveryUpdate) (*models.Message, error) {
	args := m.Called(ctx, update)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *MockStore) SetReaction(ctx context.Context, externalID, emoji string) (*models.Message, error) {
	args := m.Called(ctx, externalID, emoji)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) InitialStatus(ctx context.Context) (*models.ConversationStatus, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*models.ConversationStatus)
	return s, args.Error(1)
}

func (m *MockLifecycle) CompleteIfFinal(ctx context.Context, conv *models.Conversation, triggeredAt time.Time) (bool, error) {
	args := m.Called(ctx, conv, triggeredAt)
	return args.Bool(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Publish(ctx context.Context, name string, conversationID uint, payload any) {
	m.Called(ctx, name, conversationID, payload)
}

func (m *MockNotifier) NotifyUsers(ctx context.Context, userIDs []string, conversationID uint, messageID *uint, kind string) {
	m.Called(ctx, userIDs, conversationID, messageID, kind)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(conversationID uint, text string) bool {
	return m.Called(conversationID, text).Bool(0)
}

var _ storage.ConversationStore = (*MockStore)(nil)
