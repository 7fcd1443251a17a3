package autoreply_test

import (
	"context"
	"time"

	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/similarity"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) LoadAutoReplySettings(ctx context.Context) (*models.AutoReplySettings, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*models.AutoReplySettings)
	return s, args.Error(1)
}

func (m *MockStore) ActiveRules(ctx context.Context) ([]models.AutoReplyRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]models.AutoReplyRule)
	return rules, args.Error(1)
}

func (m *MockStore) BusinessHours(ctx context.Context, weekday time.Weekday) ([]models.BusinessHour, error) {
	args := m.Called(ctx, weekday)
	hours, _ := args.Get(0).([]models.BusinessHour)
	return hours, args.Error(1)
}

func (m *MockStore) LastAgentMessageAt(ctx context.Context, conversationID uint) (*time.Time, error) {
	args := m.Called(ctx, conversationID)
	at, _ := args.Get(0).(*time.Time)
	return at, args.Error(1)
}

func (m *MockStore) CountAutoRepliesSince(ctx context.Context, conversationID uint, since time.Time) (int64, error) {
	args := m.Called(ctx, conversationID, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	args := m.Called(ctx, id)
	conv, _ := args.Get(0).(*models.Conversation)
	return conv, args.Error(1)
}

func (m *MockStore) InsertAutoReplyLog(ctx context.Context, entry *models.AutoReplyLog) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockStore) InsertUnrecognized(ctx context.Context, msg *models.UnrecognizedMessage) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockStore) SaveRuleEmbedding(ctx context.Context, ruleID uint, vector []float64, at time.Time) error {
	return m.Called(ctx, ruleID, vector, at).Error(0)
}

type MockScorer struct {
	mock.Mock
	enabled bool
}

func (m *MockScorer) IsEnabled() bool { return m.enabled }

func (m *MockScorer) Similarity(ctx context.Context, req similarity.SimilarityRequest) (*similarity.SimilarityResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*similarity.SimilarityResponse)
	return resp, args.Error(1)
}

func (m *MockScorer) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	args := m.Called(ctx, texts)
	vectors, _ := args.Get(0).([][]float64)
	return vectors, args.Error(1)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendText(ctx context.Context, to, body string) (*channel.SendResult, error) {
	args := m.Called(ctx, to, body)
	res, _ := args.Get(0).(*channel.SendResult)
	return res, args.Error(1)
}

func (m *MockSender) SendTemplate(ctx context.Context, to string, tpl channel.Template) (*channel.SendResult, error) {
	args := m.Called(ctx, to, tpl)
	res, _ := args.Get(0).(*channel.SendResult)
	return res, args.Error(1)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordOutbound(ctx context.Context, conversationID uint, body, externalID string, autoReply bool) (*models.Message, error) {
	args := m.Called(ctx, conversationID, body, externalID, autoReply)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Handle(ctx context.Context, conversationID uint, text string) {
	m.Called(ctx, conversationID, text)
}
