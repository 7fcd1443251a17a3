package chathub_test

import (
	"sync/atomic"

	"helpdesk/backend/internal/models"
)

type MockClient struct {
	id             string
	userID         string
	conversationID uint
	RecvChannel    chan models.ViewerEvent
	closed         atomic.Bool
}

func newMockClient(id string, conversationID uint, buffer int) *MockClient {
	return &MockClient{
		id:             id,
		userID:         "user-" + id,
		conversationID: conversationID,
		RecvChannel:    make(chan models.ViewerEvent, buffer),
	}
}

func (c *MockClient) GetID() string                               { return c.id }
func (c *MockClient) GetUserID() string                           { return c.userID }
func (c *MockClient) GetConversationID() uint                     { return c.conversationID }
func (c *MockClient) SetConversationID(id uint)                   { c.conversationID = id }
func (c *MockClient) GetSendChannel() chan<- models.ViewerEvent { return c.RecvChannel }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed.Store(true)
}
