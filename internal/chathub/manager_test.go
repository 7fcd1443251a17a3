package chathub_test

import (
	"context"
	"testing"
	"time"

	"helpdesk/backend/internal/chathub"
	"helpdesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*chathub.ManagerService, context.CancelFunc) {
	t.Helper()
	hub := chathub.NewManagerService(nil, "test")
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, c *MockClient) (models.ViewerEvent, bool) {
	t.Helper()
	select {
	case ev := <-c.RecvChannel:
		return ev, true
	case <-time.After(200 * time.Millisecond):
		return models.ViewerEvent{}, false
	}
}

func event(t *testing.T, name string, conversationID uint) models.ViewerEvent {
	t.Helper()
	ev, err := models.NewViewerEvent(name, conversationID, map[string]any{"id": conversationID})
	require.NoError(t, err)
	return ev
}

func TestManager_DeliversConversationEventsToFocusedViewers(t *testing.T) {
	// Arrange
	hub, _ := startHub(t)
	watching := newMockClient("a", 7, 4)
	other := newMockClient("b", 8, 4)
	list := newMockClient("c", 0, 4)
	hub.Register(watching)
	hub.Register(other)
	hub.Register(list)

	// Act
	hub.Broadcast(context.Background(), event(t, models.EventMessages, 7))

	// Assert
	ev, ok := receive(t, watching)
	require.True(t, ok)
	assert.Equal(t, models.EventMessages, ev.Name)
	_, ok = receive(t, other)
	assert.False(t, ok, "viewer of another conversation must not receive the event")
	_, ok = receive(t, list)
	assert.False(t, ok, "list viewer only receives conversations events")
}

func TestManager_DeliversListEventsToListAndFocusedViewers(t *testing.T) {
	hub, _ := startHub(t)
	list := newMockClient("list", 0, 4)
	focused := newMockClient("focused", 3, 4)
	elsewhere := newMockClient("elsewhere", 4, 4)
	hub.Register(list)
	hub.Register(focused)
	hub.Register(elsewhere)

	hub.Broadcast(context.Background(), event(t, models.EventConversations, 3))

	_, ok := receive(t, list)
	assert.True(t, ok)
	_, ok = receive(t, focused)
	assert.True(t, ok)
	_, ok = receive(t, elsewhere)
	assert.False(t, ok)
}

func TestManager_FocusChangesRouting(t *testing.T) {
	hub, _ := startHub(t)
	viewer := newMockClient("v", 0, 4)
	hub.Register(viewer)

	hub.Focus(viewer, 12)
	hub.Broadcast(context.Background(), event(t, models.EventStatus, 12))

	ev, ok := receive(t, viewer)
	require.True(t, ok)
	assert.Equal(t, uint(12), ev.ConversationID)
}

func TestManager_UnregisterClosesClient(t *testing.T) {
	hub, _ := startHub(t)
	viewer := newMockClient("gone", 5, 4)
	hub.Register(viewer)

	hub.Unregister(viewer)
	hub.Broadcast(context.Background(), event(t, models.EventMessages, 5))

	_, ok := receive(t, viewer)
	assert.False(t, ok)
	assert.True(t, viewer.closed.Load())
}

func TestManager_SlowViewerIsDropped(t *testing.T) {
	hub, _ := startHub(t)
	slow := newMockClient("slow", 9, 1)
	hub.Register(slow)

	hub.Broadcast(context.Background(), event(t, models.EventMessages, 9))
	hub.Broadcast(context.Background(), event(t, models.EventMessages, 9))

	assert.Eventually(t, slow.closed.Load, time.Second, 10*time.Millisecond)
}

func TestManager_StopClosesRemainingClients(t *testing.T) {
	hub, cancel := startHub(t)
	viewer := newMockClient("v", 0, 1)
	hub.Register(viewer)

	cancel()

	assert.Eventually(t, viewer.closed.Load, time.Second, 10*time.Millisecond)
	// Registration after shutdown closes the newcomer instead of blocking.
	late := newMockClient("late", 0, 1)
	hub.Register(late)
	assert.True(t, late.closed.Load())
}
