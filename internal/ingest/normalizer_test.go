package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/config"
	"helpdesk/backend/internal/ingest"
	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC)

type deps struct {
	store     *MockStore
	lifecycle *MockLifecycle
	notifier  *MockNotifier
	queue     *MockQueue
	n         *ingest.Normalizer
}

func newDeps() *deps {
	d := &deps{store: new(MockStore), lifecycle: new(MockLifecycle), notifier: new(MockNotifier), queue: new(MockQueue)}
	d.notifier.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	d.n = ingest.NewNormalizer(d.store, d.lifecycle, d.notifier, d.queue, nil)
	d.n.SetClock(func() time.Time { return now })
	return d
}

func textEvent(from, externalID, body string, at time.Time) channel.MessageEvent {
	id := externalID
	return channel.MessageEvent{
		ExternalUserID: from,
		ProfileName:    "Lucia",
		Message: models.Message{
			Direction:  models.DirectionInbound,
			Type:       models.MessageText,
			Body:       body,
			ExternalID: &id,
			Timestamp:  at,
		},
	}
}

func setID(id uint) func(args mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(1).(*models.Message).ID = id
	}
}

func TestHandleMessage_FirstMessageCreatesConversation(t *testing.T) {
	// Arrange
	d := newDeps()
	ctx := context.Background()
	d.store.On("ConversationByExternalUser", ctx, "5215551234").Return(nil, nil)
	d.lifecycle.On("InitialStatus", ctx).Return(&models.ConversationStatus{ID: 3, Name: "New"}, nil)
	d.store.On("EnsureConversation", ctx, mock.MatchedBy(func(c *models.Conversation) bool {
		return c.ExternalUserID == "5215551234" && c.StatusID == 3 && c.DisplayName == "Lucia" && c.CurrentCycleStartedAt.Equal(now)
	})).Return(&models.Conversation{ID: 7, StatusID: 3, CurrentCycleStartedAt: now}, true, nil)
	d.store.On("AppendStatusHistory", ctx, mock.MatchedBy(func(h *models.ConversationStatusHistory) bool {
		return h.ConversationID == 7 && h.OldStatusID == nil && h.NewStatusID == 3
	})).Return(nil)
	d.store.On("UpsertMessage", ctx, mock.MatchedBy(func(m *models.Message) bool {
		return m.ConversationID == 7 && m.Body == "hola, precio?"
	})).Run(setID(11)).Return(true, nil)
	d.store.On("TouchLastMessage", ctx, uint(7), "hola, precio?", now.Add(-time.Second)).Return(nil)
	d.queue.On("Enqueue", uint(7), "hola, precio?").Return(true)

	// Act
	msg, inserted, err := d.n.HandleMessage(ctx, textEvent("5215551234", "wamid.1", "hola, precio?", now.Add(-time.Second)))

	// Assert
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, uint(11), msg.ID)
	d.store.AssertExpectations(t)
	d.queue.AssertExpectations(t)
	d.lifecycle.AssertNotCalled(t, "CompleteIfFinal", mock.Anything, mock.Anything, mock.Anything)
	d.notifier.AssertNotCalled(t, "NotifyUsers", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	d.notifier.AssertCalled(t, "Publish", ctx, models.EventMessages, uint(7), mock.Anything)
}

func TestHandleMessage_RedeliveryHasNoSideEffects(t *testing.T) {
	// Arrange
	d := newDeps()
	ctx := context.Background()
	last := now
	assigned := "agent-1"
	conv := &models.Conversation{ID: 7, DisplayName: "Lucia", AssignedTo: &assigned, LastMessageAt: &last}
	d.store.On("ConversationByExternalUser", ctx, "5215551234").Return(conv, nil)
	d.store.On("UpsertMessage", ctx, mock.Anything).Run(setID(11)).Return(false, nil)
	d.store.On("TouchLastMessage", ctx, uint(7), "hola", now.Add(-time.Minute)).Return(nil)

	// Act
	_, inserted, err := d.n.HandleMessage(ctx, textEvent("5215551234", "wamid.1", "hola", now.Add(-time.Minute)))

	// Assert
	require.NoError(t, err)
	assert.False(t, inserted)
	d.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	d.notifier.AssertNotCalled(t, "NotifyUsers", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	d.lifecycle.AssertNotCalled(t, "CompleteIfFinal", mock.Anything, mock.Anything, mock.Anything)
	d.store.AssertNotCalled(t, "UpdateDisplayName", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleMessage_AssignedConversation(t *testing.T) {
	// Arrange
	d := newDeps()
	ctx := context.Background()
	last := now.Add(-time.Hour)
	assigned := "agent-1"
	conv := &models.Conversation{ID: 7, DisplayName: "Old name", AssignedTo: &assigned, LastMessageAt: &last}
	d.store.On("ConversationByExternalUser", ctx, "5215551234").Return(conv, nil)
	d.store.On("UpdateDisplayName", ctx, uint(7), "Lucia").Return(nil)
	d.lifecycle.On("CompleteIfFinal", ctx, conv, now).Return(true, nil)
	d.store.On("UpsertMessage", ctx, mock.Anything).Run(setID(12)).Return(true, nil)
	d.store.On("TouchLastMessage", ctx, uint(7), "gracias", now).Return(nil)
	d.notifier.On("NotifyUsers", ctx, []string{"agent-1"}, uint(7), mock.MatchedBy(func(id *uint) bool {
		return id != nil && *id == 12
	}), models.NotificationNewMessage).Once()
	d.queue.On("Enqueue", uint(7), "gracias").Return(true)

	// Act
	_, inserted, err := d.n.HandleMessage(ctx, textEvent("5215551234", "wamid.2", "gracias", now))

	// Assert
	require.NoError(t, err)
	assert.True(t, inserted)
	d.lifecycle.AssertExpectations(t)
	d.notifier.AssertExpectations(t)
	d.queue.AssertExpectations(t)
}

func TestHandleMessage_ReopeningMessageStartsNextCycleAtItsTimestamp(t *testing.T) {
	// Arrange
	d := newDeps()
	ctx := context.Background()
	last := now.Add(-time.Hour)
	sentAt := now.Add(-2 * time.Second)
	conv := &models.Conversation{ID: 7, DisplayName: "Lucia", LastMessageAt: &last}
	var order []string
	d.store.On("ConversationByExternalUser", ctx, "5215551234").Return(conv, nil)
	d.lifecycle.On("CompleteIfFinal", ctx, conv, sentAt).
		Run(func(mock.Arguments) { order = append(order, "complete") }).Return(true, nil)
	d.store.On("UpsertMessage", ctx, mock.MatchedBy(func(m *models.Message) bool { return m.Timestamp.Equal(sentAt) })).
		Run(func(mock.Arguments) { order = append(order, "upsert") }).Return(true, nil)
	d.store.On("TouchLastMessage", ctx, uint(7), "hola", sentAt).Return(nil)
	d.queue.On("Enqueue", uint(7), "hola").Return(true)

	// Act
	_, _, err := d.n.HandleMessage(ctx, textEvent("5215551234", "wamid.9", "hola", sentAt))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"complete", "upsert"}, order)
	d.lifecycle.AssertExpectations(t)
}

func TestHandleMessage_MediaIsNotAutoReplied(t *testing.T) {
	d := newDeps()
	ctx := context.Background()
	d.store.On("ConversationByExternalUser", ctx, "521").Return(&models.Conversation{ID: 1}, nil)
	d.lifecycle.On("CompleteIfFinal", ctx, mock.Anything, mock.Anything).Return(false, nil)
	d.store.On("UpsertMessage", ctx, mock.Anything).Return(true, nil)
	d.store.On("TouchLastMessage", ctx, uint(1), "[Image]", now).Return(nil)
	ev := textEvent("521", "wamid.3", "[Image]", now)
	ev.ProfileName = ""
	ev.Message.Type = models.MessageImage

	_, _, err := d.n.HandleMessage(ctx, ev)

	require.NoError(t, err)
	d.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestHandleMessage_CompletionFailureDoesNotBlockIngestion(t *testing.T) {
	d := newDeps()
	ctx := context.Background()
	d.store.On("ConversationByExternalUser", ctx, "521").Return(&models.Conversation{ID: 1, DisplayName: "Lucia"}, nil)
	d.lifecycle.On("CompleteIfFinal", ctx, mock.Anything, mock.Anything).Return(false, errors.New("deadlock detected"))
	d.store.On("UpsertMessage", ctx, mock.Anything).Return(true, nil)
	d.store.On("TouchLastMessage", ctx, uint(1), "hola", now).Return(nil)
	d.queue.On("Enqueue", uint(1), "hola").Return(false)

	_, inserted, err := d.n.HandleMessage(ctx, textEvent("521", "wamid.4", "hola", now))

	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestHandleMessage_StoreFailure(t *testing.T) {
	d := newDeps()
	ctx := context.Background()
	d.store.On("ConversationByExternalUser", ctx, "521").Return(nil, errors.New("connection refused"))

	_, _, err := d.n.HandleMessage(ctx, textEvent("521", "wamid.5", "hola", now))

	assert.Error(t, err)
	d.store.AssertNotCalled(t, "UpsertMessage", mock.Anything, mock.Anything)
}

func TestHandleStatus(t *testing.T) {
	t.Run("read only replaces sent or delivered", func(t *testing.T) {
		d := newDeps()
		ctx := context.Background()
		d.store.On("UpdateDeliveryStatus", ctx, storage.DeliveryUpdate{
			ExternalID: "wamid.out", Status: models.DeliveryRead, At: now,
			From: []string{models.DeliverySent, models.DeliveryDelivered},
		}).Return(&models.Message{ID: 5, ConversationID: 9}, nil)

		err := d.n.HandleStatus(ctx, channel.StatusEvent{ExternalID: "wamid.out", Status: models.DeliveryRead, At: now})

		require.NoError(t, err)
		d.store.AssertExpectations(t)
		d.notifier.AssertCalled(t, "Publish", ctx, models.EventMessages, uint(9), mock.Anything)
	})

	t.Run("unknown message is a silent no-op", func(t *testing.T) {
		d := newDeps()
		ctx := context.Background()
		d.store.On("UpdateDeliveryStatus", ctx, mock.Anything).Return(nil, nil)

		err := d.n.HandleStatus(ctx, channel.StatusEvent{ExternalID: "wamid.later", Status: models.DeliveryDelivered, At: now})

		require.NoError(t, err)
		d.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unrecognized status is ignored", func(t *testing.T) {
		d := newDeps()

		err := d.n.HandleStatus(context.Background(), channel.StatusEvent{ExternalID: "wamid.x", Status: "deleted"})

		require.NoError(t, err)
		d.store.AssertNotCalled(t, "UpdateDeliveryStatus", mock.Anything, mock.Anything)
	})
}

func TestHandleReaction(t *testing.T) {
	t.Run("unknown target", func(t *testing.T) {
		d := newDeps()
		ctx := context.Background()
		d.store.On("SetReaction", ctx, "wamid.gone", "👍").Return(nil, nil)

		err := d.n.HandleReaction(ctx, channel.ReactionEvent{TargetExternalID: "wamid.gone", Emoji: "👍"})

		require.NoError(t, err)
		d.notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("clears the reaction", func(t *testing.T) {
		d := newDeps()
		ctx := context.Background()
		d.store.On("SetReaction", ctx, "wamid.1", "").Return(&models.Message{ID: 1, ConversationID: 2}, nil)

		err := d.n.HandleReaction(ctx, channel.ReactionEvent{TargetExternalID: "wamid.1"})

		require.NoError(t, err)
		d.notifier.AssertCalled(t, "Publish", ctx, models.EventMessages, uint(2), mock.Anything)
	})
}

func TestHandleCall_ForwardsToConversationViewers(t *testing.T) {
	d := newDeps()
	ctx := context.Background()
	d.store.On("ConversationByExternalUser", ctx, "521").Return(&models.Conversation{ID: 4}, nil)
	ev := channel.CallEvent{ExternalUserID: "521", CallID: "c1", Event: "connect"}

	err := d.n.HandleCall(ctx, ev)

	require.NoError(t, err)
	d.notifier.AssertCalled(t, "Publish", ctx, models.EventCall, uint(4), ev)
}

func TestProcess_ContinuesAfterFailure(t *testing.T) {
	// Arrange
	d := newDeps()
	ctx := context.Background()
	d.store.On("UpdateDeliveryStatus", ctx, mock.MatchedBy(func(u storage.DeliveryUpdate) bool {
		return u.ExternalID == "bad"
	})).Return(nil, errors.New("timeout"))
	d.store.On("SetReaction", ctx, "wamid.1", "❤").Return(nil, nil)

	// Act
	err := d.n.Process(ctx, []channel.Event{
		channel.StatusEvent{ExternalID: "bad", Status: models.DeliverySent},
		channel.ReactionEvent{TargetExternalID: "wamid.1", Emoji: "❤"},
	})

	// Assert
	assert.ErrorContains(t, err, "timeout")
	d.store.AssertCalled(t, "SetReaction", ctx, "wamid.1", "❤")
}

func TestRecordOutbound(t *testing.T) {
	d := newDeps()
	ctx := context.Background()
	d.store.On("UpsertMessage", ctx, mock.MatchedBy(func(m *models.Message) bool {
		return m.Direction == models.DirectionOutbound && m.IsAutoReply && *m.ExternalID == "wamid.sent" &&
			m.DeliveryStatus == models.DeliverySent && m.Timestamp.Equal(now)
	})).Return(true, nil)
	d.store.On("TouchLastMessage", ctx, uint(3), "Nuestro horario es...", now).Return(nil)

	msg, err := d.n.RecordOutbound(ctx, 3, "Nuestro horario es...", "wamid.sent", true)

	require.NoError(t, err)
	assert.Equal(t, uint(3), msg.ConversationID)
	d.store.AssertExpectations(t)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("ñ", config.MaxPreviewLength+10)

	assert.Equal(t, "short", ingest.Preview("short"))
	assert.Equal(t, config.MaxPreviewLength, len([]rune(ingest.Preview(long))))
}
