package lifecycle_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"helpdesk/backend/internal/lifecycle"
	"helpdesk/backend/internal/localization"
	"helpdesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const (
	statusNew uint = iota + 1
	statusWorking
	statusQuoted
	statusWon
	statusFollowUp
	statusArchived
	statusLost
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func pipeline() []models.ConversationStatus {
	return []models.ConversationStatus{
		{ID: statusNew, Name: "New", DisplayOrder: 1, IsDefault: true, IsActive: true},
		{ID: statusWorking, Name: "Working", DisplayOrder: 2, IsActive: true},
		{ID: statusQuoted, Name: "Quoted", DisplayOrder: 3, IsActive: true,
			RequiredFields: datatypes.JSON(`[{"key":"amount","label":"Amount","required":true},{"key":"notes","label":"Notes"}]`)},
		{ID: statusWon, Name: "Won", DisplayOrder: 4, IsActive: true, IsFinal: true, AutoResetToStatusID: ptr(statusFollowUp)},
		{ID: statusFollowUp, Name: "Follow-up", DisplayOrder: 5, IsActive: true},
		{ID: statusArchived, Name: "Archived", DisplayOrder: 6, IsActive: false},
		{ID: statusLost, Name: "Lost", DisplayOrder: 7, IsActive: true, IsFinal: true, AutoResetToStatusID: ptr(statusArchived)},
	}
}

type fixture struct {
	store     *fakeStore
	publisher *MockPublisher
	svc       *lifecycle.Service
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	texts, err := localization.New()
	require.NoError(t, err)

	f := &fixture{store: newFakeStore(pipeline()...), publisher: new(MockPublisher), now: baseTime}
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	f.store.users["agent-1"] = models.User{ID: "agent-1", Name: "Ana", Role: models.RoleAgent}
	f.svc = lifecycle.NewService(f.store, f.publisher, texts, "en")
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) addConversation(id, status uint, assignedTo *string) {
	f.store.convs[id] = models.Conversation{
		ID:                    id,
		ExternalUserID:        "5215550000",
		StatusID:              status,
		AssignedTo:            assignedTo,
		CurrentCycleStartedAt: baseTime.Add(-time.Hour),
	}
}

var (
	agent = lifecycle.Actor{UserID: "agent-1", Role: models.RoleAgent}
	other = lifecycle.Actor{UserID: "agent-2", Name: "Bruno", Role: models.RoleAgent}
	admin = lifecycle.Actor{UserID: "admin-1", Name: "Root", Role: models.RoleAdmin}
)

func TestResolveInitialStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.ConversationStatus
		want     uint
		found    bool
	}{
		{
			name: "active default wins",
			statuses: []models.ConversationStatus{
				{ID: 1, IsActive: true},
				{ID: 2, IsActive: true, IsDefault: true},
			},
			want: 2, found: true,
		},
		{
			name: "first active when no default",
			statuses: []models.ConversationStatus{
				{ID: 1, IsActive: false},
				{ID: 2, IsActive: true},
				{ID: 3, IsActive: true},
			},
			want: 2, found: true,
		},
		{
			name: "inactive default is skipped",
			statuses: []models.ConversationStatus{
				{ID: 1, IsActive: false, IsDefault: true},
				{ID: 2, IsActive: true},
			},
			want: 2, found: true,
		},
		{
			name: "any status when none active",
			statuses: []models.ConversationStatus{
				{ID: 4, IsActive: false},
				{ID: 5, IsActive: false},
			},
			want: 4, found: true,
		},
		{
			name:  "no statuses",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := lifecycle.ResolveInitialStatus(tt.statuses)

			assert.Equal(t, tt.found, ok)
			if tt.found {
				require.NotNil(t, status)
				assert.Equal(t, tt.want, status.ID)
			}
		})
	}
}

func TestInitialStatus_UsesStore(t *testing.T) {
	f := newFixture(t)

	status, err := f.svc.InitialStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, statusNew, status.ID)
}

func TestChangeStatus_SameStatusIsNoOp(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.addConversation(1, statusNew, ptr("agent-1"))

	// Act
	res, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusNew, Actor: agent,
	})

	// Assert
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, f.store.history)
	assert.Empty(t, f.store.events)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChangeStatus_AssignedAgent(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.addConversation(1, statusNew, ptr("agent-1"))

	// Act
	res, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusWorking, Actor: agent, Reason: "called back",
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "Working", res.NewStatus.Name)
	assert.Equal(t, statusWorking, f.store.conv(1).StatusID)

	require.Len(t, f.store.history, 1)
	h := f.store.history[0]
	assert.Equal(t, statusNew, *h.OldStatusID)
	assert.Equal(t, statusWorking, h.NewStatusID)
	assert.Equal(t, "agent-1", *h.ChangedBy)
	assert.Equal(t, "called back", h.Reason)

	require.Len(t, f.store.events, 1)
	assert.Equal(t, models.EventStatusChange, f.store.events[0].Kind)
	assert.Equal(t, "Status changed from New to Working by Ana: called back", f.store.events[0].Text)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, models.EventStatus, uint(1), mock.Anything)
	f.publisher.AssertCalled(t, "Publish", mock.Anything, models.EventConversations, uint(1), mock.Anything)
}

func TestChangeStatus_UnassignedAgentIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.addConversation(1, statusNew, ptr("agent-1"))

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusWorking, Actor: other,
	})

	assert.ErrorIs(t, err, lifecycle.ErrForbidden)
	assert.Equal(t, statusNew, f.store.conv(1).StatusID)
	assert.Empty(t, f.store.history)
}

func TestChangeStatus_AdminMayChangeAnyConversation(t *testing.T) {
	f := newFixture(t)
	f.addConversation(1, statusNew, nil)

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusWorking, Actor: admin,
	})

	require.NoError(t, err)
	assert.Equal(t, statusWorking, f.store.conv(1).StatusID)
	assert.Contains(t, f.store.events[0].Text, "by Root")
}

func TestChangeStatus_StaleOldStatusConflicts(t *testing.T) {
	f := newFixture(t)
	f.addConversation(1, statusWorking, ptr("agent-1"))

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusQuoted, Actor: agent,
		Fields: map[string]any{"amount": 10},
	})

	assert.ErrorIs(t, err, lifecycle.ErrStatusConflict)
	assert.Equal(t, statusWorking, f.store.conv(1).StatusID)
}

func TestChangeStatus_LostRaceConflictsAndRollsBack(t *testing.T) {
	f := newFixture(t)
	f.addConversation(1, statusNew, ptr("agent-1"))
	f.store.casMiss = true

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusWorking, Actor: agent,
	})

	assert.ErrorIs(t, err, lifecycle.ErrStatusConflict)
	assert.Empty(t, f.store.history)
	assert.Empty(t, f.store.events)
}

func TestChangeStatus_RequiredFields(t *testing.T) {
	t.Run("missing required key", func(t *testing.T) {
		f := newFixture(t)
		f.addConversation(1, statusWorking, ptr("agent-1"))

		_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
			ConversationID: 1, OldStatusID: statusWorking, NewStatusID: statusQuoted, Actor: agent,
			Fields: map[string]any{"notes": "x"},
		})

		assert.ErrorIs(t, err, lifecycle.ErrValidation)
		assert.Contains(t, err.Error(), "Amount")
		assert.Equal(t, statusWorking, f.store.conv(1).StatusID)
	})

	t.Run("payload is stored on the history row", func(t *testing.T) {
		f := newFixture(t)
		f.addConversation(1, statusWorking, ptr("agent-1"))

		_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
			ConversationID: 1, OldStatusID: statusWorking, NewStatusID: statusQuoted, Actor: agent,
			Fields: map[string]any{"amount": 1500.5},
		})

		require.NoError(t, err)
		var stored map[string]any
		require.NoError(t, json.Unmarshal(f.store.history[0].FieldData, &stored))
		assert.Equal(t, 1500.5, stored["amount"])
	})
}

func TestChangeStatus_InactiveTargetIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.addConversation(1, statusNew, nil)

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusArchived, Actor: admin,
	})

	assert.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestChangeStatus_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 99, OldStatusID: statusNew, NewStatusID: statusWorking, Actor: admin,
	})

	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestChangeStatus_SystemActorName(t *testing.T) {
	f := newFixture(t)
	f.addConversation(1, statusNew, nil)

	_, err := f.svc.ChangeStatus(context.Background(), lifecycle.ChangeStatusRequest{
		ConversationID: 1, OldStatusID: statusNew, NewStatusID: statusWorking, Actor: lifecycle.SystemActor,
	})

	require.NoError(t, err)
	assert.Nil(t, f.store.history[0].ChangedBy)
	assert.Equal(t, "Status changed from New to Working by System", f.store.events[0].Text)
}
