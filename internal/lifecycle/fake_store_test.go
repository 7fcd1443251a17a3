package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"helpdesk/backend/internal/models"
	"helpdesk/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// fakeStore is an in-memory LifecycleStore. WithTx restores the previous state when
// fn fails so tests can observe rollback.
type fakeStore struct {
	mu sync.Mutex

	statuses   []models.ConversationStatus
	convs      map[uint]models.Conversation
	users      map[string]models.User
	history    []models.ConversationStatusHistory
	events     []models.ConversationEvent
	cycles     []models.ConversationCycle
	quotations []models.Quotation
	messages   map[uint][]time.Time

	insertCycleErr error
	// casMiss makes the next CompareAndSetStatus report a lost race.
	casMiss bool
}

func newFakeStore(statuses ...models.ConversationStatus) *fakeStore {
	return &fakeStore{
		statuses: statuses,
		convs:    make(map[uint]models.Conversation),
		users:    make(map[string]models.User),
		messages: make(map[uint][]time.Time),
	}
}

type snapshot struct {
	convs      map[uint]models.Conversation
	history    int
	events     int
	cycles     int
	quotations []models.Quotation
}

func (f *fakeStore) snapshot() snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	convs := make(map[uint]models.Conversation, len(f.convs))
	for k, v := range f.convs {
		convs[k] = v
	}
	return snapshot{
		convs:      convs,
		history:    len(f.history),
		events:     len(f.events),
		cycles:     len(f.cycles),
		quotations: append([]models.Quotation(nil), f.quotations...),
	}
}

func (f *fakeStore) restore(s snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs = s.convs
	f.history = f.history[:s.history]
	f.events = f.events[:s.events]
	f.cycles = f.cycles[:s.cycles]
	f.quotations = s.quotations
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx storage.LifecycleStore) error) error {
	snap := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) ListStatuses(ctx context.Context) ([]models.ConversationStatus, error) {
	return append([]models.ConversationStatus(nil), f.statuses...), nil
}

func (f *fakeStore) StatusByID(ctx context.Context, id uint) (*models.ConversationStatus, error) {
	for _, s := range f.statuses {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeStore) LockConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	return f.ConversationByID(ctx, id)
}

func (f *fakeStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) CompareAndSetStatus(ctx context.Context, conversationID, oldStatusID, newStatusID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.casMiss {
		f.casMiss = false
		return false, nil
	}
	c, ok := f.convs[conversationID]
	if !ok || c.StatusID != oldStatusID {
		return false, nil
	}
	c.StatusID = newStatusID
	f.convs[conversationID] = c
	return true, nil
}

func (f *fakeStore) AppendStatusHistory(ctx context.Context, entry *models.ConversationStatusHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uint(len(f.history) + 1)
	f.history = append(f.history, *entry)
	return nil
}

func (f *fakeStore) LatestStatusHistory(ctx context.Context, conversationID uint) (*models.ConversationStatusHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.history) - 1; i >= 0; i-- {
		if f.history[i].ConversationID == conversationID {
			h := f.history[i]
			return &h, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) StatusAsOf(ctx context.Context, conversationID uint, at time.Time) (*uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.history) - 1; i >= 0; i-- {
		h := f.history[i]
		if h.ConversationID == conversationID && !h.CreatedAt.After(at) {
			id := h.NewStatusID
			return &id, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, event *models.ConversationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) CountMessagesBetween(ctx context.Context, conversationID uint, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, ts := range f.messages[conversationID] {
		if !ts.Before(from) && ts.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertCycle(ctx context.Context, cycle *models.ConversationCycle) error {
	if f.insertCycleErr != nil {
		return f.insertCycleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cycles {
		if c.ConversationID == cycle.ConversationID && c.CycleNumber == cycle.CycleNumber {
			return errors.New("duplicate cycle number")
		}
	}
	cycle.ID = uint(len(f.cycles) + 1)
	f.cycles = append(f.cycles, *cycle)
	return nil
}

func (f *fakeStore) ResetConversationCycle(ctx context.Context, reset storage.CycleReset) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[reset.ConversationID]
	if !ok || c.CycleCount != reset.ExpectedCycleCount {
		return false, nil
	}
	c.StatusID = reset.StatusID
	c.CycleCount++
	c.CurrentCycleStartedAt = reset.StartedAt
	f.convs[reset.ConversationID] = c
	return true, nil
}

func (f *fakeStore) CyclesWithQuotations(ctx context.Context, conversationID uint) ([]models.ConversationCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ConversationCycle
	for _, c := range f.cycles {
		if c.ConversationID != conversationID {
			continue
		}
		for _, q := range f.quotations {
			if q.CycleID != nil && *q.CycleID == c.ID {
				c.Quotations = append(c.Quotations, q)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) CreateQuotation(ctx context.Context, q *models.Quotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.ID = uint(len(f.quotations) + 1)
	f.quotations = append(f.quotations, *q)
	return nil
}

func (f *fakeStore) QuotationByID(ctx context.Context, id uint) (*models.Quotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.quotations {
		if q.ID == id {
			return &q, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) QuotationsSince(ctx context.Context, conversationID uint, since time.Time) ([]models.Quotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Quotation
	for _, q := range f.quotations {
		if q.ConversationID == conversationID && !q.CreatedAt.Before(since) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeStore) AttachQuotations(ctx context.Context, conversationID, cycleID uint, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for i, q := range f.quotations {
		if q.ConversationID != conversationID || q.CycleID != nil || q.CreatedAt.Before(from) || q.CreatedAt.After(to) {
			continue
		}
		id := cycleID
		f.quotations[i].CycleID = &id
		n++
	}
	return n, nil
}

func (f *fakeStore) conv(id uint) models.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs[id]
}

// MockPublisher records viewer events.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, name string, conversationID uint, payload any) {
	m.Called(ctx, name, conversationID, payload)
}

var _ storage.LifecycleStore = (*fakeStore)(nil)
