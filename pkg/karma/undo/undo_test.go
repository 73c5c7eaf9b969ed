package undo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmicbot/pkg/karma/model"
	"karmicbot/pkg/karma/store"
	"karmicbot/pkg/karma/transport"
)

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (f *fakeCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = b
	return nil
}

func (f *fakeCache) GetJSON(ctx context.Context, key string, dest any) error {
	b, ok := f.data[key]
	if !ok {
		return assert.AnError
	}
	return json.Unmarshal(b, dest)
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	delete(f.data, key)
	return nil
}

type fakeStore struct {
	store.Store
	reversed        []int64
	modEvents       map[int64]model.ModeratorEvent
	deletedModEvent int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{modEvents: map[int64]model.ModeratorEvent{}}
}

func (f *fakeStore) ReverseKarmaEvent(ctx context.Context, karmaEventID int64, rollbackDelta float64) error {
	f.reversed = append(f.reversed, karmaEventID)
	return nil
}

func (f *fakeStore) GetModeratorEvent(ctx context.Context, id int64) (model.ModeratorEvent, bool, error) {
	ev, ok := f.modEvents[id]
	return ev, ok, nil
}

func (f *fakeStore) DeleteModeratorEvent(ctx context.Context, id int64) error {
	f.deletedModEvent = id
	return nil
}

type fakeTransport struct {
	transport.Transport
	deletedMessage string
	liftedUntil    *time.Time
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatExternalID int64, messageID string) error {
	f.deletedMessage = messageID
	return nil
}

func (f *fakeTransport) RestrictChatMember(ctx context.Context, chatExternalID, userExternalID int64, until time.Time) error {
	f.liftedUntil = &until
	return nil
}

func TestIssueAndCancel(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	tr := &fakeTransport{}
	m := New(c, s, tr, time.Minute)

	token, err := m.Issue(context.Background(), Payload{
		ReactorExternalID:     42,
		KarmaEventID:          7,
		RollbackDelta:         0.1,
		ChatExternalID:        1,
		NotificationMessageID: "msg-1",
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), token, 42))
	assert.Equal(t, []int64{7}, s.reversed)
	assert.Equal(t, "msg-1", tr.deletedMessage)
}

func TestCancelRejectsWrongUser(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	tr := &fakeTransport{}
	m := New(c, s, tr, time.Minute)

	token, err := m.Issue(context.Background(), Payload{ReactorExternalID: 42, KarmaEventID: 7})
	require.NoError(t, err)

	err = m.Cancel(context.Background(), token, 999)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, s.reversed)
}

func TestCancelIsIdempotent(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	tr := &fakeTransport{}
	m := New(c, s, tr, time.Minute)

	token, err := m.Issue(context.Background(), Payload{ReactorExternalID: 42, KarmaEventID: 7})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), token, 42))
	err = m.Cancel(context.Background(), token, 42)
	assert.ErrorIs(t, err, ErrExpiredOrUsed)
	assert.Len(t, s.reversed, 1)
}

func TestCancelLiftsActiveModeratorEvent(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	s.modEvents[99] = model.ModeratorEvent{ID: 99, UserID: 5, Type: model.EventAutoMute, Date: time.Now()}
	tr := &fakeTransport{}
	m := New(c, s, tr, time.Minute)

	token, err := m.Issue(context.Background(), Payload{
		ReactorExternalID:         42,
		KarmaEventID:              7,
		ModeratorEventID:          99,
		ModeratorTargetExternalID: 5,
		ChatExternalID:            1,
	})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), token, 42))
	assert.Equal(t, int64(99), s.deletedModEvent)
	require.NotNil(t, tr.liftedUntil)
	assert.True(t, tr.liftedUntil.IsZero())
}

func TestCancelModeratorEventDirectPath(t *testing.T) {
	s := newFakeStore()
	s.modEvents[5] = model.ModeratorEvent{ID: 5, UserID: 10, Type: model.EventMute, Date: time.Now()}
	tr := &fakeTransport{}
	m := New(newFakeCache(), s, tr, time.Minute)

	require.NoError(t, m.CancelModeratorEvent(context.Background(), 1, 10, 5))
	assert.Equal(t, int64(5), s.deletedModEvent)
}

func TestAttachMessageThenCancelDeletesIt(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	tr := &fakeTransport{}
	m := New(c, s, tr, time.Minute)

	token, err := m.Issue(context.Background(), Payload{ReactorExternalID: 42, KarmaEventID: 7, ChatExternalID: 1})
	require.NoError(t, err)

	require.NoError(t, m.AttachMessage(context.Background(), token, "msg-2"))
	require.NoError(t, m.Cancel(context.Background(), token, 42))
	assert.Equal(t, "msg-2", tr.deletedMessage)
}

func TestCancelModeratorEventAlreadyExpired(t *testing.T) {
	s := newFakeStore()
	past := 5 * time.Minute
	s.modEvents[5] = model.ModeratorEvent{
		ID: 5, UserID: 10, Type: model.EventMute,
		Date: time.Now().Add(-time.Hour), Duration: &past,
	}
	m := New(newFakeCache(), s, &fakeTransport{}, time.Minute)

	err := m.CancelModeratorEvent(context.Background(), 1, 10, 5)
	assert.ErrorIs(t, err, ErrExpiredOrUsed)
}
