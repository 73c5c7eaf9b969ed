package authors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"karmicbot/pkg/karma/store"
)

// fakeStore implements only what Registry exercises; other methods panic if
// called, making accidental cross-component coupling obvious in tests.
type fakeStore struct {
	store.Store
	authors       map[[2]int64]int64
	cleanupCalls  int
	cleanupBefore []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{authors: map[[2]int64]int64{}}
}

func (f *fakeStore) StoreMessageAuthor(ctx context.Context, chatID, messageID, userID int64, date time.Time) error {
	f.authors[[2]int64{chatID, messageID}] = userID
	return nil
}

func (f *fakeStore) GetMessageAuthor(ctx context.Context, chatID, messageID int64) (int64, bool, error) {
	id, ok := f.authors[[2]int64{chatID, messageID}]
	return id, ok, nil
}

func (f *fakeStore) CleanupMessageAuthors(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cleanupCalls++
	f.cleanupBefore = append(f.cleanupBefore, cutoff)
	return int64(len(f.authors)), nil
}

func TestStoreAndGetAuthor(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, time.Hour)
	ctx := context.Background()

	require.NoError(t, reg.Store(ctx, 1, 100, 42, time.Now()))

	userID, found, err := reg.GetAuthor(ctx, 1, 100)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), userID)
}

func TestGetAuthorUnknown(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, time.Hour)

	_, found, err := reg.GetAuthor(context.Background(), 1, 999)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCleanupUsesRetentionCutoff(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, 2*time.Hour)

	deleted, err := reg.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
	require.Len(t, fs.cleanupBefore, 1)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), fs.cleanupBefore[0], time.Second)
}

func TestDefaultRetentionApplied(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, 0)
	assert.Equal(t, DefaultRetention, reg.retention)
}

func TestCleanupLoopStopsOnCancel(t *testing.T) {
	fs := newFakeStore()
	reg := New(fs, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reg.CleanupLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CleanupLoop did not exit after cancellation")
	}
	assert.GreaterOrEqual(t, fs.cleanupCalls, 1)
}
