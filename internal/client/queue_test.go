package client

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_Enqueue(t *testing.T) {
	q := newTestQueue(t)

	m, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, MutationMarkRead, m.Type)
	assert.Equal(t, "entry-1", m.EntryID)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, m.CreatedAt, m.ChangedAt)
	assert.False(t, m.ChangedAt.IsZero())
}

func TestQueue_Enqueue_UnknownType(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue("archive", "entry-1")
	assert.Error(t, err)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueue_Enqueue_LatestIntentWins(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	unread, err := q.Enqueue(MutationMarkUnread, "entry-1")
	require.NoError(t, err)

	pending, err := q.Pending()
	require.NoError(t, err)

	require.Len(t, pending, 1)
	assert.Equal(t, unread.ID, pending[0].ID)
	assert.Equal(t, MutationMarkUnread, pending[0].Type)
}

func TestQueue_Enqueue_DifferentEntriesKept(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	_, err = q.Enqueue(MutationStar, "entry-2")
	require.NoError(t, err)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestQueue_Pending_CreationOrder(t *testing.T) {
	q := newTestQueue(t)

	for _, entryID := range []string{"entry-3", "entry-1", "entry-2"} {
		_, err := q.Enqueue(MutationMarkRead, entryID)
		require.NoError(t, err)
	}

	pending, err := q.Pending()
	require.NoError(t, err)

	require.Len(t, pending, 3)
	assert.Equal(t, "entry-3", pending[0].EntryID)
	assert.Equal(t, "entry-1", pending[1].EntryID)
	assert.Equal(t, "entry-2", pending[2].EntryID)
}

func TestQueue_Pending_IncludesInterruptedProcessing(t *testing.T) {
	q := newTestQueue(t)

	m, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	require.NoError(t, q.SetStatus(m.ID, StatusProcessing))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ID, pending[0].ID)
}

func TestQueue_Remove(t *testing.T) {
	q := newTestQueue(t)

	m, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	require.NoError(t, q.Remove(m.ID))

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Removing twice is harmless.
	assert.NoError(t, q.Remove(m.ID))
}

func TestQueue_Remove_KeepsNewerIntent(t *testing.T) {
	q := newTestQueue(t)

	old, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	newer, err := q.Enqueue(MutationMarkUnread, "entry-1")
	require.NoError(t, err)

	// Removing the superseded mutation must not break the index link to the
	// newer one.
	require.NoError(t, q.Remove(old.ID))

	replacement, err := q.Enqueue(MutationStar, "entry-1")
	require.NoError(t, err)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, replacement.ID, pending[0].ID)
	assert.NotEqual(t, newer.ID, pending[0].ID)
}

func TestQueue_SupersededMutationBookkeepingIsBenign(t *testing.T) {
	q := newTestQueue(t)

	old, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	require.NoError(t, q.SetStatus(old.ID, StatusProcessing))

	// A new intent lands while the old one is in flight; every bookkeeping
	// call on the vanished mutation must behave like Remove does.
	newer, err := q.Enqueue(MutationMarkUnread, "entry-1")
	require.NoError(t, err)

	assert.NoError(t, q.SetStatus(old.ID, StatusPending))

	terminal, err := q.RecordFailure(old.ID, errors.New("connection refused"))
	assert.NoError(t, err)
	assert.False(t, terminal)

	assert.NoError(t, q.Remove(old.ID))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, newer.ID, pending[0].ID)
	assert.Zero(t, pending[0].RetryCount)
}

func TestQueue_RecordFailure(t *testing.T) {
	q := newTestQueue(t)

	m, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)

	cause := errors.New("server unreachable")
	for i := 1; i < MaxRetries; i++ {
		terminal, err := q.RecordFailure(m.ID, cause)
		require.NoError(t, err)
		assert.False(t, terminal, "attempt %d should not be terminal", i)
	}

	terminal, err := q.RecordFailure(m.ID, cause)
	require.NoError(t, err)
	assert.True(t, terminal)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := q.Failed()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, m.ID, failed[0].ID)
	assert.Equal(t, MaxRetries, failed[0].RetryCount)
	assert.Equal(t, "server unreachable", failed[0].LastError)
}

func TestQueue_Retry(t *testing.T) {
	q := newTestQueue(t)

	m, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)

	// Retry only applies to failed mutations.
	assert.Error(t, q.Retry(m.ID))

	for i := 0; i < MaxRetries; i++ {
		_, err := q.RecordFailure(m.ID, errors.New("offline"))
		require.NoError(t, err)
	}

	require.NoError(t, q.Retry(m.ID))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, StatusPending, pending[0].Status)
	assert.Zero(t, pending[0].RetryCount)
	assert.Empty(t, pending[0].LastError)
}

func TestQueue_ChangedAtSurvivesRetries(t *testing.T) {
	q := newTestQueue(t)

	m, err := q.Enqueue(MutationStar, "entry-1")
	require.NoError(t, err)

	_, err = q.RecordFailure(m.ID, errors.New("offline"))
	require.NoError(t, err)

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ChangedAt.UTC(), pending[0].ChangedAt.UTC())
}

func TestQueue_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := NewQueue(path)
	require.NoError(t, err)
	m, err := q.Enqueue(MutationMarkRead, "entry-1")
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := NewQueue(path)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.ID, pending[0].ID)
}
