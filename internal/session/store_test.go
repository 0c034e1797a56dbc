package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/weave/internal/domain"
)

func TestStoreGetOrCreate(t *testing.T) {
	t.Parallel()

	store := NewStore()
	id := uuid.New()

	sess := store.GetOrCreate(id)
	require.Equal(t, id, sess.ID)
	assert.Empty(t, sess.History)

	again := store.GetOrCreate(id)
	assert.Equal(t, sess.CreatedAt, again.CreatedAt, "second call returns the same session")
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewStore()
	_, err := store.Get(uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreAppendTurn(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0)
	current := base
	store := NewStore()
	store.SetClock(func() time.Time { return current })

	id := uuid.New()
	store.GetOrCreate(id)

	current = base.Add(time.Minute)
	require.NoError(t, store.AppendTurn(id, domain.TurnRecord{
		RequestID:   "req-1",
		Prompt:      "fix the bug",
		Summary:     "fixed",
		CompletedAt: current,
	}))

	sess, err := store.Get(id)
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "req-1", sess.History[0].RequestID)
	assert.Equal(t, base.Add(time.Minute), sess.UpdatedAt)

	require.ErrorIs(t, store.AppendTurn(uuid.New(), domain.TurnRecord{}), domain.ErrNotFound)
}

func TestStoreSetResumeID(t *testing.T) {
	t.Parallel()

	store := NewStore()
	id := uuid.New()
	store.GetOrCreate(id)

	require.NoError(t, store.SetResumeID(id, "conv-42"))

	sess, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "conv-42", sess.ResumeID)

	require.ErrorIs(t, store.SetResumeID(uuid.New(), "x"), domain.ErrNotFound)
}

func TestStoreListOrdersByRecency(t *testing.T) {
	t.Parallel()

	base := time.Unix(1700000000, 0)
	current := base
	store := NewStore()
	store.SetClock(func() time.Time { return current })

	first := uuid.New()
	store.GetOrCreate(first)

	current = base.Add(time.Hour)
	second := uuid.New()
	store.GetOrCreate(second)

	current = base.Add(2 * time.Hour)
	require.NoError(t, store.AppendTurn(first, domain.TurnRecord{RequestID: "req-1"}))

	listed := store.List()
	require.Len(t, listed, 2)
	assert.Equal(t, first, listed[0].ID, "updated session sorts first")
	assert.Equal(t, second, listed[1].ID)
}

func TestStoreClonesOut(t *testing.T) {
	t.Parallel()

	store := NewStore()
	id := uuid.New()
	store.GetOrCreate(id)
	require.NoError(t, store.AppendTurn(id, domain.TurnRecord{RequestID: "req-1"}))

	sess, err := store.Get(id)
	require.NoError(t, err)
	sess.History[0].RequestID = "mutated"
	sess.ResumeID = "mutated"

	fresh, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "req-1", fresh.History[0].RequestID)
	assert.Empty(t, fresh.ResumeID)
}
