package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateListComplete(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	t1, err := store.Create(CreateInput{Title: "write report", Priority: PriorityFromLevel("high")})
	require.NoError(t, err)
	_, err = store.Create(CreateInput{Title: "buy milk", Priority: PriorityFromLevel("low")})
	require.NoError(t, err)

	list := store.List(ListFilter{Status: StatusPending})
	require.Len(t, list, 2)
	assert.Equal(t, "write report", list[0].Title, "higher priority task should sort first")

	ok, err := store.Complete(t1.ID, "done")
	require.NoError(t, err)
	assert.True(t, ok)

	pending := store.List(ListFilter{Status: StatusPending})
	assert.Len(t, pending, 1)

	completed := store.List(ListFilter{Status: StatusCompleted})
	require.Len(t, completed, 1)
	assert.Equal(t, "done", completed[0].Result)
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)

	_, err = store.Create(CreateInput{Title: "call dentist"})
	require.NoError(t, err)

	reloaded, err := NewStore(dir, nil)
	require.NoError(t, err)
	list := reloaded.List(ListFilter{})
	require.Len(t, list, 1)
	assert.Equal(t, "call dentist", list[0].Title)
}

func TestStore_DeleteAllPendingSparesOtherStatuses(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	t1, err := store.Create(CreateInput{Title: "task one"})
	require.NoError(t, err)
	_, err = store.Create(CreateInput{Title: "task two"})
	require.NoError(t, err)

	_, err = store.Complete(t1.ID, "")
	require.NoError(t, err)

	n, err := store.DeleteAllPending()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining := store.List(ListFilter{})
	require.Len(t, remaining, 1)
	assert.Equal(t, StatusCompleted, remaining[0].Status, "completed task should survive delete-all-pending")
}

func TestStore_DeleteMany(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	a, err := store.Create(CreateInput{Title: "a"})
	require.NoError(t, err)
	b, err := store.Create(CreateInput{Title: "b"})
	require.NoError(t, err)

	n, err := store.DeleteMany([]string{a.ID, b.ID, "nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, store.List(ListFilter{}))
}

func TestTask_PriorityScoreBoostsOverdueTasks(t *testing.T) {
	fresh := Task{Priority: DefaultPriority, DueAt: time.Now().Add(24 * time.Hour), Status: StatusPending}
	overdue := Task{Priority: DefaultPriority, DueAt: time.Now().Add(-5 * time.Hour), Status: StatusPending}

	assert.Greater(t, overdue.PriorityScore(), fresh.PriorityScore())
	assert.True(t, overdue.IsOverdue())
	assert.False(t, fresh.IsOverdue())
}

func TestTask_PriorityScoreNeverExceeds100(t *testing.T) {
	tk := Task{
		Priority: Priority{Urgency: 1, Importance: 1, Impact: 1},
		DueAt:    time.Now().Add(-100 * time.Hour),
		Status:   StatusPending,
	}
	assert.LessOrEqual(t, tk.PriorityScore(), 100.0)
}
