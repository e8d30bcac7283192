package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndTranscript(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	key := NewKey("a1", "telegram", "u1")
	require.NoError(t, store.Append(key, Message{Role: "user", Content: "hi"}))
	require.NoError(t, store.Append(key, Message{Role: "assistant", Content: "hello"}))

	msgs, err := store.Transcript(key)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)

	sess, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, 2, sess.MessageCount)
}

func TestStore_PersistsIndexAcrossReload(t *testing.T) {
	dir := t.TempDir()
	key := MainKey("a1")

	store, err := NewStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(key, Message{Role: "user", Content: "hi"}))

	reloaded, err := NewStore(dir, nil)
	require.NoError(t, err)
	sess, ok := reloaded.Get(key)
	require.True(t, ok)
	assert.Equal(t, 1, sess.MessageCount)

	msgs, err := reloaded.Transcript(key)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestStore_Delete(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	key := MainKey("a1")
	require.NoError(t, store.Append(key, Message{Role: "user", Content: "hi"}))

	require.NoError(t, store.Delete(key))
	_, ok := store.Get(key)
	assert.False(t, ok)

	msgs, err := store.Transcript(key)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_List_OrdersByLastActiveAtDescending(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	oldest := NewKey("a1", "telegram", "u1")
	middle := NewKey("a1", "telegram", "u2")
	newest := NewKey("a1", "telegram", "u3")

	require.NoError(t, store.Append(oldest, Message{Role: "user", Content: "hi", CreatedAt: base}))
	require.NoError(t, store.Append(middle, Message{Role: "user", Content: "hi", CreatedAt: base.Add(10 * time.Minute)}))
	require.NoError(t, store.Append(newest, Message{Role: "user", Content: "hi", CreatedAt: base.Add(20 * time.Minute)}))

	sessions := store.List()
	require.Len(t, sessions, 3)
	assert.Equal(t, newest.String(), sessions[0].Key)
	assert.Equal(t, middle.String(), sessions[1].Key)
	assert.Equal(t, oldest.String(), sessions[2].Key)
}

func TestStore_SweepArchive(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	key := MainKey("a1")
	require.NoError(t, store.Append(key, Message{Role: "user", Content: "hi"}))

	future := time.Now().Add(ArchiveAge + time.Hour)
	n, err := store.SweepArchive(future)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess, ok := store.Get(key)
	require.True(t, ok)
	assert.True(t, sess.Archived)
}
