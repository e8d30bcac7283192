package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallback_CaptureAndRecall(t *testing.T) {
	fb, err := NewFallback(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = fb.Capture(context.Background(), "the deploy key rotates every 90 days", TypeFact, []string{"ops"}, nil)
	require.NoError(t, err)
	_, err = fb.Capture(context.Background(), "the user prefers dark mode", TypePreference, nil, nil)
	require.NoError(t, err)

	results, err := fb.Recall(context.Background(), "deploy key rotation", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "deploy key")
}

func TestFallback_ForgetRule(t *testing.T) {
	fb, err := NewFallback(t.TempDir(), nil)
	require.NoError(t, err)

	e, err := fb.Capture(context.Background(), "irrelevant chatter", TypeEvent, nil, nil)
	require.NoError(t, err)
	fb.byID[e.ID].Confidence = 0.1
	fb.byID[e.ID].AccessCount = 0

	n, err := fb.Forget(0.3, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFallback_ForgetByTag_DeletesOnlyTaggedEntries(t *testing.T) {
	fb, err := NewFallback(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = fb.Capture(context.Background(), "ssn is on file", TypeFact, []string{"pii"}, nil)
	require.NoError(t, err)
	_, err = fb.Capture(context.Background(), "likes tea over coffee", TypeFact, []string{"preference"}, nil)
	require.NoError(t, err)

	n, err := fb.ForgetByTag("pii")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := fb.Recall(context.Background(), "tea coffee", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "tea")
}

func TestFallback_ForgetSparesFactsAndSolutions(t *testing.T) {
	fb, err := NewFallback(t.TempDir(), nil)
	require.NoError(t, err)

	e, err := fb.Capture(context.Background(), "critical fact", TypeFact, nil, nil)
	require.NoError(t, err)
	fb.byID[e.ID].Confidence = 0.0
	fb.byID[e.ID].AccessCount = 0

	n, err := fb.Forget(0.3, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
