package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/duskvane/aegis/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct{}

func (stubSummarizer) Summarize(_ context.Context, messages []llm.Message) (string, error) {
	return "summary of earlier messages", nil
}

func TestWorking_NoCompressionUnderBudget(t *testing.T) {
	w := NewWorking(WorkingConfig{BudgetTokens: 10000, KeepLastN: 5}, nil, nil)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "hi"},
	}
	out, err := w.Compress(context.Background(), messages)
	require.NoError(t, err)
	assert.Equal(t, messages, out)
}

func TestWorking_KeepsSystemAndLastN(t *testing.T) {
	w := NewWorking(WorkingConfig{BudgetTokens: 1, KeepLastN: 2}, nil, stubSummarizer{})
	messages := []llm.Message{{Role: llm.RoleSystem, Content: "sys"}}
	for i := 0; i < 10; i++ {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: strings.Repeat("x", 50)})
	}

	out, err := w.Compress(context.Background(), messages)
	require.NoError(t, err)

	require.True(t, len(out) >= 3) // system + summary + at least the tail
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	last2 := out[len(out)-2:]
	for _, m := range last2 {
		assert.Equal(t, llm.RoleUser, m.Role)
	}
}

func TestWorking_NoSummarizerFallsBackToPlaceholder(t *testing.T) {
	w := NewWorking(WorkingConfig{BudgetTokens: 1, KeepLastN: 1}, nil, nil)
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: strings.Repeat("x", 100)},
		{Role: llm.RoleUser, Content: strings.Repeat("y", 100)},
		{Role: llm.RoleUser, Content: strings.Repeat("z", 100)},
	}
	out, err := w.Compress(context.Background(), messages)
	require.NoError(t, err)
	assert.Contains(t, out[0].Content, "omitted")
}
