package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/memory"
)

func TestChatSummarizer_Summarize_ReturnsProviderReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{textResponse("a dense summary")}}
	summarizer := newChatSummarizer(provider, "test-model")

	summary, err := summarizer.Summarize(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "what's the plan"},
		{Role: llm.RoleAssistant, Content: "ship it Friday"},
	})
	require.NoError(t, err)
	assert.Equal(t, "a dense summary", summary)
}

func TestChatSummarizer_SummarizeEntries_ReturnsProviderReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{textResponse("merged summary")}}
	summarizer := newChatSummarizer(provider, "test-model")

	summary, err := summarizer.SummarizeEntries(context.Background(), []memory.Entry{
		{Content: "user prefers dark mode"},
		{Content: "user's timezone is UTC+1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "merged summary", summary)
}

func TestChatSummarizer_Summarize_EmptyChoicesReturnsEmptyString(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{{Choices: nil}}}
	summarizer := newChatSummarizer(provider, "test-model")

	summary, err := summarizer.Summarize(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Empty(t, summary)
}
