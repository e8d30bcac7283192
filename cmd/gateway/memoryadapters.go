package main

import (
	"context"
	"strings"

	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/llm/tokenizer"
	"github.com/duskvane/aegis/memory"
)

// tokenCounterAdapter narrows tiktoken's (int, error) signature to the plain
// int memory.TokenCounter wants; a mis-tokenizeable string just counts as its
// rune length rather than failing the whole compression pass.
type tokenCounterAdapter struct {
	tk *tokenizer.TiktokenTokenizer
}

func newTokenCounter(model string) (memory.TokenCounter, error) {
	tk, err := tokenizer.NewTiktokenTokenizer(model)
	if err != nil {
		return nil, err
	}
	return &tokenCounterAdapter{tk: tk}, nil
}

func (t *tokenCounterAdapter) CountTokens(text string) int {
	n, err := t.tk.CountTokens(text)
	if err != nil {
		return len([]rune(text))
	}
	return n
}

// chatSummarizer implements both memory.Summarizer (working-memory
// compression) and memory.LLMSummarizer (long-term consolidation) on top of
// a single llm.Provider chat completion call.
type chatSummarizer struct {
	provider llm.Provider
	model    string
}

func newChatSummarizer(provider llm.Provider, model string) *chatSummarizer {
	return &chatSummarizer{provider: provider, model: model}
}

func (s *chatSummarizer) Summarize(ctx context.Context, messages []llm.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	resp, err := s.provider.Completion(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize the following conversation into a few dense sentences, preserving names, decisions, and open questions."},
			{Role: llm.RoleUser, Content: transcript.String()},
		},
		MaxTokens: 400,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *chatSummarizer) SummarizeEntries(ctx context.Context, entries []memory.Entry) (string, error) {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Content)
		b.WriteString("\n")
	}

	resp, err := s.provider.Completion(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Merge the following related memory entries into one consolidated summary sentence or two."},
			{Role: llm.RoleUser, Content: b.String()},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
