// Package memory implements the three-tier memory system: a token-budgeted
// working set (Tier0), hybrid vector+keyword long-term recall (Tier1), and a
// raw append-only log (Tier2).
package memory

import (
	"context"

	"github.com/duskvane/aegis/llm"
)

// DefaultWorkingBudgetTokens is the working-memory token ceiling.
const DefaultWorkingBudgetTokens = 8000

// DefaultKeepLastN is how many of the most recent non-system messages are
// always kept verbatim, regardless of budget.
const DefaultKeepLastN = 5

// TokenCounter counts tokens in text, e.g. a tiktoken-go encoder.
type TokenCounter interface {
	CountTokens(text string) int
}

// Summarizer compresses a run of messages into a single summary string.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// WorkingConfig configures the Tier0 working-memory compressor.
type WorkingConfig struct {
	BudgetTokens int
	KeepLastN    int
}

// DefaultWorkingConfig returns the process-wide defaults.
func DefaultWorkingConfig() WorkingConfig {
	return WorkingConfig{BudgetTokens: DefaultWorkingBudgetTokens, KeepLastN: DefaultKeepLastN}
}

// Working is Tier0: it keeps a conversation within its token budget by
// preserving the system message and the most recent messages, summarizing
// everything older once the budget is exceeded.
type Working struct {
	cfg     WorkingConfig
	counter TokenCounter
	summ    Summarizer
}

// NewWorking creates a Working compressor. counter may be nil (falls back to
// a character/4 estimate); summ may be nil (falls back to dropping the
// oldest messages instead of summarizing them).
func NewWorking(cfg WorkingConfig, counter TokenCounter, summ Summarizer) *Working {
	if cfg.BudgetTokens <= 0 {
		cfg.BudgetTokens = DefaultWorkingBudgetTokens
	}
	if cfg.KeepLastN <= 0 {
		cfg.KeepLastN = DefaultKeepLastN
	}
	return &Working{cfg: cfg, counter: counter, summ: summ}
}

func (w *Working) tokensOf(text string) int {
	if w.counter != nil {
		return w.counter.CountTokens(text)
	}
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}

func (w *Working) messageTokens(m llm.Message) int {
	t := w.tokensOf(m.Content) + 4
	for _, tc := range m.ToolCalls {
		t += w.tokensOf(tc.Name) + len(tc.Arguments)/4
	}
	return t
}

// EstimateTokens sums the estimated token cost of messages.
func (w *Working) EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += w.messageTokens(m)
	}
	return total
}

// Compress applies the compression rule: keep every system message plus the
// KeepLastN most recent non-system messages verbatim; if the result still
// exceeds BudgetTokens, summarize everything older than the kept tail.
func (w *Working) Compress(ctx context.Context, messages []llm.Message) ([]llm.Message, error) {
	if w.EstimateTokens(messages) <= w.cfg.BudgetTokens {
		return messages, nil
	}

	var system, other []llm.Message
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	keepN := w.cfg.KeepLastN
	if keepN > len(other) {
		keepN = len(other)
	}
	toSummarize := other[:len(other)-keepN]
	tail := other[len(other)-keepN:]

	if len(toSummarize) == 0 {
		return append(system, tail...), nil
	}

	var summaryMsg llm.Message
	if w.summ != nil {
		summary, err := w.summ.Summarize(ctx, toSummarize)
		if err == nil {
			summaryMsg = llm.Message{Role: llm.RoleAssistant, Content: summary}
		}
	}
	if summaryMsg.Content == "" {
		// no summarizer configured, or it failed: drop rather than overrun budget
		summaryMsg = llm.Message{Role: llm.RoleAssistant, Content: "[earlier conversation omitted]"}
	}

	result := make([]llm.Message, 0, len(system)+1+len(tail))
	result = append(result, system...)
	result = append(result, summaryMsg)
	result = append(result, tail...)
	return result, nil
}
