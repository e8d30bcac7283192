// Package supervisor implements the tool-calling agent loop that turns a
// user's message into an LLM-driven sequence of tool calls and a reply.
package supervisor

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// confirmLexemes and cancelLexemes are the fixed, case-insensitive,
// whitespace-trimmed vocabularies the confirmation gate matches against.
// This is deliberately not NLU: anything outside these lists falls through
// to the LLM.
var (
	confirmLexemes = map[string]bool{
		"yes": true, "是": true, "确认": true, "ok": true, "go": true, "confirm": true,
	}
	cancelLexemes = map[string]bool{
		"no": true, "取消": true, "cancel": true, "stop": true, "算了": true,
	}
)

// classifyLexeme reports whether input is a bare confirm or cancel word.
// Anything else, including empty input, is neither.
func classifyLexeme(input string) (isConfirm, isCancel bool) {
	norm := strings.ToLower(strings.TrimSpace(input))
	return confirmLexemes[norm], cancelLexemes[norm]
}

// PendingConfirmation is a tool call awaiting the user's yes/no before it runs.
type PendingConfirmation struct {
	SessionKey string          `json:"session_key"`
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
	Prompt     string          `json:"prompt"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Expired reports whether the pending confirmation has outlived ttl.
func (p PendingConfirmation) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}

// confirmationStore holds at most one PendingConfirmation per sessionKey.
// Callers must hold the session's own lock (session.Store.Lock) while using
// it, so confirmation state and transcript state advance atomically.
type confirmationStore struct {
	mu      sync.Mutex
	pending map[string]PendingConfirmation
}

func newConfirmationStore() *confirmationStore {
	return &confirmationStore{pending: make(map[string]PendingConfirmation)}
}

func (c *confirmationStore) set(p PendingConfirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[p.SessionKey] = p
}

func (c *confirmationStore) get(sessionKey string) (PendingConfirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sessionKey]
	return p, ok
}

func (c *confirmationStore) clear(sessionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, sessionKey)
}
