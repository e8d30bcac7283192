package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duskvane/aegis/gateway"
	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/session"
	"github.com/duskvane/aegis/supervisor"
	"github.com/duskvane/aegis/toolregistry"
)

// scriptedProvider replays one canned response per Completion call, in order.
// Mirrors supervisor's own test fake since Provider has no exported test
// double and gatewayHandlers only talks to a real *supervisor.Agent.
type scriptedProvider struct {
	responses []*llm.ChatResponse
}

func (p *scriptedProvider) Completion(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}
func (p *scriptedProvider) Stream(context.Context, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}
func (p *scriptedProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (p *scriptedProvider) Name() string                       { return "scripted" }
func (p *scriptedProvider) SupportsNativeFunctionCalling() bool { return true }

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: text}}}}
}

func newTestHandlers(t *testing.T, responses ...*llm.ChatResponse) *gatewayHandlers {
	t.Helper()
	dir := t.TempDir()
	sessions, err := session.NewStore(dir, nil)
	require.NoError(t, err)

	provider := &scriptedProvider{responses: responses}
	reg := toolregistry.NewRegistry(nil)
	agent := supervisor.New(provider, "test-model", reg, sessions, nil, supervisor.DefaultConfig(), zap.NewNop())

	return newGatewayHandlers(agent, sessions, defaultAgentID, zap.NewNop())
}

func TestGatewayHandlers_ChatSend_UsesMainKeyWhenSessionKeyEmpty(t *testing.T) {
	h := newTestHandlers(t, textResponse("hi there"))

	result, err := h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", result.Text)
	assert.Equal(t, "agent:"+defaultAgentID+":main", result.SessionKey)
	assert.False(t, result.NeedsInput)
}

func TestGatewayHandlers_ChatSend_RejectsMalformedSessionKey(t *testing.T) {
	h := newTestHandlers(t)

	_, err := h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "hello", SessionKey: "not-a-valid-key"})
	assert.Error(t, err)
}

func TestGatewayHandlers_ChatHistory_ReturnsAppendedTurns(t *testing.T) {
	h := newTestHandlers(t, textResponse("reply one"))

	_, err := h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "question one"})
	require.NoError(t, err)

	history, err := h.ChatHistory(context.Background(), gateway.ChatHistoryParams{})
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, "question one", history.Messages[0].Content)
	assert.Equal(t, "reply one", history.Messages[1].Content)
}

func TestGatewayHandlers_ChatHistory_RespectsLimit(t *testing.T) {
	h := newTestHandlers(t, textResponse("a"), textResponse("b"))

	_, err := h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "first"})
	require.NoError(t, err)
	_, err = h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "second"})
	require.NoError(t, err)

	history, err := h.ChatHistory(context.Background(), gateway.ChatHistoryParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "b", history.Messages[0].Content)
}

func TestGatewayHandlers_SessionsList_FiltersByAgentID(t *testing.T) {
	h := newTestHandlers(t, textResponse("hi"))

	_, err := h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "hello"})
	require.NoError(t, err)

	matching, err := h.SessionsList(context.Background(), gateway.SessionsListParams{AgentID: defaultAgentID})
	require.NoError(t, err)
	assert.Len(t, matching.Sessions, 1)

	none, err := h.SessionsList(context.Background(), gateway.SessionsListParams{AgentID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none.Sessions)
}

func TestGatewayHandlers_SessionsDelete_RemovesTranscript(t *testing.T) {
	h := newTestHandlers(t, textResponse("hi"))

	_, err := h.ChatSend(context.Background(), gateway.ChatSendParams{Text: "hello"})
	require.NoError(t, err)

	result, err := h.SessionsDelete(context.Background(), gateway.SessionsDeleteParams{SessionKey: "agent:" + defaultAgentID + ":main"})
	require.NoError(t, err)
	assert.True(t, result.Deleted)

	history, err := h.ChatHistory(context.Background(), gateway.ChatHistoryParams{})
	require.NoError(t, err)
	assert.Empty(t, history.Messages)
}
