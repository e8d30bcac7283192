package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duskvane/aegis/gateway"
	"github.com/duskvane/aegis/session"
	"github.com/duskvane/aegis/supervisor"
)

// gatewayHandlers adapts the supervisor agent and session store to
// gateway.Handlers. It holds no state of its own beyond references to
// packages that already do.
type gatewayHandlers struct {
	agent    *supervisor.Agent
	sessions *session.Store
	agentID  string
	logger   *zap.Logger
}

func newGatewayHandlers(agent *supervisor.Agent, sessions *session.Store, agentID string, logger *zap.Logger) *gatewayHandlers {
	return &gatewayHandlers{agent: agent, sessions: sessions, agentID: agentID, logger: logger}
}

func (h *gatewayHandlers) resolveKey(raw string) (session.Key, error) {
	if raw == "" {
		return session.MainKey(h.agentID), nil
	}
	return session.ParseKey(raw)
}

func (h *gatewayHandlers) ChatSend(ctx context.Context, p gateway.ChatSendParams) (gateway.ChatSendResult, error) {
	key, err := h.resolveKey(p.SessionKey)
	if err != nil {
		return gateway.ChatSendResult{}, fmt.Errorf("invalid session_key: %w: %w", gateway.ErrInvalidParams, err)
	}

	outcome, err := h.agent.Handle(ctx, key, p.Text)
	if err != nil {
		return gateway.ChatSendResult{}, err
	}

	text := outcome.Reply
	if outcome.NeedsInput {
		text = outcome.ConfirmPrompt
	}
	return gateway.ChatSendResult{
		MessageID:  uuid.NewString(),
		Text:       text,
		SessionKey: key.String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		NeedsInput: outcome.NeedsInput,
	}, nil
}

// ChatSendStream runs the same agent turn but has no incremental token
// stream to offer yet (the supervisor's Provider.Stream path is not wired
// into the loop), so it emits chat.start with the allocated message ID, the
// final answer as a single chat.delta, then chat.end, before returning the
// same result ChatSend would (with the real reply text, not a placeholder).
func (h *gatewayHandlers) ChatSendStream(ctx context.Context, p gateway.ChatSendParams, emit func(gateway.Frame)) (gateway.ChatSendResult, error) {
	messageID := uuid.NewString()
	emit(gateway.NewEvent("chat.start", gateway.ChatStreamStart{MessageID: messageID}))

	result, err := h.ChatSend(ctx, p)
	if err != nil {
		return gateway.ChatSendResult{}, err
	}
	result.MessageID = messageID

	emit(gateway.NewEvent("chat.delta", gateway.ChatStreamDelta{MessageID: messageID, Delta: result.Text}))
	emit(gateway.NewEvent("chat.end", result))

	return result, nil
}

func (h *gatewayHandlers) ChatHistory(ctx context.Context, p gateway.ChatHistoryParams) (gateway.ChatHistoryResult, error) {
	key, err := h.resolveKey(p.SessionKey)
	if err != nil {
		return gateway.ChatHistoryResult{}, fmt.Errorf("invalid session_key: %w: %w", gateway.ErrInvalidParams, err)
	}

	msgs, err := h.sessions.Transcript(key)
	if err != nil {
		return gateway.ChatHistoryResult{}, err
	}

	limit := p.Limit
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	msgs = msgs[len(msgs)-limit:]

	out := make([]gateway.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, gateway.HistoryMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return gateway.ChatHistoryResult{Messages: out}, nil
}

func (h *gatewayHandlers) SessionsList(ctx context.Context, p gateway.SessionsListParams) (gateway.SessionsListResult, error) {
	all := h.sessions.List()
	out := make([]gateway.SessionSummary, 0, len(all))
	for _, s := range all {
		if p.AgentID != "" {
			key, err := session.ParseKey(s.Key)
			if err != nil || key.AgentID != p.AgentID {
				continue
			}
		}
		out = append(out, gateway.SessionSummary{
			SessionKey: s.Key,
			UpdatedAt:  s.LastActiveAt.UTC().Format(time.RFC3339),
		})
	}
	return gateway.SessionsListResult{Sessions: out}, nil
}

func (h *gatewayHandlers) SessionsDelete(ctx context.Context, p gateway.SessionsDeleteParams) (gateway.SessionsDeleteResult, error) {
	key, err := h.resolveKey(p.SessionKey)
	if err != nil {
		return gateway.SessionsDeleteResult{}, fmt.Errorf("invalid session_key: %w: %w", gateway.ErrInvalidParams, err)
	}
	if err := h.sessions.Delete(key); err != nil {
		return gateway.SessionsDeleteResult{}, err
	}
	return gateway.SessionsDeleteResult{Deleted: true}, nil
}
