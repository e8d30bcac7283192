// Package gateway implements the WebSocket JSON-RPC 2.0 front door: frame
// parsing, bearer/JWT auth, connection-count and input-size limits, and
// dispatch to chat/session method handlers.
package gateway

import (
	"encoding/json"
	"errors"
)

// ErrInvalidParams marks a Handlers error as a client input problem (e.g. a
// malformed session_key) rather than an internal failure, so dispatch maps
// it to CodeInvalidParams instead of CodeInternalError.
var ErrInvalidParams = errors.New("invalid params")

// JSON-RPC 2.0 error codes, per the spec plus the app's -32001 extension.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32001
)

// Frame is the wire envelope every WebSocket text message parses into.
// Requests carry ID+Method+Params; responses carry ID+Result or ID+Error;
// server-initiated events carry Method:"event"+Params with no ID.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newError(id json.RawMessage, code int, message string) Frame {
	return Frame{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func newResult(id json.RawMessage, result any) Frame {
	return Frame{JSONRPC: "2.0", ID: id, Result: result}
}

// EventParams is the payload shape for server-initiated "event" frames.
type EventParams struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func newEvent(eventType string, data any) Frame {
	params, _ := json.Marshal(EventParams{Type: eventType, Data: data})
	return Frame{JSONRPC: "2.0", Method: "event", Params: params}
}

// NewEvent builds a server-initiated "event" frame carrying eventType and
// data as its params. Exported so Handlers implementations outside this
// package can emit events (chat.start/chat.delta/chat.end) through the same
// emit callback ChatSendStream is handed.
func NewEvent(eventType string, data any) Frame {
	return newEvent(eventType, data)
}

// ChatStreamStart is the "chat.start" event payload: the message ID the
// server has allocated for the reply now being generated.
type ChatStreamStart struct {
	MessageID string `json:"message_id"`
}

// ChatStreamDelta is one "chat.delta" event payload. Providers that stream
// tokens natively would emit one of these per token; this gateway's current
// provider path emits the completed reply as a single delta.
type ChatStreamDelta struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

// ChatSendParams is the input to chat.send and chat.send_stream.
type ChatSendParams struct {
	Text       string `json:"text"`
	SessionKey string `json:"session_key"`
	Context    any    `json:"context,omitempty"`
	Token      string `json:"token,omitempty"`
}

// ChatSendResult is the output of chat.send.
type ChatSendResult struct {
	MessageID  string `json:"message_id"`
	Text       string `json:"text"`
	SessionKey string `json:"session_key"`
	Timestamp  string `json:"timestamp"`
	NeedsInput bool   `json:"needs_input,omitempty"`
}

// ChatHistoryParams is the input to chat.history.
type ChatHistoryParams struct {
	SessionKey string `json:"session_key"`
	Limit      int    `json:"limit,omitempty"`
	Token      string `json:"token,omitempty"`
}

// ChatHistoryResult is the output of chat.history.
type ChatHistoryResult struct {
	Messages []HistoryMessage `json:"messages"`
}

// HistoryMessage is one transcript entry as rendered to the client.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// SessionsListParams is the input to sessions.list.
type SessionsListParams struct {
	AgentID string `json:"agent_id,omitempty"`
	Token   string `json:"token,omitempty"`
}

// SessionsListResult is the output of sessions.list.
type SessionsListResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionSummary is one entry in sessions.list's result.
type SessionSummary struct {
	SessionKey string `json:"session_key"`
	UpdatedAt  string `json:"updated_at"`
}

// SessionsDeleteParams is the input to sessions.delete.
type SessionsDeleteParams struct {
	SessionKey string `json:"session_key"`
	Token      string `json:"token"`
}

// SessionsDeleteResult is the output of sessions.delete.
type SessionsDeleteResult struct {
	Deleted bool `json:"deleted"`
}

// HealthResult is the output of the unauthenticated health method.
type HealthResult struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}
