package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var gatewayTracer = otel.Tracer("aegis/gateway")

// connection is one accepted WebSocket client. Writes are serialized
// through outbox since the underlying transport does not support
// concurrent writers.
type connection struct {
	conn    *websocket.Conn
	server  *Server
	token   string // bearer token presented at handshake, if any
	limiter interface{ Allow() bool }

	outbox    chan Frame
	closeOnce sync.Once
	writeWg   sync.WaitGroup
}

func (c *connection) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.writeWg.Add(1)
	go c.writeLoop(ctx)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			break
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.send(newError(nil, CodeInternalError, "rate limit exceeded"))
			continue
		}
		c.handleFrame(ctx, data)
	}

	cancel()
	c.writeWg.Wait()
	c.close(websocket.StatusNormalClosure, "")
}

func (c *connection) writeLoop(ctx context.Context) {
	defer c.writeWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.outbox:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// send enqueues a frame for delivery, dropping it silently if the
// connection is already closing (outbox full/closed).
func (c *connection) send(frame Frame) {
	defer func() { _ = recover() }() // outbox already closed by close()
	select {
	case c.outbox <- frame:
	default:
	}
}

func (c *connection) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.outbox)
		_ = c.conn.Close(code, reason)
	})
}

func (c *connection) handleFrame(ctx context.Context, data []byte) {
	var req Frame
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(newError(nil, CodeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		c.send(newError(req.ID, CodeInvalidRequest, "malformed request"))
		return
	}

	if req.Method == "health" {
		c.send(newResult(req.ID, HealthResult{
			Status:    "ok",
			Version:   c.server.cfg.Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}))
		return
	}

	ctx, span := gatewayTracer.Start(ctx, "rpc "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.method", req.Method)),
	)
	defer span.End()

	switch req.Method {
	case "chat.send":
		c.dispatchChatSend(ctx, req)
	case "chat.send_stream":
		c.dispatchChatSendStream(ctx, req)
	case "chat.history":
		c.dispatchChatHistory(ctx, req)
	case "sessions.list":
		c.dispatchSessionsList(ctx, req)
	case "sessions.delete":
		c.dispatchSessionsDelete(ctx, req)
	default:
		c.send(newError(req.ID, CodeMethodNotFound, "unknown method: "+req.Method))
	}
}

func (c *connection) authOK(token string) bool {
	return c.server.authenticate(c.token, token)
}

// handlerErrorCode maps a Handlers error to a JSON-RPC code: ErrInvalidParams
// (e.g. a malformed session_key) becomes CodeInvalidParams, everything else
// is treated as an internal failure.
func handlerErrorCode(err error) int {
	if errors.Is(err, ErrInvalidParams) {
		return CodeInvalidParams
	}
	return CodeInternalError
}

func (c *connection) dispatchChatSend(ctx context.Context, req Frame) {
	var p ChatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(newError(req.ID, CodeInvalidParams, "invalid params"))
		return
	}
	if !c.authOK(p.Token) {
		c.send(newError(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}
	if utf8.RuneCountInString(p.Text) > c.server.cfg.MaxTextChars {
		c.send(newError(req.ID, CodeInvalidParams, "text exceeds maximum length"))
		return
	}

	result, err := c.server.handlers.ChatSend(ctx, p)
	if err != nil {
		c.send(newError(req.ID, handlerErrorCode(err), err.Error()))
		return
	}
	c.send(newResult(req.ID, result))
}

func (c *connection) dispatchChatSendStream(ctx context.Context, req Frame) {
	var p ChatSendParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(newError(req.ID, CodeInvalidParams, "invalid params"))
		return
	}
	if !c.authOK(p.Token) {
		c.send(newError(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}
	if utf8.RuneCountInString(p.Text) > c.server.cfg.MaxTextChars {
		c.send(newError(req.ID, CodeInvalidParams, "text exceeds maximum length"))
		return
	}

	// chat.start/chat.delta/chat.end are emitted by the handler itself (it
	// owns message ID allocation), not by this dispatcher; it calls back
	// through c.send via emit.
	result, err := c.server.handlers.ChatSendStream(ctx, p, c.send)
	if err != nil {
		c.send(newError(req.ID, handlerErrorCode(err), err.Error()))
		return
	}
	c.send(newResult(req.ID, result))
}

func (c *connection) dispatchChatHistory(ctx context.Context, req Frame) {
	var p ChatHistoryParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(newError(req.ID, CodeInvalidParams, "invalid params"))
		return
	}
	if !c.authOK(p.Token) {
		c.send(newError(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}
	result, err := c.server.handlers.ChatHistory(ctx, p)
	if err != nil {
		c.send(newError(req.ID, handlerErrorCode(err), err.Error()))
		return
	}
	c.send(newResult(req.ID, result))
}

func (c *connection) dispatchSessionsList(ctx context.Context, req Frame) {
	var p SessionsListParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(newError(req.ID, CodeInvalidParams, "invalid params"))
		return
	}
	if !c.authOK(p.Token) {
		c.send(newError(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}
	result, err := c.server.handlers.SessionsList(ctx, p)
	if err != nil {
		c.send(newError(req.ID, handlerErrorCode(err), err.Error()))
		return
	}
	c.send(newResult(req.ID, result))
}

func (c *connection) dispatchSessionsDelete(ctx context.Context, req Frame) {
	var p SessionsDeleteParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.send(newError(req.ID, CodeInvalidParams, "invalid params"))
		return
	}
	if !c.authOK(p.Token) {
		c.send(newError(req.ID, CodeUnauthorized, "unauthorized"))
		return
	}
	result, err := c.server.handlers.SessionsDelete(ctx, p)
	if err != nil {
		c.send(newError(req.ID, handlerErrorCode(err), err.Error()))
		return
	}
	c.send(newResult(req.ID, result))
}
