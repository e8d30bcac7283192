// Package openaicompat implements llm.Provider against any OpenAI-compatible
// chat completions endpoint. It is the one concrete adapter this repo ships;
// vendor-specific providers are left to the deployer, since the contract
// (llm.Provider) is the part this system owns, not the roster of vendors.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/llm/circuitbreaker"
)

// llmMetricsRecorder is the subset of internal/metrics.Collector this
// provider reports against; kept as an interface so this package never
// imports internal/metrics.
type llmMetricsRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int, cost float64)
}

// Config configures a Provider instance.
type Config struct {
	ProviderName string // reported by Name(), e.g. "openai", "local"
	APIKey       string
	BaseURL      string // e.g. "https://api.openai.com"
	DefaultModel string
	Timeout      time.Duration
	Breaker      *circuitbreaker.Config // nil disables circuit breaking

	// NoNativeFunctionCalling marks this endpoint as one that ignores the
	// OpenAI tools/tool_choice request fields (some locally-hosted or
	// older-generation models accept the request but never populate
	// response tool_calls). Set true to make the supervisor fall back to
	// the prompted <tool_call> protocol instead of the native one.
	NoNativeFunctionCalling bool

	// Metrics is optional; when set, every Completion call is reported
	// through it (provider, model, status, latency, token counts).
	Metrics llmMetricsRecorder
}

// Provider is a generic OpenAI-compatible chat completions adapter.
type Provider struct {
	cfg     Config
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New creates a Provider. A nil Breaker config disables the breaker.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var cb circuitbreaker.CircuitBreaker
	if cfg.Breaker != nil {
		cb = circuitbreaker.NewCircuitBreaker(cfg.Breaker, logger)
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: cb,
		logger:  logger.With(zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

// SupportsNativeFunctionCalling reports whether this endpoint honors the
// standard tools/tool_choice request fields and populates tool_calls in its
// response. False for endpoints configured with NoNativeFunctionCalling,
// which drives the supervisor to the prompted <tool_call> protocol instead.
func (p *Provider) SupportsNativeFunctionCalling() bool { return !p.cfg.NoNativeFunctionCalling }

type chatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
		Delta        *chatMessage `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func toWireMessages(msgs []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := chatMessage{Role: string(m.Role), Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			ct := chatToolCall{ID: tc.ID, Type: "function"}
			ct.Function.Name = tc.Name
			ct.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, ct)
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(schemas []llm.ToolSchema) []chatTool {
	out := make([]chatTool, 0, len(schemas))
	for _, s := range schemas {
		var t chatTool
		t.Type = "function"
		t.Function.Name = s.Name
		t.Function.Description = s.Description
		t.Function.Parameters = s.Parameters
		out = append(out, t)
	}
	return out
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) chatRequestBody {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	return chatRequestBody{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		Tools:       toWireTools(req.Tools),
		ToolChoice:  req.ToolChoice,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *Provider) newRequest(ctx context.Context, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/chat/completions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	return req, nil
}

// Completion performs a synchronous chat completion, optionally wrapped by a
// circuit breaker when Config.Breaker is set.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.completion(ctx, req)
	p.recordCompletion(req, resp, err, time.Since(start))
	return resp, err
}

func (p *Provider) completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.breaker == nil {
		return p.doCompletion(ctx, req)
	}
	result, err := p.breaker.CallWithResult(ctx, func() (any, error) {
		return p.doCompletion(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*llm.ChatResponse), nil
}

func (p *Provider) recordCompletion(req *llm.ChatRequest, resp *llm.ChatResponse, err error, elapsed time.Duration) {
	if p.cfg.Metrics == nil {
		return
	}
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	status := "ok"
	var promptTokens, completionTokens int
	if err != nil {
		status = "error"
	} else if resp != nil {
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	}
	p.cfg.Metrics.RecordLLMRequest(p.Name(), model, status, elapsed, promptTokens, completionTokens, 0)
}

func (p *Provider) doCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	httpReq, err := p.newRequest(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(data), p.Name())
	}

	var wire chatResponseBody
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}

	out := &llm.ChatResponse{
		ID:       wire.ID,
		Provider: p.Name(),
		Model:    wire.Model,
		Usage: llm.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	if wire.Created != 0 {
		out.CreatedAt = time.Unix(wire.Created, 0)
	}
	for _, c := range wire.Choices {
		msg := llm.Message{Role: llm.Role(c.Message.Role), Content: c.Message.Content}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		out.Choices = append(out.Choices, llm.ChatChoice{Index: c.Index, FinishReason: c.FinishReason, Message: msg})
	}
	return out, nil
}

// Stream performs a streaming chat completion over SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	httpReq, err := p.newRequest(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name()}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, mapHTTPError(resp.StatusCode, string(data), p.Name())
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var wire chatResponseBody
			if err := json.Unmarshal([]byte(data), &wire); err != nil {
				select {
				case <-ctx.Done():
				case ch <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Provider: p.Name()}}:
				}
				return
			}
			for _, c := range wire.Choices {
				chunk := llm.StreamChunk{ID: wire.ID, Provider: p.Name(), Model: wire.Model, Index: c.Index, FinishReason: c.FinishReason}
				if c.Delta != nil {
					chunk.Delta = llm.Message{Role: llm.RoleAssistant, Content: c.Delta.Content}
				}
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
		}
	}()
	return ch, nil
}

// HealthCheck issues GET /v1/models to confirm reachability; any status
// below 400 counts as healthy.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode < 400
	return &llm.HealthStatus{Healthy: healthy, Latency: latency}, nil
}

func mapHTTPError(status int, msg, provider string) *llm.Error {
	code := llm.ErrUpstreamError
	retryable := status >= 500
	switch status {
	case http.StatusUnauthorized:
		code = llm.ErrUnauthorized
	case http.StatusForbidden:
		code = llm.ErrForbidden
	case http.StatusTooManyRequests:
		code = llm.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = llm.ErrInvalidRequest
	}
	return &llm.Error{Code: code, Message: msg, HTTPStatus: status, Retryable: retryable, Provider: provider}
}
