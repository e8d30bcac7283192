package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/llm/cache"
	"github.com/duskvane/aegis/llm/retry"
	"github.com/duskvane/aegis/llm/toolcall"
	"github.com/duskvane/aegis/memory"
	"github.com/duskvane/aegis/session"
	"github.com/duskvane/aegis/toolregistry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var agentTracer = otel.Tracer("aegis/supervisor")

// Config controls the bounds of the tool-calling loop.
type Config struct {
	SystemPrompt      string
	MaxSteps          int
	LLMTimeout        time.Duration
	ToolTimeout       time.Duration
	LLMRetryAttempts  int
	LLMRetryBaseDelay time.Duration
	ConfirmationTTL   time.Duration
	ToolNames         []string // nil = every registered tool is offered to the LLM
	RecallTopK        int      // memories recalled per turn before the LLM call; 0 uses DefaultConfig's value
}

// DefaultConfig mirrors the process-wide agent defaults.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:      "You are a helpful personal assistant.",
		MaxSteps:          10,
		LLMTimeout:        60 * time.Second,
		ToolTimeout:       30 * time.Second,
		LLMRetryAttempts:  3,
		LLMRetryBaseDelay: 1 * time.Second,
		ConfirmationTTL:   5 * time.Minute,
		RecallTopK:        5,
	}
}

// Outcome is what Handle produced for one user turn.
type Outcome struct {
	Reply         string
	NeedsInput    bool   // true when a confirmation is now pending
	ConfirmPrompt string // populated when NeedsInput is true
	StepsUsed     int
	ToolCallsMade int
}

// Agent is the ReAct-style tool-calling loop: build context, check the
// confirmation short-circuit, call the LLM, branch on its response, repeat
// until it produces a final answer or the step bound is hit.
type Agent struct {
	provider llm.Provider
	model    string
	tools    *toolregistry.Registry
	executor *toolregistry.Executor
	sessions *session.Store
	memory   *memory.System // nil disables recall; the agent runs on transcript + system prompt only
	confirms *confirmationStore
	retryer  retry.Retryer
	cfg      Config
	logger   *zap.Logger
	metrics  agentMetricsRecorder
}

// agentMetricsRecorder is the subset of internal/metrics.Collector this
// agent reports against; kept as an interface so this package never imports
// internal/metrics.
type agentMetricsRecorder interface {
	RecordAgentExecution(agentID, agentType, status string, duration time.Duration)
	RecordAgentStateTransition(agentID, fromState, toState string)
}

// MetricsRecorder is the full recorder surface the agent forwards to its
// tool executor's result cache in addition to its own agent-level metrics.
type MetricsRecorder interface {
	agentMetricsRecorder
	cache.MetricsRecorder
}

// SetMetrics attaches a metrics recorder, reported under agentID "supervisor"
// and agentType matching a.model, and forwards the cache half of m to the
// tool executor's result cache. Optional — an agent with no recorder
// attached behaves exactly as before.
func (a *Agent) SetMetrics(m MetricsRecorder) {
	a.metrics = m
	a.executor.SetMetrics(m)
}

// New creates a supervisor Agent. memSystem may be nil, in which case the
// agent skips memory recall entirely (transcript + system prompt only).
func New(provider llm.Provider, model string, tools *toolregistry.Registry, sessions *session.Store, memSystem *memory.System, cfg Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.RecallTopK <= 0 {
		cfg.RecallTopK = 5
	}
	attempts := cfg.LLMRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryPolicy := &retry.RetryPolicy{
		MaxRetries:      attempts - 1,
		InitialDelay:    cfg.LLMRetryBaseDelay,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []error{retry.RetryableSentinel},
	}
	return &Agent{
		provider: provider,
		model:    model,
		tools:    tools,
		executor: toolregistry.NewExecutor(tools, logger),
		sessions: sessions,
		memory:   memSystem,
		confirms: newConfirmationStore(),
		retryer:  retry.NewBackoffRetryer(retryPolicy, logger),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "supervisor")),
	}
}

// Handle processes one inbound message for sessionKey: context build,
// confirmation short-circuit, LLM call, branch, step-bounded loop.
func (a *Agent) Handle(ctx context.Context, key session.Key, userText string) (outcome Outcome, err error) {
	start := time.Now()
	defer func() { a.recordExecution(start, outcome, err) }()

	sessionKey := key.String()
	lock := a.sessions.Lock(key)
	lock.Lock()
	defer lock.Unlock()

	// Step: confirmation short-circuit, evaluated before any LLM call.
	if pending, ok := a.confirms.get(sessionKey); ok {
		now := time.Now()
		if pending.Expired(now, a.cfg.ConfirmationTTL) {
			a.confirms.clear(sessionKey)
			a.logger.Info("pending confirmation expired", zap.String("session_key", sessionKey))
		} else if isConfirm, isCancel := classifyLexeme(userText); isConfirm || isCancel {
			a.confirms.clear(sessionKey)
			return a.resolveConfirmation(ctx, key, pending, isConfirm)
		}
	}

	if err := a.sessions.Append(key, session.Message{Role: string(llm.RoleUser), Content: userText}); err != nil {
		return Outcome{}, fmt.Errorf("append user message: %w", err)
	}

	memoryContext := a.recall(ctx, userText)
	messages, err := a.buildMessages(ctx, key, memoryContext)
	if err != nil {
		return Outcome{}, err
	}

	return a.runLoop(ctx, key, messages)
}

// recordExecution reports one Handle call's outcome to the attached metrics
// recorder, if any. status distinguishes a completed turn ("ok"), one
// halted for user confirmation ("needs_input"), and a hard failure
// ("error"), since all three are meaningfully different outcomes for an
// agent execution counter.
func (a *Agent) recordExecution(start time.Time, out Outcome, err error) {
	if a.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case out.NeedsInput:
		status = "needs_input"
	}
	a.metrics.RecordAgentExecution("supervisor", a.model, status, time.Since(start))
}

// recall queries the memory system for the topK entries most relevant to
// userText and returns them pre-rendered for a system message. A nil memory
// system, an empty query, or a recall error all yield "" rather than failing
// the turn: memory is an enrichment, not a dependency the agent blocks on.
func (a *Agent) recall(ctx context.Context, userText string) string {
	if a.memory == nil || userText == "" {
		return ""
	}
	rendered, err := a.memory.Recall(ctx, userText, a.cfg.RecallTopK)
	if err != nil {
		a.logger.Warn("memory recall failed, continuing without it", zap.Error(err))
		return ""
	}
	return rendered
}

// resolveConfirmation executes or discards a pending tool call based on the
// user's yes/no, without ever consulting the LLM.
func (a *Agent) resolveConfirmation(ctx context.Context, key session.Key, pending PendingConfirmation, confirmed bool) (Outcome, error) {
	if !confirmed {
		reply := "Okay, cancelled."
		_ = a.sessions.Append(key, session.Message{Role: string(llm.RoleAssistant), Content: reply})
		return Outcome{Reply: reply}, nil
	}

	toolCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()
	result := a.executor.ExecuteOne(toolCtx, llm.ToolCall{
		ID:        pending.ToolCallID,
		Name:      pending.ToolName,
		Arguments: pending.Parameters,
	})

	// Confirmed actions execute and report their observation directly; the
	// LLM is never consulted again for this turn.
	observation := result.ToMessage()
	_ = a.sessions.Append(key, session.Message{Role: string(llm.RoleTool), Content: observation.Content})
	reply := observation.Content
	if result.Error != "" {
		reply = fmt.Sprintf("Couldn't complete that: %s", result.Error)
	}
	_ = a.sessions.Append(key, session.Message{Role: string(llm.RoleAssistant), Content: reply})
	return Outcome{Reply: reply, StepsUsed: 1, ToolCallsMade: 1}, nil
}

// buildMessages assembles the system prompt, any recalled long-term memory,
// and the persisted transcript for one LLM call. When a memory system is
// attached, its Working tier fits the assembled messages to its token budget
// (system messages and the most recent turns are kept, older turns are
// summarized or omitted); without one, the full transcript is sent.
// memoryContext, when non-empty, is prepended as its own system message
// ahead of the transcript so the model treats it as background rather than
// part of the conversation.
func (a *Agent) buildMessages(ctx context.Context, key session.Key, memoryContext string) ([]llm.Message, error) {
	history, err := a.sessions.Transcript(key)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	out := make([]llm.Message, 0, len(history)+3)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: a.cfg.SystemPrompt})
	if !a.provider.SupportsNativeFunctionCalling() {
		if instructions := toolcall.BuildInstructions(a.tools.Schemas(a.cfg.ToolNames)); instructions != "" {
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: instructions})
		}
	}
	if memoryContext != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: "[Relevant memory]\n" + memoryContext})
	}
	for _, m := range history {
		out = append(out, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	if a.memory != nil && a.memory.Working != nil {
		compressed, err := a.memory.Working.Compress(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("compress working memory: %w", err)
		}
		out = compressed
	}
	return out, nil
}

// runLoop drives the step-bounded LLM-call / tool-call cycle.
func (a *Agent) runLoop(ctx context.Context, key session.Key, messages []llm.Message) (Outcome, error) {
	sessionKey := key.String()
	out := Outcome{}

	ctx, span := agentTracer.Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("session.key", sessionKey)),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("agent.steps_used", out.StepsUsed),
			attribute.Int("agent.tool_calls_made", out.ToolCallsMade),
		)
		span.End()
	}()

	state := "idle"
	for step := 0; step < a.cfg.MaxSteps; step++ {
		out.StepsUsed = step + 1
		state = a.transition(sessionKey, state, "thinking")

		resp, err := a.callLLMWithRetry(ctx, messages)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "llm call failed")
			return out, fmt.Errorf("llm call failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			err := fmt.Errorf("llm returned no choices")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return out, err
		}
		choice := resp.Choices[0].Message

		// A provider without native function calling encodes its tool calls
		// as <tool_call>{...}</tool_call> blocks inside choice.Content instead
		// of choice.ToolCalls; pull them out before branching on either.
		if !a.provider.SupportsNativeFunctionCalling() && len(choice.ToolCalls) == 0 {
			if calls, text := toolcall.Extract(choice.Content); len(calls) > 0 {
				choice.ToolCalls = calls
				choice.Content = text
			}
		}
		messages = append(messages, choice)

		if len(choice.ToolCalls) == 0 {
			_ = a.sessions.Append(key, session.Message{Role: string(llm.RoleAssistant), Content: choice.Content})
			out.Reply = choice.Content
			a.transition(sessionKey, state, "idle")
			return out, nil
		}

		state = a.transition(sessionKey, state, "tool_call")

		// A tool call that needs confirmation halts the loop immediately;
		// everything else executes right away and feeds back as an
		// observation for the next step.
		var toExecute []llm.ToolCall
		for _, call := range choice.ToolCalls {
			if a.tools.NeedsConfirmation(call.Name) {
				_, meta, _ := a.tools.Get(call.Name)
				prompt := meta.ConfirmationPrompt
				if prompt == "" {
					prompt = fmt.Sprintf("Confirm running %s? (yes/no)", call.Name)
				}
				pending := PendingConfirmation{
					SessionKey: sessionKey,
					ToolCallID: call.ID,
					ToolName:   call.Name,
					Parameters: json.RawMessage(call.Arguments),
					Prompt:     prompt,
					CreatedAt:  time.Now(),
				}
				a.confirms.set(pending)
				_ = a.sessions.Append(key, session.Message{Role: string(llm.RoleAssistant), Content: prompt})
				out.Reply = prompt
				out.NeedsInput = true
				out.ConfirmPrompt = prompt
				a.transition(sessionKey, state, "awaiting_confirmation")
				return out, nil
			}
			toExecute = append(toExecute, call)
		}

		toolCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
		results := a.executor.Execute(toolCtx, toExecute)
		cancel()
		out.ToolCallsMade += len(results)

		for _, r := range results {
			messages = append(messages, r.ToMessage())
		}
	}

	reply := "I wasn't able to complete this within the allotted steps."
	_ = a.sessions.Append(key, session.Message{Role: string(llm.RoleAssistant), Content: reply})
	out.Reply = reply
	a.transition(sessionKey, state, "idle")
	return out, nil
}

// transition records a state change through the attached metrics recorder,
// if any, and returns to so callers can thread the running state through
// the loop without a separate variable at each call site.
func (a *Agent) transition(sessionKey, from, to string) string {
	if a.metrics != nil {
		a.metrics.RecordAgentStateTransition(sessionKey, from, to)
	}
	return to
}

// callLLMWithRetry retries only transient LLM failures with bounded
// exponential backoff; tool-execution errors are never retried here, they
// are surfaced to the model as observations instead.
func (a *Agent) callLLMWithRetry(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	req := &llm.ChatRequest{
		TraceID:  uuid.NewString(),
		Model:    a.model,
		Messages: messages,
		Timeout:  a.cfg.LLMTimeout,
	}
	// Providers without native function calling get their tool catalog only
	// through the prompted instructions buildMessages already injected into
	// the system prompt; sending req.Tools/ToolChoice as well would ask such
	// a provider to honor a request shape it does not support.
	if a.provider.SupportsNativeFunctionCalling() {
		req.Tools = a.tools.Schemas(a.cfg.ToolNames)
		req.ToolChoice = "auto"
	}

	result, err := a.retryer.DoWithResult(ctx, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
		defer cancel()

		resp, err := a.provider.Completion(callCtx, req)
		if err == nil {
			return resp, nil
		}

		var llmErr *llm.Error
		if isRetryable(err, &llmErr) {
			return nil, retry.WrapRetryable(err)
		}
		return nil, err
	})
	if err != nil {
		var rw *retry.RetryableError
		if errors.As(err, &rw) {
			return nil, fmt.Errorf("llm call failed: %w", rw.Err)
		}
		return nil, err
	}
	return result.(*llm.ChatResponse), nil
}

func isRetryable(err error, out **llm.Error) bool {
	llmErr, ok := err.(*llm.Error)
	if !ok {
		return true // unknown transport error: worth a retry
	}
	*out = llmErr
	return llmErr.Retryable
}
