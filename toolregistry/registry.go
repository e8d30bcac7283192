// Package toolregistry holds the tools the supervisor agent may call: their
// JSON schemas, execution functions, per-tool timeouts, and whether a call
// requires user confirmation before it runs.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/llm/cache"
	"go.uber.org/zap"
)

// Func is the signature every registered tool implements.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Metadata describes a registered tool beyond its wire schema.
type Metadata struct {
	Schema             llm.ToolSchema
	Timeout            time.Duration
	NeedsConfirmation  bool
	ConfirmationPrompt string
}

// Result is the outcome of one tool invocation, ready to fold back into the
// conversation as a tool-role message.
type Result struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// ToMessage converts a Result into the tool-role message the LLM expects
// as the next turn's context.
func (r Result) ToMessage() llm.Message {
	msg := llm.Message{Role: llm.RoleTool, ToolCallID: r.ToolCallID, Name: r.Name}
	if r.Error != "" {
		msg.Content = fmt.Sprintf("error: %s", r.Error)
	} else {
		msg.Content = string(r.Result)
	}
	return msg
}

var (
	// ErrNotFound is returned when a tool call names an unregistered tool.
	ErrNotFound = fmt.Errorf("tool not registered")
	// ErrAlreadyRegistered is returned when registering a duplicate tool name.
	ErrAlreadyRegistered = fmt.Errorf("tool already registered")
)

// Registry holds registered tools and their metadata.
type Registry struct {
	mu       sync.RWMutex
	fns      map[string]Func
	metadata map[string]Metadata
	logger   *zap.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		fns:      make(map[string]Func),
		metadata: make(map[string]Metadata),
		logger:   logger.With(zap.String("component", "toolregistry")),
	}
}

// Register adds a tool. The schema name and the registration name must match.
func (r *Registry) Register(name string, fn Func, meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fns[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema=%s register=%s", meta.Schema.Name, name)
	}
	if meta.Timeout <= 0 {
		meta.Timeout = 30 * time.Second
	}

	r.fns[name] = fn
	r.metadata[name] = meta
	r.logger.Info("tool registered",
		zap.String("name", name),
		zap.Duration("timeout", meta.Timeout),
		zap.Bool("needs_confirmation", meta.NeedsConfirmation),
	)
	return nil
}

// Get returns a tool's function and metadata.
func (r *Registry) Get(name string) (Func, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, Metadata{}, false
	}
	return fn, r.metadata[name], true
}

// Schemas returns the schemas of tools in names, or all schemas if names is nil.
// Unknown names are silently skipped, matching the allow-list filtering the
// supervisor performs before every LLM call.
func (r *Registry) Schemas(names []string) []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if names == nil {
		out := make([]llm.ToolSchema, 0, len(r.metadata))
		for _, m := range r.metadata {
			out = append(out, m.Schema)
		}
		return out
	}

	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		if m, ok := r.metadata[n]; ok {
			out = append(out, m.Schema)
		}
	}
	return out
}

// NeedsConfirmation reports whether calling name requires a confirmation gate.
func (r *Registry) NeedsConfirmation(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metadata[name].NeedsConfirmation
}

// Executor runs tool calls against a Registry, applying per-tool timeouts.
// Successful results are memoized in resultCache so a step that repeats an
// identical call (same tool, same arguments) within its TTL skips re-execution.
type Executor struct {
	registry    *Registry
	resultCache *cache.ToolResultCache
	logger      *zap.Logger
}

// NewExecutor creates an Executor bound to registry, with result caching
// enabled using cache's package defaults.
func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry:    registry,
		resultCache: cache.NewToolResultCache(cache.DefaultToolCacheConfig(), logger),
		logger:      logger.With(zap.String("component", "tool_executor")),
	}
}

// SetMetrics attaches a metrics recorder to the executor's result cache.
func (e *Executor) SetMetrics(m cache.MetricsRecorder) {
	e.resultCache.SetMetrics(m)
}

// Execute runs every call concurrently and returns results in call order.
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			results[idx] = e.ExecuteOne(ctx, c)
		}(i, call)
	}
	wg.Wait()
	return results
}

// ExecuteOne runs a single tool call with its registered timeout.
func (e *Executor) ExecuteOne(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}

	fn, meta, ok := e.registry.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("%s: %s", ErrNotFound, call.Name)
		result.Duration = time.Since(start)
		return result
	}

	// Confirmation-gated tools have side effects; never memoize their results.
	cacheable := !meta.NeedsConfirmation

	if cacheable {
		if cached, ok := e.resultCache.Get(call.Name, call.Arguments); ok {
			result.Result = cached.Result
			result.Error = cached.Error
			result.Duration = time.Since(start)
			return result
		}
	}

	if len(call.Arguments) > 0 {
		var tmp any
		if err := json.Unmarshal(call.Arguments, &tmp); err != nil {
			result.Error = fmt.Sprintf("invalid arguments: %s", err)
			result.Duration = time.Since(start)
			return result
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	done := make(chan struct {
		res json.RawMessage
		err error
	}, 1)
	go func() {
		res, err := fn(execCtx, call.Arguments)
		select {
		case done <- struct {
			res json.RawMessage
			err error
		}{res, err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case d := <-done:
		result.Duration = time.Since(start)
		if d.err != nil {
			result.Error = d.err.Error()
			e.logger.Warn("tool execution failed", zap.String("tool", call.Name), zap.Error(d.err))
		} else {
			result.Result = d.res
			if cacheable {
				e.resultCache.Set(call.Name, call.Arguments, d.res, "")
			}
		}
	case <-execCtx.Done():
		result.Duration = time.Since(start)
		result.Error = fmt.Sprintf("execution timeout after %s", meta.Timeout)
		e.logger.Warn("tool execution timeout", zap.String("tool", call.Name), zap.Duration("timeout", meta.Timeout))
	}

	return result
}
