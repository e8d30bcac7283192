package toolregistry

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duskvane/aegis/llm"
	"go.uber.org/zap"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	}

	if err := r.Register("echo", fn, Metadata{Schema: llm.ToolSchema{Name: "echo"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("echo", fn, Metadata{Schema: llm.ToolSchema{Name: "echo"}}); err == nil {
		t.Fatal("expected ErrAlreadyRegistered on duplicate registration")
	}

	got, meta, ok := r.Get("echo")
	if !ok || got == nil {
		t.Fatal("expected registered tool to be found")
	}
	if meta.Timeout != 30*time.Second {
		t.Errorf("expected default timeout of 30s, got %s", meta.Timeout)
	}
}

func TestExecutor_ExecuteOne_CachesIdempotentCalls(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var calls int32
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"result":"cached"}`), nil
	}
	if err := r.Register("lookup", fn, Metadata{Schema: llm.ToolSchema{Name: "lookup"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	exec := NewExecutor(r, zap.NewNop())
	call := llm.ToolCall{ID: "1", Name: "lookup", Arguments: json.RawMessage(`{"q":"weather"}`)}

	first := exec.ExecuteOne(context.Background(), call)
	if first.Error != "" {
		t.Fatalf("unexpected error: %s", first.Error)
	}
	second := exec.ExecuteOne(context.Background(), call)
	if second.Error != "" {
		t.Fatalf("unexpected error: %s", second.Error)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected the underlying tool to run once, ran %d times", got)
	}
	if string(second.Result) != string(first.Result) {
		t.Errorf("expected cached result to match, got %q vs %q", second.Result, first.Result)
	}
}

func TestExecutor_ExecuteOne_NeverCachesConfirmationGatedTools(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var calls int32
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return json.RawMessage(`{"sent":true}`), nil
	}
	if err := r.Register("send_message", fn, Metadata{
		Schema:            llm.ToolSchema{Name: "send_message"},
		NeedsConfirmation: true,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	exec := NewExecutor(r, zap.NewNop())
	call := llm.ToolCall{ID: "1", Name: "send_message", Arguments: json.RawMessage(`{"to":"peer"}`)}

	exec.ExecuteOne(context.Background(), call)
	exec.ExecuteOne(context.Background(), call)

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected a side-effecting tool to run every time, ran %d times", got)
	}
}

func TestExecutor_ExecuteOne_UnknownTool(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	exec := NewExecutor(r, zap.NewNop())

	result := exec.ExecuteOne(context.Background(), llm.ToolCall{ID: "1", Name: "missing"})
	if result.Error == "" {
		t.Fatal("expected an error for an unregistered tool")
	}
}
