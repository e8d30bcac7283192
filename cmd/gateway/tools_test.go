package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/duskvane/aegis/memory"
	"github.com/duskvane/aegis/task"
)

func newTestTaskStore(t *testing.T) *task.Store {
	t.Helper()
	store, err := task.NewStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("task.NewStore: %v", err)
	}
	return store
}

// newDegradedTestMemorySystem forces the file-only fallback so Capture
// never needs a real embedder, which newTestMemorySystem's plain
// memory.New(cfg, nil, ...) does not guarantee.
func newDegradedTestMemorySystem(t *testing.T) *memory.System {
	t.Helper()
	root := t.TempDir()
	cfg := memory.DefaultSystemConfig(root)

	blocker := filepath.Join(root, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker file: %v", err)
	}
	cfg.LongTerm.DataDir = filepath.Join(blocker, "longterm")

	sys, err := memory.New(cfg, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if !sys.Degraded() {
		t.Fatal("expected system to degrade to fallback store")
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

func newTestMemorySystem(t *testing.T) *memory.System {
	t.Helper()
	cfg := memory.DefaultSystemConfig(t.TempDir())
	sys, err := memory.New(cfg, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestIngestDocumentTool_CapturesChunksIntoMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("the project deadline is next Friday"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	sys := newTestMemorySystem(t)
	tool := newIngestDocumentTool(sys, zap.NewNop())

	args, _ := json.Marshal(map[string]any{"path": path})
	out, err := tool(context.Background(), args)
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}

	var resp struct {
		Documents      int `json:"documents"`
		ChunksCaptured int `json:"chunks_captured"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp.Documents != 1 || resp.ChunksCaptured < 1 {
		t.Fatalf("expected at least one document and one captured chunk, got %+v", resp)
	}

	recalled, err := sys.Recall(context.Background(), "deadline", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recalled == "" {
		t.Error("expected the ingested content to be recallable")
	}
}

func TestForgetMemoryTool_DeletesEntriesTaggedWithTag(t *testing.T) {
	sys := newDegradedTestMemorySystem(t)
	if _, err := sys.Capture(context.Background(), "user's phone number is 555-0100", memory.TypeFact, []string{"pii"}, nil); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := sys.Capture(context.Background(), "user prefers dark mode", memory.TypeFact, []string{"preference"}, nil); err != nil {
		t.Fatalf("capture: %v", err)
	}

	tool := newForgetMemoryTool(sys)
	args, _ := json.Marshal(map[string]string{"tag": "pii"})
	out, err := tool(context.Background(), args)
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}

	var resp struct {
		DeletedCount int `json:"deleted_count"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp.DeletedCount != 1 {
		t.Fatalf("expected exactly one entry deleted, got %d", resp.DeletedCount)
	}

	recalled, err := sys.Recall(context.Background(), "phone number", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recalled != "" {
		t.Errorf("expected the forgotten entry to no longer be recallable, got %q", recalled)
	}

	recalled, err = sys.Recall(context.Background(), "dark mode", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recalled == "" {
		t.Error("expected the untagged entry to remain recallable")
	}
}

func TestForgetMemoryTool_RejectsMissingTag(t *testing.T) {
	sys := newDegradedTestMemorySystem(t)
	tool := newForgetMemoryTool(sys)

	args, _ := json.Marshal(map[string]any{})
	if _, err := tool(context.Background(), args); err == nil {
		t.Fatal("expected an error for a missing tag")
	}
}

func TestTaskTools_CreateListCompleteDeleteAll(t *testing.T) {
	store := newTestTaskStore(t)

	create := newCreateTaskTool(store)
	args, _ := json.Marshal(map[string]any{"title": "seed task one"})
	if _, err := create(context.Background(), args); err != nil {
		t.Fatalf("create task one: %v", err)
	}
	args, _ = json.Marshal(map[string]any{"title": "seed task two"})
	if _, err := create(context.Background(), args); err != nil {
		t.Fatalf("create task two: %v", err)
	}

	list := newListTasksTool(store)
	out, err := list(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out, &listResp); err != nil {
		t.Fatalf("unmarshal list result: %v", err)
	}
	if listResp.Count != 2 {
		t.Fatalf("expected 2 seeded tasks, got %d", listResp.Count)
	}

	del := newDeleteTasksTool(store)
	out, err = del(context.Background(), json.RawMessage(`{"delete_all":true}`))
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	var delResp struct {
		DeletedCount int `json:"deleted_count"`
	}
	if err := json.Unmarshal(out, &delResp); err != nil {
		t.Fatalf("unmarshal delete result: %v", err)
	}
	if delResp.DeletedCount != 2 {
		t.Fatalf("expected both seeded tasks deleted, got %d", delResp.DeletedCount)
	}

	out, err = list(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("list tasks after delete: %v", err)
	}
	if err := json.Unmarshal(out, &listResp); err != nil {
		t.Fatalf("unmarshal list result: %v", err)
	}
	if listResp.Count != 0 {
		t.Fatalf("expected no tasks left after clearing, got %d", listResp.Count)
	}
}

func TestCompleteTaskTool_RejectsUnknownID(t *testing.T) {
	store := newTestTaskStore(t)
	complete := newCompleteTaskTool(store)
	args, _ := json.Marshal(map[string]string{"task_id": "doesnotexist"})
	if _, err := complete(context.Background(), args); err == nil {
		t.Fatal("expected an error for an unknown task id")
	}
}

func TestDeleteTasksTool_RequiresIDsOrDeleteAll(t *testing.T) {
	store := newTestTaskStore(t)
	del := newDeleteTasksTool(store)
	if _, err := del(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an error when neither task_ids nor delete_all is set")
	}
}

func TestIngestDocumentTool_RejectsMissingPath(t *testing.T) {
	sys := newTestMemorySystem(t)
	tool := newIngestDocumentTool(sys, zap.NewNop())

	args, _ := json.Marshal(map[string]any{})
	if _, err := tool(context.Background(), args); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}
