package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/duskvane/aegis/llm"
	"github.com/duskvane/aegis/memory"
	"github.com/duskvane/aegis/rag"
	"github.com/duskvane/aegis/rag/loader"
	"github.com/duskvane/aegis/task"
	"github.com/duskvane/aegis/toolregistry"
)

// registerBuiltinTools wires the handful of tools every deployment gets for
// free: current time, memory ingestion/forgetting, and the personal task
// list. Channel-specific actions are registered by whatever embeds this
// binary; this repo owns the calling loop and the registry, not the full
// tool catalog.
func registerBuiltinTools(reg *toolregistry.Registry, memSystem *memory.System, tasks *task.Store, logger *zap.Logger) error {
	if err := reg.Register("current_time", currentTimeTool, toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "current_time",
			Description: "Returns the current UTC time in RFC3339 format.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		Timeout: 5 * time.Second,
	}); err != nil {
		return err
	}

	if err := reg.Register("forget_memory", newForgetMemoryTool(memSystem), toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "forget_memory",
			Description: "Deletes remembered facts matching a tag. Requires confirmation since it is irreversible.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"tag":{"type":"string"}},"required":["tag"]}`),
		},
		Timeout:            10 * time.Second,
		NeedsConfirmation:  true,
		ConfirmationPrompt: "This will permanently delete remembered facts tagged with the given tag. Proceed?",
	}); err != nil {
		return err
	}

	if err := reg.Register("ingest_document", newIngestDocumentTool(memSystem, logger), toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "ingest_document",
			Description: "Reads a local text, markdown, CSV, or JSON file, splits it into chunks, and stores each chunk as long-term memory so it can be recalled later.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}},"required":["path"]}`),
		},
		Timeout: 30 * time.Second,
	}); err != nil {
		return err
	}

	if err := reg.Register("create_task", newCreateTaskTool(tasks), toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "create_task",
			Description: "Adds a new task to the user's task list.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"title":{"type":"string"},
				"description":{"type":"string"},
				"type":{"type":"string","enum":["immediate","todo","scheduled","recurring"]},
				"priority":{"type":"string","enum":["high","medium","low"]},
				"due_at":{"type":"string","description":"RFC3339 timestamp"}
			},"required":["title"]}`),
		},
		Timeout: 5 * time.Second,
	}); err != nil {
		return err
	}

	if err := reg.Register("list_tasks", newListTasksTool(tasks), toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "list_tasks",
			Description: "Lists tasks on the user's task list, sorted by priority, optionally filtered by status.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"status":{"type":"string","enum":["pending","in_progress","blocked","completed","cancelled"]}}}`),
		},
		Timeout: 5 * time.Second,
	}); err != nil {
		return err
	}

	if err := reg.Register("complete_task", newCompleteTaskTool(tasks), toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "complete_task",
			Description: "Marks a task as completed.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"task_id":{"type":"string"},"result":{"type":"string"}},"required":["task_id"]}`),
		},
		Timeout: 5 * time.Second,
	}); err != nil {
		return err
	}

	return reg.Register("delete_tasks", newDeleteTasksTool(tasks), toolregistry.Metadata{
		Schema: llm.ToolSchema{
			Name:        "delete_tasks",
			Description: "Deletes tasks: either specific task_ids, or every pending task when delete_all is true. Requires confirmation since it is irreversible.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"task_ids":{"type":"array","items":{"type":"string"}},"delete_all":{"type":"boolean"}}}`),
		},
		Timeout:            10 * time.Second,
		NeedsConfirmation:  true,
		ConfirmationPrompt: "This will permanently delete the selected tasks. Proceed?",
	})
}

func currentTimeTool(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"utc": time.Now().UTC().Format(time.RFC3339)})
}

// newIngestDocumentTool loads a document via rag/loader's extension-routed
// registry, chunks it with a document-aware chunker, and captures each
// chunk into long-term memory as a fact tagged with the ingested source.
func newIngestDocumentTool(memSystem *memory.System, logger *zap.Logger) toolregistry.Func {
	loaders := loader.NewLoaderRegistry()
	chunker := rag.NewDocumentChunker(rag.DefaultChunkingConfig(), rag.NewEstimatorAdapter("gpt-4o", 0, logger), logger)
	contextProvider := rag.NewSimpleContextProvider(logger)

	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Path string   `json:"path"`
			Tags []string `json:"tags"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if req.Path == "" {
			return nil, fmt.Errorf("path is required")
		}

		docs, err := loaders.Load(ctx, req.Path)
		if err != nil {
			return nil, fmt.Errorf("load document: %w", err)
		}

		tags := append([]string{"ingested:" + req.Path}, req.Tags...)
		captured := 0
		for _, doc := range docs {
			ragDoc := rag.Document{ID: doc.ID, Content: doc.Content, Metadata: doc.Metadata}
			for _, chunk := range chunker.ChunkDocument(ragDoc) {
				chunkCtx, err := contextProvider.GenerateContext(ctx, ragDoc, chunk.Content)
				if err != nil {
					return nil, fmt.Errorf("generate chunk context: %w", err)
				}
				content := chunk.Content
				if chunkCtx != "" {
					content = chunkCtx + "\n\n" + chunk.Content
				}
				if _, err := memSystem.Capture(ctx, content, memory.TypeFact, tags, chunkMetadata(chunk)); err != nil {
					return nil, fmt.Errorf("capture chunk: %w", err)
				}
				captured++
			}
		}

		return json.Marshal(map[string]any{"documents": len(docs), "chunks_captured": captured})
	}
}

// chunkMetadata converts a chunk's metadata (only ever set by the
// document-aware strategy, to mark code/table blocks that were kept
// unsplit) into the string-valued map memory.Capture expects. Returns nil
// for chunks with no metadata, matching memory.Capture's no-metadata case.
func chunkMetadata(chunk rag.Chunk) map[string]string {
	if len(chunk.Metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(chunk.Metadata))
	for k, v := range chunk.Metadata {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// newForgetMemoryTool returns a toolregistry.Func that deletes every long-term
// memory entry tagged with args.tag. The registry only invokes it once the
// confirmation gate has run, so by the time this executes the deletion is
// meant to happen for real.
func newForgetMemoryTool(memSystem *memory.System) toolregistry.Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Tag string `json:"tag"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if req.Tag == "" {
			return nil, fmt.Errorf("tag is required")
		}

		deleted, err := memSystem.ForgetByTag(ctx, req.Tag)
		if err != nil {
			return nil, fmt.Errorf("forget by tag: %w", err)
		}
		return json.Marshal(map[string]any{"tag": req.Tag, "deleted_count": deleted})
	}
}

func newCreateTaskTool(tasks *task.Store) toolregistry.Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Type        string `json:"type"`
			Priority    string `json:"priority"`
			DueAt       string `json:"due_at"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if req.Title == "" {
			return nil, fmt.Errorf("title is required")
		}

		var dueAt time.Time
		if req.DueAt != "" {
			parsed, err := time.Parse(time.RFC3339, req.DueAt)
			if err != nil {
				return nil, fmt.Errorf("invalid due_at: %w", err)
			}
			dueAt = parsed
		}

		t, err := tasks.Create(task.CreateInput{
			Title:       req.Title,
			Description: req.Description,
			Type:        task.Type(req.Type),
			Priority:    task.PriorityFromLevel(req.Priority),
			DueAt:       dueAt,
		})
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		return json.Marshal(t)
	}
}

func newListTasksTool(tasks *task.Store) toolregistry.Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		list := tasks.List(task.ListFilter{Status: task.Status(req.Status)})
		return json.Marshal(map[string]any{"tasks": list, "count": len(list)})
	}
}

func newCompleteTaskTool(tasks *task.Store) toolregistry.Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			TaskID string `json:"task_id"`
			Result string `json:"result"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if req.TaskID == "" {
			return nil, fmt.Errorf("task_id is required")
		}
		found, err := tasks.Complete(req.TaskID, req.Result)
		if err != nil {
			return nil, fmt.Errorf("complete task: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("no task with id %q", req.TaskID)
		}
		return json.Marshal(map[string]any{"task_id": req.TaskID, "status": "completed"})
	}
}

// newDeleteTasksTool deletes either an explicit list of task IDs or, when
// delete_all is set, every pending task. The registry only invokes this
// after confirmation has already been granted, so the deletion here is
// the real thing, not a preview.
func newDeleteTasksTool(tasks *task.Store) toolregistry.Func {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var req struct {
			TaskIDs   []string `json:"task_ids"`
			DeleteAll bool     `json:"delete_all"`
		}
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}

		if req.DeleteAll {
			n, err := tasks.DeleteAllPending()
			if err != nil {
				return nil, fmt.Errorf("delete all pending tasks: %w", err)
			}
			return json.Marshal(map[string]any{"deleted_count": n})
		}

		if len(req.TaskIDs) == 0 {
			return nil, fmt.Errorf("task_ids is required unless delete_all is true")
		}
		n, err := tasks.DeleteMany(req.TaskIDs)
		if err != nil {
			return nil, fmt.Errorf("delete tasks: %w", err)
		}
		return json.Marshal(map[string]any{"deleted_count": n})
	}
}
