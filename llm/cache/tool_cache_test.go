package cache

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestToolResultCache_SetGetHitsAndReportsMetrics(t *testing.T) {
	c := NewToolResultCache(DefaultToolCacheConfig(), zap.NewNop())
	rec := &fakeMetricsRecorder{}
	c.SetMetrics(rec)

	args := json.RawMessage(`{"query":"weather"}`)

	if _, ok := c.Get("search", args); ok {
		t.Fatal("expected miss before Set")
	}

	c.Set("search", args, json.RawMessage(`{"result":"sunny"}`), "")

	result, ok := c.Get("search", args)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if string(result.Result) != `{"result":"sunny"}` {
		t.Errorf("unexpected result: %s", result.Result)
	}

	if len(rec.misses) != 1 || rec.misses[0] != "tool_result" {
		t.Errorf("expected one tool_result miss, got %v", rec.misses)
	}
	if len(rec.hits) != 1 || rec.hits[0] != "tool_result" {
		t.Errorf("expected one tool_result hit, got %v", rec.hits)
	}
}

func TestToolResultCache_ExcludedToolNeverCachedOrReported(t *testing.T) {
	cfg := DefaultToolCacheConfig()
	cfg.ExcludedTools = []string{"no_cache_tool"}
	c := NewToolResultCache(cfg, zap.NewNop())
	rec := &fakeMetricsRecorder{}
	c.SetMetrics(rec)

	args := json.RawMessage(`{}`)
	c.Set("no_cache_tool", args, json.RawMessage(`{}`), "")

	if _, ok := c.Get("no_cache_tool", args); ok {
		t.Fatal("excluded tool should never hit")
	}
	if len(rec.hits) != 0 || len(rec.misses) != 0 {
		t.Errorf("excluded tool lookups should not be reported, got hits=%v misses=%v", rec.hits, rec.misses)
	}
}
