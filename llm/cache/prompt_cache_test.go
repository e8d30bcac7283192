package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	llmpkg "github.com/duskvane/aegis/llm"
)

func TestLRUCache_Basic(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)

	// 测试 Set 和 Get
	entry := &CacheEntry{TokensSaved: 100}
	cache.Set("key1", entry)

	got, ok := cache.Get("key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.TokensSaved != 100 {
		t.Errorf("expected TokensSaved=100, got %d", got.TokensSaved)
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(2, time.Minute)

	cache.Set("key1", &CacheEntry{TokensSaved: 1})
	cache.Set("key2", &CacheEntry{TokensSaved: 2})
	cache.Set("key3", &CacheEntry{TokensSaved: 3}) // 应该驱逐 key1

	if _, ok := cache.Get("key1"); ok {
		t.Error("key1 should have been evicted")
	}
	if _, ok := cache.Get("key2"); !ok {
		t.Error("key2 should exist")
	}
	if _, ok := cache.Get("key3"); !ok {
		t.Error("key3 should exist")
	}
}

func TestLRUCache_TTL(t *testing.T) {
	cache := NewLRUCache(10, 10*time.Millisecond)

	cache.Set("key1", &CacheEntry{TokensSaved: 1})

	// 立即获取应该成功
	if _, ok := cache.Get("key1"); !ok {
		t.Error("expected cache hit")
	}

	// 等待过期
	time.Sleep(20 * time.Millisecond)

	if _, ok := cache.Get("key1"); ok {
		t.Error("expected cache miss after TTL")
	}
}

func TestMultiLevelCache_GenerateKey(t *testing.T) {
	cache := NewMultiLevelCache(nil, nil, zap.NewNop())

	req1 := &llmpkg.ChatRequest{
		Model:    "gpt-4",
		Messages: []llmpkg.Message{{Role: llmpkg.RoleUser, Content: "hello"}},
	}
	req2 := &llmpkg.ChatRequest{
		Model:    "gpt-4",
		Messages: []llmpkg.Message{{Role: llmpkg.RoleUser, Content: "hello"}},
	}
	req3 := &llmpkg.ChatRequest{
		Model:    "gpt-4",
		Messages: []llmpkg.Message{{Role: llmpkg.RoleUser, Content: "world"}},
	}

	key1 := cache.GenerateKey(req1)
	key2 := cache.GenerateKey(req2)
	key3 := cache.GenerateKey(req3)

	if key1 != key2 {
		t.Error("same requests should have same key")
	}
	if key1 == key3 {
		t.Error("different requests should have different keys")
	}
}

func TestMultiLevelCache_IsCacheable(t *testing.T) {
	cache := NewMultiLevelCache(nil, nil, zap.NewNop())

	// 无工具调用的请求可缓存
	req1 := &llmpkg.ChatRequest{Model: "gpt-4"}
	if !cache.IsCacheable(req1) {
		t.Error("request without tools should be cacheable")
	}

	// 有工具调用的请求不可缓存
	req2 := &llmpkg.ChatRequest{
		Model: "gpt-4",
		Tools: []llmpkg.ToolSchema{{Name: "test"}},
	}
	if cache.IsCacheable(req2) {
		t.Error("request with tools should not be cacheable")
	}
}

func TestMultiLevelCache_RedisRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := DefaultCacheConfig()
	cfg.EnableLocal = false // force every Get/Set through the redis path
	mlc := NewMultiLevelCache(rdb, cfg, zap.NewNop())

	ctx := context.Background()
	key := "recall:hello"

	if _, err := mlc.Get(ctx, key); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss before Set, got %v", err)
	}

	if err := mlc.Set(ctx, key, &CacheEntry{Response: "cached answer"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entry, err := mlc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Response != "cached answer" {
		t.Errorf("expected %q, got %v", "cached answer", entry.Response)
	}

	if err := mlc.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := mlc.Get(ctx, key); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss after Delete, got %v", err)
	}
}

type fakeMetricsRecorder struct {
	hits, misses []string
}

func (f *fakeMetricsRecorder) RecordCacheHit(cacheType string)  { f.hits = append(f.hits, cacheType) }
func (f *fakeMetricsRecorder) RecordCacheMiss(cacheType string) { f.misses = append(f.misses, cacheType) }

func TestMultiLevelCache_ReportsHitsAndMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := DefaultCacheConfig()
	cfg.EnableLocal = false
	mlc := NewMultiLevelCache(rdb, cfg, zap.NewNop())
	rec := &fakeMetricsRecorder{}
	mlc.SetMetrics(rec)

	ctx := context.Background()
	if _, err := mlc.Get(ctx, "missing"); err != ErrCacheMiss {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
	if err := mlc.Set(ctx, "present", &CacheEntry{Response: "x"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := mlc.Get(ctx, "present"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if len(rec.misses) != 1 || rec.misses[0] != "llm_prompt" {
		t.Errorf("expected one llm_prompt miss, got %v", rec.misses)
	}
	if len(rec.hits) != 1 || rec.hits[0] != "llm_prompt" {
		t.Errorf("expected one llm_prompt hit, got %v", rec.hits)
	}
}
