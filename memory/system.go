package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/duskvane/aegis/llm/cache"
)

// SystemConfig configures the whole three-tier memory system.
type SystemConfig struct {
	DataDir          string
	Working          WorkingConfig
	LongTerm         LongTermConfig
	ConsolidateEvery time.Duration

	// RecallCacheTTL is not read by System. Recall consults RecallCache
	// whenever it is set (nil disables caching), and cached results live as
	// long as that cache keeps them; cmd/gateway builds it with the memory
	// config's recall-cache TTL.
	RecallCacheTTL time.Duration
}

// DefaultSystemConfig returns the process-wide defaults rooted at dataDir.
func DefaultSystemConfig(dataDir string) SystemConfig {
	return SystemConfig{
		DataDir:          dataDir,
		Working:          DefaultWorkingConfig(),
		LongTerm:         DefaultLongTermConfig(dataDir + "/longterm"),
		ConsolidateEvery: 6 * time.Hour,
	}
}

// System is the external-facing memory API: capture, recall, consolidate.
// It owns its database file and any fallback directory exclusively; callers
// never touch LongTerm/Fallback/Raw directly.
type System struct {
	cfg SystemConfig

	Working  *Working
	longTerm *LongTerm // nil when running in degraded mode
	fallback *Fallback
	raw      *Raw

	degraded     bool
	consolidator *Consolidator
	logger       *zap.Logger

	// RecallCache, when set, short-circuits Recall for repeated queries
	// against an unchanged memory state. Exported so cmd/gateway can attach
	// a Redis-backed cache.MultiLevelCache after construction, the same way
	// it overwrites Working with a properly tokenized instance.
	RecallCache cache.PromptCache
}

// New builds the three-tier memory system, opening the primary long-term
// store and falling back to the degraded file-only backend if that fails
// (missing/mismatched schema version, or any open error).
func New(cfg SystemConfig, embedder Embedder, summarizer LLMSummarizer, logger *zap.Logger) (*System, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw, err := NewRaw(cfg.DataDir + "/raw")
	if err != nil {
		return nil, fmt.Errorf("open raw log: %w", err)
	}

	sys := &System{
		cfg:     cfg,
		Working: NewWorking(cfg.Working, nil, nil),
		raw:     raw,
		logger:  logger.With(zap.String("component", "memory_system")),
	}

	longTerm, err := OpenLongTerm(cfg.LongTerm, embedder, logger)
	if err != nil {
		sys.logger.Warn("primary long-term store unavailable, degrading to file-only fallback", zap.Error(err))
		fb, fbErr := NewFallback(cfg.DataDir+"/fallback", logger)
		if fbErr != nil {
			return nil, fmt.Errorf("open fallback store after primary failure (%v): %w", err, fbErr)
		}
		sys.fallback = fb
		sys.degraded = true
		return sys, nil
	}
	sys.longTerm = longTerm
	sys.consolidator = NewConsolidator(longTerm, summarizer, cfg.ConsolidateEvery, logger)
	return sys, nil
}

// Degraded reports whether the system is running on the file-only fallback.
func (s *System) Degraded() bool {
	return s.degraded
}

// Capture records content into the raw log and, unless in degraded mode,
// into the long-term store; in degraded mode it goes to the fallback store
// instead so recall still works.
func (s *System) Capture(ctx context.Context, content string, entryType EntryType, tags []string, metadata map[string]string) (Entry, error) {
	if entryType == "" {
		entryType = TypeEvent
	}

	var entry Entry
	var err error
	if s.degraded {
		entry, err = s.fallback.Capture(ctx, content, entryType, tags, metadata)
	} else {
		entry, err = s.longTerm.Capture(ctx, content, entryType, tags, metadata)
	}
	if err != nil {
		return Entry{}, err
	}

	if logErr := s.raw.Append(RawEvent{ID: entry.ID, Content: content, Type: entryType, Tags: tags, CreatedAt: entry.CreatedAt}); logErr != nil {
		s.logger.Warn("failed to append raw log entry", zap.Error(logErr))
	}
	return entry, nil
}

// recallCacheQuery is the value hashed into a recall cache key; it is never
// itself a *llm.ChatRequest, so cache.MultiLevelCache.GenerateKey falls back
// to its generic JSON-hash path for it.
type recallCacheQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Recall performs hybrid retrieval (or fallback keyword+RIF ranking in
// degraded mode) and renders the topK entries as a single prompt-ready string.
// A configured RecallCache is consulted first and populated on miss; a cache
// error never fails the call, it just skips caching for that request.
func (s *System) Recall(ctx context.Context, query string, topK int) (string, error) {
	var cacheKey string
	if s.RecallCache != nil {
		cacheKey = s.RecallCache.GenerateKey(recallCacheQuery{Query: query, TopK: topK})
		if entry, err := s.RecallCache.Get(ctx, cacheKey); err == nil && entry != nil {
			if rendered, ok := entry.Response.(string); ok {
				return rendered, nil
			}
		}
	}

	var entries []Entry
	var err error
	if s.degraded {
		entries, err = s.fallback.Recall(ctx, query, topK)
	} else {
		entries, err = s.longTerm.Recall(ctx, query, topK)
	}
	if err != nil {
		return "", err
	}
	rendered := renderEntries(entries)

	if s.RecallCache != nil {
		if err := s.RecallCache.Set(ctx, cacheKey, &cache.CacheEntry{
			Response:  rendered,
			CreatedAt: time.Now(),
		}); err != nil {
			s.logger.Warn("recall cache set failed", zap.Error(err))
		}
	}
	return rendered, nil
}

func renderEntries(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	out := ""
	for i, e := range entries {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("- (%s, confidence=%.2f) %s", e.Type, e.Confidence, e.Content)
	}
	return out
}

// ForgetByTag deletes every entry (long-term or fallback, whichever is
// active) carrying tag; it never touches the raw Tier2 log, which is an
// append-only audit trail that consolidation and forgetting never prune.
// It never fails on zero matches.
func (s *System) ForgetByTag(ctx context.Context, tag string) (int, error) {
	var n int
	var err error
	if s.degraded {
		n, err = s.fallback.ForgetByTag(tag)
	} else {
		n, err = s.longTerm.ForgetByTag(ctx, tag)
	}
	if err != nil {
		return 0, fmt.Errorf("forget by tag %q: %w", tag, err)
	}
	return n, nil
}

// Consolidate runs one clustering + summarization + forgetting pass. In
// degraded mode it only runs the forgetting rule, since clustering by
// semantic similarity requires embeddings the fallback store never stores.
func (s *System) Consolidate(ctx context.Context) (Result, error) {
	if s.degraded {
		n, err := s.fallback.Forget(ForgetConfidenceThreshold, ForgetAccessCountThreshold)
		return Result{EntriesForgot: n}, err
	}
	return s.consolidator.Run(ctx)
}

// RunConsolidationLoop blocks, running Consolidate every ConsolidateEvery
// until ctx is cancelled.
func (s *System) RunConsolidationLoop(ctx context.Context) {
	interval := s.cfg.ConsolidateEvery
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Consolidate(ctx)
			if err != nil {
				s.logger.Warn("consolidation pass failed", zap.Error(err))
				continue
			}
			s.logger.Info("consolidation pass complete",
				zap.Int("clusters_formed", res.ClustersFormed),
				zap.Int("entries_decayed", res.EntriesDecayed),
				zap.Int("entries_forgotten", res.EntriesForgot),
			)
		}
	}
}

// Close releases the long-term store's database handle, if open.
func (s *System) Close() error {
	if s.longTerm != nil {
		return s.longTerm.Close()
	}
	return nil
}
