package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fallback is the degraded, file-only long-term backend used when the
// primary SQLite+vector store is unavailable (missing or mismatched schema
// version, or open error). It keeps entries entirely in memory,
// persisted to a single JSONL file, and ranks recall purely by keyword
// overlap plus RIF — no vector similarity, since it has no embedder
// dependency to keep it usable even when embedding calls are failing.
type Fallback struct {
	path   string
	mu     sync.Mutex
	byID   map[string]*Entry
	logger *zap.Logger
}

// NewFallback opens or creates the fallback store at dataDir/fallback.jsonl.
func NewFallback(dataDir string, logger *zap.Logger) (*Fallback, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback data dir: %w", err)
	}
	f := &Fallback{
		path:   filepath.Join(dataDir, "fallback.jsonl"),
		byID:   make(map[string]*Entry),
		logger: logger.With(zap.String("component", "memory_fallback")),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fallback) load() error {
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		ec := e
		f.byID[e.ID] = &ec
	}
	return scanner.Err()
}

// persist rewrites the whole file via tmp+rename; the fallback store is
// expected to hold a modest number of entries, so a full rewrite per
// mutation is acceptable for a degraded-mode path.
func (f *Fallback) persist() error {
	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	for _, e := range f.byID {
		b, err := json.Marshal(e)
		if err != nil {
			file.Close()
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Capture stores content without an embedding.
func (f *Fallback) Capture(_ context.Context, content string, entryType EntryType, tags []string, metadata map[string]string) (Entry, error) {
	now := time.Now()
	e := Entry{
		ID:             uuid.NewString(),
		Content:        content,
		Type:           entryType,
		Confidence:     0.5,
		CreatedAt:      now,
		LastAccessedAt: now,
		Tags:           tags,
		Metadata:       metadata,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[e.ID] = &e
	return e, f.persist()
}

// Recall ranks entries by keyword overlap fused with RIF; there is no
// vector term since the fallback path has no embedder.
func (f *Fallback) Recall(_ context.Context, query string, topK int) ([]Entry, error) {
	if topK <= 0 {
		topK = 5
	}
	terms := strings.Fields(strings.ToLower(query))

	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	type scored struct {
		entry *Entry
		score float64
	}
	var out []scored
	for _, e := range f.byID {
		kw := 0.0
		if len(terms) > 0 {
			lower := strings.ToLower(e.Content)
			matched := 0
			for _, t := range terms {
				if strings.Contains(lower, t) {
					matched++
				}
			}
			kw = float64(matched) / float64(len(terms))
		}
		rif := RIF(*e, now, DefaultRIFWeights)
		score := DefaultFusionWeights.Keyword*kw + DefaultFusionWeights.RIF*rif
		if kw > 0 || len(terms) == 0 {
			out = append(out, scored{entry: e, score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].entry.LastAccessedAt.After(out[j].entry.LastAccessedAt)
	})
	if len(out) > topK {
		out = out[:topK]
	}

	result := make([]Entry, len(out))
	for i, s := range out {
		s.entry.AccessCount++
		s.entry.LastAccessedAt = now
		result[i] = *s.entry
	}
	return result, f.persist()
}

// Forget removes entries eligible under the shared forgetting rule.
func (f *Fallback) Forget(minConfidence float64, minAccessCount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for id, e := range f.byID {
		if e.Confidence < minConfidence && e.AccessCount < minAccessCount && e.Type != TypeFact && e.Type != TypeSolution {
			delete(f.byID, id)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, f.persist()
}

// ForgetByTag deletes every entry carrying tag unconditionally, mirroring
// LongTerm.ForgetByTag so the forget_memory tool behaves the same whether or
// not the primary store degraded.
func (f *Fallback) ForgetByTag(tag string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for id, e := range f.byID {
		for _, t := range e.Tags {
			if t == tag {
				delete(f.byID, id)
				n++
				break
			}
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, f.persist()
}
