package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/duskvane/aegis/rag"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SchemaVersion is bumped whenever the long-term store's table layout
// changes. A missing or mismatched version forces the file-only fallback.
const SchemaVersion = 1

// LongTermConfig configures Tier1.
type LongTermConfig struct {
	DataDir    string
	Dimensions int
	Weights    FusionWeights
	RIFWeights RIFWeights
}

// DefaultLongTermConfig returns the process-wide defaults.
func DefaultLongTermConfig(dataDir string) LongTermConfig {
	return LongTermConfig{
		DataDir:    dataDir,
		Dimensions: 1536,
		Weights:    DefaultFusionWeights,
		RIFWeights: DefaultRIFWeights,
	}
}

// LongTerm is Tier1: a SQLite metadata table paired with an HNSW vector
// index, fused with keyword ranking and RIF at query time. When the schema
// version stored on disk doesn't match SchemaVersion, or the database
// cannot be opened, callers should fall back to Fallback instead.
type LongTerm struct {
	cfg      LongTermConfig
	embedder Embedder
	db       *sql.DB
	index    *rag.HNSWIndex
	logger   *zap.Logger

	mu sync.Mutex // guards index mutation alongside db writes
}

// OpenLongTerm opens (creating if absent) the SQLite-backed long-term store.
func OpenLongTerm(cfg LongTermConfig, embedder Embedder, logger *zap.Logger) (*LongTerm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = embedder.Dimensions()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create long-term data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "longterm.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	lt := &LongTerm{cfg: cfg, embedder: embedder, db: db, logger: logger.With(zap.String("component", "longterm_memory"))}
	if err := lt.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := lt.rebuildIndex(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return lt, nil
}

func (lt *LongTerm) migrate() error {
	var existing int
	if err := lt.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='entries'`).Scan(&existing); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	_, err := lt.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL);
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at TEXT NOT NULL,
			last_accessed_at TEXT NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			metadata TEXT,
			embedding BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(type);
	`)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	var version int
	row := lt.db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`)
	if err := row.Scan(&version); err == sql.ErrNoRows {
		if existing > 0 {
			return fmt.Errorf("schema version missing for an existing store")
		}
		_, err = lt.db.Exec(`INSERT INTO schema_meta(version) VALUES (?)`, SchemaVersion)
		return err
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != SchemaVersion {
		return fmt.Errorf("schema version mismatch: on-disk=%d expected=%d", version, SchemaVersion)
	}
	return nil
}

func (lt *LongTerm) rebuildIndex(ctx context.Context) error {
	rows, err := lt.db.QueryContext(ctx, `SELECT id, embedding FROM entries WHERE embedding IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float64
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			lt.logger.Warn("skipping corrupt embedding", zap.String("id", id), zap.Error(err))
			continue
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}

	idx := rag.NewHNSWIndex(rag.DefaultHNSWConfig(), lt.logger)
	if len(vectors) > 0 {
		if err := idx.Build(vectors, ids); err != nil {
			return fmt.Errorf("build vector index: %w", err)
		}
	}
	lt.index = idx
	return rows.Err()
}

func encodeEmbedding(v []float32) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeEmbedding(blob []byte) ([]float64, error) {
	var v []float32
	if err := json.Unmarshal(blob, &v); err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out, nil
}

// Capture stores a new long-term entry, embedding its content.
func (lt *LongTerm) Capture(ctx context.Context, content string, entryType EntryType, tags []string, metadata map[string]string) (Entry, error) {
	vec, err := lt.embedder.Embed(ctx, content)
	if err != nil {
		return Entry{}, fmt.Errorf("embed content: %w", err)
	}

	now := time.Now()
	e := Entry{
		ID:             uuid.NewString(),
		Content:        content,
		Type:           entryType,
		Confidence:     0.5,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		Tags:           tags,
		Metadata:       metadata,
		Embedding:      vec,
	}

	tagsJSON, _ := json.Marshal(e.Tags)
	metaJSON, _ := json.Marshal(e.Metadata)

	lt.mu.Lock()
	defer lt.mu.Unlock()

	_, err = lt.db.ExecContext(ctx, `
		INSERT INTO entries (id, content, type, confidence, created_at, last_accessed_at, access_count, tags, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Content, string(e.Type), e.Confidence, e.CreatedAt.Format(time.RFC3339Nano), e.LastAccessedAt.Format(time.RFC3339Nano), e.AccessCount, string(tagsJSON), string(metaJSON), encodeEmbedding(vec),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}

	vec64 := make([]float64, len(vec))
	for i, f := range vec {
		vec64[i] = float64(f)
	}
	if err := lt.index.Add(vec64, e.ID); err != nil {
		lt.logger.Warn("failed to add entry to vector index", zap.String("id", e.ID), zap.Error(err))
	}

	return e, nil
}

// Recall performs hybrid vector+keyword retrieval fused with RIF scoring,
// returning the topK highest-ranked entries.
func (lt *LongTerm) Recall(ctx context.Context, query string, topK int) ([]Entry, error) {
	if topK <= 0 {
		topK = 5
	}
	queryVec, err := lt.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec64 := make([]float64, len(queryVec))
	for i, f := range queryVec {
		queryVec64[i] = float64(f)
	}

	kPrime := topK * 2
	vecResults, err := lt.index.Search(queryVec64, kPrime)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidateIDs := make(map[string]float64, len(vecResults))
	for _, r := range vecResults {
		candidateIDs[r.ID] = r.Score
	}

	keywordHits := lt.keywordSearch(ctx, query, kPrime)
	for id, rank := range keywordHits {
		if _, ok := candidateIDs[id]; !ok {
			candidateIDs[id] = 0
		}
		_ = rank
	}

	if len(candidateIDs) == 0 {
		return nil, nil
	}

	entries, err := lt.loadEntries(ctx, keysOf(candidateIDs))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	type scored struct {
		entry Entry
		score float64
	}
	out := make([]scored, 0, len(entries))
	for _, e := range entries {
		cosSim := candidateIDs[e.ID]
		kwRankNorm := keywordHits[e.ID]
		rif := RIF(e, now, lt.cfg.RIFWeights)
		score := lt.cfg.Weights.Vector*cosSim + lt.cfg.Weights.Keyword*kwRankNorm + lt.cfg.Weights.RIF*rif
		out = append(out, scored{entry: e, score: score})
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
		result[i] = s.entry
	}
	lt.touchAccess(ctx, result)
	return result, nil
}

func keysOf(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// keywordSearch scores entries by normalized term overlap with query,
// approximating a BM25-style keyword rank without an external dependency.
func (lt *LongTerm) keywordSearch(ctx context.Context, query string, limit int) map[string]float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	rows, err := lt.db.QueryContext(ctx, `SELECT id, content FROM entries`)
	if err != nil {
		lt.logger.Warn("keyword search query failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	type hit struct {
		id    string
		score float64
	}
	var hits []hit
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			continue
		}
		lower := strings.ToLower(content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				matched++
			}
		}
		if matched > 0 {
			hits = append(hits, hit{id: id, score: float64(matched) / float64(len(terms))})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		out[h.id] = h.score
	}
	return out
}

func (lt *LongTerm) loadEntries(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, content, type, confidence, created_at, last_accessed_at, access_count, tags, metadata FROM entries WHERE id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := lt.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var typeStr, createdStr, accessedStr, tagsJSON, metaJSON string
		if err := rows.Scan(&e.ID, &e.Content, &typeStr, &e.Confidence, &createdStr, &accessedStr, &e.AccessCount, &tagsJSON, &metaJSON); err != nil {
			return nil, err
		}
		e.Type = EntryType(typeStr)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		e.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, accessedStr)
		_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// touchAccess bumps accessCount and lastAccessedAt for every recalled entry.
func (lt *LongTerm) touchAccess(ctx context.Context, entries []Entry) {
	now := time.Now().Format(time.RFC3339Nano)
	for _, e := range entries {
		if _, err := lt.db.ExecContext(ctx, `UPDATE entries SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`, now, e.ID); err != nil {
			lt.logger.Warn("failed to update access stats", zap.String("id", e.ID), zap.Error(err))
		}
	}
}

// AllRecent returns entries created within lookback, for consolidation scans.
func (lt *LongTerm) AllRecent(ctx context.Context, lookback time.Duration) ([]Entry, error) {
	cutoff := time.Now().Add(-lookback).Format(time.RFC3339Nano)
	rows, err := lt.db.QueryContext(ctx, `SELECT id, content, type, confidence, created_at, last_accessed_at, access_count, tags, metadata FROM entries WHERE created_at >= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var typeStr, createdStr, accessedStr, tagsJSON, metaJSON string
		if err := rows.Scan(&e.ID, &e.Content, &typeStr, &e.Confidence, &createdStr, &accessedStr, &e.AccessCount, &tagsJSON, &metaJSON); err != nil {
			return nil, err
		}
		e.Type = EntryType(typeStr)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		e.LastAccessedAt, _ = time.Parse(time.RFC3339Nano, accessedStr)
		_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DecayConfidence multiplies an entry's confidence by factor, used by
// consolidation to lower the weight of entries folded into a summary.
func (lt *LongTerm) DecayConfidence(ctx context.Context, id string, factor float64) error {
	_, err := lt.db.ExecContext(ctx, `UPDATE entries SET confidence = confidence * ? WHERE id = ?`, factor, id)
	return err
}

// InsertSummary stores a consolidation summary as a new higher-confidence entry.
func (lt *LongTerm) InsertSummary(ctx context.Context, content string, tags []string, confidence float64) (Entry, error) {
	e, err := lt.Capture(ctx, content, TypeSummary, tags, nil)
	if err != nil {
		return Entry{}, err
	}
	if _, err := lt.db.ExecContext(ctx, `UPDATE entries SET confidence = ? WHERE id = ?`, confidence, e.ID); err != nil {
		return Entry{}, fmt.Errorf("set summary confidence: %w", err)
	}
	e.Confidence = confidence
	return e, nil
}

// Forget deletes entries eligible under the forgetting rule:
// confidence < minConfidence AND accessCount < minAccessCount AND type not in {fact, solution}.
func (lt *LongTerm) Forget(ctx context.Context, minConfidence float64, minAccessCount int) (int, error) {
	res, err := lt.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE confidence < ? AND access_count < ? AND type NOT IN (?, ?)`,
		minConfidence, minAccessCount, string(TypeFact), string(TypeSolution),
	)
	if err != nil {
		return 0, fmt.Errorf("forget entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := lt.rebuildIndex(ctx); err != nil {
			lt.logger.Warn("failed to rebuild vector index after forgetting", zap.Error(err))
		}
	}
	return int(n), nil
}

// ForgetByTag deletes every entry carrying tag, regardless of confidence or
// access count. Unlike Forget's decay-driven sweep, this is an explicit,
// irreversible operator action (the forget_memory tool's confirmed effect).
func (lt *LongTerm) ForgetByTag(ctx context.Context, tag string) (int, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	rows, err := lt.db.QueryContext(ctx, `SELECT id, tags FROM entries`)
	if err != nil {
		return 0, fmt.Errorf("scan entries for tag %q: %w", tag, err)
	}
	var toDelete []string
	for rows.Next() {
		var id, tagsJSON string
		if err := rows.Scan(&id, &tagsJSON); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan entry row: %w", err)
		}
		var tags []string
		_ = json.Unmarshal([]byte(tagsJSON), &tags)
		for _, t := range tags {
			if t == tag {
				toDelete = append(toDelete, id)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	if len(toDelete) == 0 {
		return 0, nil
	}
	for _, id := range toDelete {
		if _, err := lt.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("delete entry %s: %w", id, err)
		}
	}
	if err := lt.rebuildIndex(ctx); err != nil {
		lt.logger.Warn("failed to rebuild vector index after tag deletion", zap.Error(err))
	}
	return len(toDelete), nil
}

// Close releases the underlying database handle.
func (lt *LongTerm) Close() error {
	return lt.db.Close()
}
