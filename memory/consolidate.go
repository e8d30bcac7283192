package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ClusterSimilarityThreshold is the cosine-similarity floor for two entries
// to be folded into the same consolidation cluster.
const ClusterSimilarityThreshold = 0.85

// ConfidenceDecay is applied to every source entry folded into a summary.
const ConfidenceDecay = 0.7

// ForgetConfidenceThreshold and ForgetAccessCountThreshold gate the
// forgetting rule applied at the end of every consolidation pass.
const (
	ForgetConfidenceThreshold  = 0.3
	ForgetAccessCountThreshold = 2
)

// LLMSummarizer produces a single summary for a cluster of related entries.
type LLMSummarizer interface {
	SummarizeEntries(ctx context.Context, entries []Entry) (string, error)
}

// Consolidator runs the periodic long-term memory maintenance pass:
// cluster recently-captured entries by semantic similarity plus shared
// tags, summarize each cluster into one higher-confidence entry, decay the
// confidence of the folded sources, then forget whatever is left over that
// meets the forgetting rule.
type Consolidator struct {
	longTerm   *LongTerm
	summarizer LLMSummarizer
	lookback   time.Duration
	logger     *zap.Logger
}

// NewConsolidator creates a Consolidator. summarizer may be nil, in which
// case clusters are still confidence-decayed but never summarized — the
// spec's Open Question of whether to run clustering-only vs. full
// summarization when no LLM is configured is decided in favor of degrading
// gracefully rather than skipping consolidation entirely.
func NewConsolidator(lt *LongTerm, summarizer LLMSummarizer, lookback time.Duration, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lookback <= 0 {
		lookback = 6 * time.Hour
	}
	return &Consolidator{longTerm: lt, summarizer: summarizer, lookback: lookback, logger: logger.With(zap.String("component", "consolidator"))}
}

// Result summarizes what one consolidation pass did.
type Result struct {
	ClustersFormed int
	EntriesDecayed int
	EntriesForgot  int
}

// Run executes one consolidation pass.
func (c *Consolidator) Run(ctx context.Context) (Result, error) {
	entries, err := c.longTerm.AllRecent(ctx, c.lookback)
	if err != nil {
		return Result{}, fmt.Errorf("load recent entries: %w", err)
	}

	clusters := clusterBySimilarityAndTags(entries, ClusterSimilarityThreshold)

	var res Result
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue // nothing to fold together
		}
		res.ClustersFormed++

		if c.summarizer != nil {
			summary, err := c.summarizer.SummarizeEntries(ctx, cluster)
			if err != nil {
				c.logger.Warn("cluster summarization failed, decaying sources without a summary", zap.Error(err))
			} else if summary != "" {
				tags := unionTags(cluster)
				maxConfidence := 0.0
				for _, e := range cluster {
					if e.Confidence > maxConfidence {
						maxConfidence = e.Confidence
					}
				}
				if _, err := c.longTerm.InsertSummary(ctx, summary, tags, math.Min(1, maxConfidence+0.1)); err != nil {
					c.logger.Warn("failed to insert consolidation summary", zap.Error(err))
				}
			}
		}

		for _, e := range cluster {
			if err := c.longTerm.DecayConfidence(ctx, e.ID, ConfidenceDecay); err != nil {
				c.logger.Warn("failed to decay entry confidence", zap.String("id", e.ID), zap.Error(err))
				continue
			}
			res.EntriesDecayed++
		}
	}

	forgotten, err := c.longTerm.Forget(ctx, ForgetConfidenceThreshold, ForgetAccessCountThreshold)
	if err != nil {
		return res, fmt.Errorf("forget pass: %w", err)
	}
	res.EntriesForgot = forgotten
	return res, nil
}

// clusterBySimilarityAndTags groups entries whose embeddings are within
// ClusterSimilarityThreshold cosine similarity of the cluster's seed, or
// that share at least one tag with it. This is a single-pass greedy
// clustering, adequate for the modest batch sizes one consolidation lookback
// window produces.
func clusterBySimilarityAndTags(entries []Entry, threshold float64) [][]Entry {
	used := make([]bool, len(entries))
	var clusters [][]Entry

	for i := range entries {
		if used[i] {
			continue
		}
		cluster := []Entry{entries[i]}
		used[i] = true

		for j := i + 1; j < len(entries); j++ {
			if used[j] {
				continue
			}
			if shareTags(entries[i].Tags, entries[j].Tags) || cosineSim(entries[i].Embedding, entries[j].Embedding) >= threshold {
				cluster = append(cluster, entries[j])
				used[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func shareTags(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if set[t] {
			return true
		}
	}
	return false
}

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func unionTags(entries []Entry) []string {
	set := make(map[string]bool)
	for _, e := range entries {
		for _, t := range e.Tags {
			set[t] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}
