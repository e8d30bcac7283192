package memory

import (
	"context"
	"math"
	"time"
)

// EntryType classifies a long-term memory entry.
type EntryType string

const (
	TypeFact             EntryType = "fact"
	TypeBelief           EntryType = "belief"
	TypeEvent            EntryType = "event"
	TypeExecutionPattern EntryType = "execution_pattern"
	TypeSolution         EntryType = "solution"
	TypePreference       EntryType = "preference"
	TypeSummary          EntryType = "summary"
)

// Entry is a long-term memory record.
type Entry struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	Type           EntryType         `json:"type"`
	Confidence     float64           `json:"confidence"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	AccessCount    int               `json:"access_count"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Embedding      []float32         `json:"embedding,omitempty"`
}

// RIFWeights weights the recency/importance/frequency composite score.
type RIFWeights struct {
	Recency    float64
	Importance float64
	Frequency  float64
}

// DefaultRIFWeights matches the process-wide default (w_r=0.5, w_i=0.2, w_f=0.3)
// as applied within the RIF sub-score itself; see FusionWeights for the
// outer vector/keyword/RIF blend.
var DefaultRIFWeights = RIFWeights{Recency: 0.5, Importance: 0.2, Frequency: 0.3}

// RecencyTau is the exponential decay time constant for recency scoring.
const RecencyTau = 24 * time.Hour

// RIF computes the recency/importance/frequency composite score for e as of now.
func RIF(e Entry, now time.Time, w RIFWeights) float64 {
	hours := now.Sub(e.LastAccessedAt).Hours()
	recency := math.Exp(-hours / RecencyTau.Hours())
	importance := e.Confidence
	frequency := math.Min(1, float64(e.AccessCount)/10)
	return w.Recency*recency + w.Importance*importance + w.Frequency*frequency
}

// FusionWeights blends vector similarity, keyword rank, and RIF into the
// final recall ranking score.
type FusionWeights struct {
	Vector  float64
	Keyword float64
	RIF     float64
}

// DefaultFusionWeights matches the spec's (w_vec=0.5, w_kw=0.2, w_rif=0.3).
var DefaultFusionWeights = FusionWeights{Vector: 0.5, Keyword: 0.2, RIF: 0.3}

// Embedder turns text into a fixed-dimension embedding vector. Embedding
// model internals are out of scope; this is the adapter contract the memory
// tier consumes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
