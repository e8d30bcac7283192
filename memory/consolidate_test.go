package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSim_IdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosineSim(v, v), 1e-9)
}

func TestCosineSim_OrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, cosineSim(a, b), 1e-9)
}

func TestClusterBySimilarityAndTags_GroupsSharedTags(t *testing.T) {
	entries := []Entry{
		{ID: "a", Tags: []string{"deploy"}},
		{ID: "b", Tags: []string{"deploy"}},
		{ID: "c", Tags: []string{"unrelated"}},
	}
	clusters := clusterBySimilarityAndTags(entries, 0.85)
	assert.Len(t, clusters, 2)

	var grouped, alone [][]Entry
	for _, c := range clusters {
		if len(c) == 2 {
			grouped = append(grouped, c)
		} else {
			alone = append(alone, c)
		}
	}
	assert.Len(t, grouped, 1)
	assert.Len(t, alone, 1)
}
