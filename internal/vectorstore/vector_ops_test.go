package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3, 0}
	assert.Equal(t, v, deserializeVector(serializeVector(v)))
	assert.Len(t, serializeVector(v), 16)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSortHitsAndTopK(t *testing.T) {
	hits := []Hit{{ID: "c", Score: 0.2}, {ID: "b", Score: 0.9}, {ID: "a", Score: 0.9}}
	sortHits(hits)
	assert.Equal(t, []string{"a", "b", "c"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.Len(t, topK(hits, 2), 2)
	assert.Len(t, topK(hits, 0), 3)
	assert.Len(t, topK(hits, 10), 3)
}
