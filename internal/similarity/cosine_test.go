package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := Cosine([]float32{1, 2}, []float32{1, 2, 3})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestScore(t *testing.T) {
	assert.Zero(t, Score(nil, []float32{1}))
	assert.Zero(t, Score([]float32{1}, nil))
	assert.Zero(t, Score([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Zero(t, Score([]float32{1, 0}, []float32{-1, 0}))
	assert.InDelta(t, 1.0, Score([]float32{0.5, 0.5}, []float32{0.5, 0.5}), 1e-9)
}
