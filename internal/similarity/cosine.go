// Package similarity provides the similarity kernel used to score
// candidates against a turn's query embedding.
package similarity

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when the two vectors differ in length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cosine computes the cosine similarity between two vectors. A zero-norm
// vector has no direction and yields 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Score maps cosine similarity into the [0, 1] score space used by the
// selection layer: mismatched or missing embeddings score 0, and negative
// similarity is floored at 0.
func Score(query, candidate []float32) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	sim, err := Cosine(query, candidate)
	if err != nil || sim < 0 {
		return 0
	}
	if sim > 1 {
		// Guard against float drift pushing identical vectors past 1.
		return 1
	}
	return sim
}
