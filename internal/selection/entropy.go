package selection

import "math"

// Entropy sizes the result by how concentrated the score mass is. Scores
// are normalized into a probability distribution whose Shannon entropy,
// normalized by log(n), lands in [0, 1]: low entropy means a few items
// dominate (take LowK), high entropy means scores are flat and more items
// are plausibly relevant (take HighK).
type Entropy[T any] struct {
	Threshold float64
	LowK      int
	HighK     int
	MinScore  float64
}

// Name implements Strategy.
func (s *Entropy[T]) Name() string { return MethodEntropy }

// Select implements Strategy.
func (s *Entropy[T]) Select(items []ScoredItem[T], maxK, minK int) (Result[T], error) {
	if err := validate(items, maxK, minK); err != nil {
		return Result[T]{}, err
	}
	meta := map[string]any{
		"entropy_threshold": s.Threshold,
		"low_k":             s.LowK,
		"high_k":            s.HighK,
		"min_score":         s.MinScore,
	}
	if len(items) == 0 {
		return emptyResult[T](MethodEntropy, meta), nil
	}

	normalized := normalizedEntropy(items)
	meta["normalized_entropy"] = normalized

	target := s.HighK
	if normalized < s.Threshold {
		target = s.LowK
	}
	meta["target_k"] = target

	scoreCut := minScoreCut(items, s.MinScore)
	cut := target
	if scoreCut < cut {
		cut = scoreCut
	}
	return finish(items, cut, maxK, minK, MethodEntropy, meta), nil
}

// normalizedEntropy computes Shannon entropy of the score distribution
// divided by log(n). Degenerate inputs (single item, all-zero scores)
// carry no distributional signal and report 0.
func normalizedEntropy[T any](items []ScoredItem[T]) float64 {
	if len(items) <= 1 {
		return 0
	}
	var total float64
	for _, it := range items {
		total += it.Score
	}
	if total <= 0 {
		return 0
	}
	var h float64
	for _, it := range items {
		p := it.Score / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h / math.Log(float64(len(items)))
}
