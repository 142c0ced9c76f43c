package selection

import "math"

// AdaptiveK cuts at the point of steepest curvature in the score sequence:
// the first index whose discrete second derivative falls below
// -Alpha * std(second derivative). Normalizing by the standard deviation
// makes Alpha scale-independent. Curvature is undefined for fewer than
// three items; those inputs degrade to a MinScore filter padded to minK.
type AdaptiveK[T any] struct {
	Alpha    float64
	MinScore float64
}

// Name implements Strategy.
func (s *AdaptiveK[T]) Name() string { return MethodAdaptiveK }

// Select implements Strategy.
func (s *AdaptiveK[T]) Select(items []ScoredItem[T], maxK, minK int) (Result[T], error) {
	if err := validate(items, maxK, minK); err != nil {
		return Result[T]{}, err
	}
	meta := map[string]any{
		"alpha":     s.Alpha,
		"min_score": s.MinScore,
	}
	if len(items) == 0 {
		return emptyResult[T](MethodAdaptiveK, meta), nil
	}
	scoreCut := minScoreCut(items, s.MinScore)
	meta["min_score_index"] = scoreCut

	if len(items) <= 2 {
		meta["curvature_defined"] = false
		return finish(items, scoreCut, maxK, minK, MethodAdaptiveK, meta), nil
	}
	meta["curvature_defined"] = true

	// d2[i] is centered on items[i+1].
	d2 := make([]float64, len(items)-2)
	var sum float64
	for i := range d2 {
		d2[i] = items[i].Score - 2*items[i+1].Score + items[i+2].Score
		sum += d2[i]
	}
	mean := sum / float64(len(d2))
	var variance float64
	for _, v := range d2 {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(d2)))
	threshold := -s.Alpha * std
	meta["d2_std"] = std

	curvCut := len(items)
	if std > 0 {
		for i, v := range d2 {
			if v < threshold {
				// Keep everything through the curvature peak; the
				// accelerated drop begins after the centered index.
				curvCut = i + 2
				break
			}
		}
	}
	meta["curvature_index"] = curvCut

	cut := curvCut
	if scoreCut < cut {
		cut = scoreCut
	}
	return finish(items, cut, maxK, minK, MethodAdaptiveK, meta), nil
}
