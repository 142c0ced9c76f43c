package selection

// Elbow cuts at the first steep relative drop between adjacent scores:
// the first index where (prev-cur)/prev exceeds DropThreshold. The elbow
// cut is combined with the absolute MinScore cut by taking the more
// restrictive of the two, then clamped into [minK, maxK].
type Elbow[T any] struct {
	DropThreshold float64
	MinScore      float64
}

// Name implements Strategy.
func (s *Elbow[T]) Name() string { return MethodElbow }

// Select implements Strategy.
func (s *Elbow[T]) Select(items []ScoredItem[T], maxK, minK int) (Result[T], error) {
	if err := validate(items, maxK, minK); err != nil {
		return Result[T]{}, err
	}
	meta := map[string]any{
		"drop_threshold": s.DropThreshold,
		"min_score":      s.MinScore,
	}
	if len(items) == 0 {
		return emptyResult[T](MethodElbow, meta), nil
	}

	elbow := len(items)
	for i := 1; i < len(items); i++ {
		prev := items[i-1].Score
		if prev <= 0 {
			break
		}
		drop := (prev - items[i].Score) / prev
		if drop > s.DropThreshold {
			elbow = i
			break
		}
	}
	scoreCut := minScoreCut(items, s.MinScore)
	meta["elbow_index"] = elbow
	meta["min_score_index"] = scoreCut

	cut := elbow
	if scoreCut < cut {
		cut = scoreCut
	}
	return finish(items, cut, maxK, minK, MethodElbow, meta), nil
}
