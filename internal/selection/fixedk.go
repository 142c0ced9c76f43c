package selection

// FixedK keeps the first K items that clear MinScore. When the filter
// leaves fewer than minK items, the floor is satisfied from the raw list
// instead, ignoring the score filter.
type FixedK[T any] struct {
	K        int
	MinScore float64
}

// Name implements Strategy.
func (s *FixedK[T]) Name() string { return MethodFixedK }

// Select implements Strategy.
func (s *FixedK[T]) Select(items []ScoredItem[T], maxK, minK int) (Result[T], error) {
	if err := validate(items, maxK, minK); err != nil {
		return Result[T]{}, err
	}
	meta := map[string]any{
		"k":         s.K,
		"min_score": s.MinScore,
	}
	if len(items) == 0 {
		return emptyResult[T](MethodFixedK, meta), nil
	}

	// Scores are sorted descending, so the min-score filter is a prefix.
	filtered := minScoreCut(items, s.MinScore)
	meta["filtered_count"] = filtered

	cut := s.K
	if cut > filtered {
		cut = filtered
	}
	if cut > maxK {
		cut = maxK
	}
	meta["floor_applied"] = cut < minK && len(items) >= minK
	return finish(items, cut, maxK, minK, MethodFixedK, meta), nil
}
