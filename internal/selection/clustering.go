package selection

import "sort"

// Clustering groups scores above MinScore into 1-D density clusters (a
// new cluster opens where the gap between adjacent scores exceeds Gap)
// and keeps up to TopPerCluster items per cluster. This preserves
// representatives from each score band instead of only the head of the
// list. Falls back to raw items to satisfy the minK floor.
type Clustering[T any] struct {
	Gap           float64
	TopPerCluster int
	MinScore      float64
}

// Name implements Strategy.
func (s *Clustering[T]) Name() string { return MethodClustering }

// Select implements Strategy.
func (s *Clustering[T]) Select(items []ScoredItem[T], maxK, minK int) (Result[T], error) {
	if err := validate(items, maxK, minK); err != nil {
		return Result[T]{}, err
	}
	meta := map[string]any{
		"cluster_gap":     s.Gap,
		"top_per_cluster": s.TopPerCluster,
		"min_score":       s.MinScore,
	}
	if len(items) == 0 {
		return emptyResult[T](MethodClustering, meta), nil
	}

	pool := items[:minScoreCut(items, s.MinScore)]

	// Clusters are contiguous runs in the descending list; a new one
	// opens where the score gap exceeds Gap.
	perCluster := s.TopPerCluster
	if perCluster <= 0 {
		perCluster = 1
	}
	picked := make(map[int]bool, len(pool))
	clusterCount := 0
	taken := 0
	for i := range pool {
		if i == 0 || pool[i-1].Score-pool[i].Score > s.Gap {
			clusterCount++
			taken = 0
		}
		if taken < perCluster {
			picked[i] = true
			taken++
		}
	}
	meta["cluster_count"] = clusterCount

	selected := make([]ScoredItem[T], 0, len(picked))
	for i := range pool {
		if picked[i] {
			selected = append(selected, pool[i])
		}
	}

	// Pad to the floor from the unfiltered list.
	floor := minK
	if len(items) < floor {
		floor = len(items)
	}
	for i := range items {
		if len(selected) >= floor {
			break
		}
		if i < len(pool) && picked[i] {
			continue
		}
		selected = append(selected, items[i])
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score > selected[j].Score
	})
	if len(selected) > maxK {
		selected = selected[:maxK]
	}

	cutoff := 0.0
	if len(selected) > 0 {
		cutoff = selected[len(selected)-1].Score
	}
	return Result[T]{
		Selected:    selected,
		CutoffScore: cutoff,
		Method:      MethodClustering,
		Metadata:    meta,
	}, nil
}
