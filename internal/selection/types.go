// Package selection turns a ranked, scored candidate list into a
// variable-size result set. Five interchangeable strategies share one
// contract; callers pick one by name via New.
package selection

import (
	"errors"
	"fmt"
)

// Sentinel errors for selection operations.
var (
	// ErrValidation indicates a caller bug or misconfiguration: unsorted
	// input or an impossible minK/maxK combination. Never recovered
	// internally; callers must fix the call site.
	ErrValidation = errors.New("invalid selection input")

	// ErrScoreOutOfRange indicates a score outside [0, 1].
	ErrScoreOutOfRange = errors.New("score out of range [0, 1]")

	// ErrUnknownStrategy indicates an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown selection strategy")
)

// Strategy names accepted by New.
const (
	MethodFixedK     = "fixed_k"
	MethodElbow      = "elbow"
	MethodAdaptiveK  = "adaptive_k"
	MethodEntropy    = "entropy"
	MethodClustering = "clustering"
)

// ScoredItem pairs a candidate with its relevance score in [0, 1].
type ScoredItem[T any] struct {
	Item  T
	Score float64
}

// NewScoredItem constructs a ScoredItem, rejecting scores outside [0, 1].
func NewScoredItem[T any](item T, score float64) (ScoredItem[T], error) {
	if score < 0 || score > 1 {
		return ScoredItem[T]{}, fmt.Errorf("%w: %v", ErrScoreOutOfRange, score)
	}
	return ScoredItem[T]{Item: item, Score: score}, nil
}

// Result is the outcome of one strategy application.
//
// Invariants:
//   - Selected is sorted descending by score
//   - len(Selected) <= maxK and >= min(minK, len(input))
//   - every selected score >= CutoffScore
//   - CutoffScore == min score in Selected, or 0 when empty
type Result[T any] struct {
	Selected    []ScoredItem[T]
	CutoffScore float64
	Method      string
	Metadata    map[string]any
}

// Strategy is the common contract for all selection algorithms.
//
// Input must already be sorted descending by score and minK <= maxK;
// violations return an ErrValidation-wrapped error before any algorithm
// logic runs. Empty input yields an empty Result with CutoffScore 0.
type Strategy[T any] interface {
	// Select returns a variable-size prefix-like subset of items.
	Select(items []ScoredItem[T], maxK, minK int) (Result[T], error)

	// Name returns the strategy's method name as reported in Result.Method.
	Name() string
}

// validate enforces the shared preconditions.
func validate[T any](items []ScoredItem[T], maxK, minK int) error {
	if minK > maxK {
		return fmt.Errorf("%w: minK %d > maxK %d", ErrValidation, minK, maxK)
	}
	if maxK <= 0 {
		return fmt.Errorf("%w: maxK must be positive, got %d", ErrValidation, maxK)
	}
	if minK < 0 {
		return fmt.Errorf("%w: minK must be non-negative, got %d", ErrValidation, minK)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			return fmt.Errorf("%w: items not sorted descending at index %d", ErrValidation, i)
		}
	}
	return nil
}

// finish assembles a Result from the chosen prefix, enforcing the shared
// floor and ceiling: at least min(minK, len(items)) and at most
// min(maxK, len(items)) items, padded from the raw pool when a score
// filter left the cut below the floor.
func finish[T any](items []ScoredItem[T], cut, maxK, minK int, method string, metadata map[string]any) Result[T] {
	floor := minK
	if len(items) < floor {
		floor = len(items)
	}
	if cut < floor {
		cut = floor
	}
	if cut > maxK {
		cut = maxK
	}
	if cut > len(items) {
		cut = len(items)
	}
	selected := make([]ScoredItem[T], cut)
	copy(selected, items[:cut])

	cutoff := 0.0
	if len(selected) > 0 {
		cutoff = selected[len(selected)-1].Score
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Result[T]{
		Selected:    selected,
		CutoffScore: cutoff,
		Method:      method,
		Metadata:    metadata,
	}
}

// emptyResult is the shared empty-input answer.
func emptyResult[T any](method string, metadata map[string]any) Result[T] {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Result[T]{
		Selected:    []ScoredItem[T]{},
		CutoffScore: 0,
		Method:      method,
		Metadata:    metadata,
	}
}

// minScoreCut returns the first index whose score falls below minScore,
// or len(items) when every score qualifies.
func minScoreCut[T any](items []ScoredItem[T], minScore float64) int {
	for i, it := range items {
		if it.Score < minScore {
			return i
		}
	}
	return len(items)
}
