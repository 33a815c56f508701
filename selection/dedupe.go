package selection

import (
	"math"
	"slices"
)

// scoreEpsilon is the tolerance under which two scores count as tied.
const scoreEpsilon = 1e-9

// Dedupe greedily picks high-scoring candidates that are mutually dissimilar.
type Dedupe[T any] struct {
	Score func(T) float64
	// Order is the original position (frame index, array index). Used for tie-breaks and for the
	// chronological output order.
	Order func(T) int
	// Similarity is evaluated only against already accepted candidates.
	Similarity func(a, b T) float64
	// Ceiling is the maximum similarity allowed between two greedily accepted candidates.
	Ceiling float64
}

// Select returns up to n candidates from pool in ascending Order, plus everything not accepted.
//
// The pool is walked by score (ties by Order). A candidate is accepted when its similarity to
// every accepted candidate is at most Ceiling. If fewer than n survive, the remainder backfills
// in score order with similarity waived; among candidates with equal score the one farthest in
// Order from the accepted set is taken first, so constant-score pools still cover their range.
// Backfill therefore does not fall back to the earliest-Order tie-break the greedy pass uses.
//
// Arguments:
//   - pool: The candidates to choose from. Not modified.
//   - n: The target count.
//
// Returns:
//   - []T: The accepted candidates in ascending Order.
//   - []T: The candidates that were not accepted.
func (d Dedupe[T]) Select(pool []T, n int) ([]T, []T) {
	if n <= 0 || len(pool) == 0 {
		return nil, slices.Clone(pool)
	}

	sorted := slices.Clone(pool)
	slices.SortStableFunc(sorted, func(a, b T) int {
		sa, sb := d.Score(a), d.Score(b)
		switch {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return d.Order(a) - d.Order(b)
	})

	accepted := make([]T, 0, n)
	remainder := make([]T, 0, len(sorted))
	for _, c := range sorted {
		if len(accepted) < n && d.distinct(c, accepted) {
			accepted = append(accepted, c)
			continue
		}
		remainder = append(remainder, c)
	}

	for len(accepted) < n && len(remainder) > 0 {
		pick := d.farthestInGroup(remainder, accepted)
		accepted = append(accepted, remainder[pick])
		remainder = slices.Delete(remainder, pick, pick+1)
	}

	slices.SortFunc(accepted, func(a, b T) int { return d.Order(a) - d.Order(b) })
	return accepted, remainder
}

func (d Dedupe[T]) distinct(c T, accepted []T) bool {
	for _, a := range accepted {
		if d.Similarity(c, a) > d.Ceiling {
			return false
		}
	}
	return true
}

// farthestInGroup looks at the leading run of equal-score candidates in remainder and returns the
// index of the one whose Order is farthest from every accepted candidate.
func (d Dedupe[T]) farthestInGroup(remainder, accepted []T) int {
	if len(accepted) == 0 {
		return 0
	}
	top := d.Score(remainder[0])
	best, bestDist := 0, -1
	for i, c := range remainder {
		if math.Abs(d.Score(c)-top) > scoreEpsilon {
			break
		}
		dist := math.MaxInt
		for _, a := range accepted {
			dist = min(dist, absInt(d.Order(c)-d.Order(a)))
		}
		if dist > bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
