package selection

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Tier identifies how permissive a rung of the ladder is.
type Tier int

const (
	// Normal filters at a moderate percentile of the reference population.
	Normal Tier = iota
	// Emergency filters at a low percentile of the same reference population.
	Emergency
	// BestEffort drops thresholding and keeps the top-K by score.
	BestEffort
)

// String returns the lower-case tier name.
func (t Tier) String() string {
	switch t {
	case Normal:
		return "normal"
	case Emergency:
		return "emergency"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Metric names one thresholded quantity of a candidate.
type Metric[T any] struct {
	Name  string
	Value func(T) float64
}

// Cut is the lower bound applied to one metric by a tier.
type Cut struct {
	Metric string  `json:"metric"`
	Min    float64 `json:"min"`
	Stats  Stats   `json:"stats"`
}

// ThresholdPolicy records the tier that produced a result and the bounds it applied.
type ThresholdPolicy struct {
	Tier       Tier    `json:"tier"`
	Percentile float64 `json:"percentile"`
	// Stats describes the ranking score of the population the policy was derived from.
	Stats Stats `json:"stats"`
	Cuts  []Cut `json:"cuts,omitempty"`
}

// PoolFunc draws a candidate pool. It is called at most once per pool key per Select call.
type PoolFunc[T any] func(ctx context.Context) ([]T, error)

// Rung is one step of the fallback ladder.
type Rung[T any] struct {
	Tier Tier
	// Percentile of the reference population used as the minimum for every metric. Ignored by
	// BestEffort rungs.
	Percentile float64
	// PoolKey memoises Pool: rungs sharing a key filter the same drawn candidates.
	PoolKey string
	Pool    PoolFunc[T]
	// TopK is how many of the best-scoring candidates a BestEffort rung keeps, with no threshold.
	// Zero or less keeps the whole pool.
	TopK int
}

// Selector runs a ladder of rungs against lazily drawn pools and returns the first non-empty
// result.
type Selector[T any] struct {
	// Metrics are thresholded by percentile rungs.
	Metrics []Metric[T]
	// Score ranks candidates for top-K rungs and for the reported stats.
	Score func(T) float64
	// Order breaks score ties, lower first.
	Order func(T) int
	// Release is called for every drawn candidate that does not make it into the result.
	Release func(T)
	Logger  zerolog.Logger
}

// Outcome is the result of a successful Select.
type Outcome[T any] struct {
	Candidates []T
	Policy     ThresholdPolicy
}

// Select walks ladder in order. Percentile rungs derive their bounds from reference, never from
// the pool being filtered. The first rung yielding at least one candidate wins; pools are never
// merged across rungs.
//
// Arguments:
//   - ctx: Checked between rungs.
//   - reference: The statistics sample. Owned by the caller.
//   - ladder: The rungs to try, most restrictive first.
//
// Returns:
//   - Outcome[T]: The surviving candidates in ranking order and the policy that admitted them.
//   - error: ErrNoCandidates when every rung came back empty, or the first pool error.
func (s *Selector[T]) Select(ctx context.Context, reference []T, ladder []Rung[T]) (Outcome[T], error) {
	pools := make(map[string][]T)
	keys := make([]string, 0, len(ladder))

	releaseAll := func(except string, kept []bool) {
		if s.Release == nil {
			return
		}
		for _, key := range keys {
			for i, c := range pools[key] {
				if key == except && kept[i] {
					continue
				}
				s.Release(c)
			}
		}
	}

	for _, rung := range ladder {
		if err := ctx.Err(); err != nil {
			releaseAll("", nil)
			return Outcome[T]{}, err
		}

		pool, ok := pools[rung.PoolKey]
		if !ok {
			drawn, err := rung.Pool(ctx)
			if err != nil {
				releaseAll("", nil)
				return Outcome[T]{}, errors.Wrapf(err, "drawing %s pool %q", rung.Tier, rung.PoolKey)
			}
			pool = drawn
			pools[rung.PoolKey] = pool
			keys = append(keys, rung.PoolKey)
		}

		var (
			kept   []bool
			policy ThresholdPolicy
		)
		if rung.Tier == BestEffort {
			kept, policy = s.topK(pool, rung)
		} else {
			kept, policy = s.filter(reference, pool, rung)
		}

		survivors := make([]T, 0, len(pool))
		for i, c := range pool {
			if kept[i] {
				survivors = append(survivors, c)
			}
		}

		if len(survivors) == 0 {
			s.Logger.Debug().
				Str("tier", rung.Tier.String()).
				Int("pool", len(pool)).
				Err(ErrNoCandidatesAboveThreshold).
				Msg("tier empty, escalating")
			continue
		}

		s.sortByScore(survivors)
		releaseAll(rung.PoolKey, kept)

		s.Logger.Debug().
			Str("tier", rung.Tier.String()).
			Int("pool", len(pool)).
			Int("kept", len(survivors)).
			Msg("tier accepted")

		return Outcome[T]{Candidates: survivors, Policy: policy}, nil
	}

	releaseAll("", nil)
	return Outcome[T]{}, ErrNoCandidates
}

func (s *Selector[T]) filter(reference, pool []T, rung Rung[T]) ([]bool, ThresholdPolicy) {
	policy := ThresholdPolicy{
		Tier:       rung.Tier,
		Percentile: rung.Percentile,
		Stats:      Describe(s.values(reference, s.Score)),
	}
	kept := make([]bool, len(pool))

	mins := make([]float64, len(s.Metrics))
	for i, m := range s.Metrics {
		values := s.values(reference, m.Value)
		threshold, ok := Percentile(values, rung.Percentile)
		if !ok {
			// No reference population: nothing can be judged against it.
			return kept, policy
		}
		mins[i] = threshold
		policy.Cuts = append(policy.Cuts, Cut{Metric: m.Name, Min: threshold, Stats: Describe(values)})
	}

	for i, c := range pool {
		kept[i] = true
		for j, m := range s.Metrics {
			if m.Value(c) < mins[j] {
				kept[i] = false
				break
			}
		}
	}
	return kept, policy
}

func (s *Selector[T]) topK(pool []T, rung Rung[T]) ([]bool, ThresholdPolicy) {
	policy := ThresholdPolicy{
		Tier:  rung.Tier,
		Stats: Describe(s.values(pool, s.Score)),
	}
	idx := make([]int, len(pool))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return s.compare(pool[a], pool[b])
	})

	k := len(idx)
	if rung.TopK > 0 {
		k = min(rung.TopK, k)
	}
	kept := make([]bool, len(pool))
	for _, i := range idx[:k] {
		kept[i] = true
	}
	return kept, policy
}

func (s *Selector[T]) values(candidates []T, f func(T) float64) []float64 {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = f(c)
	}
	return out
}

func (s *Selector[T]) sortByScore(candidates []T) {
	slices.SortStableFunc(candidates, s.compare)
}

// compare orders by score descending, then by Order ascending.
func (s *Selector[T]) compare(a, b T) int {
	sa, sb := s.Score(a), s.Score(b)
	switch {
	case sa > sb:
		return -1
	case sa < sb:
		return 1
	}
	if s.Order == nil {
		return 0
	}
	return s.Order(a) - s.Order(b)
}
