package selection

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises an observed score population.
type Stats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Describe computes Stats for values. An empty population yields the zero value.
func Describe(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	s := Stats{
		Min: floats.Min(values),
		Max: floats.Max(values),
	}
	if len(values) == 1 {
		s.Mean = values[0]
		return s
	}
	s.Mean, s.Std = stat.MeanStdDev(values, nil)
	if math.IsNaN(s.Std) {
		s.Std = 0
	}
	return s
}

// Percentile returns the p-th percentile (p in [0,100]) of values using linear interpolation of
// the empirical distribution. The input slice is not modified.
//
// Arguments:
//   - values: The observed population.
//   - p: The percentile, clamped to [0,100].
//
// Returns:
//   - float64: The interpolated value.
//   - bool: False when values is empty.
func Percentile(values []float64, p float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	q := math.Min(math.Max(p/100, 0), 1)
	return stat.Quantile(q, stat.LinInterp, sorted, nil), true
}
