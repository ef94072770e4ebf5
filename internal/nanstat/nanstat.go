// Package nanstat provides reductions that skip NaN samples, the way masked
// or missing pixels are ignored throughout the pipeline.
package nanstat

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Finite returns the non-NaN values of v. Infinities are kept.
func Finite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// Median returns the median of the non-NaN values of v, or NaN when there
// are none.
func Median(v []float64) float64 {
	m, err := stats.Median(Finite(v))
	if err != nil {
		return math.NaN()
	}
	return m
}

// Mean returns the mean of the non-NaN values of v, or NaN when there are none.
func Mean(v []float64) float64 {
	vals := Finite(v)
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}

// Sum returns the sum of the non-NaN values of v. An all-NaN input sums to 0.
func Sum(v []float64) float64 {
	return floats.Sum(Finite(v))
}
