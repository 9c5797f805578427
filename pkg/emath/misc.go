package emath

import (
	"math"
	"sort"
)

// Small numeric helpers shared by the image packages.

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Percentiles returns the values at the given fractions (0..1) of the
// sorted input. The input slice is copied, not reordered.
func Percentiles(vals []float64, fracs ...float64) []float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	out := make([]float64, len(fracs))
	for i, f := range fracs {
		if len(sorted) == 0 {
			out[i] = math.NaN()
			continue
		}
		idx := int(f * float64(len(sorted)))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out[i] = sorted[idx]
	}
	return out
}

// Median of a slice; the input is copied, not reordered.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}
