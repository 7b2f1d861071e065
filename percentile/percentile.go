// Package percentile computes rank based percentiles over numeric samples.
package percentile

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile of values using the nearest rank
// method: the element at index ceil(p/100*n)-1 of the ascending sort,
// clamped to the valid range. It is deliberately not interpolated, so
// results always are elements of the sample. An empty sample yields 0,
// which downstream consumers rely upon.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}
