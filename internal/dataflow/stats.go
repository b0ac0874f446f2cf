package dataflow

import "sort"

// LatencyStats is the percentile block written alongside latency samples.
type LatencyStats struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// Percentiles computes index-based percentiles over a sample set: the value
// at floor(n*p), falling back to the maximum when the window is too small to
// distinguish the high percentiles. Returns false for an empty set.
func Percentiles(samples []float64) (LatencyStats, bool) {
	n := len(samples)
	if n == 0 {
		return LatencyStats{}, false
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}

	stats := LatencyStats{
		P50:   sorted[int(float64(n)*0.50)],
		Avg:   sum / float64(n),
		Min:   sorted[0],
		Max:   sorted[n-1],
		Count: n,
	}
	if n > 1 {
		stats.P95 = sorted[int(float64(n)*0.95)]
	} else {
		stats.P95 = sorted[n-1]
	}
	if n > 2 {
		stats.P99 = sorted[int(float64(n)*0.99)]
	} else {
		stats.P99 = sorted[n-1]
	}
	return stats, true
}
