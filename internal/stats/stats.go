// Package stats aggregates benchmark samples.
package stats

import (
	"slices"
)

// Percentile returns the p-th percentile of samples, linearly interpolating
// between the two samples that bracket rank (N-1)*p/100+1. The input is not
// modified. An empty input yields 0.
func Percentile(samples []int64, p float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	rank := float64(n-1)*p/100 + 1
	if rank <= 1 {
		return float64(sorted[0])
	}
	if rank >= float64(n) {
		return float64(sorted[n-1])
	}

	k := int(rank)
	d := rank - float64(k)
	lo, hi := float64(sorted[k-1]), float64(sorted[k])
	return lo + d*(hi-lo)
}

// Min returns the smallest sample, or 0 for an empty input.
func Min(samples []int64) int64 {
	if len(samples) == 0 {
		return 0
	}
	return slices.Min(samples)
}

// Sum adds up samples.
func Sum(samples []int64) int64 {
	var total int64
	for _, s := range samples {
		total += s
	}
	return total
}

// Throughput returns tileW*tileH pixels per sample over the summed sample
// time. Samples are microseconds, so the result is pixels per microsecond,
// which is the same number as megapixels per second.
func Throughput(tileW, tileH int, samples []int64) float64 {
	total := Sum(samples)
	if total <= 0 {
		return 0
	}
	pixels := float64(tileW) * float64(tileH) * float64(len(samples))
	return pixels / float64(total)
}
