// Package stats aggregates sequences of numeric samples.
//
// The same functions serve latency samples (time.Duration) and throughput
// samples (float64 Mbps). Every function is a pure function of its input and
// reports ErrNoData instead of a sentinel value when there is nothing to
// aggregate.
package stats

import (
	"errors"
	"slices"

	"golang.org/x/exp/constraints"
)

// ErrNoData is returned when a statistic is requested over an empty sequence.
var ErrNoData = errors.New("no data")

// Number is the capability set the engine needs: ordering, addition and
// division by a count. Sums are accumulated in the sample type, so integer
// samples are limited to word-sized or 64-bit types.
type Number interface {
	~int | ~int64 | ~uint | ~uint64 | constraints.Float
}

// Minimum returns the smallest sample.
func Minimum[T Number](samples []T) (T, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	m := samples[0]
	for _, s := range samples[1:] {
		if s < m {
			m = s
		}
	}
	return m, nil
}

// Maximum returns the largest sample.
func Maximum[T Number](samples []T) (T, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	m := samples[0]
	for _, s := range samples[1:] {
		if s > m {
			m = s
		}
	}
	return m, nil
}

// Average returns the arithmetic mean.
func Average[T Number](samples []T) (T, error) {
	if len(samples) == 0 {
		return 0, ErrNoData
	}
	var sum T
	for _, s := range samples {
		sum += s
	}
	return sum / T(len(samples)), nil
}

// Median returns the middle sample of the sorted sequence, or the mean of the
// two central samples when the length is even. The input is not modified.
func Median[T Number](samples []T) (T, error) {
	n := len(samples)
	if n == 0 {
		return 0, ErrNoData
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, nil
}

// Jitter returns the mean absolute difference between consecutive samples,
// in their original order. A single sample has no variability, so its jitter
// is zero.
func Jitter[T Number](samples []T) (T, error) {
	switch len(samples) {
	case 0:
		return 0, ErrNoData
	case 1:
		return 0, nil
	}
	deltas := make([]T, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		deltas = append(deltas, absDiff(samples[i], samples[i-1]))
	}
	return Average(deltas)
}

// absDiff avoids negation so it stays correct for unsigned types.
func absDiff[T Number](a, b T) T {
	if a > b {
		return a - b
	}
	return b - a
}

// Summary is the full set of statistics for one sample sequence.
type Summary[T Number] struct {
	Count   int
	Minimum T
	Maximum T
	Average T
	Median  T
	Jitter  T
}

// Summarize computes every statistic over samples.
func Summarize[T Number](samples []T) (Summary[T], error) {
	if len(samples) == 0 {
		return Summary[T]{}, ErrNoData
	}
	// Non-empty input cannot fail below.
	minimum, _ := Minimum(samples)
	maximum, _ := Maximum(samples)
	average, _ := Average(samples)
	median, _ := Median(samples)
	jitter, _ := Jitter(samples)
	return Summary[T]{
		Count:   len(samples),
		Minimum: minimum,
		Maximum: maximum,
		Average: average,
		Median:  median,
		Jitter:  jitter,
	}, nil
}
