// Package stats contains the residual statistics used to size forecast confidence bands
package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

var ErrNegativeStep = errors.New("forecast step must be at least 1")

// ResidualStdDev returns the sample standard deviation of the residuals ignoring NaNs. Fewer than
// two finite residuals yield 0.
func ResidualStdDev(residuals []float64) float64 {
	finite := make([]float64, 0, len(residuals))
	for _, r := range residuals {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		finite = append(finite, r)
	}
	if len(finite) < 2 {
		return 0
	}
	return stat.StdDev(finite, nil)
}

// FallbackStdDev is the spread assumed when the residuals cannot estimate one: 15% of the series
// mean, or 1 when the mean is not positive.
func FallbackStdDev(y []float64) float64 {
	finite := make([]float64, 0, len(y))
	for _, v := range y {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return 1.0
	}
	if mean := stat.Mean(finite, nil); mean > 0 {
		return 0.15 * mean
	}
	return 1.0
}

// BandStdDev returns the residual standard deviation when there are at least two finite residuals
// and more of them than fitted parameters, otherwise FallbackStdDev of y.
func BandStdDev(residuals, y []float64, params int) float64 {
	var n int
	for _, r := range residuals {
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			n++
		}
	}
	if n < 2 || n <= params {
		return FallbackStdDev(y)
	}
	return ResidualStdDev(residuals)
}

// BandWidth returns the half width of the confidence band for a forecast step (1-indexed). The
// width grows with the square root of the step.
func BandWidth(multiplier, stddev float64, step int) (float64, error) {
	if step < 1 {
		return 0, ErrNegativeStep
	}
	return math.Abs(multiplier) * stddev * math.Sqrt(float64(step)), nil
}

// DetectOutliers returns the indices of values outside of the Tukey fence built from the lower and
// upper percentiles. NaNs are never reported.
func DetectOutliers(y []float64, lowerPerc, upperPerc, tukeyFactor float64) []int {
	lowerPerc = math.Max(lowerPerc, 0.0)
	upperPerc = math.Min(upperPerc, 1.0)
	tukeyFactor = math.Max(tukeyFactor, 0.0)

	yCopy := make([]float64, 0, len(y))
	for _, v := range y {
		if !math.IsNaN(v) {
			yCopy = append(yCopy, v)
		}
	}
	if len(yCopy) == 0 {
		return nil
	}
	sort.Float64s(yCopy)

	last := len(yCopy) - 1
	lowerIdx := min(int(math.Floor(float64(len(yCopy))*lowerPerc)), last)
	upperIdx := min(int(math.Ceil(float64(len(yCopy))*upperPerc)), last)

	lower := yCopy[lowerIdx]
	upper := yCopy[upperIdx]
	innerRange := upper - lower
	if innerRange == 0 {
		return nil
	}
	lower -= innerRange * tukeyFactor
	upper += innerRange * tukeyFactor

	var outlierIdx []int
	for i := 0; i < len(y); i++ {
		if math.IsNaN(y[i]) {
			continue
		}
		if y[i] > upper || y[i] < lower {
			outlierIdx = append(outlierIdx, i)
		}
	}
	return outlierIdx
}
