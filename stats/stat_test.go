package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidualStdDev(t *testing.T) {
	testData := map[string]struct {
		residuals []float64
		expected  float64
	}{
		"empty":      {expected: 0},
		"single":     {residuals: []float64{3}, expected: 0},
		"constant":   {residuals: []float64{2, 2, 2}, expected: 0},
		"sample std": {residuals: []float64{1, -1, 1, -1}, expected: math.Sqrt(4.0 / 3.0)},
		"skips nan":  {residuals: []float64{math.NaN(), 1, -1, 1, -1}, expected: math.Sqrt(4.0 / 3.0)},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, td.expected, ResidualStdDev(td.residuals), 1e-12)
		})
	}
}

func TestBandStdDev(t *testing.T) {
	testData := map[string]struct {
		residuals []float64
		y         []float64
		params    int
		expected  float64
	}{
		"enough residuals": {
			residuals: []float64{1, -1, 1, -1},
			y:         []float64{10, 12, 14, 16},
			params:    2,
			expected:  math.Sqrt(4.0 / 3.0),
		},
		"single residual": {
			residuals: []float64{math.NaN(), math.NaN(), 3},
			y:         []float64{10, 20, 30},
			params:    2,
			expected:  3,
		},
		"no more residuals than parameters": {
			residuals: []float64{1, -1},
			y:         []float64{40, 40},
			params:    2,
			expected:  6,
		},
		"zero mean": {
			residuals: []float64{0},
			y:         []float64{0, 0, 0},
			params:    2,
			expected:  1,
		},
		"zero spread is kept": {
			residuals: []float64{0, 0, 0},
			y:         []float64{5, 5, 5},
			params:    2,
			expected:  0,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, td.expected, BandStdDev(td.residuals, td.y, td.params), 1e-12)
		})
	}
}

func TestBandWidth(t *testing.T) {
	w, err := BandWidth(1.96, 2.0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 3.92, w, 1e-12)

	w, err = BandWidth(1.96, 2.0, 4)
	require.NoError(t, err)
	assert.InDelta(t, 7.84, w, 1e-12)

	_, err = BandWidth(1.96, 2.0, 0)
	assert.ErrorIs(t, err, ErrNegativeStep)
}

func TestDetectOutliers(t *testing.T) {
	testData := map[string]struct {
		y        []float64
		expected []int
	}{
		"empty":    {},
		"single":   {y: []float64{1}},
		"constant": {y: []float64{2, 2, 2, 2}},
		"spike": {
			y:        []float64{1, 2, 1, 2, 1, 2, 1, 40, 2, 1},
			expected: []int{7},
		},
		"nan ignored": {
			y:        []float64{math.NaN(), 1, 2, 1, 2, 1, 2, -40, 1},
			expected: []int{7},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, DetectOutliers(td.y, 0.25, 0.75, 1.5))
		})
	}
}
