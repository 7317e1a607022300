// Package simulate synthesizes annual case counts for wiring a pipeline end to end before real
// yearly surveillance data exists.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"gonum.org/v1/gonum/floats"
)

const (
	// totals above this get a steeper trend
	highBurdenCases = 10000

	highBurdenSlope = 0.15
	lowBurdenSlope  = 0.05
	noiseFraction   = 0.1
)

var (
	ErrInvalidYears  = errors.New("last year must not be before first year")
	ErrNegativeTotal = errors.New("total case count must be non-negative")
)

type Series []float64

func (s Series) Add(src Series) Series {
	floats.Add(s, src)
	return s
}

// ClampNegative replaces negative values with zero
func (s Series) ClampNegative() Series {
	for i, v := range s {
		if v < 0 {
			s[i] = 0
		}
	}
	return s
}

func GenerateConstY(n int, val float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, val)
	}
	return Series(y)
}

// GenerateTrendY returns a line starting at zero increasing by slope per step
func GenerateTrendY(n int, slope float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, slope*float64(i))
	}
	return Series(y)
}

func GenerateNoise(rng *rand.Rand, n int, scale float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, rng.NormFloat64()*scale)
	}
	return Series(y)
}

// Total is the number of cases reported for a disease in a region over a whole window
type Total struct {
	Disease string `json:"disease"`
	Region  string `json:"region"`
	Cases   int64  `json:"total_cases"`
}

// Yearly spreads each total over firstYear through lastYear with a gentle upward trend and
// gaussian noise. Every observation is marked synthetic. The counts of each total sum exactly to its Cases. Totals share one generator
// seeded by seed so the output depends on their order.
func Yearly(totals []Total, firstYear, lastYear int, seed uint64) ([]observation.Observation, error) {
	if lastYear < firstYear {
		return nil, fmt.Errorf("%w, %d < %d", ErrInvalidYears, lastYear, firstYear)
	}
	n := lastYear - firstYear + 1
	rng := rand.New(rand.NewPCG(seed, seed))

	obs := make([]observation.Observation, 0, n*len(totals))
	for _, tot := range totals {
		if tot.Cases < 0 {
			return nil, fmt.Errorf("%w, %s/%s has %d", ErrNegativeTotal, tot.Disease, tot.Region, tot.Cases)
		}
		counts := spread(rng, tot.Cases, n)
		for i, c := range counts {
			o := observation.Observation{
				Disease:   tot.Disease,
				Region:    tot.Region,
				Year:      firstYear + i,
				CaseCount: c,
				Source:    observation.SourceSynthetic,
			}
			if err := o.Validate(); err != nil {
				return nil, fmt.Errorf("unable to synthesize %s/%s, %w", tot.Disease, tot.Region, err)
			}
			obs = append(obs, o)
		}
	}
	return obs, nil
}

func spread(rng *rand.Rand, total int64, n int) []int64 {
	base := float64(total) / float64(n)
	slope := lowBurdenSlope
	if total > highBurdenCases {
		slope = highBurdenSlope
	}
	slope *= base / float64(n)

	y := GenerateConstY(n, base).
		Add(GenerateTrendY(n, slope)).
		Add(GenerateNoise(rng, n, base*noiseFraction)).
		ClampNegative()

	scale := float64(total) / math.Max(1e-9, floats.Sum(y))
	counts := make([]int64, n)
	var sum int64
	for i, v := range y {
		counts[i] = int64(math.Round(v * scale))
		sum += counts[i]
	}

	// rounding drift goes to the last year, or is taken from the largest years when negative
	diff := total - sum
	if diff > 0 {
		counts[n-1] += diff
	}
	for ; diff < 0; diff++ {
		counts[argmax(counts)]--
	}
	return counts
}

func argmax(v []int64) int {
	idx := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[idx] {
			idx = i
		}
	}
	return idx
}
