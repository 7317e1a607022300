package simulate

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeries(t *testing.T) {
	s := GenerateConstY(4, 1)
	res := s.Add(GenerateTrendY(4, 2))
	assert.Equal(t, Series{1, 3, 5, 7}, res)

	s = Series{-1, 2, -0.5}
	assert.Equal(t, Series{0, 2, 0}, s.ClampNegative())

	noise := GenerateNoise(rand.New(rand.NewPCG(1, 1)), 100, 0)
	assert.Equal(t, GenerateConstY(100, 0), noise)
}

func TestYearly(t *testing.T) {
	testData := map[string]struct {
		totals    []Total
		firstYear int
		lastYear  int
		expected  error
	}{
		"surveillance window": {
			totals: []Total{
				{Disease: "cholera", Region: "coast", Cases: 25431},
				{Disease: "measles", Region: "north", Cases: 812},
				{Disease: "anthrax", Region: "rift", Cases: 3},
				{Disease: "rvf", Region: "rift", Cases: 0},
			},
			firstYear: 2007,
			lastYear:  2022,
		},
		"single year": {
			totals:    []Total{{Disease: "d", Region: "r", Cases: 10}},
			firstYear: 2020,
			lastYear:  2020,
		},
		"reversed years": {
			totals:    []Total{{Disease: "d", Region: "r", Cases: 10}},
			firstYear: 2022,
			lastYear:  2007,
			expected:  ErrInvalidYears,
		},
		"negative total": {
			totals:    []Total{{Disease: "d", Region: "r", Cases: -1}},
			firstYear: 2007,
			lastYear:  2022,
			expected:  ErrNegativeTotal,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			obs, err := Yearly(td.totals, td.firstYear, td.lastYear, 42)
			if td.expected != nil {
				assert.ErrorIs(t, err, td.expected)
				return
			}
			require.NoError(t, err)

			n := td.lastYear - td.firstYear + 1
			require.Len(t, obs, n*len(td.totals))
			for i, tot := range td.totals {
				var sum int64
				for j, o := range obs[i*n : (i+1)*n] {
					assert.Equal(t, tot.Disease, o.Disease)
					assert.Equal(t, td.firstYear+j, o.Year)
					assert.GreaterOrEqual(t, o.CaseCount, int64(0))
					assert.True(t, o.Synthetic())
					sum += o.CaseCount
				}
				assert.Equal(t, tot.Cases, sum, tot.Disease)
			}
		})
	}
}

func TestYearlyDeterministic(t *testing.T) {
	totals := []Total{{Disease: "cholera", Region: "coast", Cases: 5000}}
	a, err := Yearly(totals, 2007, 2022, 7)
	require.NoError(t, err)
	b, err := Yearly(totals, 2007, 2022, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Yearly(totals, 2007, 2022, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
