package forecast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScores(t *testing.T) {
	testData := map[string]struct {
		predicted []float64
		actual    []float64
		expected  *Scores
		err       error
	}{
		"length mismatch": {
			predicted: []float64{1},
			actual:    []float64{1, 2},
			err:       ErrResLenMismatch,
		},
		"perfect": {
			predicted: []float64{math.NaN(), 2, 4, 6},
			actual:    []float64{1, 2, 4, 6},
			expected:  &Scores{MSE: 0, RMSE: 0, MAPE: 0, R2: 1},
		},
		"constant error": {
			predicted: []float64{math.NaN(), math.NaN(), 3, 5},
			actual:    []float64{1, 2, 4, 4},
			expected:  &Scores{MSE: 1, RMSE: 1, MAPE: 0.25, R2: 1},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			s, err := NewScores(td.predicted, td.actual)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, td.expected.MSE, s.MSE, 1e-9)
			assert.InDelta(t, td.expected.RMSE, s.RMSE, 1e-9)
			assert.InDelta(t, td.expected.MAPE, s.MAPE, 1e-9)
		})
	}
}
