package forecast

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aouyang1/go-outbreak-forecaster/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSeries(t *testing.T, values ...float64) *series.Canonical {
	t.Helper()
	s, err := series.FromValues("X", "A", 2010, values)
	require.NoError(t, err)
	return s
}

func estimates(points []Point) []float64 {
	res := make([]float64, len(points))
	for i, p := range points {
		res[i] = p.Estimate
	}
	return res
}

func TestForecastFlatSeries(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	s := mustSeries(t, 5, 5, 5, 5, 5, 5)
	res, err := e.Forecast(context.Background(), s, 2, 1)
	require.NoError(t, err)

	require.Len(t, res.Points, 2)
	assert.Equal(t, 2016, res.Points[0].Year)
	assert.Equal(t, 2017, res.Points[1].Year)
	assert.InDeltaSlice(t, []float64{5, 5}, estimates(res.Points), 1e-6)
	for _, p := range res.Points {
		assert.InDelta(t, 0.0, p.Upper-p.Lower, 1e-6)
	}
	assert.InDelta(t, 0.0, res.ResidualStdDev, 1e-9)
	assert.Equal(t, "holt-linear", res.Method)
	assert.Equal(t, 0.0, res.Parameters.Gamma)
}

func TestForecastLinearTrend(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	res, err := e.Forecast(context.Background(), mustSeries(t, 10, 20, 30, 40, 50, 60), 2, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{70, 80}, estimates(res.Points), 1e-6)
}

func TestForecastSeasonalAdditive(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	res, err := e.Forecast(context.Background(), mustSeries(t, 10, 20, 12, 22, 14, 24, 16, 26), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "holt-winters-additive", res.Method)
	assert.Equal(t, 2, res.Parameters.SeasonalPeriod)
	assert.InDeltaSlice(t, []float64{18, 28}, estimates(res.Points), 1.0)

	for _, p := range []float64{res.Parameters.Alpha, res.Parameters.Beta, res.Parameters.Gamma} {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestForecastShortSeries(t *testing.T) {
	testData := map[string]struct {
		values   []float64
		expected []float64
		delta    float64
	}{
		"gentle": {
			values:   []float64{10, 14, 13},
			expected: []float64{15.3333, 16.8333},
			delta:    0.01,
		},
		"spike": {
			values:   []float64{1, 100000, 3},
			expected: []float64{33336.6667, 33337.6667},
			delta:    1.0,
		},
	}

	starts := []Parameters{{Alpha: 0.1, Beta: 0.1}, {Alpha: 0.9, Beta: 0.9}}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			for _, start := range starts {
				opt := NewDefaultOptions()
				opt.InitialParameters = &start
				e, err := NewEngine(opt)
				require.NoError(t, err)

				res, err := e.Forecast(context.Background(), mustSeries(t, td.values...), 2, 1)
				require.NoError(t, err)

				// every year contributes a residual
				for _, v := range res.Fitted {
					assert.False(t, math.IsNaN(v))
				}
				assert.Greater(t, res.ResidualStdDev, 0.0)
				assert.InDeltaSlice(t, td.expected, estimates(res.Points), td.delta)
				for _, p := range res.Points {
					assert.Greater(t, p.Upper, p.Lower)
				}
			}
		})
	}
}

func TestForecastFallbackSpread(t *testing.T) {
	s := mustSeries(t, 10, 30)
	f, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, f.Fit(context.Background(), s, 1))

	// two residuals cannot estimate a spread next to two smoothing weights
	assert.InDelta(t, 0.15*20, f.ResidualStdDev(), 1e-9)
	points, err := f.Predict(1)
	require.NoError(t, err)
	assert.Greater(t, points[0].Upper, points[0].Estimate)
}

func TestForecastNonNegative(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	res, err := e.Forecast(context.Background(), mustSeries(t, 50, 40, 30, 20, 10, 5), 5, 1)
	require.NoError(t, err)

	var clamped bool
	for _, p := range res.Points {
		assert.GreaterOrEqual(t, p.Estimate, 0.0)
		assert.GreaterOrEqual(t, p.Lower, 0.0)
		assert.GreaterOrEqual(t, p.Upper, p.Estimate)
		if p.Raw < 0 {
			clamped = true
			assert.Equal(t, 0.0, p.Estimate)
		}
	}
	assert.True(t, clamped)
}

func TestForecastDeterministic(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	s := mustSeries(t, 12, 15, 11, 19, 22, 18, 25, 30, 27, 33, 31, 38)
	first, err := e.Forecast(context.Background(), s, 3, 1)
	require.NoError(t, err)
	second, err := e.Forecast(context.Background(), s, 3, 1)
	require.NoError(t, err)

	assert.Equal(t, first.Parameters, second.Parameters)
	assert.Equal(t, first.Points, second.Points)
	assert.Equal(t, first.SSE, second.SSE)
}

func TestForecastBandsWiden(t *testing.T) {
	opt := NewDefaultOptions()
	opt.ConfidenceMultiplier = 2.0
	e, err := NewEngine(opt)
	require.NoError(t, err)

	res, err := e.Forecast(context.Background(), mustSeries(t, 12, 15, 11, 19, 22, 18, 25, 30, 27, 33, 31, 38), 4, 1)
	require.NoError(t, err)
	require.Greater(t, res.ResidualStdDev, 0.0)

	for i, p := range res.Points {
		step := float64(i + 1)
		width := p.Upper - p.Estimate
		assert.InDelta(t, 2.0*res.ResidualStdDev*math.Sqrt(step), width, 1e-9)
		if i > 0 {
			assert.Greater(t, width, res.Points[i-1].Upper-res.Points[i-1].Estimate)
		}
	}
}

func TestForecastErrors(t *testing.T) {
	testData := map[string]struct {
		values  []float64
		opt     *Options
		horizon int
		period  int
		err     error
		fitErr  bool
	}{
		"too few cycles": {
			values:  []float64{1, 2, 3, 4, 5},
			horizon: 1,
			period:  3,
			err:     ErrInsufficientCycles,
			fitErr:  true,
		},
		"invalid horizon": {
			values:  []float64{1, 2, 3, 4},
			horizon: 0,
			period:  1,
			err:     ErrInvalidHorizon,
		},
		"invalid period": {
			values:  []float64{1, 2, 3, 4},
			horizon: 1,
			period:  0,
			err:     ErrInvalidPeriod,
		},
		"multiplicative with zero": {
			values:  []float64{4, 0, 5, 2, 6, 3},
			opt:     &Options{SeasonalityMode: Multiplicative},
			horizon: 1,
			period:  2,
			err:     ErrNonPositiveObservation,
			fitErr:  true,
		},
		"evaluation budget": {
			values:  []float64{12, 15, 11, 19, 22, 18, 25, 30, 27, 33, 31, 38},
			opt:     &Options{MaxEvaluations: 2},
			horizon: 1,
			period:  1,
			err:     ErrModelFit,
			fitErr:  true,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			e, err := NewEngine(td.opt)
			require.NoError(t, err)

			_, err = e.Forecast(context.Background(), mustSeries(t, td.values...), td.horizon, td.period)
			assert.ErrorIs(t, err, td.err)

			var fitErr *ModelFitError
			assert.Equal(t, td.fitErr, errors.As(err, &fitErr))
			if td.fitErr {
				assert.Equal(t, "X", fitErr.Disease)
				assert.Equal(t, td.period, fitErr.Parameters.SeasonalPeriod)
			}
		})
	}
}

func TestForecastCanceled(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Forecast(ctx, mustSeries(t, 12, 15, 11, 19, 22, 18), 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrModelFit)
}

func TestPredictUntrained(t *testing.T) {
	f, err := New(nil)
	require.NoError(t, err)
	_, err = f.Predict(1)
	assert.ErrorIs(t, err, ErrUntrainedForecast)

	var nilForecast *Forecast
	_, err = nilForecast.Predict(1)
	assert.ErrorIs(t, err, ErrUninitializedForecast)
}

func TestParseSeasonalityMode(t *testing.T) {
	testData := map[string]struct {
		in       string
		expected SeasonalityMode
		err      error
	}{
		"empty":          {in: "", expected: Additive},
		"additive":       {in: "additive", expected: Additive},
		"multiplicative": {in: " Multiplicative ", expected: Multiplicative},
		"unknown":        {in: "geometric", err: ErrUnknownSeasonalityMode},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			mode, err := ParseSeasonalityMode(td.in)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, td.expected, mode)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	opt, err := (&Options{}).Validate()
	require.NoError(t, err)
	assert.Equal(t, Additive, opt.SeasonalityMode)
	assert.Equal(t, DefaultMaxIterations, opt.MaxIterations)
	assert.Equal(t, DefaultMaxEvaluations, opt.MaxEvaluations)
	assert.Equal(t, DefaultMaxRuntime, opt.MaxRuntime)
	assert.Equal(t, DefaultConfidenceMultiplier, opt.ConfidenceMultiplier)
	assert.Equal(t, DefaultTolerance, opt.Tolerance)

	_, err = (&Options{ConfidenceMultiplier: -1}).Validate()
	assert.ErrorIs(t, err, ErrNegativeMultiplier)

	_, err = (&Options{MaxIterations: -1}).Validate()
	assert.ErrorIs(t, err, ErrNegativeBudget)

	_, err = (&Options{InitialParameters: &Parameters{Alpha: 1.5}}).Validate()
	assert.ErrorIs(t, err, ErrParameterRange)
}
