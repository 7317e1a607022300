package forecaster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/forecast"
	"github.com/aouyang1/go-outbreak-forecaster/metrics"
	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/aouyang1/go-outbreak-forecaster/series"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func obsFor(disease, region string, firstYear int, counts ...int64) []observation.Observation {
	obs := make([]observation.Observation, 0, len(counts))
	for i, c := range counts {
		obs = append(obs, observation.Observation{Disease: disease, Region: region, Year: firstYear + i, CaseCount: c})
	}
	return obs
}

func testObservations() []observation.Observation {
	var obs []observation.Observation
	obs = append(obs, obsFor("measles", "north", 2016, 10, 12, 14, 16, 18, 20, 22)...)
	obs = append(obs,
		observation.Observation{Disease: "cholera", Region: "coast", Year: 2018, CaseCount: 10},
		observation.Observation{Disease: "cholera", Region: "coast", Year: 2019, CaseCount: 0},
		observation.Observation{Disease: "cholera", Region: "coast", Year: 2021, CaseCount: 20},
		observation.Observation{Disease: "cholera", Region: "coast", Year: 2021, CaseCount: 10},
	)
	obs = append(obs, obsFor("anthrax", "rift", 2020, 4)...)
	obs = append(obs, obsFor("flat", "plains", 2017, 5, 5, 5, 5, 5, 5)...)
	return obs
}

func testOptions() *Options {
	opt := NewDefaultOptions()
	opt.Now = func() time.Time { return testNow }
	opt.Concurrency = 3
	return opt
}

// memStore keeps the latest run per key and can fail replaces for selected keys
type memStore struct {
	mu    sync.Mutex
	fail  map[observation.Key]error
	runs  map[observation.Key]publish.Run
	calls int
}

func newMemStore() *memStore {
	return &memStore{
		fail: make(map[observation.Key]error),
		runs: make(map[observation.Key]publish.Run),
	}
}

func (m *memStore) Replace(ctx context.Context, run publish.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.fail[run.Key()]; ok {
		return err
	}
	m.runs[run.Key()] = run
	return nil
}

func newPublisher(t *testing.T, store publish.Store) *publish.Publisher {
	t.Helper()
	p, err := publish.NewPublisher(store, &publish.Options{MaxRetries: 1, InitialBackoff: time.Millisecond}, nil)
	require.NoError(t, err)
	return p
}

func TestRun(t *testing.T) {
	store := newMemStore()
	opt := testOptions()
	opt.Horizon = 2
	opt.Metrics = metrics.New()

	f, err := New(opt, newPublisher(t, store))
	require.NoError(t, err)

	res, err := f.Run(context.Background(), testObservations())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Pairs)
	assert.Equal(t, testNow, res.GeneratedAt)
	require.Len(t, res.Runs, 3)
	require.Len(t, res.Failures, 1)

	// sorted by disease then region
	assert.Equal(t, "cholera", res.Runs[0].Disease)
	assert.Equal(t, "flat", res.Runs[1].Disease)
	assert.Equal(t, "measles", res.Runs[2].Disease)

	fl := res.Failures[0]
	assert.Equal(t, observation.Key{Disease: "anthrax", Region: "rift"}, fl.Key)
	assert.Equal(t, StageBuild, fl.Stage)
	assert.ErrorIs(t, fl, series.ErrInsufficientData)

	cholera, ok := res.Succeeded(observation.Key{Disease: "cholera", Region: "coast"})
	require.True(t, ok)
	assert.Equal(t, []int{2018, 2019, 2020, 2021}, cholera.Historical.Years())
	assert.Equal(t, []float64{10, 0, 15, 30}, cholera.Historical.Values())
	assert.True(t, cholera.Historical.Points[2].Imputed)

	flat, ok := res.Succeeded(observation.Key{Disease: "flat", Region: "plains"})
	require.True(t, ok)
	require.Len(t, flat.Forecast, 2)
	for i, p := range flat.Forecast {
		assert.Equal(t, 2023+i, p.Year)
		assert.InDelta(t, 5.0, p.Estimate, 1e-6)
		assert.InDelta(t, 0.0, p.Upper-p.Lower, 1e-6)
	}

	for _, r := range res.Runs {
		assert.Equal(t, testNow, r.GeneratedAt)
		assert.Equal(t, "holt-linear", r.Method)
		for _, p := range r.Forecast {
			assert.GreaterOrEqual(t, p.Estimate, 0.0)
			assert.GreaterOrEqual(t, p.Lower, 0.0)
		}
		stored, ok := store.runs[r.Key()]
		require.True(t, ok)
		assert.Equal(t, r.RunID, stored.RunID)
	}
	assert.Len(t, store.runs, 3)

	assert.Equal(t, 3.0, testutil.ToFloat64(opt.Metrics.PairsTotal.WithLabelValues("publish", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(opt.Metrics.PairsTotal.WithLabelValues("build", metrics.OutcomeFailed)))
	assert.Equal(t, 4.0, testutil.ToFloat64(opt.Metrics.LastBatchPairs))
}

// gateStore holds every replace until released and records the most replaces in flight at once
type gateStore struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	started  chan struct{}
	release  chan struct{}
}

func (g *gateStore) Replace(ctx context.Context, run publish.Run) error {
	g.mu.Lock()
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.mu.Unlock()

	g.started <- struct{}{}
	<-g.release

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return nil
}

func (g *gateStore) peakInFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func TestRunConcurrencyLimit(t *testing.T) {
	testData := map[string]struct {
		concurrency int
		pairs       int
	}{
		"serial":          {concurrency: 1, pairs: 4},
		"bounded":         {concurrency: 3, pairs: 8},
		"more than pairs": {concurrency: 6, pairs: 2},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			var obs []observation.Observation
			for i := 0; i < td.pairs; i++ {
				obs = append(obs, obsFor("measles", fmt.Sprintf("r%02d", i), 2016, 10, 12, 14, 16)...)
			}

			store := &gateStore{
				started: make(chan struct{}, td.pairs),
				release: make(chan struct{}),
			}
			opt := testOptions()
			opt.Concurrency = td.concurrency
			f, err := New(opt, newPublisher(t, store))
			require.NoError(t, err)

			type outcome struct {
				res *BatchResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := f.Run(context.Background(), obs)
				done <- outcome{res: res, err: err}
			}()

			expected := min(td.concurrency, td.pairs)
			for i := 0; i < expected; i++ {
				select {
				case <-store.started:
				case <-time.After(10 * time.Second):
					close(store.release)
					t.Fatalf("only %d of %d pairs started", i, expected)
				}
			}
			// give any pair beyond the limit a chance to start
			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, expected, store.peakInFlight())

			close(store.release)
			out := <-done
			require.NoError(t, out.err)
			assert.Len(t, out.res.Runs, td.pairs)
			assert.Equal(t, expected, store.peakInFlight())
		})
	}
}

func TestRunIdempotent(t *testing.T) {
	f, err := New(testOptions(), nil)
	require.NoError(t, err)

	a, err := f.Run(context.Background(), testObservations())
	require.NoError(t, err)
	b, err := f.Run(context.Background(), testObservations())
	require.NoError(t, err)

	require.Equal(t, len(a.Runs), len(b.Runs))
	for i := range a.Runs {
		assert.Equal(t, a.Runs[i].Parameters, b.Runs[i].Parameters)
		assert.Equal(t, a.Runs[i].Forecast, b.Runs[i].Forecast)
		assert.NotEqual(t, a.Runs[i].RunID, b.Runs[i].RunID)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	errDown := errors.New("database unavailable")

	testData := map[string]struct {
		obs           []observation.Observation
		opt           func(o *Options)
		fail          map[observation.Key]error
		expectedRuns  []string
		expectedStage map[string]Stage
		expectedErr   error
	}{
		"publish failure": {
			obs: append(obsFor("a", "x", 2018, 1, 2, 3, 4), obsFor("b", "x", 2018, 1, 2, 3, 4)...),
			fail: map[observation.Key]error{
				{Disease: "a", Region: "x"}: errDown,
			},
			expectedRuns:  []string{"b"},
			expectedStage: map[string]Stage{"a": StagePublish},
			expectedErr:   publish.ErrPersistence,
		},
		"invalid observation": {
			obs:           append(obsFor("a", "x", 2018, 1, -2, 3, 4), obsFor("b", "x", 2018, 1, 2, 3, 4)...),
			expectedRuns:  []string{"b"},
			expectedStage: map[string]Stage{"a": StageBuild},
			expectedErr:   observation.ErrNegativeCases,
		},
		"too short for seasonal period": {
			obs: append(obsFor("a", "x", 2018, 1, 2, 3), obsFor("b", "x", 2015, 1, 2, 3, 1, 2, 3, 1, 2)...),
			opt: func(o *Options) {
				o.SeasonalPeriod = 3
			},
			expectedRuns:  []string{"b"},
			expectedStage: map[string]Stage{"a": StageForecast},
			expectedErr:   forecast.ErrModelFit,
		},
		"multiplicative with zero": {
			obs: append(obsFor("a", "x", 2015, 0, 2, 3, 1, 2, 3), obsFor("b", "x", 2015, 1, 2, 3, 1, 2, 3)...),
			opt: func(o *Options) {
				o.SeasonalPeriod = 3
				o.ForecastOptions = forecast.NewDefaultOptions()
				o.ForecastOptions.SeasonalityMode = forecast.Multiplicative
			},
			expectedRuns:  []string{"b"},
			expectedStage: map[string]Stage{"a": StageForecast},
			expectedErr:   forecast.ErrModelFit,
		},
		"empty input": {},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			store := newMemStore()
			for k, err := range td.fail {
				store.fail[k] = err
			}
			opt := testOptions()
			if td.opt != nil {
				td.opt(opt)
			}
			f, err := New(opt, newPublisher(t, store))
			require.NoError(t, err)

			res, err := f.Run(context.Background(), td.obs)
			require.NoError(t, err)

			var runs []string
			for _, r := range res.Runs {
				runs = append(runs, r.Disease)
			}
			assert.Equal(t, td.expectedRuns, runs)
			require.Len(t, res.Failures, len(td.expectedStage))
			for _, fl := range res.Failures {
				assert.Equal(t, td.expectedStage[fl.Key.Disease], fl.Stage)
				assert.ErrorIs(t, fl, td.expectedErr)
			}
			assert.Equal(t, len(res.Runs)+len(res.Failures), res.Pairs)
		})
	}
}

func TestRunFailFast(t *testing.T) {
	var obs []observation.Observation
	obs = append(obs, obsFor("a", "x", 2020, 1)...)
	for _, d := range []string{"b", "c", "d"} {
		obs = append(obs, obsFor(d, "x", 2018, 1, 2, 3, 4)...)
	}

	opt := testOptions()
	opt.FailFast = true
	opt.Concurrency = 1
	store := newMemStore()
	f, err := New(opt, newPublisher(t, store))
	require.NoError(t, err)

	res, err := f.Run(context.Background(), obs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailFast)
	assert.ErrorIs(t, err, series.ErrInsufficientData)

	require.NotNil(t, res)
	assert.Empty(t, res.Runs)
	require.Len(t, res.Failures, 4)
	assert.Equal(t, StageBuild, res.Failures[0].Stage)
	for _, fl := range res.Failures[1:] {
		assert.Equal(t, StagePending, fl.Stage)
		assert.ErrorIs(t, fl, context.Canceled)
	}
	assert.Equal(t, 0, store.calls)
}

func TestRunFailFastNoFailure(t *testing.T) {
	opt := testOptions()
	opt.FailFast = true
	f, err := New(opt, nil)
	require.NoError(t, err)

	res, err := f.Run(context.Background(), obsFor("a", "x", 2018, 1, 2, 3, 4))
	require.NoError(t, err)
	assert.Len(t, res.Runs, 1)
}

func TestRunCanceled(t *testing.T) {
	f, err := New(testOptions(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.Run(ctx, testObservations())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Runs)
	assert.Len(t, res.Failures, 4)
}

func TestOptionsValidate(t *testing.T) {
	testData := map[string]struct {
		opt      *Options
		expected error
	}{
		"nil": {},
		"zero values": {
			opt: &Options{},
		},
		"negative horizon": {
			opt:      &Options{Horizon: -1},
			expected: ErrInvalidHorizon,
		},
		"negative period": {
			opt:      &Options{SeasonalPeriod: -2},
			expected: ErrInvalidPeriod,
		},
		"negative concurrency": {
			opt:      &Options{Concurrency: -1},
			expected: ErrInvalidConcurrency,
		},
		"bad forecast options": {
			opt:      &Options{ForecastOptions: &forecast.Options{SeasonalityMode: "sideways"}},
			expected: forecast.ErrUnknownSeasonalityMode,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			opt, err := td.opt.Validate()
			if td.expected != nil {
				assert.ErrorIs(t, err, td.expected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultHorizon, opt.Horizon)
			assert.Equal(t, DefaultSeasonalPeriod, opt.SeasonalPeriod)
			assert.Positive(t, opt.Concurrency)
			assert.NotNil(t, opt.Now)
			assert.NotNil(t, opt.SeriesOptions)
			assert.Equal(t, forecast.DefaultConfidenceMultiplier, opt.ForecastOptions.ConfidenceMultiplier)
		})
	}
}
