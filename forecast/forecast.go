// Package forecast fits a Holt-Winters exponential smoothing model to a canonical annual series
// and projects it forward with widening confidence bands.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/aouyang1/go-outbreak-forecaster/series"
	"github.com/aouyang1/go-outbreak-forecaster/stats"
)

var (
	ErrUninitializedForecast = errors.New("uninitialized forecast")
	ErrUntrainedForecast     = errors.New("forecast has not been trained yet")
	ErrInvalidHorizon        = errors.New("forecast horizon must be at least 1")
	ErrInvalidPeriod         = errors.New("seasonal period must be at least 1")
	ErrInsufficientCycles    = errors.New("series is shorter than two seasonal cycles")
	ErrBudgetExceeded        = errors.New("optimizer exceeded its iteration or time budget")
	ErrNonFiniteObjective    = errors.New("optimizer produced a non-finite sum of squared errors")
	ErrModelFit              = errors.New("model fit failed")
)

// ModelFitError describes a failed fit along with the last parameters the optimizer attempted
type ModelFitError struct {
	Disease    string
	Region     string
	Parameters Parameters
	Err        error
}

func (e *ModelFitError) Error() string {
	return fmt.Sprintf("unable to fit %s/%s with %s, %v", e.Disease, e.Region, e.Parameters, e.Err)
}

func (e *ModelFitError) Unwrap() error {
	return e.Err
}

func (e *ModelFitError) Is(target error) bool {
	return target == ErrModelFit
}

// Forecast is a single exponential smoothing model of one canonical series
type Forecast struct {
	opt    *Options
	scores *Scores

	disease string
	region  string
	params  Parameters

	// trailing state after the last training observation
	final        state
	trainEndYear int
	trainLen     int

	fitted   []float64
	residual []float64
	residStd float64
	sse      float64
	fitEvals int
	fitIters int
	outliers []int
	trained  bool
}

// New creates a new forecast with the given options. If none are provided a default is used.
func New(opt *Options) (*Forecast, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Forecast{opt: opt}, nil
}

// NewFromModel creates a forecast from a previously fit Model that can predict immediately
func NewFromModel(model Model) (*Forecast, error) {
	opt, err := model.Options.Validate()
	if err != nil {
		return nil, err
	}
	if model.Parameters.SeasonalPeriod < 1 {
		return nil, ErrInvalidPeriod
	}
	f := &Forecast{
		opt:          opt,
		scores:       model.Scores,
		disease:      model.Disease,
		region:       model.Region,
		params:       model.Parameters,
		final:        model.State.copy(),
		trainEndYear: model.TrainEndYear,
		trainLen:     model.TrainLen,
		residStd:     model.ResidualStdDev,
		sse:          model.SSE,
		trained:      true,
	}
	return f, nil
}

func (f *Forecast) fitError(p Parameters, err error) error {
	return &ModelFitError{
		Disease:    f.disease,
		Region:     f.region,
		Parameters: p,
		Err:        err,
	}
}

// Fit estimates the smoothing parameters for s. The series must cover at least two seasonal
// cycles. Any optimizer failure, including exceeding the iteration or runtime budget, is returned
// as a *ModelFitError.
func (f *Forecast) Fit(ctx context.Context, s *series.Canonical, seasonalPeriod int) error {
	if f == nil {
		return ErrUninitializedForecast
	}
	if s.Len() == 0 {
		return series.ErrNoPoints
	}
	if seasonalPeriod < 1 {
		return ErrInvalidPeriod
	}

	f.disease = s.Disease
	f.region = s.Region
	base := Parameters{
		SeasonalPeriod:  seasonalPeriod,
		SeasonalityMode: f.opt.SeasonalityMode,
	}
	initial := f.opt.initialParameters()
	attempted := base
	attempted.Alpha, attempted.Beta = initial.Alpha, initial.Beta
	if base.seasonal() {
		attempted.Gamma = initial.Gamma
	}

	y := s.Values()
	if len(y) < 2*seasonalPeriod {
		return f.fitError(attempted, fmt.Errorf("%d points for period %d, %w", len(y), seasonalPeriod, ErrInsufficientCycles))
	}

	init, start, err := initialState(y, seasonalPeriod, f.opt.SeasonalityMode)
	if err != nil {
		return f.fitError(attempted, err)
	}

	res, err := fitParameters(ctx, y, init, start, base, f.opt)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return f.fitError(res.params, ctxErr)
	}
	if budgetExceeded(res.status) {
		return f.fitError(res.params, fmt.Errorf("stopped with %s after %d evaluations, %w", res.status, res.evaluations, ErrBudgetExceeded))
	}
	if err != nil {
		return f.fitError(res.params, err)
	}

	fitted, final := smooth(y, init, start, res.params)
	total := sse(y, fitted)
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return f.fitError(res.params, ErrNonFiniteObjective)
	}

	residual := make([]float64, len(y))
	for i := range y {
		residual[i] = y[i] - fitted[i]
	}

	scores, err := NewScores(fitted, y)
	if err != nil {
		return err
	}

	years := s.Years()
	var outliers []int
	for _, idx := range stats.DetectOutliers(residual, 0.25, 0.75, 1.5) {
		outliers = append(outliers, years[idx])
	}

	f.params = res.params
	f.final = final
	f.trainEndYear = s.MaxYear()
	f.trainLen = len(y)
	f.fitted = fitted
	f.residual = residual
	f.residStd = stats.BandStdDev(residual, y, res.params.count())
	f.sse = total
	f.fitEvals = res.evaluations
	f.fitIters = res.iterations
	f.outliers = outliers
	f.scores = scores
	f.trained = true
	return nil
}

// Predict projects horizon years past the end of the training series. Estimates below zero are
// reported as zero and bounds are centred on the reported estimate with the lower bound floored at
// zero. The smoothing state is not modified.
func (f *Forecast) Predict(horizon int) ([]Point, error) {
	if f == nil {
		return nil, ErrUninitializedForecast
	}
	if !f.trained {
		return nil, ErrUntrainedForecast
	}
	if horizon < 1 {
		return nil, ErrInvalidHorizon
	}

	points := make([]Point, 0, horizon)
	last := f.trainLen - 1
	for h := 1; h <= horizon; h++ {
		raw := project(f.final, last, h, f.params)
		width, err := stats.BandWidth(f.opt.ConfidenceMultiplier, f.residStd, h)
		if err != nil {
			return nil, err
		}
		est := math.Max(raw, 0)
		points = append(points, Point{
			Year:     f.trainEndYear + h,
			Estimate: est,
			Lower:    math.Max(est-width, 0),
			Upper:    est + width,
			Raw:      raw,
		})
	}
	return points, nil
}

// Parameters returns the fitted smoothing parameters
func (f *Forecast) Parameters() Parameters {
	if f == nil {
		return Parameters{}
	}
	return f.params
}

// Fitted returns the one step ahead predictions over the training series
func (f *Forecast) Fitted() []float64 {
	if f == nil {
		return nil
	}
	res := make([]float64, len(f.fitted))
	copy(res, f.fitted)
	return res
}

// Residuals returns the training values minus the one step ahead predictions
func (f *Forecast) Residuals() []float64 {
	if f == nil {
		return nil
	}
	res := make([]float64, len(f.residual))
	copy(res, f.residual)
	return res
}

// ResidualStdDev returns the spread used for the bands. It is the in-sample residual standard
// deviation unless too few residuals remain to estimate it.
func (f *Forecast) ResidualStdDev() float64 {
	if f == nil {
		return 0
	}
	return f.residStd
}

// SSE returns the minimized sum of squared one step ahead errors
func (f *Forecast) SSE() float64 {
	if f == nil {
		return 0
	}
	return f.sse
}

// OutlierYears returns the training years whose residual falls outside the Tukey fence
func (f *Forecast) OutlierYears() []int {
	if f == nil {
		return nil
	}
	return append([]int(nil), f.outliers...)
}

// Scores returns the fit scores against the training series
func (f *Forecast) Scores() Scores {
	if f == nil || f.scores == nil {
		return Scores{}
	}
	return *f.scores
}
