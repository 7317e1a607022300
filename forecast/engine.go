package forecast

import (
	"context"

	"github.com/aouyang1/go-outbreak-forecaster/series"
)

// Point is a forecast for a single future year. Estimate is never negative; Raw keeps the
// unclamped model output for diagnostics.
type Point struct {
	Year     int     `json:"year"`
	Estimate float64 `json:"point_estimate"`
	Lower    float64 `json:"lower_bound"`
	Upper    float64 `json:"upper_bound"`
	Raw      float64 `json:"raw_estimate"`
}

// Result is the outcome of fitting and projecting one series
type Result struct {
	Parameters     Parameters `json:"model_parameters"`
	Method         string     `json:"method"`
	Points         []Point    `json:"forecast"`
	Fitted         []float64  `json:"-"`
	Residuals      []float64  `json:"-"`
	ResidualStdDev float64    `json:"residual_std"`
	SSE            float64    `json:"sse"`
	Scores         Scores     `json:"scores"`
	OutlierYears   []int      `json:"outlier_years,omitempty"`
	Evaluations    int        `json:"evaluations"`
	Iterations     int        `json:"iterations"`
	Model          Model      `json:"-"`
}

// Engine fits a fresh model per series using shared options
type Engine struct {
	opt *Options
}

// NewEngine validates the options and returns an engine. If no options are provided a default
// is used.
func NewEngine(opt *Options) (*Engine, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Engine{opt: opt}, nil
}

// Options returns a copy of the validated engine options
func (e *Engine) Options() Options {
	return *e.opt
}

// Forecast fits s with the given seasonal period and projects horizon years past its last year.
// Given the same series, horizon, period and options the result is identical across calls.
func (e *Engine) Forecast(ctx context.Context, s *series.Canonical, horizon, seasonalPeriod int) (*Result, error) {
	if horizon < 1 {
		return nil, ErrInvalidHorizon
	}

	f, err := New(e.opt)
	if err != nil {
		return nil, err
	}
	if err := f.Fit(ctx, s, seasonalPeriod); err != nil {
		return nil, err
	}
	points, err := f.Predict(horizon)
	if err != nil {
		return nil, err
	}
	model, err := f.Model()
	if err != nil {
		return nil, err
	}

	return &Result{
		Parameters:     f.Parameters(),
		Method:         f.Parameters().Method(),
		Points:         points,
		Fitted:         f.Fitted(),
		Residuals:      f.Residuals(),
		ResidualStdDev: f.ResidualStdDev(),
		SSE:            f.SSE(),
		Scores:         f.Scores(),
		OutlierYears:   f.OutlierYears(),
		Evaluations:    f.fitEvals,
		Iterations:     f.fitIters,
		Model:          model,
	}, nil
}
