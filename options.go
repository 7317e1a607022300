package forecaster

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/forecast"
	"github.com/aouyang1/go-outbreak-forecaster/metrics"
	"github.com/aouyang1/go-outbreak-forecaster/series"
)

const (
	DefaultHorizon        = 5
	DefaultSeasonalPeriod = 1
)

var (
	ErrInvalidHorizon     = errors.New("horizon must be at least 1")
	ErrInvalidPeriod      = errors.New("seasonal period must be at least 1")
	ErrInvalidConcurrency = errors.New("concurrency limit must be at least 1")
)

// Options configures a forecast batch
type Options struct {
	SeriesOptions   *series.Options   `json:"series_options"`
	ForecastOptions *forecast.Options `json:"forecast_options"`

	// Horizon is the number of years projected past the last year of each series
	Horizon int `json:"horizon"`

	// SeasonalPeriod is the cycle length in years. A period of 1 disables the seasonal component.
	SeasonalPeriod int `json:"seasonal_period"`

	// Concurrency bounds the number of pairs processed at once. Zero uses the number of CPUs.
	Concurrency int `json:"concurrency_limit"`

	// FailFast stops the batch at the first pair failure
	FailFast bool `json:"fail_fast"`

	// Now stamps the generation time of a batch. Defaults to time.Now.
	Now func() time.Time `json:"-"`

	Metrics *metrics.Metrics `json:"-"`
}

// NewDefaultOptions returns a 5 year horizon without seasonality using all CPUs
func NewDefaultOptions() *Options {
	return &Options{
		SeriesOptions:   series.NewDefaultOptions(),
		ForecastOptions: forecast.NewDefaultOptions(),
		Horizon:         DefaultHorizon,
		SeasonalPeriod:  DefaultSeasonalPeriod,
		Concurrency:     runtime.NumCPU(),
		Now:             time.Now,
	}
}

// Validate returns a copy of the options with zero values defaulted
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	opt := *o

	seriesOpt, err := opt.SeriesOptions.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid series options, %w", err)
	}
	opt.SeriesOptions = seriesOpt

	forecastOpt, err := opt.ForecastOptions.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid forecast options, %w", err)
	}
	opt.ForecastOptions = forecastOpt

	if opt.Horizon < 0 {
		return nil, fmt.Errorf("%d, %w", opt.Horizon, ErrInvalidHorizon)
	}
	if opt.Horizon == 0 {
		opt.Horizon = DefaultHorizon
	}
	if opt.SeasonalPeriod < 0 {
		return nil, fmt.Errorf("%d, %w", opt.SeasonalPeriod, ErrInvalidPeriod)
	}
	if opt.SeasonalPeriod == 0 {
		opt.SeasonalPeriod = DefaultSeasonalPeriod
	}
	if opt.Concurrency < 0 {
		return nil, fmt.Errorf("%d, %w", opt.Concurrency, ErrInvalidConcurrency)
	}
	if opt.Concurrency == 0 {
		opt.Concurrency = runtime.NumCPU()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &opt, nil
}
