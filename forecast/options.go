package forecast

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultConfidenceMultiplier = 1.96
	DefaultMaxIterations        = 1000
	DefaultMaxEvaluations       = 5000
	DefaultMaxRuntime           = 10 * time.Second
	DefaultTolerance            = 1e-8
	DefaultStallIterations      = 50

	DefaultAlpha = 0.5
	DefaultBeta  = 0.1
	DefaultGamma = 0.1
)

var (
	ErrUnknownSeasonalityMode = errors.New("unknown seasonality mode")
	ErrNegativeMultiplier     = errors.New("confidence multiplier must not be negative")
	ErrNegativeBudget         = errors.New("fit budget must not be negative")
	ErrParameterRange         = errors.New("smoothing parameters must be within [0, 1]")
)

// SeasonalityMode selects how the seasonal component combines with level and trend
type SeasonalityMode string

const (
	Additive       SeasonalityMode = "additive"
	Multiplicative SeasonalityMode = "multiplicative"
)

// ParseSeasonalityMode converts a configuration string into a SeasonalityMode. An empty string
// selects additive seasonality.
func ParseSeasonalityMode(s string) (SeasonalityMode, error) {
	switch SeasonalityMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Additive:
		return Additive, nil
	case Multiplicative:
		return Multiplicative, nil
	}
	return "", fmt.Errorf("%q, %w", s, ErrUnknownSeasonalityMode)
}

// Options configures the exponential smoothing fit and the confidence bands of its forecast.
// Additive seasonality is the default since case counts are often at or near zero where
// multiplicative seasonal factors become unstable.
type Options struct {
	SeasonalityMode SeasonalityMode `json:"seasonality_mode"`

	// ConfidenceMultiplier scales residual_std * sqrt(step) into the half width of the band. Zero
	// selects DefaultConfidenceMultiplier.
	ConfidenceMultiplier float64 `json:"confidence_width_multiplier"`

	// Optimizer budget. Exceeding any limit fails the fit.
	MaxIterations  int           `json:"max_iterations"`
	MaxEvaluations int           `json:"max_evaluations"`
	MaxRuntime     time.Duration `json:"max_runtime"`

	// Tolerance is the smallest change in the sum of squared errors counted as an improvement
	Tolerance float64 `json:"tolerance"`

	// InitialParameters is the starting point of the parameter search. Seasonal fields are ignored.
	InitialParameters *Parameters `json:"initial_parameters,omitempty"`
}

// NewDefaultOptions returns additive seasonality with a 1.96 band multiplier
func NewDefaultOptions() *Options {
	return &Options{
		SeasonalityMode:      Additive,
		ConfidenceMultiplier: DefaultConfidenceMultiplier,
		MaxIterations:        DefaultMaxIterations,
		MaxEvaluations:       DefaultMaxEvaluations,
		MaxRuntime:           DefaultMaxRuntime,
		Tolerance:            DefaultTolerance,
	}
}

// Validate returns a copy of the options with unset fields defaulted
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	opt := *o

	mode, err := ParseSeasonalityMode(string(opt.SeasonalityMode))
	if err != nil {
		return nil, err
	}
	opt.SeasonalityMode = mode

	if opt.ConfidenceMultiplier < 0 {
		return nil, ErrNegativeMultiplier
	}
	if opt.ConfidenceMultiplier == 0 {
		opt.ConfidenceMultiplier = DefaultConfidenceMultiplier
	}
	if opt.MaxIterations < 0 || opt.MaxEvaluations < 0 || opt.MaxRuntime < 0 {
		return nil, ErrNegativeBudget
	}
	if opt.MaxIterations == 0 {
		opt.MaxIterations = DefaultMaxIterations
	}
	if opt.MaxEvaluations == 0 {
		opt.MaxEvaluations = DefaultMaxEvaluations
	}
	if opt.MaxRuntime == 0 {
		opt.MaxRuntime = DefaultMaxRuntime
	}
	if opt.Tolerance <= 0 {
		opt.Tolerance = DefaultTolerance
	}

	if p := opt.InitialParameters; p != nil {
		for _, v := range []float64{p.Alpha, p.Beta, p.Gamma} {
			if v < 0 || v > 1 {
				return nil, fmt.Errorf("initial parameter %.3f, %w", v, ErrParameterRange)
			}
		}
	}
	return &opt, nil
}

func (o *Options) initialParameters() Parameters {
	if o.InitialParameters != nil {
		return *o.InitialParameters
	}
	return Parameters{
		Alpha: DefaultAlpha,
		Beta:  DefaultBeta,
		Gamma: DefaultGamma,
	}
}
