package publish

import (
	"errors"
	"fmt"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/forecast"
	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/series"
	"github.com/google/uuid"
)

var (
	ErrUnknownDataSource = errors.New("run data source must be real or synthetic")
	ErrMissingHistorical = errors.New("run has no historical series")
	ErrMissingForecast   = errors.New("run has no forecast points")
	ErrKeyMismatch       = errors.New("historical series does not belong to the run's disease and region")
	ErrNegativeEstimate  = errors.New("forecast point estimate is negative")
)

// Run is the complete output of one forecast for a disease and region. A run is keyed by
// disease, region and generation time; RunID distinguishes runs in history stores. Model holds the
// fitted model so a stored run can be summarized or projected further without refitting.
type Run struct {
	RunID          uuid.UUID           `json:"run_id"`
	Disease        string              `json:"disease"`
	Region         string              `json:"region"`
	GeneratedAt    time.Time           `json:"generated_at"`
	DataSource     string              `json:"data_source"`
	Parameters     forecast.Parameters `json:"model_parameters"`
	Method         string              `json:"method"`
	Historical     *series.Canonical   `json:"historical"`
	Forecast       []forecast.Point    `json:"forecast"`
	ResidualStdDev float64             `json:"residual_std"`
	Scores         forecast.Scores     `json:"scores"`
	Model          *forecast.Model     `json:"model,omitempty"`
}

// NewRun assembles a run from a canonical series and its forecast result. Series without a data
// source are reported as real.
func NewRun(s *series.Canonical, res *forecast.Result, generatedAt time.Time) Run {
	source := s.DataSource
	if source == "" {
		source = observation.SourceReal
	}
	model := res.Model
	return Run{
		RunID:          uuid.New(),
		Disease:        s.Disease,
		Region:         s.Region,
		GeneratedAt:    generatedAt.UTC(),
		DataSource:     source,
		Parameters:     res.Parameters,
		Method:         res.Method,
		Historical:     s,
		Forecast:       res.Points,
		ResidualStdDev: res.ResidualStdDev,
		Scores:         res.Scores,
		Model:          &model,
	}
}

func (r Run) Key() observation.Key {
	return observation.Key{Disease: r.Disease, Region: r.Region}
}

// Validate checks that the run is internally consistent before it is written
func (r Run) Validate() error {
	if r.Disease == "" {
		return observation.ErrEmptyDisease
	}
	if r.Region == "" {
		return observation.ErrEmptyRegion
	}
	switch r.DataSource {
	case observation.SourceReal, observation.SourceSynthetic:
	default:
		return fmt.Errorf("%q, %w", r.DataSource, ErrUnknownDataSource)
	}
	if r.Historical == nil || r.Historical.Len() == 0 {
		return ErrMissingHistorical
	}
	if r.Historical.Disease != r.Disease || r.Historical.Region != r.Region {
		return fmt.Errorf("%w, got %s/%s", ErrKeyMismatch, r.Historical.Disease, r.Historical.Region)
	}
	if len(r.Forecast) == 0 {
		return ErrMissingForecast
	}
	for _, p := range r.Forecast {
		if p.Estimate < 0 {
			return fmt.Errorf("%w, year %d", ErrNegativeEstimate, p.Year)
		}
	}
	return nil
}
