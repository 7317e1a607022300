package series

import (
	"fmt"
	"sort"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
)

const (
	DefaultMinYears = 3

	// a trend cannot be anchored on a single year regardless of configuration
	minAnchorYears = 2
)

// InsufficientDataError is returned when a (disease, region) pair has too few distinct observed
// years to build a series a model can be fit on.
type InsufficientDataError struct {
	Key  observation.Key
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s has %d distinct observed years but needs %d, %s", e.Key, e.Have, e.Need, ErrInsufficientData)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Span restricts and widens a built series to a fixed window of years
type Span struct {
	FirstYear int `json:"first_year"`
	LastYear  int `json:"last_year"`
}

func (s *Span) Validate() error {
	if s == nil {
		return nil
	}
	if s.FirstYear > s.LastYear {
		return fmt.Errorf("span %d-%d, %w", s.FirstYear, s.LastYear, ErrMismatchedSpan)
	}
	return nil
}

func (s *Span) contains(year int) bool {
	return s == nil || (year >= s.FirstYear && year <= s.LastYear)
}

// Options configures the series builder
type Options struct {
	// MinYears is the minimum number of distinct observed years for a series to be built. Zero
	// selects DefaultMinYears and values below 2 are raised to 2.
	MinYears int `json:"min_years_required"`

	// Span optionally fixes the output year range. Observations outside of it are ignored and
	// missing years at either end are filled using the boundary rule.
	Span *Span `json:"span,omitempty"`
}

func NewDefaultOptions() *Options {
	return &Options{
		MinYears: DefaultMinYears,
	}
}

// Validate returns a copy of the options with unset fields defaulted
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	opt := *o
	if opt.MinYears < 0 {
		return nil, fmt.Errorf("%d, %w", opt.MinYears, ErrNegativeMinYears)
	}
	if opt.MinYears == 0 {
		opt.MinYears = DefaultMinYears
	}
	if err := opt.Span.Validate(); err != nil {
		return nil, err
	}
	return &opt, nil
}

// Builder aggregates raw observations into canonical series
type Builder struct {
	opt *Options
}

// NewBuilder creates a builder with the provided options or the defaults if nil
func NewBuilder(opt *Options) (*Builder, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Builder{opt: opt}, nil
}

func (b *Builder) minYears() int {
	if b.opt.MinYears < minAnchorYears {
		return minAnchorYears
	}
	return b.opt.MinYears
}

// Build filters obs to the disease and region, sums case counts per year and fills every
// missing year between the first and last year. Interior gaps are linearly interpolated between
// the nearest observed years on either side; leading and trailing gaps repeat the nearest
// observed value. The series is real when any contributing observation is real and synthetic
// otherwise.
func (b *Builder) Build(obs []observation.Observation, disease, region string) (*Canonical, error) {
	key := observation.Key{Disease: disease, Region: region}

	totals := make(map[int]float64)
	var reported bool
	for _, o := range obs {
		if o.Disease != disease || o.Region != region {
			continue
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("unable to aggregate %s, %w", key, err)
		}
		if !b.opt.Span.contains(o.Year) {
			continue
		}
		totals[o.Year] += float64(o.CaseCount)
		reported = reported || !o.Synthetic()
	}

	if need := b.minYears(); len(totals) < need {
		return nil, &InsufficientDataError{Key: key, Have: len(totals), Need: need}
	}

	observed := make([]int, 0, len(totals))
	for year := range totals {
		observed = append(observed, year)
	}
	sort.Ints(observed)

	first, last := observed[0], observed[len(observed)-1]
	if b.opt.Span != nil {
		first, last = b.opt.Span.FirstYear, b.opt.Span.LastYear
	}

	points, err := fill(totals, observed, first, last)
	if err != nil {
		return nil, fmt.Errorf("unable to fill %s, %w", key, err)
	}
	s, err := NewCanonical(disease, region, points)
	if err != nil {
		return nil, err
	}
	s.DataSource = observation.SourceSynthetic
	if reported {
		s.DataSource = observation.SourceReal
	}
	return s, nil
}

// fill produces one point per year in [first, last]. observed must be sorted and non-empty.
func fill(totals map[int]float64, observed []int, first, last int) ([]Point, error) {
	if len(observed) == 0 {
		return nil, ErrMissingAnchors
	}

	points := make([]Point, 0, last-first+1)

	// index of the first observed year at or after the current year
	next := 0
	for year := first; year <= last; year++ {
		for next < len(observed) && observed[next] < year {
			next++
		}

		if v, exists := totals[year]; exists {
			points = append(points, Point{Year: year, Value: v})
			continue
		}

		var v float64
		switch {
		case next == 0:
			// leading gap
			v = totals[observed[0]]
		case next == len(observed):
			// trailing gap
			v = totals[observed[len(observed)-1]]
		default:
			v = Interpolate(observed[next-1], totals[observed[next-1]], observed[next], totals[observed[next]], year)
		}
		points = append(points, Point{Year: year, Value: v, Imputed: true})
	}
	return points, nil
}

// Interpolate returns the value at year on the line through (y0, v0) and (y1, v1)
func Interpolate(y0 int, v0 float64, y1 int, v1 float64, year int) float64 {
	if y1 == y0 {
		return v0
	}
	frac := float64(year-y0) / float64(y1-y0)
	return v0 + frac*(v1-v0)
}
