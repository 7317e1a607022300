// Package series turns sparse yearly surveillance observations into gap-free annual series
package series

import (
	"errors"
	"fmt"
)

var (
	ErrNoPoints         = errors.New("series has no points")
	ErrNonConsecutive   = errors.New("series years are not consecutive")
	ErrNegativeValue    = errors.New("series has a negative value")
	ErrMismatchedSpan   = errors.New("series span first year is after last year")
	ErrMissingAnchors   = errors.New("no observed year to anchor synthesized values")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNegativeMinYears = errors.New("minimum years must not be negative")
)

// Point is a single year of a canonical series. Imputed is set when the value was synthesized
// from neighbouring years rather than reported.
type Point struct {
	Year    int     `json:"year"`
	Value   float64 `json:"value"`
	Imputed bool    `json:"imputed,omitempty"`
}

// Canonical is an ordered annual series for one disease and region where every year between the
// first and last year has a value. DataSource records whether the observations behind it were
// real or synthetic.
type Canonical struct {
	Disease    string  `json:"disease"`
	Region     string  `json:"region"`
	DataSource string  `json:"data_source,omitempty"`
	Points     []Point `json:"points"`
}

// NewCanonical validates and copies the points into a canonical series
func NewCanonical(disease, region string, points []Point) (*Canonical, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	for i := 0; i < len(points); i++ {
		if points[i].Value < 0 {
			return nil, fmt.Errorf("value %.2f in %d, %w", points[i].Value, points[i].Year, ErrNegativeValue)
		}
		if i == 0 {
			continue
		}
		if points[i].Year != points[i-1].Year+1 {
			return nil, fmt.Errorf("year %d follows %d, %w", points[i].Year, points[i-1].Year, ErrNonConsecutive)
		}
	}

	p := make([]Point, len(points))
	copy(p, points)
	return &Canonical{
		Disease: disease,
		Region:  region,
		Points:  p,
	}, nil
}

// FromValues builds a canonical series starting at firstYear with one value per year
func FromValues(disease, region string, firstYear int, values []float64) (*Canonical, error) {
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Year: firstYear + i, Value: v}
	}
	return NewCanonical(disease, region, points)
}

func (c *Canonical) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

func (c *Canonical) MinYear() int {
	if c.Len() == 0 {
		return 0
	}
	return c.Points[0].Year
}

func (c *Canonical) MaxYear() int {
	if c.Len() == 0 {
		return 0
	}
	return c.Points[len(c.Points)-1].Year
}

// Years returns the years of the series in order
func (c *Canonical) Years() []int {
	years := make([]int, c.Len())
	for i := range years {
		years[i] = c.Points[i].Year
	}
	return years
}

// Values returns the series values in year order
func (c *Canonical) Values() []float64 {
	vals := make([]float64, c.Len())
	for i := range vals {
		vals[i] = c.Points[i].Value
	}
	return vals
}

// ImputedCount returns how many years were synthesized
func (c *Canonical) ImputedCount() int {
	if c == nil {
		return 0
	}
	var n int
	for _, p := range c.Points {
		if p.Imputed {
			n++
		}
	}
	return n
}
