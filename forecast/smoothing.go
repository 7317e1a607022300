package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var ErrNonPositiveObservation = errors.New("multiplicative seasonality requires strictly positive observations")

// Parameters are the smoothing weights of the level, trend and seasonal components
type Parameters struct {
	Alpha           float64         `json:"alpha"`
	Beta            float64         `json:"beta"`
	Gamma           float64         `json:"gamma"`
	SeasonalPeriod  int             `json:"seasonal_period"`
	SeasonalityMode SeasonalityMode `json:"seasonality_mode"`
}

func (p Parameters) String() string {
	return fmt.Sprintf("alpha=%.4f beta=%.4f gamma=%.4f period=%d mode=%s",
		p.Alpha, p.Beta, p.Gamma, p.SeasonalPeriod, p.SeasonalityMode)
}

// Method labels the model variant that produced a forecast
func (p Parameters) Method() string {
	if p.SeasonalPeriod <= 1 {
		return "holt-linear"
	}
	return "holt-winters-" + string(p.SeasonalityMode)
}

func (p Parameters) seasonal() bool {
	return p.SeasonalPeriod > 1
}

// count is the number of smoothing weights estimated by the fit
func (p Parameters) count() int {
	if p.seasonal() {
		return 3
	}
	return 2
}

// state holds the smoothed components after the last processed observation. season is indexed
// by position within the cycle, i.e. t mod period.
type state struct {
	Level  float64   `json:"level"`
	Trend  float64   `json:"trend"`
	Season []float64 `json:"season"`
}

func (s state) copy() state {
	season := make([]float64, len(s.Season))
	copy(season, s.Season)
	return state{Level: s.Level, Trend: s.Trend, Season: season}
}

// neutral returns the seasonal value that leaves level + trend unchanged
func neutral(mode SeasonalityMode) float64 {
	if mode == Multiplicative {
		return 1.0
	}
	return 0.0
}

// initialState estimates the components before the first observation. Level and trend come from a
// least squares line through the means of the complete seasonal cycles, which for a period of 1 is
// the series itself. Seasonal factors average each cycle position's deviation (additive) or ratio
// (multiplicative) from that line. Every observation is then predicted one step ahead so the
// returned start index is always 0.
func initialState(y []float64, period int, mode SeasonalityMode) (state, int, error) {
	if period < 1 {
		period = 1
	}
	if mode == Multiplicative && period > 1 {
		for i, v := range y {
			if v <= 0 {
				return state{}, 0, fmt.Errorf("value %.2f at index %d, %w", v, i, ErrNonPositiveObservation)
			}
		}
	}

	cycles := len(y) / period
	if cycles < 2 {
		return state{}, 0, ErrInsufficientCycles
	}

	centres := make([]float64, cycles)
	means := make([]float64, cycles)
	for k := 0; k < cycles; k++ {
		centres[k] = float64(k*period) + float64(period-1)/2.0
		means[k] = stat.Mean(y[k*period:(k+1)*period], nil)
	}
	intercept, slope := stat.LinearRegression(centres, means, nil, false)
	line := func(t int) float64 {
		return intercept + slope*float64(t)
	}

	season := make([]float64, period)
	if period == 1 {
		season[0] = neutral(mode)
	} else {
		for i := 0; i < period; i++ {
			var total float64
			for k := 0; k < cycles; k++ {
				t := k*period + i
				if mode == Multiplicative {
					if base := line(t); base > 0 {
						total += y[t] / base
					} else {
						total += 1.0
					}
					continue
				}
				total += y[t] - line(t)
			}
			season[i] = total / float64(cycles)
		}
	}

	return state{Level: intercept - slope, Trend: slope, Season: season}, 0, nil
}

// smooth runs the recursions over y starting at start and returns the one step ahead predictions
// (NaN before start) together with the final state
func smooth(y []float64, init state, start int, p Parameters) ([]float64, state) {
	st := init.copy()
	fitted := make([]float64, len(y))
	period := len(st.Season)
	mode := p.SeasonalityMode

	for t := 0; t < len(y); t++ {
		if t < start {
			fitted[t] = math.NaN()
			continue
		}

		idx := t % period
		s := st.Season[idx]
		if !p.seasonal() {
			s = neutral(mode)
		}

		prevLevel := st.Level
		if mode == Multiplicative {
			fitted[t] = (st.Level + st.Trend) * s
			if s > 0 {
				st.Level = p.Alpha*(y[t]/s) + (1-p.Alpha)*(st.Level+st.Trend)
			} else {
				st.Level = p.Alpha*y[t] + (1-p.Alpha)*(st.Level+st.Trend)
			}
		} else {
			fitted[t] = st.Level + st.Trend + s
			st.Level = p.Alpha*(y[t]-s) + (1-p.Alpha)*(st.Level+st.Trend)
		}
		st.Trend = p.Beta*(st.Level-prevLevel) + (1-p.Beta)*st.Trend

		if !p.seasonal() {
			continue
		}
		if mode == Multiplicative {
			if st.Level > 0 {
				st.Season[idx] = p.Gamma*(y[t]/st.Level) + (1-p.Gamma)*s
			}
			continue
		}
		st.Season[idx] = p.Gamma*(y[t]-st.Level) + (1-p.Gamma)*s
	}
	return fitted, st
}

// project returns the raw h step ahead value from state st where the last observation was at
// index last of the series
func project(st state, last, h int, p Parameters) float64 {
	s := neutral(p.SeasonalityMode)
	if p.seasonal() {
		s = st.Season[(last+h)%len(st.Season)]
	}
	base := st.Level + float64(h)*st.Trend
	if p.SeasonalityMode == Multiplicative {
		return base * s
	}
	return base + s
}

// sse is the sum of squared one step ahead errors ignoring predictions that are NaN
func sse(y, fitted []float64) float64 {
	var total float64
	for i := range y {
		if math.IsNaN(fitted[i]) {
			continue
		}
		d := y[i] - fitted[i]
		total += d * d
	}
	return total
}
