// Package plot renders forecast runs as interactive Apache ECharts pages
package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/cespare/xxhash/v2"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// missing is rendered by echarts as a gap in the line
const missing = "-"

var (
	ErrSeriesLenMismatch  = errors.New("series length does not match number of years")
	ErrSeriesNameMismatch = errors.New("number of series names does not match number of series")
)

func lineData(y []float64) []opts.LineData {
	data := make([]opts.LineData, 0, len(y))
	for _, v := range y {
		if math.IsNaN(v) {
			data = append(data, opts.LineData{Value: missing})
			continue
		}
		data = append(data, opts.LineData{Value: v})
	}
	return data
}

// LineYears generates an echart multi-line chart over years. Each series in y must have the same
// length as years; NaN values are left as gaps.
func LineYears(title string, seriesName []string, years []int, y [][]float64) (*charts.Line, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title: title,
			},
		),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)

	if len(y) != len(seriesName) {
		return nil, fmt.Errorf("%d names for %d series, %w", len(seriesName), len(y), ErrSeriesNameMismatch)
	}

	line.SetXAxis(years)
	for i, name := range seriesName {
		if len(y[i]) != len(years) {
			return nil, fmt.Errorf("%s has %d values for %d years, %w", name, len(y[i]), len(years), ErrSeriesLenMismatch)
		}
		line.AddSeries(name, lineData(y[i]))
	}
	return line, nil
}

// LineRun plots the historical series of a run followed by its forecast and confidence band
func LineRun(run publish.Run) (*charts.Line, error) {
	n := run.Historical.Len() + len(run.Forecast)
	years := make([]int, 0, n)
	actual := make([]float64, 0, n)
	imputed := make([]float64, 0, n)
	estimate := make([]float64, 0, n)
	upper := make([]float64, 0, n)
	lower := make([]float64, 0, n)

	for i, p := range run.Historical.Points {
		years = append(years, p.Year)
		actual = append(actual, p.Value)
		if p.Imputed {
			imputed = append(imputed, p.Value)
		} else {
			imputed = append(imputed, math.NaN())
		}
		// connect the forecast to the last reported year
		if i == run.Historical.Len()-1 {
			estimate = append(estimate, p.Value)
		} else {
			estimate = append(estimate, math.NaN())
		}
		upper = append(upper, math.NaN())
		lower = append(lower, math.NaN())
	}
	for _, p := range run.Forecast {
		years = append(years, p.Year)
		actual = append(actual, math.NaN())
		imputed = append(imputed, math.NaN())
		estimate = append(estimate, p.Estimate)
		upper = append(upper, p.Upper)
		lower = append(lower, p.Lower)
	}

	title := fmt.Sprintf("%s in %s (%s)", run.Disease, run.Region, run.Method)
	return LineYears(title,
		[]string{"Actual", "Imputed", "Forecast", "Upper", "Lower"},
		years,
		[][]float64{actual, imputed, estimate, upper, lower},
	)
}

// Render writes an html page with one chart per run
func Render(w io.Writer, runs ...publish.Run) error {
	page := components.NewPage()
	for _, run := range runs {
		line, err := LineRun(run)
		if err != nil {
			return fmt.Errorf("unable to chart %s, %w", run.Key(), err)
		}
		page.AddCharts(line)
	}
	return page.Render(w)
}

// Filename returns the html file name used for a run's disease and region. Characters outside of
// [A-Za-z0-9-] are replaced so a hash of the raw disease and region keeps names unique.
func Filename(run publish.Run) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
				return r
			}
			return '_'
		}, s)
	}
	sum := xxhash.Sum64String(run.Disease + "\x00" + run.Region)
	return fmt.Sprintf("%s__%s-%08x.html", clean(run.Disease), clean(run.Region), uint32(sum>>32))
}

// WriteFile renders run into dir and returns the path written
func WriteFile(dir string, run publish.Run) (string, error) {
	path := filepath.Join(dir, Filename(run))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := Render(file, run); err != nil {
		return "", err
	}
	return path, nil
}
