package forecast

import (
	"fmt"
	"io"
	"strings"
)

// Model represents a serializeable format of a fit forecast storing the options, smoothing
// parameters, trailing state and fit scores. It can be loaded with NewFromModel to forecast
// without refitting.
type Model struct {
	Disease        string     `json:"disease"`
	Region         string     `json:"region"`
	TrainEndYear   int        `json:"train_end_year"`
	TrainLen       int        `json:"train_len"`
	Options        *Options   `json:"options"`
	Parameters     Parameters `json:"parameters"`
	State          state      `json:"state"`
	ResidualStdDev float64    `json:"residual_std"`
	SSE            float64    `json:"sse"`
	Scores         *Scores    `json:"scores"`
}

// Model returns the serializeable format of the forecast
func (f *Forecast) Model() (Model, error) {
	if f == nil {
		return Model{}, ErrUninitializedForecast
	}
	if !f.trained {
		return Model{}, ErrUntrainedForecast
	}
	opt := *f.opt
	return Model{
		Disease:        f.disease,
		Region:         f.region,
		TrainEndYear:   f.trainEndYear,
		TrainLen:       f.trainLen,
		Options:        &opt,
		Parameters:     f.params,
		State:          f.final.copy(),
		ResidualStdDev: f.residStd,
		SSE:            f.sse,
		Scores:         f.scores,
	}, nil
}

type tableLine struct {
	depth int
	text  string
}

func indentExpand(indent string, growth int) string {
	return strings.Repeat(indent, growth)
}

// TablePrint writes a human readable summary of the model
func (m Model) TablePrint(w io.Writer, prefix, indent string) error {
	lines := []tableLine{
		{0, fmt.Sprintf("Forecast %s/%s:", m.Disease, m.Region)},
		{1, fmt.Sprintf("Method: %s", m.Parameters.Method())},
		{1, fmt.Sprintf("Training End Year: %d (%d years)", m.TrainEndYear, m.TrainLen)},
		{1, "Parameters:"},
		{2, fmt.Sprintf("Alpha: %.4f", m.Parameters.Alpha)},
		{2, fmt.Sprintf("Beta: %.4f", m.Parameters.Beta)},
		{2, fmt.Sprintf("Gamma: %.4f", m.Parameters.Gamma)},
		{2, fmt.Sprintf("Seasonal Period: %d", m.Parameters.SeasonalPeriod)},
		{1, "State:"},
		{2, fmt.Sprintf("Level: %.3f", m.State.Level)},
		{2, fmt.Sprintf("Trend: %.3f", m.State.Trend)},
		{1, fmt.Sprintf("Residual Std: %.3f", m.ResidualStdDev)},
	}
	if m.Scores != nil {
		lines = append(lines, tableLine{1, fmt.Sprintf("Scores: MSE=%.3f RMSE=%.3f MAPE=%.3f R2=%.3f",
			m.Scores.MSE, m.Scores.RMSE, m.Scores.MAPE, m.Scores.R2)})
	}

	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s%s%s\n", prefix, indentExpand(indent, l.depth), l.text); err != nil {
			return err
		}
	}
	return nil
}
