package forecaster

import (
	"fmt"
	"io"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
)

// Run is the persisted output of one disease and region
type Run = publish.Run

// Stage names the step of the pipeline a pair failed in
type Stage string

const (
	StagePending  Stage = "pending"
	StageBuild    Stage = "build"
	StageForecast Stage = "forecast"
	StagePublish  Stage = "publish"
)

// Failure records why a pair produced no run
type Failure struct {
	Key   observation.Key `json:"key"`
	Stage Stage           `json:"stage"`
	Err   error           `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s failed at %s, %v", f.Key, f.Stage, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// BatchResult accounts for every pair of a batch. Each pair appears exactly once in either Runs
// or Failures, both sorted by key.
type BatchResult struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Pairs       int           `json:"pairs"`
	Runs        []Run         `json:"runs"`
	Failures    []Failure     `json:"failures"`
	Duration    time.Duration `json:"duration"`
}

// Succeeded returns the run for key if one was produced
func (b *BatchResult) Succeeded(key observation.Key) (Run, bool) {
	for _, r := range b.Runs {
		if r.Key() == key {
			return r, true
		}
	}
	return Run{}, false
}

// TablePrint writes a one line summary per pair
func (b *BatchResult) TablePrint(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Batch %s: %d pairs, %d runs, %d failures in %s\n",
		b.GeneratedAt.Format(time.RFC3339), b.Pairs, len(b.Runs), len(b.Failures), b.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, r := range b.Runs {
		last := r.Forecast[len(r.Forecast)-1]
		if _, err := fmt.Fprintf(w, "  ok    %-40s %-28s %d: %.1f [%.1f, %.1f]\n",
			r.Key(), r.Method, last.Year, last.Estimate, last.Lower, last.Upper); err != nil {
			return err
		}
	}
	for _, f := range b.Failures {
		if _, err := fmt.Fprintf(w, "  fail  %-40s %-28s %v\n", f.Key, f.Stage, f.Err); err != nil {
			return err
		}
	}
	return nil
}
