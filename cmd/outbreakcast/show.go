package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aouyang1/go-outbreak-forecaster/forecast"
	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/aouyang1/go-outbreak-forecaster/store/badger"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	ErrNoHistory = errors.New("a history path is required")
	ErrNoModel   = errors.New("run has no stored model")
)

type showOptions struct {
	disease string
	region  string
	history bool
	asJSON  bool
	extend  int
}

func showCmd(a *app) *cobra.Command {
	var so showOptions
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show stored runs from the history store",
		Long: `Without --disease and --region lists every stored pair. With both, prints the latest run
or, with --history, every stored run of the pair. --extend reloads the stored model and projects
that many years past the stored forecast without refitting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.show(cmd.Context(), os.Stdout, so)
		},
	}
	cmd.Flags().StringVar(&so.disease, "disease", "", "disease to show")
	cmd.Flags().StringVar(&so.region, "region", "", "region to show")
	cmd.Flags().BoolVar(&so.history, "history", false, "show every stored run")
	cmd.Flags().BoolVar(&so.asJSON, "json", false, "print runs as JSON")
	cmd.Flags().IntVar(&so.extend, "extend", 0, "years to project past the stored forecast")
	return cmd
}

func (a *app) show(ctx context.Context, w io.Writer, so showOptions) error {
	if a.cfg.HistoryPath == "" {
		return ErrNoHistory
	}
	hist, err := badger.Open(a.cfg.BadgerOptions())
	if err != nil {
		return err
	}
	defer hist.Close()

	if so.disease == "" || so.region == "" {
		keys, err := hist.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(w, k)
		}
		return nil
	}

	key := observation.Key{Disease: so.disease, Region: so.region}
	var runs []publish.Run
	if so.history {
		runs, err = hist.History(ctx, key)
	} else {
		var run *publish.Run
		run, err = hist.Latest(ctx, key)
		if run != nil {
			runs = []publish.Run{*run}
		}
	}
	if err != nil {
		return err
	}

	if so.asJSON {
		b, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	for _, run := range runs {
		if err := printRun(w, run, so.extend); err != nil {
			return err
		}
	}
	return nil
}

func printRun(w io.Writer, run publish.Run, extend int) error {
	if _, err := fmt.Fprintf(w, "Run %s %s generated %s from %s data\n",
		run.RunID, run.Key(), run.GeneratedAt.Format("2006-01-02T15:04:05Z"), run.DataSource); err != nil {
		return err
	}
	if run.Model != nil {
		if err := run.Model.TablePrint(w, "  ", "  "); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, "  Method: %s\n  Parameters: %s\n  Residual Std: %.3f\n",
			run.Method, run.Parameters, run.ResidualStdDev); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "  History: %d years, %d imputed\n",
		run.Historical.Len(), run.Historical.ImputedCount()); err != nil {
		return err
	}
	for _, pt := range run.Historical.Points {
		marker := ""
		if pt.Imputed {
			marker = " (imputed)"
		}
		if _, err := fmt.Fprintf(w, "  %d %10.1f%s\n", pt.Year, pt.Value, marker); err != nil {
			return err
		}
	}
	for _, pt := range run.Forecast {
		if _, err := fmt.Fprintf(w, "  %d %10.1f [%.1f, %.1f] forecast\n", pt.Year, pt.Estimate, pt.Lower, pt.Upper); err != nil {
			return err
		}
	}
	if extend <= 0 {
		return nil
	}

	projected, err := project(run, extend)
	if err != nil {
		return err
	}
	for _, pt := range projected {
		if _, err := fmt.Fprintf(w, "  %d %10.1f [%.1f, %.1f] projected\n", pt.Year, pt.Estimate, pt.Lower, pt.Upper); err != nil {
			return err
		}
	}
	return nil
}

// project reloads the stored model of run and returns the extend years following its forecast
func project(run publish.Run, extend int) ([]forecast.Point, error) {
	if run.Model == nil {
		return nil, fmt.Errorf("run %s, %w", run.RunID, ErrNoModel)
	}
	f, err := forecast.NewFromModel(*run.Model)
	if err != nil {
		return nil, fmt.Errorf("unable to load model of %s, %w", run.Key(), err)
	}
	points, err := f.Predict(len(run.Forecast) + extend)
	if err != nil {
		return nil, err
	}
	return points[len(run.Forecast):], nil
}
