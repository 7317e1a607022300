package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/simulate"
	"github.com/aouyang1/go-outbreak-forecaster/store/postgres"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const (
	defaultSeedFirstYear = 2007
	defaultSeedLastYear  = 2022
)

type seedOptions struct {
	totalsPath string
	outPath    string
	seed       uint64
	truncate   bool
}

func seedCmd(a *app) *cobra.Command {
	var so seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Synthesize yearly observations from per pair totals",
		Long: `Spreads each disease and region total over the configured year window with a gentle
trend and noise so the pipeline can run before real yearly data is loaded. Observations are
marked synthetic and written to postgres or, with --out, to a JSON file. Postgres is only seeded
while its raw observations are empty unless --truncate is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.seed(cmd.Context(), so)
		},
	}
	cmd.Flags().StringVar(&so.totalsPath, "totals", "", "JSON file of [{disease, region, total_cases}]")
	cmd.Flags().StringVar(&so.outPath, "out", "", "write observations to this JSON file instead of postgres")
	cmd.Flags().Uint64Var(&so.seed, "seed", 42, "random seed")
	cmd.Flags().BoolVar(&so.truncate, "truncate", false, "replace raw observations that are already loaded")
	cmd.MarkFlagRequired("totals")
	return cmd
}

func (a *app) seed(ctx context.Context, so seedOptions) error {
	b, err := os.ReadFile(so.totalsPath)
	if err != nil {
		return fmt.Errorf("unable to read totals, %w", err)
	}
	var totals []simulate.Total
	if err := json.Unmarshal(b, &totals); err != nil {
		return fmt.Errorf("unable to parse totals, %w", err)
	}

	first, last := a.cfg.FirstYear, a.cfg.LastYear
	if first == 0 && last == 0 {
		first, last = defaultSeedFirstYear, defaultSeedLastYear
	}
	obs, err := simulate.Yearly(totals, first, last, so.seed)
	if err != nil {
		return err
	}

	if so.outPath != "" {
		return writeObservations(so.outPath, obs)
	}
	if a.cfg.DatabaseURL == "" {
		return ErrNoInput
	}

	pool, err := postgres.Connect(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	pg, err := postgres.New(pool)
	if err != nil {
		return err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	return loadSeed(ctx, pg, obs, so.truncate)
}

type observationSeeder interface {
	SeedObservations(ctx context.Context, obs []observation.Observation, truncate bool) (int64, error)
}

// loadSeed writes obs unless the raw table is already populated, in which case seeding is skipped
func loadSeed(ctx context.Context, s observationSeeder, obs []observation.Observation, truncate bool) error {
	n, err := s.SeedObservations(ctx, obs, truncate)
	if errors.Is(err, postgres.ErrAlreadySeeded) {
		slog.Info("raw observations already populated, skipping seed, use --truncate to replace them")
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("seeded raw observations", "rows", n)
	return nil
}

func writeObservations(path string, obs []observation.Observation) error {
	b, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("unable to write observations, %w", err)
	}
	slog.Info("wrote observations", "path", path, "count", len(obs))
	return nil
}
