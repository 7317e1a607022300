package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	forecaster "github.com/aouyang1/go-outbreak-forecaster"
	"github.com/aouyang1/go-outbreak-forecaster/metrics"
	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/plot"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/aouyang1/go-outbreak-forecaster/store/badger"
	"github.com/aouyang1/go-outbreak-forecaster/store/postgres"
	"github.com/aouyang1/go-outbreak-forecaster/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var ErrNoInput = errors.New("either an input path or a database url is required")

func runCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build, forecast and publish every disease and region pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "forecast without writing to any store")
	return cmd
}

func (a *app) run(ctx context.Context, dryRun bool) error {
	cfg := a.cfg

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, m)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig(cfg.OTLPEndpoint))
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("unable to flush traces", "error", err)
			}
		}()
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	obs, err := loadObservations(ctx, cfg.InputPath, pool)
	if err != nil {
		return err
	}
	slog.Info("loaded observations", "count", len(obs), "pairs", len(observation.Keys(obs)))

	var pub *publish.Publisher
	if !dryRun {
		var closeStores func()
		pub, closeStores, err = a.publisher(ctx, pool, m)
		defer closeStores()
		if err != nil {
			return err
		}
	}

	opt, err := cfg.Options()
	if err != nil {
		return err
	}
	opt.Metrics = m

	f, err := forecaster.New(opt, pub)
	if err != nil {
		return err
	}
	res, runErr := f.Run(ctx, obs)
	if res != nil {
		if err := res.TablePrint(os.Stdout); err != nil {
			return err
		}
		if cfg.PlotDir != "" {
			if err := writePlots(cfg.PlotDir, res.Runs); err != nil {
				return err
			}
		}
	}
	return runErr
}

// publisher fans out to postgres and the history store, whichever are configured. With neither
// configured runs are not persisted.
func (a *app) publisher(ctx context.Context, pool *pgxpool.Pool, m *metrics.Metrics) (*publish.Publisher, func(), error) {
	var (
		stores  publish.MultiStore
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if pool != nil {
		pg, err := postgres.New(pool)
		if err != nil {
			return nil, closeAll, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, closeAll, err
		}
		stores = append(stores, pg)
	}
	if a.cfg.HistoryPath != "" {
		hist, err := badger.Open(a.cfg.BadgerOptions())
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() {
			if err := hist.Close(); err != nil {
				slog.Warn("unable to close history store", "error", err)
			}
		})
		stores = append(stores, hist)
	}
	if len(stores) == 0 {
		slog.Warn("no store configured, runs will not be persisted")
		return nil, closeAll, nil
	}

	pub, err := publish.NewPublisher(stores, a.cfg.PublishOptions(), m)
	if err != nil {
		return nil, closeAll, err
	}
	return pub, closeAll, nil
}

func loadObservations(ctx context.Context, path string, pool *pgxpool.Pool) ([]observation.Observation, error) {
	if path != "" {
		return observation.ReadJSONFile(path)
	}
	if pool == nil {
		return nil, ErrNoInput
	}
	pg, err := postgres.New(pool)
	if err != nil {
		return nil, err
	}
	return pg.Observations(ctx)
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}

func writePlots(dir string, runs []forecaster.Run) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create plot directory, %w", err)
	}
	for _, run := range runs {
		path, err := plot.WriteFile(dir, run)
		if err != nil {
			return fmt.Errorf("unable to plot %s, %w", run.Key(), err)
		}
		slog.Debug("wrote plot", "key", run.Key().String(), "path", path)
	}
	return nil
}
