// Command outbreakcast aggregates surveillance observations into annual series per disease and
// region, forecasts them and publishes the results.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aouyang1/go-outbreak-forecaster/config"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type app struct {
	configFile  string
	profileMode string
	profileDir  string

	cfg     *config.Config
	profile interface{ Stop() }
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	// cobra skips post run hooks when a command fails
	a.stopProfile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "outbreakcast",
		Short:         "Forecast annual disease outbreak case counts per region",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, os.Stderr)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "JSON config file")
	pf.StringVar(&a.profileMode, "profile", "", "write a cpu or mem profile to the working directory")
	registerConfigFlags(pf)

	rootCmd.AddCommand(runCmd(a))
	rootCmd.AddCommand(seedCmd(a))
	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(showCmd(a))
	return rootCmd
}

// registerConfigFlags exposes config keys as flags. Only flags set on the command line override
// the file and environment.
func registerConfigFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.Int("min-years-required", d.MinYearsRequired, "minimum number of observed years per pair")
	fs.Int("seasonal-period", d.SeasonalPeriod, "seasonal cycle length in years, 1 disables seasonality")
	fs.Int("horizon", d.Horizon, "number of years to forecast")
	fs.String("seasonality-mode", d.SeasonalityMode, "additive or multiplicative")
	fs.Float64("confidence-width-multiplier", d.ConfidenceWidthMultiplier, "band half width in residual standard deviations")
	fs.Int("concurrency-limit", d.ConcurrencyLimit, "number of pairs processed at once")
	fs.Bool("fail-fast", d.FailFast, "stop the batch at the first failed pair")
	fs.Int("first-year", d.FirstYear, "first year of the output series window")
	fs.Int("last-year", d.LastYear, "last year of the output series window")
	fs.Int("publish-max-retries", d.PublishMaxRetries, "retries for transient storage failures")
	fs.String("database-url", d.DatabaseURL, "postgres connection string")
	fs.StringP("input-path", "i", d.InputPath, "JSON observations file read instead of postgres")
	fs.String("history-path", d.HistoryPath, "directory of the embedded run history store")
	fs.Bool("keep-history", d.KeepHistory, "keep every run in the history store, not only the latest")
	fs.String("plot-dir", d.PlotDir, "directory to write one html chart per run")
	fs.String("metrics-addr", d.MetricsAddr, "address to serve prometheus metrics on")
	fs.String("otlp-endpoint", d.OTLPEndpoint, "OTLP gRPC collector for traces")
	fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "text or json")
}

func (a *app) setup(cmd *cobra.Command, logOut io.Writer) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}

	var setErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if setErr != nil || f.Name == "config" || f.Name == "profile" {
			return
		}
		// command local flags are not configuration
		if cmd.LocalNonPersistentFlags().Lookup(f.Name) != nil {
			return
		}
		setErr = cfg.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return setErr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration, %w", err)
	}
	a.cfg = cfg

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	setupLogger(logOut, level, cfg.LogFormat)

	dir := a.profileDir
	if dir == "" {
		dir = "."
	}
	switch a.profileMode {
	case "":
	case "cpu":
		a.profile = profile.Start(profile.CPUProfile, profile.ProfilePath(dir), profile.NoShutdownHook, profile.Quiet)
	case "mem":
		a.profile = profile.Start(profile.MemProfile, profile.ProfilePath(dir), profile.NoShutdownHook, profile.Quiet)
	default:
		return fmt.Errorf("unknown profile mode %q", a.profileMode)
	}
	return nil
}

// stopProfile flushes a running profile. It is safe to call when no profile was started.
func (a *app) stopProfile() {
	if a.profile == nil {
		return
	}
	a.profile.Stop()
	a.profile = nil
}

func setupLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	hopt := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, hopt)
	if format == "json" {
		h = slog.NewJSONHandler(w, hopt)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
