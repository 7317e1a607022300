// Package config loads batch configuration from a JSON file, OUTBREAK_* environment variables
// and command line overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	forecaster "github.com/aouyang1/go-outbreak-forecaster"
	"github.com/aouyang1/go-outbreak-forecaster/forecast"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/aouyang1/go-outbreak-forecaster/series"
	"github.com/aouyang1/go-outbreak-forecaster/store/badger"
	"github.com/goccy/go-json"
)

const EnvPrefix = "OUTBREAK_"

var (
	ErrUnknownKey      = errors.New("unknown configuration key")
	ErrInvalidValue    = errors.New("invalid configuration value")
	ErrIncompleteSpan  = errors.New("first_year and last_year must be set together")
	ErrUnknownLogLevel = errors.New("unknown log level")
	ErrUnknownFormat   = errors.New("unknown log format")
)

// Duration is a time.Duration written as a string such as "200ms" in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string, %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	MinYearsRequired          int      `json:"min_years_required"`
	SeasonalPeriod            int      `json:"seasonal_period"`
	Horizon                   int      `json:"horizon"`
	SeasonalityMode           string   `json:"seasonality_mode"`
	ConfidenceWidthMultiplier float64  `json:"confidence_width_multiplier"`
	ConcurrencyLimit          int      `json:"concurrency_limit"`
	FailFast                  bool     `json:"fail_fast"`
	FirstYear                 int      `json:"first_year"`
	LastYear                  int      `json:"last_year"`
	MaxIterations             int      `json:"max_iterations"`
	MaxEvaluations            int      `json:"max_evaluations"`
	MaxFitRuntime             Duration `json:"max_fit_runtime"`

	PublishMaxRetries     int      `json:"publish_max_retries"`
	PublishInitialBackoff Duration `json:"publish_initial_backoff"`

	DatabaseURL  string `json:"database_url"`
	InputPath    string `json:"input_path"`
	HistoryPath  string `json:"history_path"`
	KeepHistory  bool   `json:"keep_history"`
	PlotDir      string `json:"plot_dir"`
	MetricsAddr  string `json:"metrics_addr"`
	OTLPEndpoint string `json:"otlp_endpoint"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

func Default() *Config {
	return &Config{
		MinYearsRequired:          series.DefaultMinYears,
		SeasonalPeriod:            forecaster.DefaultSeasonalPeriod,
		Horizon:                   forecaster.DefaultHorizon,
		SeasonalityMode:           string(forecast.Additive),
		ConfidenceWidthMultiplier: forecast.DefaultConfidenceMultiplier,
		ConcurrencyLimit:          runtime.NumCPU(),
		MaxIterations:             forecast.DefaultMaxIterations,
		MaxEvaluations:            forecast.DefaultMaxEvaluations,
		MaxFitRuntime:             Duration(forecast.DefaultMaxRuntime),
		PublishMaxRetries:         publish.DefaultMaxRetries,
		PublishInitialBackoff:     Duration(publish.DefaultInitialBackoff),
		KeepHistory:               true,
		LogLevel:                  "info",
		LogFormat:                 "text",
	}
}

// Load starts from the defaults, overlays the JSON file at path if not empty and then the
// environment
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config, %w", err)
		}
		if err := json.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config %s, %w", path, err)
		}
	}
	if err := cfg.LoadEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv applies every OUTBREAK_<KEY> variable found by lookup
func (c *Config) LoadEnv(lookup func(string) (string, bool)) error {
	for _, key := range Keys() {
		v, ok := lookup(EnvName(key))
		if !ok {
			continue
		}
		if err := c.Set(key, v); err != nil {
			return fmt.Errorf("unable to apply %s, %w", EnvName(key), err)
		}
	}
	return nil
}

// EnvName returns the environment variable read for key
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// Keys returns every settable key in sorted order
func Keys() []string {
	setters := Default().setters()
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set parses value into the field named by key. Dashes in key are read as underscores so flag
// names can be used directly.
func (c *Config) Set(key, value string) error {
	key = strings.ReplaceAll(key, "-", "_")
	set, ok := c.setters()[key]
	if !ok {
		return fmt.Errorf("%q, %w", key, ErrUnknownKey)
	}
	if err := set(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s=%q, %w: %w", key, value, ErrInvalidValue, err)
	}
	return nil
}

func (c *Config) setters() map[string]func(string) error {
	return map[string]func(string) error{
		"min_years_required":          intVar(&c.MinYearsRequired),
		"seasonal_period":             intVar(&c.SeasonalPeriod),
		"horizon":                     intVar(&c.Horizon),
		"seasonality_mode":            stringVar(&c.SeasonalityMode),
		"confidence_width_multiplier": floatVar(&c.ConfidenceWidthMultiplier),
		"concurrency_limit":           intVar(&c.ConcurrencyLimit),
		"fail_fast":                   boolVar(&c.FailFast),
		"first_year":                  intVar(&c.FirstYear),
		"last_year":                   intVar(&c.LastYear),
		"max_iterations":              intVar(&c.MaxIterations),
		"max_evaluations":             intVar(&c.MaxEvaluations),
		"max_fit_runtime":             durationVar(&c.MaxFitRuntime),
		"publish_max_retries":         intVar(&c.PublishMaxRetries),
		"publish_initial_backoff":     durationVar(&c.PublishInitialBackoff),
		"database_url":                stringVar(&c.DatabaseURL),
		"input_path":                  stringVar(&c.InputPath),
		"history_path":                stringVar(&c.HistoryPath),
		"keep_history":                boolVar(&c.KeepHistory),
		"plot_dir":                    stringVar(&c.PlotDir),
		"metrics_addr":                stringVar(&c.MetricsAddr),
		"otlp_endpoint":               stringVar(&c.OTLPEndpoint),
		"log_level":                   stringVar(&c.LogLevel),
		"log_format":                  stringVar(&c.LogFormat),
	}
}

func intVar(p *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
}

func stringVar(p *string) func(string) error {
	return func(s string) error {
		*p = s
		return nil
	}
}

func durationVar(p *Duration) func(string) error {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*p = Duration(v)
		return nil
	}
}

// Validate checks every value by building the options it maps to
func (c *Config) Validate() error {
	if c.MinYearsRequired < 1 {
		return fmt.Errorf("min_years_required %d, %w", c.MinYearsRequired, ErrInvalidValue)
	}
	if c.ConfidenceWidthMultiplier <= 0 {
		return fmt.Errorf("confidence_width_multiplier %v, %w", c.ConfidenceWidthMultiplier, ErrInvalidValue)
	}
	if c.SeasonalPeriod < 1 {
		return fmt.Errorf("seasonal_period %d, %w", c.SeasonalPeriod, forecaster.ErrInvalidPeriod)
	}
	if c.Horizon < 1 {
		return fmt.Errorf("horizon %d, %w", c.Horizon, forecaster.ErrInvalidHorizon)
	}
	if (c.FirstYear == 0) != (c.LastYear == 0) {
		return ErrIncompleteSpan
	}
	if _, err := c.Options(); err != nil {
		return err
	}
	if _, err := c.PublishOptions().Validate(); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%q, %w", c.LogFormat, ErrUnknownFormat)
	}
	return nil
}

// Options maps the configuration onto validated batch options
func (c *Config) Options() (*forecaster.Options, error) {
	mode, err := forecast.ParseSeasonalityMode(c.SeasonalityMode)
	if err != nil {
		return nil, err
	}

	seriesOpt := &series.Options{MinYears: c.MinYearsRequired}
	if c.FirstYear != 0 || c.LastYear != 0 {
		seriesOpt.Span = &series.Span{FirstYear: c.FirstYear, LastYear: c.LastYear}
		if err := seriesOpt.Span.Validate(); err != nil {
			return nil, err
		}
	}

	opt := &forecaster.Options{
		SeriesOptions: seriesOpt,
		ForecastOptions: &forecast.Options{
			SeasonalityMode:      mode,
			ConfidenceMultiplier: c.ConfidenceWidthMultiplier,
			MaxIterations:        c.MaxIterations,
			MaxEvaluations:       c.MaxEvaluations,
			MaxRuntime:           time.Duration(c.MaxFitRuntime),
		},
		Horizon:        c.Horizon,
		SeasonalPeriod: c.SeasonalPeriod,
		Concurrency:    c.ConcurrencyLimit,
		FailFast:       c.FailFast,
	}
	return opt.Validate()
}

func (c *Config) PublishOptions() *publish.Options {
	return &publish.Options{
		MaxRetries:     c.PublishMaxRetries,
		InitialBackoff: time.Duration(c.PublishInitialBackoff),
	}
}

func (c *Config) BadgerOptions() *badger.Options {
	return &badger.Options{
		Path:        c.HistoryPath,
		KeepHistory: c.KeepHistory,
	}
}

// ParseLogLevel converts debug, info, warn or error into a slog level
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%q, %w", s, ErrUnknownLogLevel)
	}
	return level, nil
}
