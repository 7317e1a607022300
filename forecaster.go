// Package forecaster runs the outbreak forecast batch. Observations are grouped by disease and
// region and each pair is built into a canonical annual series, forecast and published
// independently on a bounded worker pool.
package forecaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/forecast"
	"github.com/aouyang1/go-outbreak-forecaster/metrics"
	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/aouyang1/go-outbreak-forecaster/series"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aouyang1/go-outbreak-forecaster"

var ErrFailFast = errors.New("batch stopped at first failure")

// Forecaster runs batches with a fixed configuration
type Forecaster struct {
	opt     *Options
	builder *series.Builder
	engine  *forecast.Engine
	pub     *publish.Publisher
	tracer  trace.Tracer
}

// New creates a Forecaster using the provided options, or the defaults if nil. A nil publisher
// computes runs without persisting them.
func New(opt *Options, pub *publish.Publisher) (*Forecaster, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}

	builder, err := series.NewBuilder(opt.SeriesOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize series builder, %w", err)
	}
	engine, err := forecast.NewEngine(opt.ForecastOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize forecast engine, %w", err)
	}

	return &Forecaster{
		opt:     opt,
		builder: builder,
		engine:  engine,
		pub:     pub,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Options returns a copy of the validated options
func (f *Forecaster) Options() Options {
	return *f.opt
}

// pairOutcome holds either the run or the failure of one pair
type pairOutcome struct {
	run     *Run
	failure *Failure
}

// Run processes every (disease, region) pair in obs. A failing pair never affects the others
// unless FailFast is set, in which case the first failure cancels the remaining pairs and Run
// returns ErrFailFast along with the partial result. Cancelling ctx also stops the batch and
// returns the context error.
func (f *Forecaster) Run(ctx context.Context, obs []observation.Observation) (*BatchResult, error) {
	start := time.Now()
	generatedAt := f.opt.Now().UTC()

	keys := observation.Keys(obs)
	groups := observation.GroupByKey(obs)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		first *Failure
	)
	onFailure := func(fl *Failure) {
		mu.Lock()
		defer mu.Unlock()
		if first == nil && fl.Stage != StagePending {
			first = fl
			if f.opt.FailFast {
				cancel()
			}
		}
	}

	outcomes := make([]pairOutcome, len(keys))
	sem := make(chan struct{}, f.opt.Concurrency)
	var wg sync.WaitGroup
	for i, key := range keys {
		sem <- struct{}{}
		wg.Add(1)

		go f.runPair(batchCtx, key, groups[key], generatedAt, &outcomes[i], onFailure, &wg, sem)
	}
	wg.Wait()

	res := &BatchResult{
		GeneratedAt: generatedAt,
		Pairs:       len(keys),
		Runs:        make([]Run, 0, len(keys)),
	}
	for _, o := range outcomes {
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			continue
		}
		res.Runs = append(res.Runs, *o.run)
	}
	res.Duration = time.Since(start)
	f.opt.Metrics.ObserveBatch(res.Pairs, res.Duration)

	slog.Info("forecast batch complete",
		"pairs", res.Pairs,
		"runs", len(res.Runs),
		"failures", len(res.Failures),
		"duration", res.Duration,
	)

	if f.opt.FailFast && first != nil {
		return res, fmt.Errorf("%w, %w", ErrFailFast, *first)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (f *Forecaster) runPair(ctx context.Context, key observation.Key, obs []observation.Observation,
	generatedAt time.Time, out *pairOutcome, onFailure func(*Failure), wg *sync.WaitGroup, sem chan struct{}) {
	defer func() {
		wg.Done()
		<-sem
	}()

	ctx, span := f.tracer.Start(ctx, "forecaster.pair", trace.WithAttributes(
		attribute.String("disease", key.Disease),
		attribute.String("region", key.Region),
	))
	defer span.End()

	run, fl := f.processPair(ctx, key, obs, generatedAt)
	if fl != nil {
		span.RecordError(fl.Err)
		span.SetStatus(codes.Error, string(fl.Stage))
		if fl.Stage != StagePending {
			f.opt.Metrics.ObservePair(string(fl.Stage), metrics.OutcomeFailed)
			slog.Warn("pair failed", "key", key.String(), "stage", fl.Stage, "error", fl.Err)
		}
		out.failure = fl
		onFailure(fl)
		return
	}
	span.SetAttributes(attribute.String("method", run.Method))
	out.run = run
}

func (f *Forecaster) processPair(ctx context.Context, key observation.Key, obs []observation.Observation,
	generatedAt time.Time) (*Run, *Failure) {
	fail := func(stage Stage, err error) (*Run, *Failure) {
		return nil, &Failure{Key: key, Stage: stage, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(StagePending, err)
	}

	s, err := f.builder.Build(obs, key.Disease, key.Region)
	if err != nil {
		return fail(StageBuild, err)
	}
	f.opt.Metrics.ObservePair(string(StageBuild), metrics.OutcomeOK)

	fitStart := time.Now()
	res, err := f.engine.Forecast(ctx, s, f.opt.Horizon, f.opt.SeasonalPeriod)
	f.opt.Metrics.ObserveFit(time.Since(fitStart))
	if err != nil {
		return fail(StageForecast, err)
	}
	f.opt.Metrics.ObservePair(string(StageForecast), metrics.OutcomeOK)

	run := publish.NewRun(s, res, generatedAt)
	if f.pub == nil {
		return &run, nil
	}
	if err := f.pub.Publish(ctx, run); err != nil {
		return fail(StagePublish, err)
	}
	f.opt.Metrics.ObservePair(string(StagePublish), metrics.OutcomeOK)
	return &run, nil
}
