// Package publish writes forecast runs to one or more stores with bounded retries
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/metrics"
	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
)

var (
	ErrPersistence     = errors.New("unable to persist forecast run")
	ErrNilStore        = errors.New("no store provided")
	ErrNegativeRetries = errors.New("max retries must be non-negative")
	ErrNegativeBackoff = errors.New("backoff intervals must be non-negative")
)

// Store replaces everything held for a run's disease and region with the given run. A call must
// be atomic: after it returns an error the previous contents remain visible.
type Store interface {
	Replace(ctx context.Context, run Run) error
}

// PersistenceError is returned when a run could not be written
type PersistenceError struct {
	Key      observation.Key
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("unable to persist %s after %d attempt(s), %v", e.Key, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks a store error that will not succeed on retry, such as a constraint violation
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Options configures the retry behavior of a Publisher
type Options struct {
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

func NewDefaultOptions() *Options {
	return &Options{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Validate returns a copy of the options with zero backoff intervals defaulted
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		return NewDefaultOptions(), nil
	}
	opt := *o
	if opt.MaxRetries < 0 {
		return nil, ErrNegativeRetries
	}
	if opt.InitialBackoff < 0 || opt.MaxBackoff < 0 {
		return nil, ErrNegativeBackoff
	}
	if opt.InitialBackoff == 0 {
		opt.InitialBackoff = DefaultInitialBackoff
	}
	if opt.MaxBackoff == 0 {
		opt.MaxBackoff = DefaultMaxBackoff
	}
	if opt.MaxBackoff < opt.InitialBackoff {
		opt.MaxBackoff = opt.InitialBackoff
	}
	return &opt, nil
}

// Publisher persists runs through a Store
type Publisher struct {
	store   Store
	opt     *Options
	metrics *metrics.Metrics
}

// NewPublisher returns a publisher writing to store. m may be nil.
func NewPublisher(store Store, opt *Options, m *metrics.Metrics) (*Publisher, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	return &Publisher{store: store, opt: opt, metrics: m}, nil
}

// Publish validates the run and replaces the stored output for its disease and region. Transient
// store failures are retried up to MaxRetries times with exponential backoff.
func (p *Publisher) Publish(ctx context.Context, run Run) error {
	key := run.Key()
	if err := run.Validate(); err != nil {
		return &PersistenceError{Key: key, Err: err}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opt.InitialBackoff
	bo.MaxInterval = p.opt.MaxBackoff

	var attempts int
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempts++
			if err := p.store.Replace(ctx, run); err != nil {
				if IsPermanent(err) {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}
			return struct{}{}, nil
		},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.opt.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.metrics.IncPublishRetry()
			slog.Warn("retrying publish", "key", key.String(), "attempt", attempts, "next", next, "error", err)
		}),
	)
	if err != nil {
		return &PersistenceError{Key: key, Attempts: attempts, Err: err}
	}
	p.metrics.IncPublished()
	return nil
}

// MultiStore replaces a run in every store in order, stopping at the first failure. Each store
// must tolerate the replay that follows a retried failure.
type MultiStore []Store

func (m MultiStore) Replace(ctx context.Context, run Run) error {
	for _, s := range m {
		if err := s.Replace(ctx, run); err != nil {
			return err
		}
	}
	return nil
}
