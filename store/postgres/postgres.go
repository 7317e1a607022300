// Package postgres stores canonical series and forecasts in PostgreSQL and reads raw surveillance
// observations from it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aouyang1/go-outbreak-forecaster/observation"
	"github.com/aouyang1/go-outbreak-forecaster/publish"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tableRaw        = "raw_observations"
	tableHistorical = "historical_series"
	tableForecast   = "forecast_series"
	tableRuns       = "forecast_runs"

	connectTimeout = 5 * time.Second
)

var (
	ErrNilPool       = errors.New("no connection pool provided")
	ErrAlreadySeeded = errors.New("raw observations already present")
)

var (
	rawColumns        = []string{"disease", "region", "year", "case_count", "source"}
	historicalColumns = []string{"disease", "region", "year", "value", "imputed", "generated_at"}
	forecastColumns   = []string{"disease", "region", "year", "point_estimate", "lower_bound", "upper_bound", "generated_at"}
)

const schema = `
CREATE TABLE IF NOT EXISTS raw_observations (
	id          BIGSERIAL PRIMARY KEY,
	disease     TEXT NOT NULL CHECK (disease <> ''),
	region      TEXT NOT NULL CHECK (region <> ''),
	year        INTEGER NOT NULL,
	case_count  BIGINT NOT NULL CHECK (case_count >= 0),
	source      TEXT NOT NULL DEFAULT 'real' CHECK (source IN ('real', 'synthetic'))
);
ALTER TABLE raw_observations ADD COLUMN IF NOT EXISTS source TEXT NOT NULL DEFAULT 'real'
	CHECK (source IN ('real', 'synthetic'));
CREATE INDEX IF NOT EXISTS idx_raw_observations_pair ON raw_observations (disease, region);

CREATE TABLE IF NOT EXISTS historical_series (
	disease      TEXT NOT NULL,
	region       TEXT NOT NULL,
	year         INTEGER NOT NULL,
	value        DOUBLE PRECISION NOT NULL CHECK (value >= 0),
	imputed      BOOLEAN NOT NULL DEFAULT FALSE,
	generated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (disease, region, year)
);

CREATE TABLE IF NOT EXISTS forecast_series (
	disease        TEXT NOT NULL,
	region         TEXT NOT NULL,
	year           INTEGER NOT NULL,
	point_estimate DOUBLE PRECISION NOT NULL CHECK (point_estimate >= 0),
	lower_bound    DOUBLE PRECISION NOT NULL,
	upper_bound    DOUBLE PRECISION NOT NULL,
	generated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (disease, region, year)
);

CREATE TABLE IF NOT EXISTS forecast_runs (
	disease          TEXT NOT NULL,
	region           TEXT NOT NULL,
	run_id           UUID NOT NULL,
	generated_at     TIMESTAMPTZ NOT NULL,
	data_source      TEXT NOT NULL CHECK (data_source IN ('real', 'synthetic')),
	method           TEXT NOT NULL,
	alpha            DOUBLE PRECISION NOT NULL,
	beta             DOUBLE PRECISION NOT NULL,
	gamma            DOUBLE PRECISION NOT NULL,
	seasonal_period  INTEGER NOT NULL,
	seasonality_mode TEXT NOT NULL,
	residual_std     DOUBLE PRECISION NOT NULL,
	mse              DOUBLE PRECISION NOT NULL,
	mape             DOUBLE PRECISION NOT NULL,
	r_squared        DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (disease, region)
);
ALTER TABLE forecast_runs ADD COLUMN IF NOT EXISTS data_source TEXT NOT NULL DEFAULT 'real'
	CHECK (data_source IN ('real', 'synthetic'));
`

// Connect opens a pool for connStr and verifies it with a ping
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres pool, %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres, %w", err)
	}
	return pool, nil
}

// Store implements publish.Store on top of a caller owned pool
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the tables used by the store if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("unable to create schema, %w", classify(err))
	}
	return nil
}

// Replace deletes every row previously written for the run's disease and region and writes the
// run in a single transaction.
func (s *Store) Replace(ctx context.Context, run publish.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("unable to begin transaction, %w", classify(err))
	}
	// no-op once committed
	defer tx.Rollback(ctx)

	for _, table := range []string{tableHistorical, tableForecast, tableRuns} {
		q := fmt.Sprintf("DELETE FROM %s WHERE disease = $1 AND region = $2", pgx.Identifier{table}.Sanitize())
		if _, err := tx.Exec(ctx, q, run.Disease, run.Region); err != nil {
			return fmt.Errorf("unable to delete prior rows from %s, %w", table, classify(err))
		}
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tableHistorical}, historicalColumns, pgx.CopyFromRows(historicalRows(run))); err != nil {
		return fmt.Errorf("unable to copy historical series, %w", classify(err))
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tableForecast}, forecastColumns, pgx.CopyFromRows(forecastRows(run))); err != nil {
		return fmt.Errorf("unable to copy forecast series, %w", classify(err))
	}
	if _, err := tx.Exec(ctx, insertRunQuery, runArgs(run)...); err != nil {
		return fmt.Errorf("unable to insert forecast run, %w", classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("unable to commit forecast run, %w", classify(err))
	}
	return nil
}

const insertRunQuery = `
INSERT INTO forecast_runs (
	disease, region, run_id, generated_at, data_source, method, alpha, beta, gamma,
	seasonal_period, seasonality_mode, residual_std, mse, mape, r_squared
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

func historicalRows(run publish.Run) [][]any {
	rows := make([][]any, 0, run.Historical.Len())
	for _, p := range run.Historical.Points {
		rows = append(rows, []any{run.Disease, run.Region, p.Year, p.Value, p.Imputed, run.GeneratedAt})
	}
	return rows
}

func forecastRows(run publish.Run) [][]any {
	rows := make([][]any, 0, len(run.Forecast))
	for _, p := range run.Forecast {
		rows = append(rows, []any{run.Disease, run.Region, p.Year, p.Estimate, p.Lower, p.Upper, run.GeneratedAt})
	}
	return rows
}

func runArgs(run publish.Run) []any {
	p := run.Parameters
	return []any{
		run.Disease, run.Region, run.RunID, run.GeneratedAt, run.DataSource, run.Method,
		p.Alpha, p.Beta, p.Gamma, p.SeasonalPeriod, string(p.SeasonalityMode),
		run.ResidualStdDev, run.Scores.MSE, run.Scores.MAPE, run.Scores.R2,
	}
}

// Observations reads every raw observation ordered by disease, region and year
func (s *Store) Observations(ctx context.Context) ([]observation.Observation, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT disease, region, year, case_count, source FROM raw_observations ORDER BY disease, region, year")
	if err != nil {
		return nil, fmt.Errorf("unable to query raw observations, %w", classify(err))
	}
	obs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[observation.Observation])
	if err != nil {
		return nil, fmt.Errorf("unable to scan raw observations, %w", classify(err))
	}
	return obs, nil
}

// SeedObservations bulk loads observations into the raw table. Unless truncate clears it first,
// a table that already holds rows is left untouched and ErrAlreadySeeded is returned, since the
// series builder sums every row of a year and a second load would double the counts.
func (s *Store) SeedObservations(ctx context.Context, obs []observation.Observation, truncate bool) (int64, error) {
	for i, o := range obs {
		if err := o.Validate(); err != nil {
			return 0, fmt.Errorf("unable to seed observation %d, %w", i, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to begin transaction, %w", classify(err))
	}
	defer tx.Rollback(ctx)

	// blocks concurrent seeds between the emptiness check and the copy
	if _, err := tx.Exec(ctx, "LOCK TABLE raw_observations IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return 0, fmt.Errorf("unable to lock raw observations, %w", classify(err))
	}
	if truncate {
		if _, err := tx.Exec(ctx, "TRUNCATE raw_observations"); err != nil {
			return 0, fmt.Errorf("unable to truncate raw observations, %w", classify(err))
		}
	} else {
		var populated bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM raw_observations)").Scan(&populated); err != nil {
			return 0, fmt.Errorf("unable to count raw observations, %w", classify(err))
		}
		if populated {
			return 0, ErrAlreadySeeded
		}
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{tableRaw}, rawColumns, pgx.CopyFromRows(rawRows(obs)))
	if err != nil {
		return 0, fmt.Errorf("unable to copy raw observations, %w", classify(err))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("unable to commit raw observations, %w", classify(err))
	}
	return n, nil
}

func rawRows(obs []observation.Observation) [][]any {
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		source := o.Source
		if source == "" {
			source = observation.SourceReal
		}
		rows = append(rows, []any{o.Disease, o.Region, o.Year, o.CaseCount, source})
	}
	return rows
}

// permanentClasses are SQLSTATE classes that fail identically on retry
var permanentClasses = map[string]bool{
	"22": true, // data exception
	"23": true, // integrity constraint violation
	"42": true, // syntax error or access rule violation
}

// classify marks postgres errors that cannot succeed on retry as permanent
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return err
	}
	if permanentClasses[pgErr.Code[:2]] {
		return publish.Permanent(err)
	}
	return err
}
