package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ratewatch/internal/alert"
	"ratewatch/internal/rates"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSampleSQL = `INSERT INTO rate_samples (
        pair,
        class,
        rate,
        observed_at,
        source
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (pair, observed_at) DO NOTHING;`

	listSamplesBetweenSQL = `SELECT
        pair,
        class,
        rate,
        observed_at,
        source,
        created_at
    FROM rate_samples
    WHERE pair = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT
        pair,
        class,
        rate,
        observed_at,
        source,
        created_at
    FROM rate_samples
    WHERE pair = $1
    ORDER BY observed_at DESC
    LIMIT $2;`

	countSamplesSQL = `SELECT COUNT(*) FROM rate_samples;`

	insertConversionSQL = `INSERT INTO conversions (
        from_currency,
        to_currency,
        amount,
        rate,
        result
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, created_at;`

	loadEnabledAlertsSQL = `SELECT
        id,
        owner,
        pair,
        op,
        threshold,
        enabled,
        last_triggered_at
    FROM alerts
    WHERE enabled = TRUE
    ORDER BY id;`

	markAlertTriggeredSQL = `UPDATE alerts
    SET last_triggered_at = $2
    WHERE id = $1;`
)

// SampleStore defines operations for archived rate observations.
type SampleStore interface {
	InsertSample(ctx context.Context, sample Sample) error
	ListSamplesBetween(ctx context.Context, pair rates.Pair, from, to time.Time) ([]Sample, error)
	ListRecentSamples(ctx context.Context, pair rates.Pair, limit int) ([]Sample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// ConversionRecorder logs served conversions for auditing.
type ConversionRecorder interface {
	RecordConversion(ctx context.Context, conv Conversion) (Conversion, error)
}

// Store aggregates access to samples, conversions and alert definitions.
type Store struct {
	pool *pgxpool.Pool
}

var _ SampleStore = (*Store)(nil)
var _ ConversionRecorder = (*Store)(nil)
var _ alert.Store = (*Store)(nil)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample archives one observation. Replays of an already archived
// (pair, observed_at) tuple are silently dropped.
func (s *Store) InsertSample(ctx context.Context, sample Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.Pair.String(),
		string(sample.Class),
		sample.Rate.String(),
		sample.ObservedAt,
		sample.Source,
	)
	if execErr != nil {
		return fmt.Errorf("insert sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists archived observations for a pair within a window.
func (s *Store) ListSamplesBetween(ctx context.Context, pair rates.Pair, from, to time.Time) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, pair.String(), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]Sample, 0)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the newest archived observations for a pair.
func (s *Store) ListRecentSamples(ctx context.Context, pair rates.Pair, limit int) ([]Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, pair.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]Sample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts archived observations.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// RecordConversion logs a served conversion and returns the stored row.
func (s *Store) RecordConversion(ctx context.Context, conv Conversion) (Conversion, error) {
	pool, err := s.getPool()
	if err != nil {
		return Conversion{}, err
	}

	row := pool.QueryRow(ctx, insertConversionSQL,
		conv.From,
		conv.To,
		conv.Amount.String(),
		conv.Rate.String(),
		conv.Result.String(),
	)
	if scanErr := row.Scan(&conv.ID, &conv.CreatedAt); scanErr != nil {
		return Conversion{}, fmt.Errorf("record conversion: %w", scanErr)
	}
	return conv, nil
}

// LoadEnabled returns every enabled alert definition.
func (s *Store) LoadEnabled(ctx context.Context) ([]alert.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadEnabledAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load enabled alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alert.Alert, 0)
	for rows.Next() {
		var (
			a             alert.Alert
			pairText      string
			opText        string
			thresholdText string
			lastTriggered *time.Time
		)
		if scanErr := rows.Scan(&a.ID, &a.Owner, &pairText, &opText, &thresholdText, &a.Enabled, &lastTriggered); scanErr != nil {
			return nil, fmt.Errorf("scan alert: %w", scanErr)
		}

		pair, parseErr := rates.ParsePair(pairText)
		if parseErr != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, parseErr)
		}
		op, parseErr := alert.ParseOp(opText)
		if parseErr != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, parseErr)
		}
		threshold, parseErr := decimal.NewFromString(thresholdText)
		if parseErr != nil {
			return nil, fmt.Errorf("alert %s threshold: %w", a.ID, parseErr)
		}

		a.Pair = pair
		a.Op = op
		a.Threshold = threshold
		a.LastTriggeredAt = lastTriggered
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// MarkTriggered stamps the last-triggered timestamp of an alert.
func (s *Store) MarkTriggered(ctx context.Context, alertID string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertTriggeredSQL, alertID, at)
	if execErr != nil {
		return fmt.Errorf("mark alert triggered: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanSample(rows pgx.Rows) (Sample, error) {
	var (
		sample    Sample
		pairText  string
		classText string
		rateText  string
	)
	if err := rows.Scan(&pairText, &classText, &rateText, &sample.ObservedAt, &sample.Source, &sample.CreatedAt); err != nil {
		return Sample{}, fmt.Errorf("scan sample: %w", err)
	}

	pair, err := rates.ParsePair(pairText)
	if err != nil {
		return Sample{}, fmt.Errorf("sample pair: %w", err)
	}
	rate, err := decimal.NewFromString(rateText)
	if err != nil {
		return Sample{}, fmt.Errorf("sample rate: %w", err)
	}

	sample.Pair = pair
	sample.Class = rates.Class(classText)
	sample.Rate = rate
	return sample, nil
}
