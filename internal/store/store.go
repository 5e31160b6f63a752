package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"github.com/quantabg/finreview/models"
)

// Store persists analysis runs to PostgreSQL so downstream consumers
// (the alert bot, dashboards) can read results after the batch exits.
type Store struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New opens a connection and creates the schema if it does not exist.
// The ping is retried with exponential backoff since the batch is often
// started together with the database.
func New(params ConnectionParams) (*Store, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(db.Ping, backoffStrategy); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Store{db}, nil
}

// createTables creates the necessary tables if they don't exist
func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			generated_at TIMESTAMP NOT NULL,
			total_anomalies INT NOT NULL,
			high_severity INT NOT NULL,
			insufficient_buckets INT NOT NULL,
			degradations INT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS anomaly_records (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES analysis_runs(id),
			bucket TEXT NOT NULL,
			entity TEXT NOT NULL DEFAULT '',
			period TEXT NOT NULL,
			observed_amount DOUBLE PRECISION NOT NULL,
			expected_amount DOUBLE PRECISION NOT NULL,
			pct_deviation DOUBLE PRECISION NOT NULL,
			severity TEXT NOT NULL,
			confidence TEXT NOT NULL,
			methods TEXT[] NOT NULL,
			contributors JSONB,
			explanation TEXT,
			alerted BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS insufficient_history (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES analysis_runs(id),
			bucket TEXT NOT NULL,
			entity TEXT NOT NULL DEFAULT '',
			non_zero_periods INT NOT NULL,
			reason TEXT
		)
	`)
	return err
}

// SaveRun writes the run header, its anomaly records and its
// insufficient-history entries in one transaction.
func (s *Store) SaveRun(ctx context.Context, report *models.RunReport) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			id, generated_at, total_anomalies, high_severity, insufficient_buckets, degradations
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		report.RunID, report.GeneratedAt, report.Summary.TotalCount,
		report.Summary.HighSeverityCount, len(report.Insufficient), len(report.Degradations))
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, rec := range report.Anomalies {
		contributors, err := json.Marshal(rec.Contributors)
		if err != nil {
			return fmt.Errorf("marshaling contributors: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO anomaly_records (
				run_id, bucket, entity, period, observed_amount, expected_amount,
				pct_deviation, severity, confidence, methods, contributors, explanation
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			report.RunID, rec.Bucket, rec.Entity, rec.Period, rec.ObservedAmount,
			rec.ExpectedAmount, rec.PctDeviation, rec.Severity, rec.Confidence,
			pq.Array(rec.Methods), contributors, rec.Explanation)
		if err != nil {
			return fmt.Errorf("inserting anomaly record: %w", err)
		}
	}

	for _, ins := range report.Insufficient {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO insufficient_history (
				run_id, bucket, entity, non_zero_periods, reason
			) VALUES ($1, $2, $3, $4, $5)
		`,
			report.RunID, ins.Bucket, ins.Entity, ins.NonZeroPeriods, ins.Reason)
		if err != nil {
			return fmt.Errorf("inserting insufficient-history entry: %w", err)
		}
	}

	return tx.Commit()
}

// StoredAnomaly is an anomaly record with its database identity.
type StoredAnomaly struct {
	ID int64
	models.AnomalyRecord
}

// UnalertedHighSeverity returns high-severity records that have not been
// broadcast yet, oldest run first.
func (s *Store) UnalertedHighSeverity(ctx context.Context, limit int) ([]StoredAnomaly, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT r.id, r.bucket, r.entity, r.period, r.observed_amount, r.expected_amount,
			r.pct_deviation, r.severity, r.confidence, r.methods, r.contributors, r.explanation
		FROM anomaly_records r
		JOIN analysis_runs run ON run.id = r.run_id
		WHERE r.severity = $1 AND NOT r.alerted
		ORDER BY run.generated_at, r.bucket, r.period
		LIMIT $2
	`, models.SeverityHigh, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredAnomaly
	for rows.Next() {
		var (
			rec          StoredAnomaly
			methods      pq.StringArray
			contributors []byte
			explanation  sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.Bucket, &rec.Entity, &rec.Period, &rec.ObservedAmount,
			&rec.ExpectedAmount, &rec.PctDeviation, &rec.Severity, &rec.Confidence,
			&methods, &contributors, &explanation,
		); err != nil {
			return nil, err
		}
		rec.Methods = methods
		if explanation.Valid {
			rec.Explanation = explanation.String
		}
		if len(contributors) > 0 {
			if err := json.Unmarshal(contributors, &rec.Contributors); err != nil {
				return nil, fmt.Errorf("unmarshaling contributors: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkAlerted flags records as broadcast so they are not sent twice.
func (s *Store) MarkAlerted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.ExecContext(ctx, `
		UPDATE anomaly_records
		SET alerted = TRUE
		WHERE id = ANY($1)
	`, pq.Array(ids))
	return err
}
