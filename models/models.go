package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity levels assigned to anomaly records.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Confidence levels assigned to anomaly records.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// Detector method names as reported in AnomalyRecord.Methods.
const (
	MethodZScore    = "zscore"
	MethodMAD       = "mad"
	MethodIsolation = "isolation_forest"
)

// TransactionRow is one normalized ledger line as produced by the upstream
// mapping stage: currency- and sign-normalized, bucket already assigned.
type TransactionRow struct {
	Bucket       string          `json:"bucket"`
	Entity       string          `json:"entity,omitempty"`
	Period       string          `json:"period"` // YYYY-MM
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty,omitempty"`
}

// SeriesPoint is one reporting period inside a BucketSeries.
type SeriesPoint struct {
	Period   string  `json:"period"`
	Amount   float64 `json:"amount"`
	TxnCount int     `json:"txn_count"`
}

// BucketSeries holds the chronological amount series for one bucket
// (optionally per entity). Periods with no activity between the first and
// last observed period are present with amount 0. Built once per run and
// treated as immutable afterwards.
type BucketSeries struct {
	Bucket string        `json:"bucket"`
	Entity string        `json:"entity,omitempty"`
	Points []SeriesPoint `json:"points"`
}

// Key returns the identifier the series is partitioned by.
func (s BucketSeries) Key() string {
	if s.Entity != "" {
		return s.Bucket + "/" + s.Entity
	}
	return s.Bucket
}

// Amounts returns the amount column in period order.
func (s BucketSeries) Amounts() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Amount
	}
	return out
}

// DetectorVerdict is the output of a single detector for a single period.
// Score is in the detector's native units: standard deviations for zscore,
// scaled MAD units for mad, the isolation score for isolation_forest.
// Expected and Spread carry the raw statistic the score was derived from.
type DetectorVerdict struct {
	Method   string  `json:"method"`
	Period   string  `json:"period"`
	Flagged  bool    `json:"flagged"`
	Score    float64 `json:"score"`
	Expected float64 `json:"expected"`
	Spread   float64 `json:"spread"`
}

// Contributor is one counterparty's share of an anomaly's deviation.
type Contributor struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Share  float64 `json:"share"` // percent of the absolute deviation
}

// AnomalyRecord is the unit of output for one flagged (bucket, period).
// Records are assembled once per run and never mutated afterwards.
type AnomalyRecord struct {
	Bucket         string        `json:"bucket"`
	Entity         string        `json:"entity,omitempty"`
	Period         string        `json:"period"`
	ObservedAmount float64       `json:"observed_amount"`
	ExpectedAmount float64       `json:"expected_amount"`
	PctDeviation   float64       `json:"pct_deviation"`
	Severity       string        `json:"severity"`
	Confidence     string        `json:"confidence"`
	Methods        []string      `json:"methods"`
	Contributors   []Contributor `json:"contributors,omitempty"`
	Explanation    string        `json:"explanation,omitempty"`
}

// InsufficientBucket names a bucket excluded from detection for lack of
// history, surfaced so callers can distinguish "no anomalies" from
// "could not analyze".
type InsufficientBucket struct {
	Bucket         string `json:"bucket"`
	Entity         string `json:"entity,omitempty"`
	NonZeroPeriods int    `json:"non_zero_periods"`
	Reason         string `json:"reason"`
}

// Degradation records a detector that abstained for a whole bucket
// (degenerate statistic or failed model fit). The other detectors'
// verdicts for that bucket are unaffected.
type Degradation struct {
	Bucket string `json:"bucket"`
	Entity string `json:"entity,omitempty"`
	Method string `json:"method"`
	Reason string `json:"reason"`
}

// Summary aggregates counts over the anomalies of one run.
type Summary struct {
	TotalCount          int            `json:"total_count"`
	HighSeverityCount   int            `json:"high_severity_count"`
	MediumSeverityCount int            `json:"medium_severity_count"`
	LowSeverityCount    int            `json:"low_severity_count"`
	ByMethod            map[string]int `json:"by_method"`
	ByBucket            map[string]int `json:"by_bucket"`
}

// RunReport is the full result of one analysis run.
type RunReport struct {
	RunID        string               `json:"run_id"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Anomalies    []AnomalyRecord      `json:"anomalies"`
	Insufficient []InsufficientBucket `json:"insufficient_history"`
	Degradations []Degradation        `json:"degradations"`
	Summary      Summary              `json:"summary"`
}
