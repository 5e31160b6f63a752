package models

import "fmt"

// InsufficientHistoryError excludes a bucket from detection when it has
// fewer non-zero periods than the configured minimum. Non-fatal: the
// bucket lands on the insufficient-history list and the run continues.
type InsufficientHistoryError struct {
	Bucket         string
	Entity         string
	NonZeroPeriods int
	MinRequired    int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("bucket %q has %d non-zero periods, need at least %d",
		e.Bucket, e.NonZeroPeriods, e.MinRequired)
}

// DegenerateStatisticWarning means a detector's spread statistic
// (standard deviation or MAD) was zero for every period of a bucket, so
// the detector abstained for the whole bucket.
type DegenerateStatisticWarning struct {
	Bucket string
	Method string
	Reason string
}

func (e *DegenerateStatisticWarning) Error() string {
	return fmt.Sprintf("%s abstained for bucket %q: %s", e.Method, e.Bucket, e.Reason)
}

// ModelFitFailure means the isolation model could not be fitted for a
// bucket. The detector abstains; the other detectors still run.
type ModelFitFailure struct {
	Bucket string
	Err    error
}

func (e *ModelFitFailure) Error() string {
	return fmt.Sprintf("isolation model fit failed for bucket %q: %v", e.Bucket, e.Err)
}

func (e *ModelFitFailure) Unwrap() error { return e.Err }

// ConfigurationError reports a threshold or window outside its valid
// range. Fatal: detected at startup before any bucket is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
