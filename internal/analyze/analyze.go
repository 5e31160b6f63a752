package analyze

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/attribution"
	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/internal/detector"
	"github.com/quantabg/finreview/internal/ensemble"
	"github.com/quantabg/finreview/internal/series"
	"github.com/quantabg/finreview/models"
)

// Runner wires the full pipeline: series building, the three detectors,
// reconciliation, attribution and confidence grading. Buckets are
// independent, so they are fanned out to a worker pool and the output
// order is established by a final sort rather than by arrival.
type Runner struct {
	cfg        *config.Config
	builder    *series.Builder
	detectors  []detector.Detector
	reconciler *ensemble.Reconciler
	scorer     *ensemble.Scorer
	attributor *attribution.Engine
	logger     zerolog.Logger
}

func NewRunner(cfg *config.Config) *Runner {
	return &Runner{
		cfg:     cfg,
		builder: series.NewBuilder(cfg),
		detectors: []detector.Detector{
			detector.NewZScore(cfg),
			detector.NewMAD(cfg),
			detector.NewIsolation(cfg),
		},
		reconciler: ensemble.NewReconciler(cfg),
		scorer:     ensemble.NewScorer(cfg),
		attributor: attribution.NewEngine(cfg),
		logger:     log.With().Str("component", "analyzer").Logger(),
	}
}

type bucketResult struct {
	records      []models.AnomalyRecord
	degradations []models.Degradation
}

// Run analyzes all rows and returns the full report. Cancelling the
// context stops issuing further buckets to the pool; buckets already
// analyzed remain in the report, alongside ctx.Err().
func (r *Runner) Run(ctx context.Context, rows []models.TransactionRow) (*models.RunReport, error) {
	started := time.Now()

	seriesList, insufficient, err := r.builder.Build(rows)
	if err != nil {
		return nil, fmt.Errorf("building series: %w", err)
	}

	rowsByKey := r.groupRows(rows)

	jobs := make(chan models.BucketSeries)
	results := make(chan bucketResult)

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				results <- r.analyzeBucket(s, rowsByKey[s.Key()])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, s := range seriesList {
			select {
			case jobs <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	anomalies := make([]models.AnomalyRecord, 0)
	degradations := make([]models.Degradation, 0)
	for res := range results {
		anomalies = append(anomalies, res.records...)
		degradations = append(degradations, res.degradations...)
	}

	sortRecords(anomalies)
	sortDegradations(degradations)
	if insufficient == nil {
		insufficient = make([]models.InsufficientBucket, 0)
	}

	report := &models.RunReport{
		RunID:        uuid.New().String(),
		GeneratedAt:  time.Now().UTC(),
		Anomalies:    anomalies,
		Insufficient: insufficient,
		Degradations: degradations,
		Summary:      summarize(anomalies),
	}

	r.logger.Info().
		Int("buckets", len(seriesList)).
		Int("anomalies", len(anomalies)).
		Int("high_severity", report.Summary.HighSeverityCount).
		Int("insufficient", len(insufficient)).
		Int("degradations", len(degradations)).
		Dur("elapsed", time.Since(started)).
		Msg("Analysis complete")

	return report, ctx.Err()
}

// analyzeBucket runs the three detectors on one series and turns their
// verdicts into finished anomaly records. Detector errors degrade that
// single method for this bucket; the others still count.
func (r *Runner) analyzeBucket(s models.BucketSeries, rows []models.TransactionRow) bucketResult {
	var res bucketResult

	var verdicts []models.DetectorVerdict
	for _, det := range r.detectors {
		vs, err := det.Evaluate(s)
		if err != nil {
			r.logger.Warn().
				Str("bucket", s.Key()).
				Str("method", det.Name()).
				Err(err).
				Msg("Detector abstained")
			res.degradations = append(res.degradations, models.Degradation{
				Bucket: s.Bucket,
				Entity: s.Entity,
				Method: det.Name(),
				Reason: err.Error(),
			})
			continue
		}
		verdicts = append(verdicts, vs...)
	}

	for _, cand := range r.reconciler.Reconcile(s, verdicts) {
		rec := models.AnomalyRecord{
			Bucket:         cand.Bucket,
			Entity:         cand.Entity,
			Period:         cand.Period,
			ObservedAmount: cand.ObservedAmount,
			ExpectedAmount: cand.ExpectedAmount,
			PctDeviation:   cand.PctDeviation,
			Severity:       cand.Severity,
			Confidence:     r.scorer.Score(len(cand.Methods), cand.NormalizedDeviation),
			Methods:        cand.Methods,
			Contributors:   r.attributor.Attribute(rows, s, cand.Period),
		}
		rec.Explanation = buildExplanation(rec)
		res.records = append(res.records, rec)
	}
	return res
}

// groupRows partitions the raw rows by the same key the series builder
// uses, so attribution sees exactly the rows behind each series.
func (r *Runner) groupRows(rows []models.TransactionRow) map[string][]models.TransactionRow {
	grouped := make(map[string][]models.TransactionRow)
	for _, row := range rows {
		key := row.Bucket
		if r.cfg.EntityLevel && row.Entity != "" {
			key = row.Bucket + "/" + row.Entity
		}
		grouped[key] = append(grouped[key], row)
	}
	return grouped
}

func buildExplanation(rec models.AnomalyRecord) string {
	direction := "increase"
	if rec.PctDeviation < 0 {
		direction = "decrease"
	}
	explanation := fmt.Sprintf("%.1f%% %s vs expected in %s",
		math.Abs(rec.PctDeviation), direction, rec.Bucket)

	if len(rec.Contributors) > 0 {
		top := rec.Contributors[0]
		explanation += fmt.Sprintf(". Top contributor: %s (%.0f%% of deviation)",
			top.Name, top.Share)
	}
	return explanation
}

var severityRank = map[string]int{
	models.SeverityHigh:   0,
	models.SeverityMedium: 1,
	models.SeverityLow:    2,
}

func sortRecords(records []models.AnomalyRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if severityRank[a.Severity] != severityRank[b.Severity] {
			return severityRank[a.Severity] < severityRank[b.Severity]
		}
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Period < b.Period
	})
}

func sortDegradations(degradations []models.Degradation) {
	sort.Slice(degradations, func(i, j int) bool {
		a, b := degradations[i], degradations[j]
		if a.Bucket != b.Bucket {
			return a.Bucket < b.Bucket
		}
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Method < b.Method
	})
}

func summarize(records []models.AnomalyRecord) models.Summary {
	summary := models.Summary{
		TotalCount: len(records),
		ByMethod:   make(map[string]int),
		ByBucket:   make(map[string]int),
	}
	for _, rec := range records {
		switch rec.Severity {
		case models.SeverityHigh:
			summary.HighSeverityCount++
		case models.SeverityMedium:
			summary.MediumSeverityCount++
		case models.SeverityLow:
			summary.LowSeverityCount++
		}
		for _, m := range rec.Methods {
			summary.ByMethod[m]++
		}
		summary.ByBucket[rec.Bucket]++
	}
	return summary
}
