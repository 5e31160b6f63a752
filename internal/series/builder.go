package series

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

// Builder groups normalized transaction rows into one BucketSeries per
// bucket, optionally partitioned by entity.
type Builder struct {
	minNonZero  int
	entityLevel bool
	logger      zerolog.Logger
}

func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		minNonZero:  cfg.MinNonZeroPeriods,
		entityLevel: cfg.EntityLevel,
		logger:      log.With().Str("component", "series_builder").Logger(),
	}
}

type seriesKey struct {
	bucket string
	entity string
}

type periodAgg struct {
	sum   decimal.Decimal
	count int
}

// Build aggregates rows into series. Buckets with too few non-zero
// periods are excluded from the returned series and reported on the
// insufficient list instead. A malformed period string aborts the build:
// it means the upstream normalization contract is broken.
func (b *Builder) Build(rows []models.TransactionRow) ([]models.BucketSeries, []models.InsufficientBucket, error) {
	grouped := make(map[seriesKey]map[string]*periodAgg)

	for _, row := range rows {
		if _, err := models.ParsePeriod(row.Period); err != nil {
			return nil, nil, fmt.Errorf("bucket %q: %w", row.Bucket, err)
		}

		key := seriesKey{bucket: row.Bucket}
		if b.entityLevel {
			key.entity = row.Entity
		}

		periods, ok := grouped[key]
		if !ok {
			periods = make(map[string]*periodAgg)
			grouped[key] = periods
		}

		agg, ok := periods[row.Period]
		if !ok {
			agg = &periodAgg{sum: decimal.Zero}
			periods[row.Period] = agg
		}
		agg.sum = agg.sum.Add(row.Amount)
		agg.count++
	}

	// Deterministic output order regardless of map iteration.
	keys := make([]seriesKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].bucket != keys[j].bucket {
			return keys[i].bucket < keys[j].bucket
		}
		return keys[i].entity < keys[j].entity
	})

	var (
		built        []models.BucketSeries
		insufficient []models.InsufficientBucket
	)
	for _, key := range keys {
		s, err := b.buildOne(key, grouped[key])
		if err != nil {
			var ihe *models.InsufficientHistoryError
			if errors.As(err, &ihe) {
				b.logger.Warn().
					Str("bucket", key.bucket).
					Str("entity", key.entity).
					Int("non_zero_periods", ihe.NonZeroPeriods).
					Msg("Bucket excluded for insufficient history")
				insufficient = append(insufficient, models.InsufficientBucket{
					Bucket:         key.bucket,
					Entity:         key.entity,
					NonZeroPeriods: ihe.NonZeroPeriods,
					Reason:         ihe.Error(),
				})
				continue
			}
			return nil, nil, err
		}
		built = append(built, s)
	}

	b.logger.Debug().
		Int("series", len(built)).
		Int("insufficient", len(insufficient)).
		Msg("Series built")

	return built, insufficient, nil
}

// buildOne materializes one series, filling gaps between the first and
// last observed period with explicit zero points so variance estimates
// are not biased by omission.
func (b *Builder) buildOne(key seriesKey, periods map[string]*periodAgg) (models.BucketSeries, error) {
	observed := make([]string, 0, len(periods))
	for p := range periods {
		observed = append(observed, p)
	}
	sort.Strings(observed)

	all, err := models.PeriodRange(observed[0], observed[len(observed)-1])
	if err != nil {
		return models.BucketSeries{}, fmt.Errorf("bucket %q: %w", key.bucket, err)
	}

	points := make([]models.SeriesPoint, 0, len(all))
	nonZero := 0
	for _, p := range all {
		point := models.SeriesPoint{Period: p}
		if agg, ok := periods[p]; ok {
			point.Amount = agg.sum.InexactFloat64()
			point.TxnCount = agg.count
			if !agg.sum.IsZero() {
				nonZero++
			}
		}
		points = append(points, point)
	}

	if nonZero < b.minNonZero {
		return models.BucketSeries{}, &models.InsufficientHistoryError{
			Bucket:         key.bucket,
			Entity:         key.entity,
			NonZeroPeriods: nonZero,
			MinRequired:    b.minNonZero,
		}
	}

	return models.BucketSeries{
		Bucket: key.bucket,
		Entity: key.entity,
		Points: points,
	}, nil
}
