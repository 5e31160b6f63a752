package detector

import (
	"hash/fnv"
	"math/rand"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

const (
	forestTrees     = 100
	forestSubsample = 256
)

// Isolation detects anomalies through an isolation forest fitted on a
// per-period feature vector of amount, transaction count, period-over-
// period delta and rolling three-period average. It is the only detector
// sensitive to joint behavior, such as a large amount arriving in
// unusually few transactions. The forest is seeded from a hash of the
// bucket identifier so repeated runs score identically regardless of
// bucket scheduling.
type Isolation struct {
	contamination float64
	minPeriods    int
	logger        zerolog.Logger
}

func NewIsolation(cfg *config.Config) *Isolation {
	return &Isolation{
		contamination: cfg.Contamination,
		minPeriods:    cfg.IsolationMinPeriods,
		logger:        log.With().Str("component", "isolation_detector").Logger(),
	}
}

func (d *Isolation) Name() string { return models.MethodIsolation }

func (d *Isolation) Evaluate(series models.BucketSeries) ([]models.DetectorVerdict, error) {
	n := len(series.Points)
	if n < d.minPeriods {
		d.logger.Debug().
			Str("bucket", series.Key()).
			Int("periods", n).
			Msg("Too few periods to fit, abstaining")
		return nil, nil
	}

	features := buildFeatures(series)

	rng := rand.New(rand.NewSource(seriesSeed(series.Key())))
	forest := newIsolationForest(forestTrees, forestSubsample, rng)
	if err := forest.fit(features); err != nil {
		return nil, &models.ModelFitFailure{Bucket: series.Key(), Err: err}
	}

	scores := make([]float64, n)
	for i := range features {
		scores[i] = forest.score(features[i])
	}

	threshold, err := stats.Percentile(scores, (1-d.contamination)*100)
	if err != nil {
		return nil, &models.ModelFitFailure{Bucket: series.Key(), Err: err}
	}

	// Expected amount is the median of the periods the forest considers
	// normal, falling back to the whole series if everything scored high.
	var normal []float64
	for i, p := range series.Points {
		if scores[i] <= threshold {
			normal = append(normal, p.Amount)
		}
	}
	if len(normal) == 0 {
		normal = series.Amounts()
	}
	expected, err := stats.Median(normal)
	if err != nil {
		return nil, &models.ModelFitFailure{Bucket: series.Key(), Err: err}
	}

	verdicts := make([]models.DetectorVerdict, 0, n)
	for i, p := range series.Points {
		verdicts = append(verdicts, models.DetectorVerdict{
			Method:   models.MethodIsolation,
			Period:   p.Period,
			Flagged:  scores[i] > threshold,
			Score:    scores[i],
			Expected: expected,
			Spread:   threshold,
		})
	}
	return verdicts, nil
}

// buildFeatures turns a series into the forest's feature matrix, one row
// per period. The delta of the first period is zero and the rolling
// average shortens at the start of the series, so flat histories produce
// identical rows.
func buildFeatures(series models.BucketSeries) [][]float64 {
	pts := series.Points
	features := make([][]float64, len(pts))
	for i, p := range pts {
		delta := 0.0
		if i > 0 {
			delta = p.Amount - pts[i-1].Amount
		}

		start := i - 2
		if start < 0 {
			start = 0
		}
		sum := 0.0
		for j := start; j <= i; j++ {
			sum += pts[j].Amount
		}
		rolling := sum / float64(i-start+1)

		features[i] = []float64{p.Amount, float64(p.TxnCount), delta, rolling}
	}
	return features
}

// seriesSeed derives the forest seed from the bucket identifier.
func seriesSeed(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}
