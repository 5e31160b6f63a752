package detector

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

// ZScore flags periods whose amount lies further than a threshold number
// of standard deviations from the leave-one-out mean of the series. The
// tested period is excluded from its own baseline so a large spike cannot
// inflate the variance it is measured against.
type ZScore struct {
	threshold float64
	minWindow int
	logger    zerolog.Logger
}

func NewZScore(cfg *config.Config) *ZScore {
	return &ZScore{
		threshold: cfg.ZScoreThreshold,
		minWindow: cfg.MinWindow,
		logger:    log.With().Str("component", "zscore_detector").Logger(),
	}
}

func (d *ZScore) Name() string { return models.MethodZScore }

func (d *ZScore) Evaluate(series models.BucketSeries) ([]models.DetectorVerdict, error) {
	amounts := series.Amounts()
	if len(amounts) < d.minWindow {
		d.logger.Debug().
			Str("bucket", series.Key()).
			Int("periods", len(amounts)).
			Msg("Below minimum window, abstaining")
		return nil, nil
	}

	verdicts := make([]models.DetectorVerdict, 0, len(amounts))
	degenerate := 0

	for i, point := range series.Points {
		baseline := leaveOneOut(amounts, i)

		mean, err := stats.Mean(baseline)
		if err != nil {
			return nil, err
		}
		sd, err := stats.StandardDeviationSample(baseline)
		if err != nil {
			return nil, err
		}

		// Constant baseline: abstain for this period instead of
		// dividing by zero or flagging every nonzero deviation.
		if sd == 0 {
			degenerate++
			continue
		}

		z := (point.Amount - mean) / sd
		verdicts = append(verdicts, models.DetectorVerdict{
			Method:   models.MethodZScore,
			Period:   point.Period,
			Flagged:  math.Abs(z) > d.threshold,
			Score:    z,
			Expected: mean,
			Spread:   sd,
		})
	}

	if degenerate == len(amounts) {
		return nil, &models.DegenerateStatisticWarning{
			Bucket: series.Key(),
			Method: models.MethodZScore,
			Reason: "standard deviation is zero for every period",
		}
	}

	return verdicts, nil
}
