package detector

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

// madScale rescales the median absolute deviation to be comparable to a
// standard deviation under normality, so the MAD detector can share the
// z-score threshold semantics.
const madScale = 1.4826

// MAD flags periods by their distance from the leave-one-out median in
// scaled-MAD units. Median statistics stay stable in the presence of the
// very outliers the detector is looking for, which the mean/σ pair does
// not.
type MAD struct {
	threshold float64
	minWindow int
	logger    zerolog.Logger
}

func NewMAD(cfg *config.Config) *MAD {
	return &MAD{
		threshold: cfg.MADThreshold,
		minWindow: cfg.MinWindow,
		logger:    log.With().Str("component", "mad_detector").Logger(),
	}
}

func (d *MAD) Name() string { return models.MethodMAD }

func (d *MAD) Evaluate(series models.BucketSeries) ([]models.DetectorVerdict, error) {
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

		median, err := stats.Median(baseline)
		if err != nil {
			return nil, err
		}
		mad, err := stats.MedianAbsoluteDeviation(baseline)
		if err != nil {
			return nil, err
		}

		if mad == 0 {
			degenerate++
			continue
		}

		scaled := mad * madScale
		rz := (point.Amount - median) / scaled
		verdicts = append(verdicts, models.DetectorVerdict{
			Method:   models.MethodMAD,
			Period:   point.Period,
			Flagged:  math.Abs(rz) > d.threshold,
			Score:    rz,
			Expected: median,
			Spread:   scaled,
		})
	}

	if degenerate == len(amounts) {
		return nil, &models.DegenerateStatisticWarning{
			Bucket: series.Key(),
			Method: models.MethodMAD,
			Reason: "median absolute deviation is zero for every period",
		}
	}

	return verdicts, nil
}
