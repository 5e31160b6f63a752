package ensemble

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

// Candidate is one reconciled anomaly before attribution and confidence
// grading. NormalizedDeviation is the deviation expressed in units of the
// bucket's own historical volatility.
type Candidate struct {
	Bucket              string
	Entity              string
	Period              string
	ObservedAmount      float64
	ExpectedAmount      float64
	PctDeviation        float64
	Severity            string
	Methods             []string
	NormalizedDeviation float64
}

var methodRank = map[string]int{
	models.MethodZScore:    0,
	models.MethodMAD:       1,
	models.MethodIsolation: 2,
}

// Reconciler merges per-method verdicts into at most one candidate per
// (bucket, period). A single flagging detector is enough (union policy):
// financial anomalies are heterogeneous and one trusted robust signal
// beats requiring unanimity, at the cost of extra false positives that
// severity and confidence are there to communicate.
type Reconciler struct {
	highPct   float64
	mediumPct float64
	multiPct  float64
	volMult   float64
	logger    zerolog.Logger
}

func NewReconciler(cfg *config.Config) *Reconciler {
	return &Reconciler{
		highPct:   cfg.SeverityHighPct,
		mediumPct: cfg.SeverityMediumPct,
		multiPct:  cfg.SeverityMultiPct,
		volMult:   cfg.VolatilityMultiplier,
		logger:    log.With().Str("component", "reconciler").Logger(),
	}
}

func (r *Reconciler) Reconcile(series models.BucketSeries, verdicts []models.DetectorVerdict) []Candidate {
	flagged := make(map[string][]models.DetectorVerdict)
	for _, v := range verdicts {
		if v.Flagged {
			flagged[v.Period] = append(flagged[v.Period], v)
		}
	}
	if len(flagged) == 0 {
		return nil
	}

	vol := volatility(series.Amounts())

	// Walking the series keeps candidates in period order no matter how
	// the verdicts arrived.
	var out []Candidate
	for _, point := range series.Points {
		agreeing, ok := flagged[point.Period]
		if !ok {
			continue
		}

		// Multiple detectors collapse into one candidate that keeps
		// every agreeing method and the largest deviation among them.
		best := agreeing[0]
		bestPct := pctDeviation(point.Amount, best.Expected)
		methods := make([]string, 0, len(agreeing))
		for _, v := range agreeing {
			methods = append(methods, v.Method)
			if pct := pctDeviation(point.Amount, v.Expected); math.Abs(pct) > math.Abs(bestPct) {
				best = v
				bestPct = pct
			}
		}
		sort.Slice(methods, func(i, j int) bool {
			return methodRank[methods[i]] < methodRank[methods[j]]
		})

		relDev := math.Abs(bestPct) / 100
		out = append(out, Candidate{
			Bucket:              series.Bucket,
			Entity:              series.Entity,
			Period:              point.Period,
			ObservedAmount:      point.Amount,
			ExpectedAmount:      best.Expected,
			PctDeviation:        bestPct,
			Severity:            r.severity(bestPct, relDev, vol, len(methods)),
			Methods:             methods,
			NormalizedDeviation: normalizedDeviation(relDev, vol),
		})

		r.logger.Debug().
			Str("bucket", series.Key()).
			Str("period", point.Period).
			Float64("pct_deviation", bestPct).
			Strs("methods", methods).
			Msg("Anomaly candidate")
	}
	return out
}

// severity is a pure function of deviation and historical volatility,
// independent of which detector fired.
func (r *Reconciler) severity(pct, relDev, vol float64, methodCount int) string {
	absPct := math.Abs(pct)
	switch {
	case absPct >= r.highPct && relDev > r.volMult*vol:
		return models.SeverityHigh
	case absPct >= r.mediumPct:
		return models.SeverityMedium
	case methodCount >= 2 && absPct >= r.multiPct:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// pctDeviation follows the reporting convention that a zero baseline
// yields zero percent rather than an undefined ratio.
func pctDeviation(observed, expected float64) float64 {
	if expected == 0 {
		return 0
	}
	return (observed - expected) / math.Abs(expected) * 100
}

// volatility is the coefficient of variation of the full series.
func volatility(amounts []float64) float64 {
	mean, err := stats.Mean(amounts)
	if err != nil || mean == 0 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(amounts)
	if err != nil {
		return 0
	}
	return sd / math.Abs(mean)
}

func normalizedDeviation(relDev, vol float64) float64 {
	if vol == 0 {
		if relDev == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return relDev / vol
}
