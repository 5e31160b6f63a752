package detector

import (
	"github.com/quantabg/finreview/models"
)

// Detector scores every period of a bucket series. A detector abstains
// for a single period by returning no verdict for it, and for the whole
// bucket by returning a typed error (DegenerateStatisticWarning or
// ModelFitFailure) alongside nil verdicts. Implementations are stateless
// across buckets, so one instance can serve concurrent workers.
type Detector interface {
	Name() string
	Evaluate(series models.BucketSeries) ([]models.DetectorVerdict, error)
}

// leaveOneOut returns a copy of amounts with index i removed.
func leaveOneOut(amounts []float64, i int) []float64 {
	out := make([]float64, 0, len(amounts)-1)
	out = append(out, amounts[:i]...)
	out = append(out, amounts[i+1:]...)
	return out
}
