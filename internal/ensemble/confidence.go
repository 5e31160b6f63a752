package ensemble

import (
	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

// Scorer converts detector agreement and normalized deviation magnitude
// into a confidence label. Pure lookup, no hidden state: for the same
// deviation, more agreeing detectors never lower the confidence.
type Scorer struct {
	twoMethodDev float64
	oneMethodDev float64
}

func NewScorer(cfg *config.Config) *Scorer {
	return &Scorer{
		twoMethodDev: cfg.ConfidenceTwoMethodDev,
		oneMethodDev: cfg.ConfidenceOneMethodDev,
	}
}

func (s *Scorer) Score(methodCount int, normalizedDev float64) string {
	switch {
	case methodCount >= 3:
		return models.ConfidenceHigh
	case methodCount == 2:
		if normalizedDev >= s.twoMethodDev {
			return models.ConfidenceHigh
		}
		return models.ConfidenceMedium
	default:
		if normalizedDev >= s.oneMethodDev {
			return models.ConfidenceMedium
		}
		return models.ConfidenceLow
	}
}
