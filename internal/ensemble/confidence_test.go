package ensemble

import (
	"testing"

	"github.com/quantabg/finreview/models"
)

func TestScorerScore(t *testing.T) {
	tests := []struct {
		name          string
		methodCount   int
		normalizedDev float64
		want          string
	}{
		{name: "three methods", methodCount: 3, normalizedDev: 0, want: models.ConfidenceHigh},
		{name: "all methods and huge deviation", methodCount: 3, normalizedDev: 10, want: models.ConfidenceHigh},
		{name: "two methods at breakpoint", methodCount: 2, normalizedDev: 3.0, want: models.ConfidenceHigh},
		{name: "two methods above breakpoint", methodCount: 2, normalizedDev: 5.1, want: models.ConfidenceHigh},
		{name: "two methods below breakpoint", methodCount: 2, normalizedDev: 2.9, want: models.ConfidenceMedium},
		{name: "one method at breakpoint", methodCount: 1, normalizedDev: 4.0, want: models.ConfidenceMedium},
		{name: "one method below breakpoint", methodCount: 1, normalizedDev: 3.9, want: models.ConfidenceLow},
		{name: "one method tiny deviation", methodCount: 1, normalizedDev: 0.2, want: models.ConfidenceLow},
	}

	s := NewScorer(testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.methodCount, tt.normalizedDev); got != tt.want {
				t.Errorf("Score(%d, %v) = %q, want %q", tt.methodCount, tt.normalizedDev, got, tt.want)
			}
		})
	}
}

func TestScorerAgreementNeverLowersConfidence(t *testing.T) {
	rank := map[string]int{
		models.ConfidenceLow:    0,
		models.ConfidenceMedium: 1,
		models.ConfidenceHigh:   2,
	}

	s := NewScorer(testConfig())
	for _, dev := range []float64{0, 1, 2.5, 3, 3.5, 4, 6, 12} {
		prev := -1
		for methods := 1; methods <= 3; methods++ {
			cur := rank[s.Score(methods, dev)]
			if cur < prev {
				t.Errorf("Score(%d, %v) ranks below Score(%d, %v)", methods, dev, methods-1, dev)
			}
			prev = cur
		}
	}
}
