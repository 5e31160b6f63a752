package detector

import (
	"errors"
	"testing"

	"github.com/quantabg/finreview/models"
)

func TestMADEvaluate(t *testing.T) {
	tests := []struct {
		name         string
		amounts      []float64
		wantVerdicts int
		wantFlagged  []string
		wantDegraded bool
	}{
		{
			name:         "below minimum window abstains",
			amounts:      []float64{1000, 1005, 995, 1010, 990},
			wantVerdicts: 0,
		},
		{
			name:         "flat series degrades whole bucket",
			amounts:      []float64{1000, 1000, 1000, 1000, 1000, 1000},
			wantDegraded: true,
		},
		{
			// A majority of identical values drives the MAD itself to zero
			// even though the series is not constant. The detector must
			// abstain rather than divide by zero.
			name:         "majority identical values degrade",
			amounts:      []float64{1000, 1000, 1000, 1000, 1000, 1200, 1000, 1000},
			wantDegraded: true,
		},
		{
			name:         "single spike flagged",
			amounts:      []float64{1000, 1005, 995, 1010, 990, 5000},
			wantVerdicts: 6,
			wantFlagged:  []string{"2024-06"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewMAD(testConfig())
			verdicts, err := d.Evaluate(testSeries("cloud", tt.amounts))

			if tt.wantDegraded {
				var warn *models.DegenerateStatisticWarning
				if !errors.As(err, &warn) {
					t.Fatalf("Evaluate() error = %v, want DegenerateStatisticWarning", err)
				}
				if warn.Method != models.MethodMAD {
					t.Errorf("warning method = %q, want %q", warn.Method, models.MethodMAD)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if len(verdicts) != tt.wantVerdicts {
				t.Fatalf("Evaluate() returned %d verdicts, want %d", len(verdicts), tt.wantVerdicts)
			}

			got := flaggedPeriods(verdicts)
			if len(got) != len(tt.wantFlagged) {
				t.Fatalf("flagged periods = %v, want %v", got, tt.wantFlagged)
			}
			for i := range got {
				if got[i] != tt.wantFlagged[i] {
					t.Errorf("flagged[%d] = %q, want %q", i, got[i], tt.wantFlagged[i])
				}
			}
		})
	}
}

func TestMADSurvivesMaskedOutliers(t *testing.T) {
	// Two spikes inflate the mean and standard deviation enough to hide
	// each other from the z-score detector. The median and MAD are not
	// drawn toward them, so the robust detector still flags both.
	amounts := []float64{1000, 1005, 995, 1010, 990, 1000, 5000, 5200}
	series := testSeries("cloud", amounts)

	madVerdicts, err := NewMAD(testConfig()).Evaluate(series)
	if err != nil {
		t.Fatalf("MAD Evaluate() error = %v", err)
	}
	madFlagged := flaggedPeriods(madVerdicts)
	if len(madFlagged) != 2 || madFlagged[0] != "2024-07" || madFlagged[1] != "2024-08" {
		t.Errorf("MAD flagged = %v, want both spike periods", madFlagged)
	}

	zVerdicts, err := NewZScore(testConfig()).Evaluate(series)
	if err != nil {
		t.Fatalf("ZScore Evaluate() error = %v", err)
	}
	if zFlagged := flaggedPeriods(zVerdicts); len(zFlagged) != 0 {
		t.Errorf("ZScore flagged = %v, want none (masked by mutual inflation)", zFlagged)
	}
}
