package ensemble

import (
	"testing"
	"time"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

func testConfig() *config.Config {
	return &config.Config{
		SeverityHighPct:        50,
		SeverityMediumPct:      25,
		SeverityMultiPct:       10,
		VolatilityMultiplier:   2.0,
		ConfidenceTwoMethodDev: 3.0,
		ConfidenceOneMethodDev: 4.0,
	}
}

func testSeries(bucket string, amounts []float64) models.BucketSeries {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	points := make([]models.SeriesPoint, len(amounts))
	for i, amount := range amounts {
		points[i] = models.SeriesPoint{
			Period:   models.FormatPeriod(start.AddDate(0, i, 0)),
			Amount:   amount,
			TxnCount: 1,
		}
	}
	return models.BucketSeries{Bucket: bucket, Points: points}
}

func flag(method, period string, expected float64) models.DetectorVerdict {
	return models.DetectorVerdict{Method: method, Period: period, Flagged: true, Expected: expected}
}

func TestReconcileUnionPolicy(t *testing.T) {
	r := NewReconciler(testConfig())
	series := testSeries("cloud", []float64{100, 100, 100, 100, 100, 200})

	// A single flagging method is enough to produce a candidate.
	candidates := r.Reconcile(series, []models.DetectorVerdict{
		flag(models.MethodZScore, "2024-06", 100),
	})
	if len(candidates) != 1 {
		t.Fatalf("Reconcile() = %d candidates, want 1", len(candidates))
	}

	c := candidates[0]
	if c.Period != "2024-06" || c.ObservedAmount != 200 || c.ExpectedAmount != 100 {
		t.Errorf("candidate = %+v, want period 2024-06 observed 200 expected 100", c)
	}
	if c.PctDeviation != 100 {
		t.Errorf("PctDeviation = %v, want 100", c.PctDeviation)
	}
	if len(c.Methods) != 1 || c.Methods[0] != models.MethodZScore {
		t.Errorf("Methods = %v, want [zscore]", c.Methods)
	}
}

func TestReconcileMergesAgreeingMethods(t *testing.T) {
	r := NewReconciler(testConfig())
	series := testSeries("cloud", []float64{100, 100, 100, 100, 100, 200})

	candidates := r.Reconcile(series, []models.DetectorVerdict{
		flag(models.MethodIsolation, "2024-06", 100),
		flag(models.MethodZScore, "2024-06", 100),
		flag(models.MethodMAD, "2024-06", 100),
	})
	if len(candidates) != 1 {
		t.Fatalf("Reconcile() = %d candidates, want 1 merged", len(candidates))
	}

	methods := candidates[0].Methods
	want := []string{models.MethodZScore, models.MethodMAD, models.MethodIsolation}
	if len(methods) != len(want) {
		t.Fatalf("Methods = %v, want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("Methods[%d] = %q, want %q (stable method order)", i, methods[i], want[i])
		}
	}
}

func TestReconcileKeepsLargestDeviation(t *testing.T) {
	r := NewReconciler(testConfig())
	series := testSeries("cloud", []float64{100, 100, 100, 100, 100, 200})

	// zscore expects 100 (+100%), mad expects 80 (+150%): the merged
	// candidate reports the larger deviation.
	candidates := r.Reconcile(series, []models.DetectorVerdict{
		flag(models.MethodZScore, "2024-06", 100),
		flag(models.MethodMAD, "2024-06", 80),
	})
	if len(candidates) != 1 {
		t.Fatalf("Reconcile() = %d candidates, want 1", len(candidates))
	}

	c := candidates[0]
	if c.ExpectedAmount != 80 {
		t.Errorf("ExpectedAmount = %v, want 80", c.ExpectedAmount)
	}
	if c.PctDeviation != 150 {
		t.Errorf("PctDeviation = %v, want 150", c.PctDeviation)
	}
	if len(c.Methods) != 2 {
		t.Errorf("Methods = %v, want both kept", c.Methods)
	}
}

func TestReconcileSeverity(t *testing.T) {
	tests := []struct {
		name     string
		amounts  []float64
		verdicts []models.DetectorVerdict
		want     string
	}{
		{
			name:    "large deviation on stable history is high",
			amounts: []float64{100, 100, 100, 100, 100, 200},
			verdicts: []models.DetectorVerdict{
				flag(models.MethodZScore, "2024-06", 100),
			},
			want: models.SeverityHigh,
		},
		{
			name:    "large deviation on volatile history is capped at medium",
			amounts: []float64{100, 300, 50, 400, 80, 600},
			verdicts: []models.DetectorVerdict{
				flag(models.MethodZScore, "2024-06", 300),
			},
			want: models.SeverityMedium,
		},
		{
			name:    "moderate deviation is medium",
			amounts: []float64{100, 100, 100, 100, 100, 130},
			verdicts: []models.DetectorVerdict{
				flag(models.MethodZScore, "2024-06", 100),
			},
			want: models.SeverityMedium,
		},
		{
			name:    "small deviation with two methods is medium",
			amounts: []float64{100, 100, 100, 100, 100, 115},
			verdicts: []models.DetectorVerdict{
				flag(models.MethodZScore, "2024-06", 100),
				flag(models.MethodMAD, "2024-06", 100),
			},
			want: models.SeverityMedium,
		},
		{
			name:    "small deviation with one method is low",
			amounts: []float64{100, 100, 100, 100, 100, 115},
			verdicts: []models.DetectorVerdict{
				flag(models.MethodZScore, "2024-06", 100),
			},
			want: models.SeverityLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(testConfig())
			candidates := r.Reconcile(testSeries("cloud", tt.amounts), tt.verdicts)
			if len(candidates) != 1 {
				t.Fatalf("Reconcile() = %d candidates, want 1", len(candidates))
			}
			if candidates[0].Severity != tt.want {
				t.Errorf("Severity = %q, want %q", candidates[0].Severity, tt.want)
			}
		})
	}
}

func TestReconcileZeroExpectedBaseline(t *testing.T) {
	r := NewReconciler(testConfig())
	series := testSeries("cloud", []float64{0, 0, 0, 100, 0, 200})

	candidates := r.Reconcile(series, []models.DetectorVerdict{
		flag(models.MethodIsolation, "2024-06", 0),
	})
	if len(candidates) != 1 {
		t.Fatalf("Reconcile() = %d candidates, want 1", len(candidates))
	}

	// A zero baseline reports zero percent rather than a division blowup.
	c := candidates[0]
	if c.PctDeviation != 0 {
		t.Errorf("PctDeviation = %v, want 0 for zero expected", c.PctDeviation)
	}
	if c.Severity != models.SeverityLow {
		t.Errorf("Severity = %q, want low", c.Severity)
	}
}

func TestReconcileChronologicalOrder(t *testing.T) {
	r := NewReconciler(testConfig())
	series := testSeries("cloud", []float64{100, 100, 150, 100, 130, 100})

	// Verdicts arrive out of order; candidates come out in period order.
	candidates := r.Reconcile(series, []models.DetectorVerdict{
		flag(models.MethodZScore, "2024-05", 100),
		flag(models.MethodZScore, "2024-03", 100),
	})
	if len(candidates) != 2 {
		t.Fatalf("Reconcile() = %d candidates, want 2", len(candidates))
	}
	if candidates[0].Period != "2024-03" || candidates[1].Period != "2024-05" {
		t.Errorf("periods = [%s, %s], want chronological order", candidates[0].Period, candidates[1].Period)
	}
}

func TestReconcileNothingFlagged(t *testing.T) {
	r := NewReconciler(testConfig())
	series := testSeries("cloud", []float64{100, 100, 100, 100, 100, 100})

	candidates := r.Reconcile(series, []models.DetectorVerdict{
		{Method: models.MethodZScore, Period: "2024-06", Flagged: false, Expected: 100},
	})
	if candidates != nil {
		t.Errorf("Reconcile() = %v, want nil when nothing is flagged", candidates)
	}
}
