package attribution

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

func testConfig() *config.Config {
	return &config.Config{MaxContributors: 5}
}

func period(i int) string {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	return models.FormatPeriod(start.AddDate(0, i, 0))
}

// baselineRows emits one row per period for a steady counterparty.
func baselineRows(bucket, party string, periods int, amount int64) []models.TransactionRow {
	rows := make([]models.TransactionRow, periods)
	for i := range rows {
		rows[i] = models.TransactionRow{
			Bucket:       bucket,
			Period:       period(i),
			Amount:       decimal.NewFromInt(amount),
			Counterparty: party,
		}
	}
	return rows
}

func seriesFromRows(bucket string, rows []models.TransactionRow) models.BucketSeries {
	sums := make(map[string]decimal.Decimal)
	last := ""
	for _, r := range rows {
		sums[r.Period] = sums[r.Period].Add(r.Amount)
		if r.Period > last {
			last = r.Period
		}
	}
	var points []models.SeriesPoint
	for i := 0; ; i++ {
		p := period(i)
		points = append(points, models.SeriesPoint{Period: p, Amount: sums[p].InexactFloat64(), TxnCount: 1})
		if p == last {
			break
		}
	}
	return models.BucketSeries{Bucket: bucket, Points: points}
}

func TestAttributeSharesOfDeviation(t *testing.T) {
	// Eleven quiet months at 1000, then three new counterparties add 4000.
	rows := baselineRows("cloud", "base", 12, 1000)
	anomaly := period(11)
	rows = append(rows,
		models.TransactionRow{Bucket: "cloud", Period: anomaly, Amount: decimal.NewFromInt(2400), Counterparty: "vendor-a"},
		models.TransactionRow{Bucket: "cloud", Period: anomaly, Amount: decimal.NewFromInt(1200), Counterparty: "vendor-b"},
		models.TransactionRow{Bucket: "cloud", Period: anomaly, Amount: decimal.NewFromInt(400), Counterparty: "vendor-c"},
	)
	series := seriesFromRows("cloud", rows)

	contributors := NewEngine(testConfig()).Attribute(rows, series, anomaly)
	require.Len(t, contributors, 3, "steady counterparty contributes nothing and is dropped")

	require.Equal(t, "vendor-a", contributors[0].Name)
	require.Equal(t, 2400.0, contributors[0].Amount)
	require.Equal(t, 60.0, contributors[0].Share)

	require.Equal(t, "vendor-b", contributors[1].Name)
	require.Equal(t, 30.0, contributors[1].Share)

	require.Equal(t, "vendor-c", contributors[2].Name)
	require.Equal(t, 10.0, contributors[2].Share)

	total := 0.0
	for _, c := range contributors {
		total += c.Share
	}
	require.InDelta(t, 100.0, total, 1e-9, "shares must cover the whole deviation")
}

func TestAttributeTruncatesToTopContributors(t *testing.T) {
	rows := baselineRows("cloud", "base", 12, 1000)
	anomaly := period(11)
	for i, amount := range []int64{700, 600, 500, 400, 300, 200, 100} {
		rows = append(rows, models.TransactionRow{
			Bucket:       "cloud",
			Period:       anomaly,
			Amount:       decimal.NewFromInt(amount),
			Counterparty: fmt.Sprintf("vendor-%d", i),
		})
	}
	series := seriesFromRows("cloud", rows)

	contributors := NewEngine(testConfig()).Attribute(rows, series, anomaly)
	require.Len(t, contributors, 6, "five listed plus the other entry")

	require.Equal(t, "vendor-0", contributors[0].Name)
	require.Equal(t, 700.0, contributors[0].Amount)

	other := contributors[5]
	require.Equal(t, "other", other.Name)
	require.Equal(t, 300.0, other.Amount, "other absorbs the unlisted tail")

	total := 0.0
	for _, c := range contributors {
		total += c.Share
	}
	require.InDelta(t, 100.0, total, 1e-9)
}

func TestAttributeUnattributedRows(t *testing.T) {
	rows := baselineRows("cloud", "base", 12, 1000)
	anomaly := period(11)
	rows = append(rows, models.TransactionRow{
		Bucket: "cloud",
		Period: anomaly,
		Amount: decimal.NewFromInt(900),
	})
	series := seriesFromRows("cloud", rows)

	contributors := NewEngine(testConfig()).Attribute(rows, series, anomaly)
	require.Len(t, contributors, 1)
	require.Equal(t, "(unattributed)", contributors[0].Name)
	require.Equal(t, 900.0, contributors[0].Amount)
}

func TestAttributeDecrease(t *testing.T) {
	// The steady counterparty collapses: negative contribution against a
	// negative total delta still reads as a positive share.
	rows := baselineRows("cloud", "base", 11, 1000)
	anomaly := period(11)
	rows = append(rows, models.TransactionRow{
		Bucket:       "cloud",
		Period:       anomaly,
		Amount:       decimal.NewFromInt(400),
		Counterparty: "base",
	})
	series := seriesFromRows("cloud", rows)

	contributors := NewEngine(testConfig()).Attribute(rows, series, anomaly)
	require.Len(t, contributors, 1)
	require.Equal(t, "base", contributors[0].Name)
	require.Equal(t, -600.0, contributors[0].Amount)
	require.Equal(t, 100.0, contributors[0].Share)
}

func TestAttributeNoDeviation(t *testing.T) {
	rows := baselineRows("cloud", "base", 12, 1000)
	series := seriesFromRows("cloud", rows)

	contributors := NewEngine(testConfig()).Attribute(rows, series, period(11))
	require.Nil(t, contributors, "no delta to explain")
}

func TestAttributeUnknownPeriod(t *testing.T) {
	rows := baselineRows("cloud", "base", 12, 1000)
	series := seriesFromRows("cloud", rows)

	contributors := NewEngine(testConfig()).Attribute(rows, series, "2030-01")
	require.Nil(t, contributors)
}
