package attribution

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/models"
)

// Group name for rows that carry no counterparty, and the synthetic
// entry absorbing whatever the listed contributors do not explain.
const (
	unattributedParty = "(unattributed)"
	otherParty        = "other"
)

// Engine ranks counterparties by their contribution to an anomaly's
// deviation. It re-scans the raw ledger rows for the flagged period and
// compares each counterparty's amount against that counterparty's own
// historical median, so it works the same no matter which detector
// fired.
type Engine struct {
	maxContributors int
	logger          zerolog.Logger
}

func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		maxContributors: cfg.MaxContributors,
		logger:          log.With().Str("component", "attribution").Logger(),
	}
}

// Attribute explains the delta between the period's observed amount and
// the bucket's historical median. rows must be the raw rows of the
// series' bucket (and entity, when partitioning by entity). Shares are
// percentages of the total deviation; the listed contributors plus the
// synthetic "other" sum to 100% within rounding.
func (e *Engine) Attribute(rows []models.TransactionRow, series models.BucketSeries, period string) []models.Contributor {
	observed, ok := periodAmount(series, period)
	if !ok {
		return nil
	}

	history := make([]float64, 0, len(series.Points)-1)
	for _, p := range series.Points {
		if p.Period != period {
			history = append(history, p.Amount)
		}
	}
	if len(history) == 0 {
		return nil
	}
	bucketMedian, err := stats.Median(history)
	if err != nil {
		return nil
	}

	totalDelta := observed - bucketMedian
	if totalDelta == 0 {
		return nil
	}

	contributions := e.partyContributions(rows, series, period)
	if len(contributions) == 0 {
		return nil
	}

	sort.Slice(contributions, func(i, j int) bool {
		ai, aj := math.Abs(contributions[i].Amount), math.Abs(contributions[j].Amount)
		if ai != aj {
			return ai > aj
		}
		return contributions[i].Name < contributions[j].Name
	})

	top := contributions
	if len(top) > e.maxContributors {
		top = top[:e.maxContributors]
	}

	out := make([]models.Contributor, 0, len(top)+1)
	explained := 0.0
	for _, c := range top {
		c.Share = c.Amount / totalDelta * 100
		explained += c.Amount
		out = append(out, c)
	}

	remainder := totalDelta - explained
	if math.Abs(remainder) > 1e-9 {
		out = append(out, models.Contributor{
			Name:   otherParty,
			Amount: remainder,
			Share:  remainder / totalDelta * 100,
		})
	}
	return out
}

// partyContributions computes, for every counterparty seen in the bucket,
// its period amount minus its own historical median, with absent periods
// counting as zero.
func (e *Engine) partyContributions(rows []models.TransactionRow, series models.BucketSeries, period string) []models.Contributor {
	type partyPeriod struct {
		party  string
		period string
	}
	sums := make(map[partyPeriod]decimal.Decimal)
	parties := make(map[string]struct{})
	for _, row := range rows {
		party := row.Counterparty
		if party == "" {
			party = unattributedParty
		}
		parties[party] = struct{}{}
		key := partyPeriod{party: party, period: row.Period}
		sums[key] = sums[key].Add(row.Amount)
	}

	names := make([]string, 0, len(parties))
	for party := range parties {
		names = append(names, party)
	}
	sort.Strings(names)

	var out []models.Contributor
	for _, party := range names {
		current := sums[partyPeriod{party: party, period: period}].InexactFloat64()

		history := make([]float64, 0, len(series.Points)-1)
		for _, p := range series.Points {
			if p.Period == period {
				continue
			}
			history = append(history, sums[partyPeriod{party: party, period: p.Period}].InexactFloat64())
		}
		median := 0.0
		if len(history) > 0 {
			if m, err := stats.Median(history); err == nil {
				median = m
			}
		}

		contribution := current - median
		if contribution == 0 {
			continue
		}
		out = append(out, models.Contributor{Name: party, Amount: contribution})
	}
	return out
}

func periodAmount(series models.BucketSeries, period string) (float64, bool) {
	for _, p := range series.Points {
		if p.Period == period {
			return p.Amount, true
		}
	}
	return 0, false
}
