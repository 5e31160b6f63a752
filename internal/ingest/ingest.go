package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantabg/finreview/models"
)

// FileSource loads normalized transaction rows from a JSON or CSV export
// produced by the upstream normalization pipeline. The rows are expected
// to be currency- and sign-normalized already.
type FileSource struct {
	path   string
	logger zerolog.Logger
}

func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		logger: log.With().Str("component", "ingest").Logger(),
	}
}

func (s *FileSource) Load(ctx context.Context) ([]models.TransactionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	var rows []models.TransactionRow
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".json":
		rows, err = loadJSON(f)
	case ".csv":
		rows, err = loadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported input format %q, want .json or .csv", filepath.Ext(s.path))
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.path, err)
	}

	for i, row := range rows {
		if row.Bucket == "" {
			return nil, fmt.Errorf("row %d: empty bucket", i+1)
		}
		if _, err := models.ParsePeriod(row.Period); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}

	s.logger.Info().Int("rows", len(rows)).Str("path", s.path).Msg("Loaded transaction rows")
	return rows, nil
}

func loadJSON(r io.Reader) ([]models.TransactionRow, error) {
	var rows []models.TransactionRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return rows, nil
}

// loadCSV expects a header row naming at least bucket, period and amount;
// entity and counterparty columns are optional.
func loadCSV(r io.Reader) ([]models.TransactionRow, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"bucket", "period", "amount"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV header missing %q column", required)
		}
	}

	var rows []models.TransactionRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(record[cols["amount"]]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q", line, record[cols["amount"]])
		}

		row := models.TransactionRow{
			Bucket: strings.TrimSpace(record[cols["bucket"]]),
			Period: strings.TrimSpace(record[cols["period"]]),
			Amount: amount,
		}
		if i, ok := cols["entity"]; ok {
			row.Entity = strings.TrimSpace(record[i])
		}
		if i, ok := cols["counterparty"]; ok {
			row.Counterparty = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
