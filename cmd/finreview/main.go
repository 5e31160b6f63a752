package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/analyze"
	"github.com/quantabg/finreview/internal/config"
	"github.com/quantabg/finreview/internal/ingest"
	"github.com/quantabg/finreview/internal/store"
	"github.com/quantabg/finreview/models"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	lvl, _ := zerolog.ParseLevel(cfg.LogLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(lvl)

	inputPath := os.Getenv("INPUT_FILE")
	if inputPath == "" && len(os.Args) > 1 {
		inputPath = os.Args[1]
	}
	if inputPath == "" {
		log.Fatal().Msg("No input: set INPUT_FILE or pass a path argument")
	}
	outputPath := os.Getenv("OUTPUT_FILE")

	fmt.Printf("Configuration:\n")
	fmt.Printf("Z-score threshold: %.2f\n", cfg.ZScoreThreshold)
	fmt.Printf("MAD threshold: %.2f\n", cfg.MADThreshold)
	fmt.Printf("Isolation contamination: %.2f (min %d periods)\n", cfg.Contamination, cfg.IsolationMinPeriods)
	fmt.Printf("Min window: %d, min non-zero periods: %d\n", cfg.MinWindow, cfg.MinNonZeroPeriods)
	fmt.Printf("Workers: %d, entity level: %t\n", cfg.Workers, cfg.EntityLevel)

	ctx := context.Background()

	var source models.RowSource = ingest.NewFileSource(inputPath)
	rows, err := source.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading transactions failed")
	}

	runner := analyze.NewRunner(cfg)
	report, err := runner.Run(ctx, rows)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	fmt.Printf("\n===== ANALYSIS RESULTS =====\n")
	fmt.Printf("Anomalies: %d (high: %d, medium: %d, low: %d)\n",
		report.Summary.TotalCount,
		report.Summary.HighSeverityCount,
		report.Summary.MediumSeverityCount,
		report.Summary.LowSeverityCount)
	fmt.Printf("Buckets excluded for insufficient history: %d\n", len(report.Insufficient))
	fmt.Printf("Detector degradations: %d\n", len(report.Degradations))
	for _, rec := range report.Anomalies {
		fmt.Printf("- [%s/%s] %s: %s\n", rec.Severity, rec.Confidence, rec.Period, rec.Explanation)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Marshaling report failed")
	}
	if outputPath == "" {
		fmt.Println(string(out))
	} else {
		if err := os.WriteFile(outputPath, out, 0644); err != nil {
			log.Fatal().Err(err).Str("path", outputPath).Msg("Writing report failed")
		}
		log.Info().Str("path", outputPath).Msg("Report written")
	}

	if saveEnv := os.Getenv("SAVE_TO_DB"); saveEnv == "true" || saveEnv == "1" || saveEnv == "yes" {
		dbParams := store.ConnectionParams{
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
			SSLMode:  os.Getenv("DB_SSLMODE"),
		}

		db, err := store.New(dbParams)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer db.Close()

		if err := db.SaveRun(ctx, report); err != nil {
			log.Fatal().Err(err).Msg("Failed to persist run")
		}
		log.Info().Str("run_id", report.RunID).Msg("Run persisted")
	}
}
