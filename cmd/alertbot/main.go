package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantabg/finreview/internal/notify"
	"github.com/quantabg/finreview/internal/store"
)

const defaultBatchLimit = 50

func init() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

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

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN not set in environment")
	}
	chatID, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
	if err != nil {
		log.Fatal().Msg("TELEGRAM_CHAT_ID must be a numeric chat id")
	}

	limit := defaultBatchLimit
	if v := os.Getenv("ALERT_BATCH_LIMIT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	notifier, err := notify.New(botToken, chatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}

	ctx := context.Background()

	pending, err := db.UnalertedHighSeverity(ctx, limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query pending anomalies")
	}

	log.Info().Int("pending", len(pending)).Msg("Found unalerted high-severity anomalies")
	if len(pending) == 0 {
		fmt.Println("Nothing to send.")
		return
	}

	successCount := 0
	errorCount := 0
	sent := make([]int64, 0, len(pending))

	for _, rec := range pending {
		if err := notifier.SendAnomaly(ctx, rec.AnomalyRecord); err != nil {
			log.Error().Err(err).
				Str("bucket", rec.Bucket).
				Str("period", rec.Period).
				Msg("Failed to send alert")
			errorCount++
			continue
		}
		sent = append(sent, rec.ID)
		successCount++
	}

	if len(sent) > 0 {
		if err := db.MarkAlerted(ctx, sent); err != nil {
			log.Error().Err(err).Msg("Failed to mark alerts as sent")
		}
	}

	log.Info().Int("sent", successCount).Int("failed", errorCount).Msg("Broadcast completed")
	fmt.Printf("\n🎯 Broadcast completed!\n")
	fmt.Printf("📊 Stats: %d sent, %d failed out of %d total\n", successCount, errorCount, len(pending))
}
