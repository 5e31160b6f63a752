package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/quantabg/finreview/models"
)

// Notifier broadcasts anomaly alerts to a Telegram chat. Sends are rate
// limited to stay under the Bot API's ~30 messages per second allowance
// and retried with exponential backoff.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(token string, chatID int64) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing Telegram bot: %w", err)
	}
	return &Notifier{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		logger:  log.With().Str("component", "notifier").Logger(),
	}, nil
}

// SendAnomaly delivers one anomaly alert.
func (n *Notifier) SendAnomaly(ctx context.Context, rec models.AnomalyRecord) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatAlert(rec))
	msg.ParseMode = "Markdown"

	operation := func() error {
		_, err := n.bot.Send(msg)
		return err
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoffStrategy); err != nil {
		return fmt.Errorf("after retries: %w", err)
	}

	n.logger.Debug().
		Str("bucket", rec.Bucket).
		Str("period", rec.Period).
		Msg("Alert sent")
	return nil
}

// FormatAlert renders one anomaly as a Telegram Markdown message.
func FormatAlert(rec models.AnomalyRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🚨 *%s anomaly* in *%s*", strings.ToUpper(rec.Severity), rec.Bucket)
	if rec.Entity != "" {
		fmt.Fprintf(&b, " (%s)", rec.Entity)
	}
	fmt.Fprintf(&b, "\n📅 Period: %s\n", rec.Period)
	fmt.Fprintf(&b, "💰 Observed: %.2f (expected %.2f, %+.1f%%)\n",
		rec.ObservedAmount, rec.ExpectedAmount, rec.PctDeviation)
	fmt.Fprintf(&b, "🎯 Confidence: %s | Methods: %s\n",
		rec.Confidence, strings.Join(rec.Methods, ", "))

	if len(rec.Contributors) > 0 {
		b.WriteString("\nTop contributors:\n")
		for _, c := range rec.Contributors {
			fmt.Fprintf(&b, "• %s: %.2f (%.0f%%)\n", c.Name, c.Amount, c.Share)
		}
	}

	if rec.Explanation != "" {
		fmt.Fprintf(&b, "\n_%s_", rec.Explanation)
	}
	return b.String()
}
