package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"SqueezeWatch/internal/domain/models"
)

// Telegram delivers alerts to a Telegram chat. Messages are paced with a
// token bucket so bursts of signals do not trip the Bot API flood limits.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	pacer  *rate.Limiter
}

// TelegramOption configures Telegram.
type TelegramOption func(*Telegram)

// WithPacePerMinute caps outgoing messages per minute.
func WithPacePerMinute(perMinute int) TelegramOption {
	return func(t *Telegram) {
		if perMinute > 0 {
			t.pacer = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

// NewTelegram creates a Telegram backend and verifies the token against the Bot API.
func NewTelegram(token string, chatID int64, opts ...TelegramOption) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	t := &Telegram{
		bot:    bot,
		chatID: chatID,
		pacer:  rate.NewLimiter(rate.Every(3*time.Second), 1),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// Name returns the backend name.
func (t *Telegram) Name() string {
	return "telegram"
}

// Send formats the alert as HTML and posts it to the configured chat.
func (t *Telegram) Send(ctx context.Context, alert *models.AlertRecord) error {
	if err := t.pacer.Wait(ctx); err != nil {
		return &models.DeliveryFailure{Backend: t.Name(), Err: err}
	}

	msg := tgbotapi.NewMessage(t.chatID, formatAlertHTML(alert))
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := t.bot.Send(msg); err != nil {
		return &models.DeliveryFailure{Backend: t.Name(), Err: err}
	}

	return nil
}

func formatAlertHTML(alert *models.AlertRecord) string {
	sig := alert.Signal

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", priorityEmoji(alert.Priority), sig.Type)
	fmt.Fprintf(&b, "📊 <b>Symbol:</b> %s\n", sig.Symbol)
	fmt.Fprintf(&b, "%s <b>Direction:</b> %s\n", directionEmoji(sig.Direction), sig.Direction)
	fmt.Fprintf(&b, "🕐 <b>Timeframe:</b> %s\n\n", sig.Timeframe)
	fmt.Fprintf(&b, "💰 <b>Price:</b> $%.4f\n", sig.Price)
	fmt.Fprintf(&b, "💪 <b>Strength:</b> %.0f%%\n", sig.Strength*100)
	fmt.Fprintf(&b, "🎯 <b>Confidence:</b> %.0f%%\n", sig.Confidence*100)

	if len(sig.Reasons) > 0 {
		b.WriteString("\n")
		for _, reason := range sig.Reasons {
			fmt.Fprintf(&b, "• %s\n", reason)
		}
	}

	fmt.Fprintf(&b, "\n⏰ <b>Time:</b> %s", sig.Timestamp.UTC().Format("2006-01-02 15:04:05"))

	return b.String()
}

func priorityEmoji(p models.AlertPriority) string {
	switch p {
	case models.PriorityCritical:
		return "🚨"
	case models.PriorityHigh:
		return "🔥"
	case models.PriorityMedium:
		return "⚡"
	default:
		return "ℹ️"
	}
}

func directionEmoji(d models.Direction) string {
	switch d {
	case models.DirectionLong:
		return "🟢"
	case models.DirectionShort:
		return "🔴"
	default:
		return "⚪"
	}
}
