package notify

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Compile-time interface check.
var _ Notifier = (*Telegram)(nil)

// Telegram sends alerts to a Telegram chat. Send failures are logged at
// warn and otherwise dropped.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier. Returns an error only when the
// bot token is rejected at startup; runtime delivery failures are swallowed.
func NewTelegram(botToken string, chatID int64, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

// Notify sends the message to the configured chat.
func (t *Telegram) Notify(_ context.Context, text string) {
	if t.bot == nil || t.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.log.Warn("sending telegram notification", "error", err)
	}
}
