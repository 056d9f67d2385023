// internal/notify/telegram.go
package notify

import (
	"fmt"

	"fitpro/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter posts operator messages into the admin chat. It never
// polls for updates.
type TelegramAlerter struct {
	bot    Sender
	chatID int64
	logger *logger.Logger
}

func NewTelegramAlerter(token string, chatID int64, log *logger.Logger) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	log.Infow("Authorized on Telegram", "username", bot.Self.UserName)
	return NewTelegramAlerterWithSender(bot, chatID, log), nil
}

func NewTelegramAlerterWithSender(bot Sender, chatID int64, log *logger.Logger) *TelegramAlerter {
	if log == nil {
		log = logger.NewNop()
	}
	return &TelegramAlerter{bot: bot, chatID: chatID, logger: log.Named("telegram")}
}

func (t *TelegramAlerter) Alert(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
