// Package notify pushes run summaries to Telegram.
package notify

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"envgrid/logger"
	"envgrid/trader"
)

// Telegram is a trader.RunObserver that sends each run summary to a chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithClient(token, chatID, tgbotapi.APIEndpoint, http.DefaultClient)
}

// NewTelegramWithClient is NewTelegram with a custom endpoint and HTTP client.
func NewTelegramWithClient(token string, chatID int64, endpoint string, client *http.Client) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram requires a bot token and a chat id")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Infof("📨 Telegram notifications enabled (bot @%s)", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Send posts a plain-text message.
func (t *Telegram) Send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// OnRunFinished implements trader.RunObserver.
func (t *Telegram) OnRunFinished(_ context.Context, report *trader.RunReport) {
	if err := t.Send(report.Summary()); err != nil {
		logger.WithFields(logrus.Fields{"run_id": report.ID, "chat_id": t.chatID}).Warnf("⚠️ %v", err)
	}
}
