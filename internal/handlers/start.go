package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/telegram"
)

// StartHandler handles the /start command
type StartHandler struct {
	logger *logrus.Logger
}

// NewStartHandler creates a new start command handler
func NewStartHandler(logger *logrus.Logger) *StartHandler {
	return &StartHandler{
		logger: logger,
	}
}

// Handle processes the /start command
func (h *StartHandler) Handle(_ context.Context, bot telegram.Sender, message *tgbotapi.Message, _ []string) error {
	welcomeText := fmt.Sprintf(`🎁 *Welcome to Shareable Wishlists!*

I show you the wish lists friends have shared with you and let you claim gifts so nobody buys the same thing twice.

To get started, link this Telegram account from the web app. Your Telegram id is `+"`%d`"+`.

*Commands:*
• /shared - Lists shared with you
• /claim <list> <item> - Claim or release an item
• /help - Show this help message`, message.From.ID)

	msg := tgbotapi.NewMessage(message.Chat.ID, welcomeText)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send start message: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id": message.Chat.ID,
		"user_id": message.From.ID,
	}).Info("Sent start message")

	return nil
}
