package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/telegram"
)

// HelpHandler handles the /help command
type HelpHandler struct {
	logger *logrus.Logger
}

func NewHelpHandler(logger *logrus.Logger) *HelpHandler {
	return &HelpHandler{logger: logger}
}

func (h *HelpHandler) Handle(_ context.Context, bot telegram.Sender, message *tgbotapi.Message, _ []string) error {
	helpText := `📚 *Shareable Wishlists Help*

*Shared lists:*
• /shared - Show lists shared with you, with numbered items
• /claim <list> <item> - Claim an item, or release your claim

Use the numbers printed by /shared, e.g. ` + "`/claim 1 3`" + `.
✅ marks your claims, 🔒 marks items someone else claimed.

_List owners never see who claimed what._`

	msg := tgbotapi.NewMessage(message.Chat.ID, helpText)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send help message: %w", err)
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id": message.Chat.ID,
		"user_id": message.From.ID,
	}).Info("Sent help message")

	return nil
}
