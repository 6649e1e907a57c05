package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Sender is the part of the Bot API used by handlers. *tgbotapi.BotAPI
// satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// CommandHandler defines the interface for command handlers
type CommandHandler interface {
	Handle(ctx context.Context, bot Sender, message *tgbotapi.Message, args []string) error
}

// CallbackHandler handles inline keyboard presses. Callback data has the form
// "<action>:<arg>:<arg>..."; args excludes the action.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, bot Sender, query *tgbotapi.CallbackQuery, args []string) error
}

// Router handles message routing and command parsing
type Router struct {
	logger    *logrus.Logger
	handlers  map[string]CommandHandler
	callbacks map[string]CallbackHandler
}

// NewRouter creates a new message router
func NewRouter(logger *logrus.Logger) *Router {
	return &Router{
		logger:    logger,
		handlers:  make(map[string]CommandHandler),
		callbacks: make(map[string]CallbackHandler),
	}
}

// RegisterCommand registers a command handler
func (r *Router) RegisterCommand(command string, handler CommandHandler) {
	r.handlers[command] = handler
	r.logger.Debugf("Registered command: %s", command)
}

// RegisterCallback registers a handler for callback data starting with action.
func (r *Router) RegisterCallback(action string, handler CallbackHandler) {
	r.callbacks[action] = handler
	r.logger.Debugf("Registered callback: %s", action)
}

// HandleMessage handles incoming messages
func (r *Router) HandleMessage(ctx context.Context, bot Sender, message *tgbotapi.Message) {
	if message.From == nil || message.Text == "" || !message.IsCommand() {
		return
	}

	command := message.Command()
	args := strings.Fields(message.CommandArguments())

	log := r.logger.WithFields(logrus.Fields{
		"command": command,
		"chat_id": message.Chat.ID,
		"user_id": message.From.ID,
	})
	log.Debug("Received command")

	handler, exists := r.handlers[command]
	if !exists {
		log.Warn("Unknown command")
		r.reply(bot, message.Chat.ID, "❓ Unknown command. Use /help to see available commands.")
		return
	}

	if err := handler.Handle(ctx, bot, message, args); err != nil {
		log.WithError(err).Error("Command handler failed")
		r.reply(bot, message.Chat.ID, "❌ An error occurred while processing your command. Please try again.")
	}
}

// HandleCallbackQuery handles callback queries from inline keyboards
func (r *Router) HandleCallbackQuery(ctx context.Context, bot Sender, query *tgbotapi.CallbackQuery) {
	parts := strings.Split(query.Data, ":")
	action := parts[0]

	log := r.logger.WithFields(logrus.Fields{
		"callback_id": query.ID,
		"user_id":     query.From.ID,
		"action":      action,
	})
	log.Debug("Received callback query")

	handler, exists := r.callbacks[action]
	if !exists {
		log.Warn("Unknown callback action")
		r.answer(bot, query.ID, "")
		return
	}

	if err := handler.HandleCallback(ctx, bot, query, parts[1:]); err != nil {
		log.WithError(err).Error("Callback handler failed")
		r.answer(bot, query.ID, "❌ Something went wrong. Please try again.")
	}
}

func (r *Router) reply(bot Sender, chatID int64, text string) {
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.logger.WithError(err).Error("Failed to send message")
	}
}

func (r *Router) answer(bot Sender, queryID, text string) {
	if _, err := bot.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		r.logger.WithError(err).Error("Failed to answer callback query")
	}
}
