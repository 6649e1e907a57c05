package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/service"
	"github.com/hscopalm/shareable-wishlists/internal/telegram"
)

// ClaimCallbackAction prefixes inline keyboard data produced by /shared.
const ClaimCallbackAction = "claim"

const notLinkedText = "🔗 Your Telegram account is not linked yet.\n\n" +
	"Link it from the web app, then try again. Send /start to see your Telegram id."

// linkedUser resolves the wishlists account behind a Telegram user. It
// returns nil without error when the account is not linked.
func linkedUser(ctx context.Context, svc *service.Service, from *tgbotapi.User) (*models.User, error) {
	user, err := svc.UserByTelegramID(ctx, from.ID)
	if errors.Is(err, service.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve telegram user: %w", err)
	}
	return user, nil
}

func escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, text)
}

// ---------------------------------------------------------------------------
// SharedHandler – /shared
// ---------------------------------------------------------------------------

// SharedHandler handles the /shared command. It sends one message per list
// shared with the caller, numbering lists and items so they can be passed to
// /claim, and attaches claim/release buttons.
type SharedHandler struct {
	svc    *service.Service
	logger *logrus.Logger
	now    func() time.Time
}

// NewSharedHandler creates a new SharedHandler.
func NewSharedHandler(svc *service.Service, logger *logrus.Logger) *SharedHandler {
	return &SharedHandler{svc: svc, logger: logger, now: time.Now}
}

// Handle processes the /shared command.
func (h *SharedHandler) Handle(ctx context.Context, bot telegram.Sender, message *tgbotapi.Message, _ []string) error {
	user, err := linkedUser(ctx, h.svc, message.From)
	if err != nil {
		return err
	}
	if user == nil {
		return send(bot, tgbotapi.NewMessage(message.Chat.ID, notLinkedText))
	}

	lists, err := h.svc.ListsSharedWith(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("get shared lists: %w", err)
	}

	if len(lists) == 0 {
		msg := tgbotapi.NewMessage(message.Chat.ID,
			"🎁 *No lists shared with you yet.*\n\n_Ask a friend to share their wish list with your email._")
		msg.ParseMode = tgbotapi.ModeMarkdown
		return send(bot, msg)
	}

	for i, list := range lists {
		msg := tgbotapi.NewMessage(message.Chat.ID, h.renderList(i+1, list, user.ID))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if kb, ok := claimKeyboard(i+1, list, user.ID); ok {
			msg.ReplyMarkup = kb
		}
		if err := send(bot, msg); err != nil {
			return err
		}
	}

	h.logger.WithFields(logrus.Fields{
		"chat_id":    message.Chat.ID,
		"user_id":    user.ID,
		"list_count": len(lists),
	}).Info("Listed shared wish lists")

	return nil
}

func (h *SharedHandler) renderList(number int, list *models.WishList, viewerID string) string {
	var sb strings.Builder

	owner := "someone"
	if list.Owner != nil {
		owner = list.Owner.DisplayName()
	}
	sb.WriteString(fmt.Sprintf("*%d. %s* by %s", number, escape(list.Name), escape(owner)))
	if list.IsArchived(h.now()) {
		sb.WriteString(" _(archived)_")
	}
	sb.WriteString("\n")
	if list.EventDate != nil {
		sb.WriteString(fmt.Sprintf("📅 %s\n", list.EventDate.Format("Jan 2, 2006")))
	}
	sb.WriteString("\n")

	if len(list.Items) == 0 {
		sb.WriteString("_(empty)_")
		return sb.String()
	}

	for j, item := range list.Items {
		sb.WriteString(fmt.Sprintf("%d. %s", j+1, escape(item.Title)))
		if item.Link != "" {
			sb.WriteString(fmt.Sprintf(" ([link](%s))", item.Link))
		}
		if item.Price != nil {
			sb.WriteString(fmt.Sprintf(" — _%.2f_", *item.Price))
		}
		switch {
		case item.ClaimedBy(viewerID):
			sb.WriteString(" ✅")
		case item.Claim != nil:
			sb.WriteString(" 🔒")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// claimKeyboard builds one button per item the viewer can toggle. Items
// claimed by someone else get no button.
func claimKeyboard(listNumber int, list *models.WishList, viewerID string) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for j, item := range list.Items {
		label := fmt.Sprintf("🎁 %d", j+1)
		switch {
		case item.ClaimedBy(viewerID):
			label = fmt.Sprintf("↩️ %d", j+1)
		case item.Claim != nil:
			continue
		}
		data := fmt.Sprintf("%s:%d:%d", ClaimCallbackAction, listNumber, j+1)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, data))
		if len(row) == 4 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// ---------------------------------------------------------------------------
// ClaimHandler – /claim <list> <item>
// ---------------------------------------------------------------------------

// ClaimHandler handles the /claim command and the claim buttons attached by
// /shared. Both toggle through the claim coordinator.
type ClaimHandler struct {
	svc    *service.Service
	logger *logrus.Logger
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(svc *service.Service, logger *logrus.Logger) *ClaimHandler {
	return &ClaimHandler{svc: svc, logger: logger}
}

// Handle processes the /claim command.
func (h *ClaimHandler) Handle(ctx context.Context, bot telegram.Sender, message *tgbotapi.Message, args []string) error {
	if len(args) != 2 {
		msg := tgbotapi.NewMessage(message.Chat.ID,
			"❌ Please provide a list number and an item number.\n\n"+
				"Usage: `/claim 1 3`\n\n"+
				"_See the numbers with_ /shared")
		msg.ParseMode = tgbotapi.ModeMarkdown
		return send(bot, msg)
	}

	user, err := linkedUser(ctx, h.svc, message.From)
	if err != nil {
		return err
	}
	if user == nil {
		return send(bot, tgbotapi.NewMessage(message.Chat.ID, notLinkedText))
	}

	text, err := h.toggle(ctx, user, args[0], args[1])
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return send(bot, msg)
}

// HandleCallback processes a claim button press. args holds the list and
// item numbers.
func (h *ClaimHandler) HandleCallback(ctx context.Context, bot telegram.Sender, query *tgbotapi.CallbackQuery, args []string) error {
	if len(args) != 2 {
		return answer(bot, query.ID, "❌ Unknown button")
	}

	user, err := linkedUser(ctx, h.svc, query.From)
	if err != nil {
		return err
	}
	if user == nil {
		return answer(bot, query.ID, "🔗 Link your Telegram account first")
	}

	text, err := h.toggle(ctx, user, args[0], args[1])
	if err != nil {
		return err
	}

	if query.Message != nil {
		msg := tgbotapi.NewMessage(query.Message.Chat.ID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if err := send(bot, msg); err != nil {
			return err
		}
	}
	return answer(bot, query.ID, "")
}

// toggle resolves the numbered list and item and toggles the claim. Outcomes
// the user can act on come back as text; only unexpected failures are errors.
func (h *ClaimHandler) toggle(ctx context.Context, user *models.User, listArg, itemArg string) (string, error) {
	listNumber, err1 := strconv.Atoi(listArg)
	itemNumber, err2 := strconv.Atoi(itemArg)
	if err1 != nil || err2 != nil {
		return "❌ List and item must be numbers, e.g. `/claim 1 3`.", nil
	}

	lists, err := h.svc.ListsSharedWith(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("get shared lists: %w", err)
	}
	if listNumber < 1 || listNumber > len(lists) {
		return fmt.Sprintf("❌ There is no list *%d*. Check /shared.", listNumber), nil
	}
	list := lists[listNumber-1]
	if itemNumber < 1 || itemNumber > len(list.Items) {
		return fmt.Sprintf("❌ *%s* has no item *%d*. Check /shared.", escape(list.Name), itemNumber), nil
	}
	item := list.Items[itemNumber-1]

	log := h.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"list_id": list.ID,
		"item_id": item.ID,
	})

	result, err := h.svc.ToggleClaim(ctx, list.ID, item.ID, user.ID)
	switch {
	case errors.Is(err, service.ErrAlreadyClaimedByOther):
		return fmt.Sprintf("🔒 *%s* is already claimed by someone else.", escape(item.Title)), nil
	case errors.Is(err, service.ErrNotFoundOrNotShared), errors.Is(err, service.ErrItemNotFound):
		return "❌ That item is no longer available. Check /shared.", nil
	case err != nil:
		return "", fmt.Errorf("toggle claim: %w", err)
	}

	log.WithField("claimed", result.Claimed).Info("Claim toggled from Telegram")

	if result.Claimed {
		return fmt.Sprintf("✅ You claimed *%s* from *%s*.\n\n_The owner won't see who claimed it._",
			escape(item.Title), escape(list.Name)), nil
	}
	return fmt.Sprintf("↩️ You released *%s* from *%s*.", escape(item.Title), escape(list.Name)), nil
}

func send(bot telegram.Sender, c tgbotapi.Chattable) error {
	if _, err := bot.Send(c); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func answer(bot telegram.Sender, queryID, text string) error {
	if _, err := bot.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}
