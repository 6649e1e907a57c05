package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hscopalm/shareable-wishlists/internal/models"
	"github.com/hscopalm/shareable-wishlists/internal/repository/memory"
	"github.com/hscopalm/shareable-wishlists/internal/service"
	"github.com/hscopalm/shareable-wishlists/pkg/logger"
)

// fakeSender records outgoing messages instead of calling Telegram.
type fakeSender struct {
	mu        sync.Mutex
	messages  []tgbotapi.MessageConfig
	callbacks []tgbotapi.CallbackConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1].Text
}

type botFixture struct {
	svc   *service.Service
	list  *models.WishList
	items []*models.Item
	alice *models.User
	bob   *models.User
}

const (
	aliceTelegramID int64 = 1001
	bobTelegramID   int64 = 1002
)

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	l := logger.Discard()
	svc := service.New(l, store.Users(), store.WishLists(), store.Shares(),
		service.NewClaimCoordinator(store.WishLists(), l))

	owner, err := svc.EnsureUser(ctx, "owner@example.com", "Olivia")
	require.NoError(t, err)
	list, err := svc.CreateList(ctx, owner.ID, "Birthday", "", nil)
	require.NoError(t, err)

	f := &botFixture{svc: svc, list: list}
	for _, title := range []string{"Bike", "Book"} {
		item, err := svc.AddItem(ctx, owner.ID, list.ID, service.ItemInput{Title: title})
		require.NoError(t, err)
		f.items = append(f.items, item)
	}

	f.alice = f.viewer(t, "alice@example.com", aliceTelegramID)
	f.bob = f.viewer(t, "bob@example.com", bobTelegramID)
	return f
}

func (f *botFixture) viewer(t *testing.T, email string, telegramID int64) *models.User {
	t.Helper()
	ctx := context.Background()
	u, err := f.svc.EnsureUser(ctx, email, "")
	require.NoError(t, err)
	_, err = f.svc.ShareList(ctx, f.list.OwnerID, f.list.ID, email)
	require.NoError(t, err)
	u, err = f.svc.LinkTelegram(ctx, u.ID, telegramID)
	require.NoError(t, err)
	return u
}

func message(telegramID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: telegramID},
		From: &tgbotapi.User{ID: telegramID},
	}
}

func TestClaimCommand(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)
	h := NewClaimHandler(f.svc, logger.Discard())
	bot := &fakeSender{}

	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), []string{"1", "2"}))
	assert.Contains(t, bot.last(), "You claimed")

	view, err := f.svc.ViewList(ctx, f.alice.ID, f.list.ID)
	require.NoError(t, err)
	assert.True(t, view.Items[1].ClaimedByMe)

	require.NoError(t, h.Handle(ctx, bot, message(bobTelegramID), []string{"1", "2"}))
	assert.Contains(t, bot.last(), "already claimed by someone else")

	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), []string{"1", "2"}))
	assert.Contains(t, bot.last(), "You released")

	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), []string{"3", "1"}))
	assert.Contains(t, bot.last(), "no list")

	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), []string{"1", "9"}))
	assert.Contains(t, bot.last(), "has no item")

	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), []string{"one", "two"}))
	assert.Contains(t, bot.last(), "must be numbers")

	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), nil))
	assert.Contains(t, bot.last(), "Usage")
}

func TestClaimCommandRequiresLinkedAccount(t *testing.T) {
	f := newBotFixture(t)
	h := NewClaimHandler(f.svc, logger.Discard())
	bot := &fakeSender{}

	require.NoError(t, h.Handle(context.Background(), bot, message(42), []string{"1", "1"}))
	assert.Contains(t, bot.last(), "not linked")
}

func TestClaimCallback(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)
	h := NewClaimHandler(f.svc, logger.Discard())
	bot := &fakeSender{}

	query := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: bobTelegramID},
		Message: message(bobTelegramID),
		Data:    "claim:1:1",
	}
	require.NoError(t, h.HandleCallback(ctx, bot, query, []string{"1", "1"}))
	assert.Contains(t, bot.last(), "You claimed")
	require.Len(t, bot.callbacks, 1)
	assert.Equal(t, "cb1", bot.callbacks[0].CallbackQueryID)

	view, err := f.svc.ViewList(ctx, f.bob.ID, f.list.ID)
	require.NoError(t, err)
	assert.True(t, view.Items[0].ClaimedByMe)
}

func TestSharedCommand(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)
	bot := &fakeSender{}

	_, err := f.svc.ToggleClaim(ctx, f.list.ID, f.items[0].ID, f.bob.ID)
	require.NoError(t, err)

	h := NewSharedHandler(f.svc, logger.Discard())
	require.NoError(t, h.Handle(ctx, bot, message(aliceTelegramID), nil))

	require.Len(t, bot.messages, 1)
	msg := bot.messages[0]
	assert.Contains(t, msg.Text, "1. Birthday")
	assert.Contains(t, msg.Text, "Olivia")
	assert.Contains(t, msg.Text, "1. Bike 🔒")
	assert.Contains(t, msg.Text, "2. Book")
	assert.NotContains(t, msg.Text, "Book 🔒")

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 1, "items claimed by others get no button")
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "claim:1:2", *kb.InlineKeyboard[0][0].CallbackData)
}

func TestSharedCommandEmpty(t *testing.T) {
	ctx := context.Background()
	f := newBotFixture(t)
	bot := &fakeSender{}

	loner, err := f.svc.EnsureUser(ctx, "loner@example.com", "")
	require.NoError(t, err)
	_, err = f.svc.LinkTelegram(ctx, loner.ID, 3003)
	require.NoError(t, err)

	h := NewSharedHandler(f.svc, logger.Discard())
	require.NoError(t, h.Handle(ctx, bot, message(3003), nil))
	assert.True(t, strings.Contains(bot.last(), "No lists shared"))
}
