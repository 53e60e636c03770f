package bot

import (
	"fmt"
	"hash/fnv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"subwatch/internal/subscription"
)

const (
	actionPause         = "pause"
	actionResume        = "resume"
	actionRemove        = "remove"
	actionRemoveConfirm = "remove_confirm"
	actionNoop          = "noop"

	maxKeyboardRows = 50
)

// queryHash identifies a subscription in callback data, which Telegram caps
// at 64 bytes.
func queryHash(raw string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(raw))))
	return fmt.Sprintf("%08x", h.Sum32())
}

func callbackData(action, raw string) string {
	return action + ":" + queryHash(raw)
}

func parseCallback(data string) (action, hash string, ok bool) {
	action, hash, ok = strings.Cut(data, ":")
	if !ok || action == "" || hash == "" {
		return "", "", false
	}
	return action, hash, true
}

func subscriptionKeyboard(subs []subscription.Subscription) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, min(len(subs), maxKeyboardRows))
	for _, sub := range subs[:min(len(subs), maxKeyboardRows)] {
		toggle := tgbotapi.NewInlineKeyboardButtonData("Pause "+shorten(sub.Query, 24), callbackData(actionPause, sub.Query))
		if sub.Paused {
			toggle = tgbotapi.NewInlineKeyboardButtonData("Resume "+shorten(sub.Query, 24), callbackData(actionResume, sub.Query))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			toggle,
			tgbotapi.NewInlineKeyboardButtonData("Remove", callbackData(actionRemoveConfirm, sub.Query)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) sendWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) findSubscription(chatID int64, hash string) (subscription.Subscription, bool) {
	for _, sub := range b.registry.List(chatID) {
		if queryHash(sub.Query) == hash {
			return sub, true
		}
	}
	return subscription.Subscription{}, false
}

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, hash, ok := parseCallback(cb.Data)
	if !ok || action == actionNoop {
		return
	}

	b.log.Info("callback",
		"action", action,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	sub, found := b.findSubscription(chatID, hash)
	if !found {
		b.reply(chatID, "Subscription not found.")
		return
	}

	switch action {
	case actionPause:
		b.setPaused(chatID, sub.Query, true)
	case actionResume:
		b.setPaused(chatID, sub.Query, false)
	case actionRemoveConfirm:
		b.sendWithKeyboard(chatID,
			fmt.Sprintf("Remove subscription \"%s\"? This cannot be undone.", sub.Query),
			tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("Yes, remove", callbackData(actionRemove, sub.Query)),
					tgbotapi.NewInlineKeyboardButtonData("Cancel", actionNoop+":0"),
				),
			))
	case actionRemove:
		b.removeSubscription(chatID, sub.Query)
	}
}
