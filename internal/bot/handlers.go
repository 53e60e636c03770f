package bot

import (
	"errors"
	"fmt"

	"subwatch/internal/query"
	"subwatch/internal/subscription"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to Subwatch!

Subscribe to search queries and get new submissions that match them.

Quick start:
1. /add <query> - subscribe to a query
2. /block <query> - never send submissions matching a query
3. /list - show your subscriptions

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subscriptions:
/add <query> - subscribe to a query
/remove <query> - delete a subscription
/list - show all subscriptions
/pause [query] - pause one subscription, or all of them
/resume [query] - resume one subscription, or all of them

Blocklist:
/block <query> - hide submissions matching a query
/unblock <query> - remove a blocklist entry
/blocklist - show the blocklist

Query syntax:
  fox snow - both words (and)
  fox or wolf - either word
  -sketch, not sketch - exclude a word
  "red fox" - exact phrase
  fox* / *fox / f*x - prefix, suffix and wildcard
  title:fox, keywords:fox, description:fox, artist:name
  rating:general | mature | adult
  fox except "fox costume" - word, unless only inside the exception
  (a or b) c - grouping`)
}

// queryProblem returns a user-facing description of a query error.
func queryProblem(err error) string {
	var pe *query.ParseError
	if errors.As(err, &pe) {
		return fmt.Sprintf("Invalid query: %s.", pe.Msg)
	}
	return fmt.Sprintf("Error: %v", err)
}

func (b *Bot) handleAdd(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /add <query>")
		return
	}

	sub, err := b.registry.Add(chatID, args)
	var pe *query.ParseError
	switch {
	case errors.Is(err, subscription.ErrExists):
		b.reply(chatID, fmt.Sprintf("You are already subscribed to \"%s\".", args))
		return
	case errors.As(err, &pe):
		b.reply(chatID, queryProblem(err))
		return
	case err != nil:
		b.log.Error("save subscriptions", "error", err)
	}

	b.log.Info("subscription added", "chat_id", chatID, "query", sub.Query)
	b.reply(chatID, fmt.Sprintf("Subscribed to \"%s\".\nParsed as: %s", sub.Query, sub.Parsed))
}

func (b *Bot) handleRemove(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /remove <query>")
		return
	}
	b.removeSubscription(chatID, args)
}

func (b *Bot) removeSubscription(chatID int64, raw string) {
	err := b.registry.Remove(chatID, raw)
	if errors.Is(err, subscription.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Subscription \"%s\" not found.", raw))
		return
	}
	if err != nil {
		b.log.Error("save subscriptions", "error", err)
	}
	b.log.Info("subscription removed", "chat_id", chatID, "query", raw)
	b.reply(chatID, fmt.Sprintf("Subscription \"%s\" removed.", raw))
}

func (b *Bot) handleList(chatID int64) {
	subs := b.registry.List(chatID)
	if len(subs) == 0 {
		b.reply(chatID, FormatSubscriptionList(subs))
		return
	}
	b.sendWithKeyboard(chatID, FormatSubscriptionList(subs), subscriptionKeyboard(subs))
}

func (b *Bot) handlePause(chatID int64, args string) {
	b.setPaused(chatID, args, true)
}

func (b *Bot) handleResume(chatID int64, args string) {
	b.setPaused(chatID, args, false)
}

func (b *Bot) setPaused(chatID int64, raw string, paused bool) {
	verb := "resumed"
	if paused {
		verb = "paused"
	}

	if raw == "" {
		var n int
		var err error
		if paused {
			n, err = b.registry.PauseDestination(chatID)
		} else {
			n, err = b.registry.ResumeDestination(chatID)
		}
		if err != nil {
			b.log.Error("save subscriptions", "error", err)
		}
		b.reply(chatID, fmt.Sprintf("%d subscription(s) %s.", n, verb))
		return
	}

	var err error
	if paused {
		err = b.registry.Pause(chatID, raw)
	} else {
		err = b.registry.Resume(chatID, raw)
	}
	if errors.Is(err, subscription.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Subscription \"%s\" not found.", raw))
		return
	}
	if err != nil {
		b.log.Error("save subscriptions", "error", err)
	}
	b.reply(chatID, fmt.Sprintf("Subscription \"%s\" %s.", raw, verb))
}

func (b *Bot) handleBlock(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /block <query>")
		return
	}

	err := b.registry.AddBlock(chatID, args)
	var pe *query.ParseError
	switch {
	case errors.Is(err, subscription.ErrExists):
		b.reply(chatID, fmt.Sprintf("\"%s\" is already on your blocklist.", args))
		return
	case errors.As(err, &pe):
		b.reply(chatID, queryProblem(err))
		return
	case err != nil:
		b.log.Error("save subscriptions", "error", err)
	}
	b.reply(chatID, fmt.Sprintf("Added \"%s\" to your blocklist.", args))
}

func (b *Bot) handleUnblock(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /unblock <query>")
		return
	}

	err := b.registry.RemoveBlock(chatID, args)
	if errors.Is(err, subscription.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("\"%s\" is not on your blocklist.", args))
		return
	}
	if err != nil {
		b.log.Error("save subscriptions", "error", err)
	}
	b.reply(chatID, fmt.Sprintf("Removed \"%s\" from your blocklist.", args))
}

func (b *Bot) handleBlocklist(chatID int64) {
	b.reply(chatID, FormatBlocklist(b.registry.Blocks(chatID)))
}
