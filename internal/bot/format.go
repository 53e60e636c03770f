package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"subwatch/internal/subscription"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatSubscriptionList formats the subscriptions of a chat for display.
func FormatSubscriptionList(subs []subscription.Subscription) string {
	if len(subs) == 0 {
		return "You have no subscriptions yet. Use /add <query> to add one."
	}
	var b strings.Builder
	b.WriteString("Your subscriptions:\n")
	for _, s := range subs {
		status := statusActive
		if s.Paused {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n\"%s\" [%s]\n", s.Query, status)
		if !s.LatestUpdate.IsZero() {
			fmt.Fprintf(&b, "   last update %s\n", s.LatestUpdate.UTC().Format("2006-01-02 15:04 UTC"))
		}
	}
	return b.String()
}

// FormatBlocklist formats the blocklist of a chat for display.
func FormatBlocklist(blocks []string) string {
	if len(blocks) == 0 {
		return "Your blocklist is empty. Use /block <query> to add an entry."
	}
	var b strings.Builder
	b.WriteString("Your blocklist:\n")
	for _, q := range blocks {
		fmt.Fprintf(&b, "  - %s\n", q)
	}
	return b.String()
}

// shorten cuts s to at most n runes, marking the cut with an ellipsis.
func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
