package repeater

import (
	"strings"

	"github.com/stellarlinkco/parrot/internal/bus"
)

const (
	banKeyword       = "不可以"
	banLatestCommand = "不可以发这个"
)

// BanReplyTarget recognizes the "ban this" moderation command: a message
// addressed to the bot, replying to the offending message, containing the
// ban keyword. It returns the normalized text to ban.
func BanReplyTarget(ev bus.ChatEvent) (string, bool) {
	if !ev.ToBot || ev.ReplyText == "" {
		return "", false
	}
	if !strings.Contains(ev.Text, banKeyword) {
		return "", false
	}
	return ev.ReplyText, true
}

// IsBanLatest recognizes the "ban the latest answer" moderation command.
func IsBanLatest(ev bus.ChatEvent) bool {
	return ev.ToBot && strings.TrimSpace(ev.Text) == banLatestCommand
}
