package chat

import (
	"strings"

	"gitlab.com/zephyrtronium/tmi"
)

// fromTMI converts a PRIVMSG into a Message.
func fromTMI(m *tmi.Message) Message {
	tag := func(k string) string {
		v, _ := m.Tag(k)
		return v
	}
	msg := Message{
		ID:     tag("id"),
		To:     m.To(),
		Sender: tag("user-id"),
		Name:   m.DisplayName(),
		Text:   m.Trailing,
	}
	// Broadcasters are reported with mod=0, so also match the sender's
	// nick against the channel.
	msg.IsModerator = tag("mod") == "1" || strings.TrimPrefix(msg.To, "#") == m.Nick && m.Nick != ""
	return msg
}
