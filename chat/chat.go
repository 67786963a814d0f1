// Package chat connects the bot to Twitch chat.
package chat

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Conn is a connection to one Twitch chat channel.
type Conn interface {
	// Connect connects to chat and serves the connection until ctx is done,
	// Close is called, or the connection is lost for good.
	// Connect returns nil after Close and [ErrDisconnected] after a loss.
	Connect(ctx context.Context) error
	// Send queues a message to the channel. Messages which cannot be sent
	// are logged and dropped.
	Send(ctx context.Context, text string)
	// OnReady registers f to be called each time the connection has joined
	// the channel.
	OnReady(f func(ctx context.Context))
	// OnMessage registers f to be called for each message in the channel.
	OnMessage(f func(ctx context.Context, m Message))
	// Close ends the connection.
	Close() error
}

// Message is a chat message received from the channel.
type Message struct {
	// ID is the unique ID of the message.
	ID string
	// To is the channel, including the leading #.
	To string
	// Sender is the user ID of the sender.
	Sender string
	// Name is the display name of the sender.
	Name string
	// Text is the text of the message.
	Text string
	// IsModerator indicates whether the sender can moderate the channel.
	IsModerator bool
}

// ErrDisconnected is returned by [Conn.Connect] when the connection is lost
// and cannot be restored.
var ErrDisconnected = errors.New("chat connection lost")

// maxLen is the Twitch limit on message length in characters.
const maxLen = 500

// Clean prepares text to send to chat. Control characters become spaces,
// the result is NFC-normalized and trimmed, and long text is truncated.
func Clean(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	text = norm.NFC.String(text)
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > maxLen {
		text = strings.TrimSpace(string(r[:maxLen]))
	}
	return text
}

// Channel normalizes a channel name to the form used in IRC, with a leading #.
func Channel(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return "#" + strings.TrimLeft(name, "#")
}
