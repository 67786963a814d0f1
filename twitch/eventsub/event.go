package eventsub

import (
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Event is one notification delivered on a session.
type Event struct {
	// ID is the message ID. Redeliveries of a notification reuse it.
	ID string
	// Timestamp is when Twitch sent the message, RFC3339 with nanoseconds.
	Timestamp    string
	Subscription Subscription
	// Event is the raw event body. Its shape depends on Subscription.Type.
	Event jsontext.Value
}

// Subscription is the subscription object attached to notifications and
// revocations.
type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
	CreatedAt string            `json:"created_at"`
}

type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// Message types on the WebSocket transport.
const (
	typeWelcome      = "session_welcome"
	typeKeepalive    = "session_keepalive"
	typeNotification = "notification"
	typeReconnect    = "session_reconnect"
	typeRevocation   = "revocation"
)

// envelope is the frame wrapping every WebSocket message.
type envelope struct {
	Meta struct {
		MessageID  string `json:"message_id"`
		Type       string `json:"message_type"`
		SentAt     string `json:"message_timestamp"`
		SubType    string `json:"subscription_type"`
		SubVersion string `json:"subscription_version"`
	} `json:"metadata"`
	Body struct {
		Subscription Subscription   `json:"subscription"`
		Session      sessionInfo    `json:"session"`
		Event        jsontext.Value `json:"event"`
	} `json:"payload"`
}

type sessionInfo struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Keepalive   int    `json:"keepalive_timeout_seconds"`
	Reconnect   string `json:"reconnect_url"`
	ConnectedAt string `json:"connected_at"`
}

func decode(b []byte) (*envelope, error) {
	e := new(envelope)
	if err := json.Unmarshal(b, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *envelope) event() *Event {
	return &Event{
		ID:           e.Meta.MessageID,
		Timestamp:    e.Meta.SentAt,
		Subscription: e.Body.Subscription,
		Event:        e.Body.Event,
	}
}

func (e *envelope) reconnect() *ReconnectError {
	return &ReconnectError{
		Session:     e.Body.Session.ID,
		URL:         e.Body.Session.Reconnect,
		ConnectedAt: e.Body.Session.ConnectedAt,
	}
}

func (e *envelope) revocation() *RevocationError {
	sub := e.Body.Subscription
	return &RevocationError{
		ID:        sub.ID,
		Type:      sub.Type,
		Version:   sub.Version,
		Reason:    sub.Status,
		CreatedAt: sub.CreatedAt,
	}
}

// ReconnectError is returned from [*Session.Recv] when Twitch asks the
// client to move to a new connection.
type ReconnectError struct {
	Session string
	// URL is where the replacement connection must be opened. It already
	// carries the session, so subscriptions survive the move.
	URL         string
	ConnectedAt string
}

func (err *ReconnectError) Error() string {
	return fmt.Sprintf("session %s asked to reconnect", err.Session)
}

// RevocationError is returned from [*Session.Recv] when Twitch stops
// delivering a subscription.
type RevocationError struct {
	ID      string
	Type    string
	Version string
	// Reason is the subscription status, e.g. authorization_revoked.
	Reason    string
	CreatedAt string
}

func (err *RevocationError) Error() string {
	return fmt.Sprintf("subscription %s (%s v%s) revoked: %s", err.ID, err.Type, err.Version, err.Reason)
}
